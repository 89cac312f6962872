package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyTypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{&TimeoutError{Provider: "deep"}, FailureTimeout},
		{&TransportError{Status: 502, Body: "bad gateway"}, FailureTransport},
		{&BackendError{Message: "index not ready"}, FailureBackend},
		{fmt.Errorf("call backend: %w", &TimeoutError{Provider: "deep"}), FailureTimeout},
		{errors.New("something else entirely"), FailureUnknown},
		{nil, FailureUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyTimeoutPhrasings(t *testing.T) {
	for _, msg := range []string{
		"request Timed Out",
		"context deadline exceeded",
		"provider deep too slow",
	} {
		if !IsTimeout(errors.New(msg)) {
			t.Fatalf("%q should classify as timeout", msg)
		}
	}
	if IsTimeout(errors.New("connection refused")) {
		t.Fatalf("connection refused is not a timeout")
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Provider: "deep"}
	if err.Error() != "deep too slow" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Status: 502, Body: "  upstream exploded\n"}
	if err.Error() != "backend returned status 502: upstream exploded" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	bare := &TransportError{Status: 404}
	if bare.Error() != "backend returned status 404" {
		t.Fatalf("unexpected message %q", bare.Error())
	}
}
