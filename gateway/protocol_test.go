package gateway

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/types"
)

func TestDecodeAsk(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{
		"type": "ask",
		"message": "how does the relay work?",
		"mode": "multi",
		"path": "streamed",
		"tier": "secondary",
		"repos": ["gateway"]
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeAsk || msg.Message != "how does the relay work?" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Mode != "multi" || msg.Path != "streamed" || msg.Tier != "secondary" {
		t.Fatalf("options dropped: %+v", msg)
	}
	if len(msg.Repos) != 1 || msg.Repos[0] != "gateway" {
		t.Fatalf("repos dropped: %v", msg.Repos)
	}
}

func TestDecodeAskRequiresMessage(t *testing.T) {
	for _, raw := range []string{
		`{"type":"ask"}`,
		`{"type":"ask","message":"   "}`,
	} {
		if _, err := DecodeClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s should be rejected", raw)
		}
	}
}

func TestDecodeControlMessages(t *testing.T) {
	for _, typ := range []string{TypeCancel, TypeReset} {
		msg, err := DecodeClientMessage([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if msg.Type != typ {
			t.Fatalf("type mismatch: %q", msg.Type)
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"subscribe"}`))
	if err == nil || !strings.Contains(err.Error(), "subscribe") {
		t.Fatalf("unknown type should be named in the error, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("malformed frame should be rejected")
	}
}

func TestServerMessageShape(t *testing.T) {
	out, err := json.Marshal(&ServerMessage{
		Type:   TypeResult,
		RunID:  "run-1",
		Agents: []agents.Snapshot{{ID: "assistant", Status: agents.StatusDone}},
		Result: &types.ResultRecord{Answer: "hi"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"type":"result"`, `"run_id":"run-1"`, `"answer":"hi"`} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("payload %s missing %s", out, want)
		}
	}

	// Progress frames omit empty fields.
	out, err = json.Marshal(&ServerMessage{Type: TypeProgress})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "result") || strings.Contains(string(out), "error") {
		t.Fatalf("empty fields should be omitted: %s", out)
	}
}
