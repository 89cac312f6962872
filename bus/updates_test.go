package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/types"
)

func TestPublishAndSubscribe(t *testing.T) {
	b := NewUpdateBus(4)
	ch := b.Subscribe("run-1")

	if err := b.Publish(context.Background(), &Update{
		RunID:  "run-1",
		Agents: []agents.Snapshot{{ID: "assistant", Status: agents.StatusThinking}},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case u := <-ch:
		if u.Final() {
			t.Fatalf("progress update should not be final")
		}
		if u.Agents[0].Status != agents.StatusThinking {
			t.Fatalf("unexpected snapshot: %+v", u.Agents[0])
		}
	case <-time.After(time.Second):
		t.Fatalf("update never arrived")
	}
}

func TestFinalUpdateClosesRunChannel(t *testing.T) {
	b := NewUpdateBus(4)
	ch := b.Subscribe("run-1")

	if err := b.Publish(context.Background(), &Update{
		RunID:  "run-1",
		Result: &types.ResultRecord{Answer: "done"},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	u, ok := <-ch
	if !ok || !u.Final() {
		t.Fatalf("expected final update, got %v ok=%v", u, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after the final update")
	}
}

func TestProgressDropsWhenSubscriberLags(t *testing.T) {
	b := NewUpdateBus(1)
	ch := b.Subscribe("run-1")

	// Second progress update hits a full buffer and must not block.
	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		go func() {
			done <- b.Publish(context.Background(), &Update{RunID: "run-1"})
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("publish %d: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("publish %d blocked on a full buffer", i)
		}
	}
	if got := len(ch); got != 1 {
		t.Fatalf("expected exactly one buffered update, got %d", got)
	}
}

func TestFinalUpdateHonorsContext(t *testing.T) {
	b := NewUpdateBus(1)
	b.Subscribe("run-1")

	// Fill the buffer so the final publish has to wait.
	if err := b.Publish(context.Background(), &Update{RunID: "run-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, &Update{RunID: "run-1", Result: &types.ResultRecord{}})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestPublishRacingCloseRun(t *testing.T) {
	// A publisher mid-send and a concurrent CloseRun must never turn into a
	// send on a closed channel.
	b := NewUpdateBus(1)
	for i := 0; i < 200; i++ {
		runID := "run-race"
		ch := b.Subscribe(runID)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = b.Publish(context.Background(), &Update{RunID: runID})
			}
		}()
		go func() {
			defer wg.Done()
			_ = b.Publish(context.Background(), &Update{
				RunID:  runID,
				Result: &types.ResultRecord{},
			})
		}()
		go func() {
			defer wg.Done()
			b.CloseRun(runID)
		}()

		go func() {
			for range ch {
			}
		}()
		wg.Wait()
	}
}

func TestPublishWithoutSubscriberIsNoop(t *testing.T) {
	b := NewUpdateBus(4)
	if err := b.Publish(context.Background(), &Update{RunID: "ghost"}); err != nil {
		t.Fatalf("publish to unknown run: %v", err)
	}
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := NewUpdateBus(4)
	ch := b.Subscribe("run-1")
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("close should close run channels")
	}
	if err := b.Publish(context.Background(), &Update{RunID: "run-1"}); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}
