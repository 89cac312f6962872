package agents

import (
	"reflect"
	"testing"
)

func TestAgentsForOrdering(t *testing.T) {
	single := AgentsFor(ModeSingle)
	if !reflect.DeepEqual(single, []string{AgentAssistant}) {
		t.Fatalf("unexpected single-mode agents: %v", single)
	}

	multi := AgentsFor(ModeMulti)
	want := []string{AgentResearcher, AgentAnalyst, AgentCritic, AgentSynthesizer}
	if !reflect.DeepEqual(multi, want) {
		t.Fatalf("unexpected multi-mode agents: %v", multi)
	}

	// Callers must not be able to corrupt the canonical order.
	multi[0] = "intruder"
	if AgentsFor(ModeMulti)[0] != AgentResearcher {
		t.Fatalf("AgentsFor returned a shared slice")
	}
}

func TestSeedCreatesIdleAgentsInOrder(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"researcher", "analyst"})

	snaps := s.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(snaps))
	}
	if snaps[0].ID != "researcher" || snaps[1].ID != "analyst" {
		t.Fatalf("seed order not preserved: %v", snaps)
	}
	for _, snap := range snaps {
		if snap.Status != StatusIdle {
			t.Fatalf("agent %s should start idle, got %s", snap.ID, snap.Status)
		}
	}
}

func TestTransitionFollowsTheTable(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})

	if !s.Transition("a", StatusThinking) {
		t.Fatalf("idle -> thinking should be legal")
	}
	if !s.Transition("a", StatusStreaming) {
		t.Fatalf("thinking -> streaming should be legal")
	}
	if !s.Transition("a", StatusDone) {
		t.Fatalf("streaming -> done should be legal")
	}
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.Transition("a", StatusDone)

	for _, to := range []Status{StatusIdle, StatusThinking, StatusStreaming, StatusError} {
		if s.Transition("a", to) {
			t.Fatalf("done -> %s should be rejected", to)
		}
	}
	snap, _ := s.Get("a")
	if snap.Status != StatusDone {
		t.Fatalf("terminal status changed, got %s", snap.Status)
	}
}

func TestTransitionUnknownAgent(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	if s.Transition("ghost", StatusThinking) {
		t.Fatalf("transition of unknown agent should be rejected")
	}
}

func TestContentAccumulates(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.Transition("a", StatusStreaming)

	for _, token := range []string{"one ", "two ", "three"} {
		if !s.Append("a", token) {
			t.Fatalf("append rejected for live agent")
		}
	}
	snap, _ := s.Get("a")
	if snap.Content != "one two three" {
		t.Fatalf("content should be the ordered concatenation, got %q", snap.Content)
	}
}

func TestAppendAfterTerminalIsDropped(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.Transition("a", StatusStreaming)
	s.Append("a", "kept")
	s.Transition("a", StatusDone)

	if s.Append("a", " dropped") {
		t.Fatalf("append after done should be rejected")
	}
	snap, _ := s.Get("a")
	if snap.Content != "kept" {
		t.Fatalf("content changed after terminal status: %q", snap.Content)
	}
}

func TestStartedAtSetOnce(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.Transition("a", StatusThinking)

	first, _ := s.Get("a")
	if first.StartedAt.IsZero() {
		t.Fatalf("StartedAt not stamped on first active transition")
	}

	s.Transition("a", StatusStreaming)
	second, _ := s.Get("a")
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("StartedAt changed on a later transition")
	}
}

func TestFinishAllForcesOnlyLiveAgents(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a", "b", "c"})
	s.Transition("a", StatusThinking)
	s.Transition("b", StatusError)

	s.FinishAll(StatusDone)

	statuses := map[string]Status{}
	for _, snap := range s.Snapshot() {
		statuses[snap.ID] = snap.Status
	}
	if statuses["a"] != StatusDone || statuses["c"] != StatusDone {
		t.Fatalf("live agents should be forced done: %v", statuses)
	}
	if statuses["b"] != StatusError {
		t.Fatalf("already-terminal agent should be untouched, got %s", statuses["b"])
	}
}

func TestFinishAllRejectsNonTerminalTarget(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.FinishAll(StatusThinking)

	snap, _ := s.Get("a")
	if snap.Status != StatusIdle {
		t.Fatalf("FinishAll with non-terminal target should do nothing, got %s", snap.Status)
	}
}

func TestSeedResetsContent(t *testing.T) {
	s := NewStore()
	s.Seed([]string{"a"})
	s.Transition("a", StatusStreaming)
	s.Append("a", "old run output")

	s.Seed([]string{"a"})
	snap, _ := s.Get("a")
	if snap.Content != "" || snap.Status != StatusIdle {
		t.Fatalf("seed should reset state for the new run, got %+v", snap)
	}
}
