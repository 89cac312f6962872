// Package agents holds per-agent progress state for the current run: one
// small state machine per participating agent, plus the fixed phase
// declarations that decide which agents take part.
package agents

// Status is the lifecycle state of one agent within a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// transitions is the full set of legal status moves. Anything not listed
// here is rejected by the store rather than silently applied, so state can
// only move forward.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusThinking, StatusStreaming, StatusDone, StatusError},
	StatusThinking:  {StatusStreaming, StatusDone, StatusError},
	StatusStreaming: {StatusThinking, StatusDone, StatusError},
}

func allowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
