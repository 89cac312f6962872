package types

import "time"

// ResultRecord is the canonical merged output of one completed run. It is
// produced exactly once, after the response/deadline race settles, and is
// what the presentation layer renders.
type ResultRecord struct {
	// Answer is the final answer text, or the diagnostic message when
	// IsError is set.
	Answer string `json:"answer"`

	// AgentOutputs maps agent id to that agent's own output, preview
	// capped. Present only for multi-stage runs.
	AgentOutputs map[string]string `json:"agent_outputs,omitempty"`

	// SessionID is the opaque continuation identifier to echo on the next
	// run. It changes only when the backend returns a different one.
	SessionID string `json:"session_id,omitempty"`

	// Context-usage flags, reported by the backend verbatim.
	RAGUsed bool `json:"rag_used"`
	WebUsed bool `json:"web_used"`

	// Elapsed is wall-clock run duration measured client side.
	Elapsed time.Duration `json:"elapsed"`

	// IsError marks a diagnostic answer produced from a failure.
	IsError bool `json:"is_error"`
}
