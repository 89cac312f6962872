package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/types"
)

// Client message types.
const (
	TypeAsk    = "ask"
	TypeCancel = "cancel"
	TypeReset  = "reset"
)

// Server message types.
const (
	TypeRunStarted = "run_started"
	TypeProgress   = "progress"
	TypeResult     = "result"
	TypeError      = "error"
)

// ClientMessage is one message received from a websocket client.
type ClientMessage struct {
	Type    string   `json:"type"`
	Message string   `json:"message,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Path    string   `json:"path,omitempty"`
	Tier    string   `json:"tier,omitempty"`
	Repos   []string `json:"repos,omitempty"`
}

// ServerMessage is one message pushed to a websocket client.
type ServerMessage struct {
	Type   string              `json:"type"`
	RunID  string              `json:"run_id,omitempty"`
	Agents []agents.Snapshot   `json:"agents,omitempty"`
	Result *types.ResultRecord `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// DecodeClientMessage parses and validates one client frame.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed client message: %w", err)
	}

	switch msg.Type {
	case TypeAsk:
		if strings.TrimSpace(msg.Message) == "" {
			return nil, fmt.Errorf("ask requires a message")
		}
	case TypeCancel, TypeReset:
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}
