package run

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/types"
)

// previewCap bounds each per-agent output kept on the record; downstream
// previews never need more.
const previewCap = 4000

// assemble builds the final record from a backend response payload. The
// same shape arrives from the opaque call and from the terminal done
// event, except the latter may omit the success flag.
func assemble(mode agents.Mode, raw []byte, prevSessionID string, elapsed time.Duration) (*types.ResultRecord, error) {
	if s := gjson.GetBytes(raw, "success"); s.Exists() && !s.Bool() {
		message := gjson.GetBytes(raw, "error").String()
		if message == "" {
			message = "backend reported failure"
		}
		return nil, &types.BackendError{Message: message}
	}

	record := &types.ResultRecord{
		Answer:    gjson.GetBytes(raw, "answer").String(),
		SessionID: prevSessionID,
		RAGUsed:   gjson.GetBytes(raw, "rag_used").Bool(),
		WebUsed:   gjson.GetBytes(raw, "web_used").Bool(),
		Elapsed:   elapsed,
	}

	// The continuation identifier moves only when the backend hands back a
	// different one.
	if sid := gjson.GetBytes(raw, "session_id").String(); sid != "" && sid != prevSessionID {
		record.SessionID = sid
	}

	if mode == agents.ModeMulti {
		outputs := map[string]string{
			agents.AgentResearcher:  gjson.GetBytes(raw, "researcher_findings").String(),
			agents.AgentAnalyst:     gjson.GetBytes(raw, "analyst_analysis").String(),
			agents.AgentCritic:      gjson.GetBytes(raw, "critic_critique").String(),
			agents.AgentSynthesizer: record.Answer,
		}
		record.AgentOutputs = make(map[string]string, len(outputs))
		for id, out := range outputs {
			if out == "" {
				continue
			}
			record.AgentOutputs[id] = preview(out)
		}
	}

	return record, nil
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewCap {
		return s
	}
	return string(runes[:previewCap])
}
