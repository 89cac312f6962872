package run

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/backend"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/stream"
	"github.com/smallnest/crewrelay/types"
)

// runStreamed executes the live-feed path: decoded events drive the agent
// store directly and the run ends on a terminal event or a read failure.
// There is no deadline race here; the feed itself reports completion.
func (o *Orchestrator) runStreamed(ctx context.Context, r *Run, req *backend.Request, tier backend.Tier) {
	start := time.Now()
	provider := o.providerName(tier)

	body, err := o.client.Stream(ctx, provider, req)
	if err != nil {
		if !o.stale(r.token) {
			o.fail(ctx, r, tier, err, time.Since(start))
		}
		return
	}
	defer body.Close()

	var terminal *stream.Event
	dec := stream.NewDecoder()
	readErr := dec.Decode(body, func(evt stream.Event) bool {
		if o.stale(r.token) {
			return false
		}
		if evt.Name == stream.EventDone || evt.Name == stream.EventError {
			terminal = &evt
			return false
		}
		o.applyProgress(ctx, r, evt)
		return true
	})

	if o.stale(r.token) {
		logger.Debug("discarding stream of abandoned run", zap.String("run_id", r.ID))
		return
	}

	elapsed := time.Since(start)
	switch {
	case terminal != nil && terminal.Name == stream.EventDone:
		record, err := assemble(r.Mode, terminal.Data, r.prevSessionID, elapsed)
		if err != nil {
			o.fail(ctx, r, tier, err, elapsed)
			return
		}
		// finish sweeps up any agents the feed left open.
		o.finish(ctx, r, record)

	case terminal != nil:
		message := gjson.GetBytes(terminal.Data, "error").String()
		if message == "" {
			message = "backend reported an error"
		}
		o.fail(ctx, r, tier, &types.BackendError{Message: message}, elapsed)

	case readErr != nil:
		o.fail(ctx, r, tier, readErr, elapsed)

	default:
		o.fail(ctx, r, tier, &types.BackendError{Message: "event stream ended without a result"}, elapsed)
	}
}

// applyProgress applies one non-terminal decoded event to the agent store,
// under the orchestrator lock so a handover to a new run cannot land
// between the stale check and the mutation. Events with unknown names fall
// through untouched.
func (o *Orchestrator) applyProgress(ctx context.Context, r *Run, evt stream.Event) {
	o.mu.Lock()
	if o.stale(r.token) {
		o.mu.Unlock()
		return
	}
	applied := o.applyEventLocked(evt)
	o.mu.Unlock()

	if applied {
		o.publishProgress(ctx, r)
	}
}

func (o *Orchestrator) applyEventLocked(evt stream.Event) bool {
	switch evt.Name {
	case stream.EventPhase:
		var ids []string
		for _, v := range gjson.GetBytes(evt.Data, "agents").Array() {
			if id := v.String(); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			o.store.Seed(ids)
		}

	case stream.EventAgentStart:
		o.store.Transition(gjson.GetBytes(evt.Data, "agent").String(), agents.StatusStreaming)

	case stream.EventAgentToken:
		agent := gjson.GetBytes(evt.Data, "agent").String()
		o.store.Append(agent, gjson.GetBytes(evt.Data, "token").String())

	case stream.EventAgentDone:
		o.store.Transition(gjson.GetBytes(evt.Data, "agent").String(), agents.StatusDone)

	default:
		return false
	}
	return true
}
