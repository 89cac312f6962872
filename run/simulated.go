package run

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/backend"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/types"
)

// simulator advances staged progress over the declared agent order: each
// step promotes the next idle agent to thinking and completes the one
// before it, so at most one agent is ever thinking. Purely cosmetic; the
// real response decides the run.
type simulator struct {
	order []string
	next  int
}

func newSimulator(order []string) *simulator {
	return &simulator{order: order}
}

// advance performs one handoff step against the store. It returns false
// once every agent has been promoted, meaning ticking can stop.
func (s *simulator) advance(store *agents.Store) bool {
	if s.next > 0 {
		store.Transition(s.order[s.next-1], agents.StatusDone)
	}
	if s.next >= len(s.order) {
		return false
	}
	store.Transition(s.order[s.next], agents.StatusThinking)
	s.next++
	return s.next < len(s.order)
}

type completion struct {
	raw []byte
	err error
}

// runSimulated executes the opaque-call path: one request raced against the
// logical deadline, with simulated progress ticking in between. Whichever
// side loses the race is ignored, never aborted; the token check in finish
// and fail keeps a late loser from touching state it no longer owns.
func (o *Orchestrator) runSimulated(ctx context.Context, r *Run, req *backend.Request, tier backend.Tier) {
	start := time.Now()
	provider := o.providerName(tier)

	// Buffered so the discarded side can resolve into the channel and be
	// garbage collected without anyone listening.
	respCh := make(chan completion, 1)
	go func() {
		raw, err := o.client.Complete(ctx, r.Mode, provider, req)
		respCh <- completion{raw: raw, err: err}
	}()

	o.mu.Lock()
	sim := newSimulator(o.store.IDs())
	var ticking bool
	if !o.stale(r.token) {
		ticking = sim.advance(o.store)
	}
	o.mu.Unlock()
	o.publishProgress(ctx, r)

	ticker := time.NewTicker(o.cadence)
	defer ticker.Stop()
	deadline := time.NewTimer(o.deadline)
	defer deadline.Stop()

	for {
		select {
		case res := <-respCh:
			if o.stale(r.token) {
				logger.Debug("discarding response of abandoned run", zap.String("run_id", r.ID))
				return
			}
			o.resolveSimulated(ctx, r, tier, res, time.Since(start))
			return

		case <-ticker.C:
			// Check-then-advance under the orchestrator lock, so a handover
			// to a new run cannot slip in between and hand the tick a
			// freshly seeded roster.
			o.mu.Lock()
			if o.stale(r.token) {
				o.mu.Unlock()
				return
			}
			if !ticking {
				o.mu.Unlock()
				continue
			}
			ticking = sim.advance(o.store)
			o.mu.Unlock()
			o.publishProgress(ctx, r)

		case <-deadline.C:
			if o.stale(r.token) {
				return
			}
			o.fail(ctx, r, tier, &types.TimeoutError{Provider: provider}, time.Since(start))
			return

		case <-ctx.Done():
			if o.stale(r.token) {
				return
			}
			o.fail(ctx, r, tier, ctx.Err(), time.Since(start))
			return
		}
	}
}

// resolveSimulated finalizes a run whose response beat the deadline.
func (o *Orchestrator) resolveSimulated(ctx context.Context, r *Run, tier backend.Tier, res completion, elapsed time.Duration) {
	if res.err != nil {
		o.fail(ctx, r, tier, res.err, elapsed)
		return
	}

	record, err := assemble(r.Mode, res.raw, r.prevSessionID, elapsed)
	if err != nil {
		o.fail(ctx, r, tier, err, elapsed)
		return
	}
	o.finish(ctx, r, record)
}
