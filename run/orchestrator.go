package run

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/backend"
	"github.com/smallnest/crewrelay/bus"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/types"
)

// Options configures an Orchestrator.
type Options struct {
	Client *backend.Client
	Bus    *bus.UpdateBus

	// Deadline is the logical timeout the simulated-path call is raced
	// against. The underlying request is never aborted, only ignored.
	Deadline time.Duration

	// Cadence is the simulated progress interval.
	Cadence time.Duration

	// Providers maps each tier to its provider name; the name appears in
	// timeout diagnostics.
	Providers map[backend.Tier]string

	// DefaultTier is the tier used when the caller does not pick one.
	DefaultTier backend.Tier
}

const (
	defaultDeadline = 120 * time.Second
	defaultCadence  = 2100 * time.Millisecond
)

// Orchestrator executes runs one at a time. Starting a new run invalidates
// the previous one's token; every stale timer or response callback then
// becomes a no-op, which is the only guard against a late resolution
// mutating state it no longer owns.
type Orchestrator struct {
	client    *backend.Client
	bus       *bus.UpdateBus
	store     *agents.Store
	deadline  time.Duration
	cadence   time.Duration
	providers map[backend.Tier]string

	// gen is the RunToken generator; the live token is its current value.
	gen atomic.Uint64

	mu          sync.Mutex
	defaultTier backend.Tier
	current     *Run
}

// NewOrchestrator creates an orchestrator with the given options, filling
// in defaults for anything unset.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Deadline <= 0 {
		opts.Deadline = defaultDeadline
	}
	if opts.Cadence <= 0 {
		opts.Cadence = defaultCadence
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewUpdateBus(0)
	}
	if opts.Providers == nil {
		opts.Providers = map[backend.Tier]string{}
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = backend.TierPrimary
	}
	return &Orchestrator{
		client:      opts.Client,
		bus:         opts.Bus,
		store:       agents.NewStore(),
		deadline:    opts.Deadline,
		cadence:     opts.Cadence,
		providers:   opts.Providers,
		defaultTier: opts.DefaultTier,
	}
}

// Bus returns the update bus runs publish on.
func (o *Orchestrator) Bus() *bus.UpdateBus {
	return o.bus
}

// Agents returns a snapshot of the current run's agent states.
func (o *Orchestrator) Agents() []agents.Snapshot {
	return o.store.Snapshot()
}

// DefaultTier returns the tier used when the caller does not choose one.
// It can change as a side effect of the fallback policy.
func (o *Orchestrator) DefaultTier() backend.Tier {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.defaultTier
}

func (o *Orchestrator) providerName(tier backend.Tier) string {
	if name := o.providers[tier]; name != "" {
		return name
	}
	return string(tier)
}

// StartRun begins a new run, invalidating any previous one. An empty tier
// means the current default tier.
func (o *Orchestrator) StartRun(ctx context.Context, mode agents.Mode, path Path, req *backend.Request, tier backend.Tier) *Run {
	r := &Run{
		ID:   uuid.New().String(),
		Mode: mode,
		Path: path,
		done: make(chan struct{}),
	}
	if req != nil && req.SessionID != nil {
		r.prevSessionID = *req.SessionID
	}
	r.updates = o.bus.Subscribe(r.ID)

	// Token issue, handover and the roster reset form one critical section:
	// a callback of the previous run can never observe a fresh token with a
	// stale roster or vice versa.
	o.mu.Lock()
	r.token = o.gen.Add(1)
	if tier == "" {
		tier = o.defaultTier
	}
	prev := o.current
	o.current = r
	// The phase is declared up front; on the streamed path the phase event
	// re-seeds with the same ids before any token arrives.
	o.store.Seed(agents.AgentsFor(mode))
	o.mu.Unlock()

	if prev != nil {
		o.abandon(prev)
	}
	o.publishProgress(ctx, r)

	logger.Info("run started",
		zap.String("run_id", r.ID),
		zap.String("mode", string(mode)),
		zap.String("path", string(path)),
		zap.String("tier", string(tier)))

	switch path {
	case PathStreamed:
		go o.runStreamed(ctx, r, req, tier)
	default:
		go o.runSimulated(ctx, r, req, tier)
	}
	return r
}

// CancelRun abandons the current run by bumping the token. In-flight
// callbacks observe the stale token and discard themselves; the underlying
// request, if any, is left to resolve into nothing.
func (o *Orchestrator) CancelRun() {
	o.mu.Lock()
	o.gen.Add(1)
	r := o.current
	o.current = nil
	o.mu.Unlock()
	if r != nil {
		o.abandon(r)
	}
}

func (o *Orchestrator) abandon(r *Run) {
	r.signal()
	o.bus.CloseRun(r.ID)
}

// stale reports whether token no longer names the active run.
func (o *Orchestrator) stale(token uint64) bool {
	return o.gen.Load() != token
}

// publishProgress sends the current agent snapshot to subscribers.
func (o *Orchestrator) publishProgress(ctx context.Context, r *Run) {
	_ = o.bus.Publish(ctx, &bus.Update{RunID: r.ID, Agents: o.store.Snapshot()})
}

// finish settles a successful run: the stale check, the terminal sweep and
// the record handoff form one critical section, so a CancelRun can land
// before it or after it but never inside it. A stale token is a no-op.
func (o *Orchestrator) finish(ctx context.Context, r *Run, record *types.ResultRecord) {
	o.mu.Lock()
	if o.stale(r.token) {
		o.mu.Unlock()
		logger.Debug("discarding result of abandoned run", zap.String("run_id", r.ID))
		return
	}
	o.store.FinishAll(agents.StatusDone)
	r.record = record
	r.signal()
	if o.current == r {
		o.current = nil
	}
	o.mu.Unlock()

	_ = o.bus.Publish(ctx, &bus.Update{RunID: r.ID, Agents: o.store.Snapshot(), Result: record})

	logger.Info("run finished",
		zap.String("run_id", r.ID),
		zap.Bool("error", record.IsError),
		zap.Duration("elapsed", record.Elapsed))
}

// fail settles a run with a diagnostic record, under the same critical
// section discipline as finish, and applies the fallback policy: a timeout
// on the secondary tier downgrades the default tier to primary for the
// caller's next invocation.
func (o *Orchestrator) fail(ctx context.Context, r *Run, tier backend.Tier, err error, elapsed time.Duration) {
	o.mu.Lock()
	if o.stale(r.token) {
		o.mu.Unlock()
		logger.Debug("discarding failure of abandoned run",
			zap.String("run_id", r.ID), zap.Error(err))
		return
	}
	o.store.FinishAll(agents.StatusError)

	message := err.Error()
	downgraded := false
	if tier == backend.TierSecondary && types.IsTimeout(err) {
		o.defaultTier = backend.TierPrimary
		downgraded = true
		message = fmt.Sprintf("%s Falling back to %s for your next question.",
			message, o.providerName(backend.TierPrimary))
	}

	record := &types.ResultRecord{
		Answer:  message,
		Elapsed: elapsed,
		IsError: true,
	}
	r.record = record
	r.signal()
	if o.current == r {
		o.current = nil
	}
	o.mu.Unlock()

	if downgraded {
		logger.Warn("secondary tier timed out, default tier downgraded to primary")
	}

	_ = o.bus.Publish(ctx, &bus.Update{RunID: r.ID, Agents: o.store.Snapshot(), Result: record})

	logger.Info("run finished",
		zap.String("run_id", r.ID),
		zap.Bool("error", record.IsError),
		zap.Duration("elapsed", record.Elapsed))
}
