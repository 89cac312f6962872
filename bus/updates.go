// Package bus fans run progress out to subscribers. The orchestrator
// publishes an Update after every state change; the CLI and the gateway
// subscribe per run.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/types"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("update bus is closed")

// Update is one progress notification for a run. Agents carries the state
// snapshot; Result is non-nil exactly once, on the final update.
type Update struct {
	RunID  string              `json:"run_id"`
	Agents []agents.Snapshot   `json:"agents,omitempty"`
	Result *types.ResultRecord `json:"result,omitempty"`
}

// Final reports whether this is the terminal update of its run.
func (u *Update) Final() bool {
	return u.Result != nil
}

// runChannel pairs one run's update channel with its own lock. Sends and
// the close both happen under mu, so a concurrent CloseRun can never close
// the channel out from under an in-flight send.
type runChannel struct {
	mu     sync.Mutex
	ch     chan *Update
	closed bool
}

// send delivers u, blocking when block is set, and reports delivery. A
// closed channel swallows the update.
func (rc *runChannel) send(ctx context.Context, u *Update, block bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return nil
	}
	if !block {
		select {
		case rc.ch <- u:
		default:
			logger.Debug("dropping progress update for slow subscriber")
		}
		return nil
	}

	select {
	case rc.ch <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close closes the channel once. Callers must not hold rc.mu.
func (rc *runChannel) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// UpdateBus routes updates to per-run subscriber channels.
type UpdateBus struct {
	mu         sync.RWMutex
	runs       map[string]*runChannel
	bufferSize int
	closed     bool
}

// NewUpdateBus creates a bus whose per-run channels buffer bufferSize
// updates.
func NewUpdateBus(bufferSize int) *UpdateBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &UpdateBus{
		runs:       make(map[string]*runChannel),
		bufferSize: bufferSize,
	}
}

// Subscribe returns the update channel for a run, creating it if needed.
// The channel is closed when the run finishes.
func (b *UpdateBus) Subscribe(runID string) <-chan *Update {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc, ok := b.runs[runID]
	if !ok {
		rc = &runChannel{ch: make(chan *Update, b.bufferSize)}
		b.runs[runID] = rc
	}
	return rc.ch
}

func (b *UpdateBus) lookup(runID string) (*runChannel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	rc, ok := b.runs[runID]
	return rc, ok
}

func (b *UpdateBus) remove(runID string) {
	b.mu.Lock()
	delete(b.runs, runID)
	b.mu.Unlock()
}

// Publish delivers a progress update. Progress updates are cosmetic: if the
// subscriber is not keeping up they are dropped rather than stalling the
// run. Final updates block until delivered or ctx expires, then the run
// channel is closed. Publishing to a run whose channel was concurrently
// closed is a silent no-op.
func (b *UpdateBus) Publish(ctx context.Context, u *Update) error {
	if u == nil {
		return nil
	}

	rc, ok := b.lookup(u.RunID)
	if !ok {
		if b.isClosed() {
			return ErrBusClosed
		}
		// Nobody ever subscribed and no run channel exists; nothing to do.
		return nil
	}

	if !u.Final() {
		return rc.send(ctx, u, false)
	}

	err := rc.send(ctx, u, true)
	rc.close()
	b.remove(u.RunID)
	return err
}

func (b *UpdateBus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// CloseRun closes and forgets the channel of one run.
func (b *UpdateBus) CloseRun(runID string) {
	b.mu.Lock()
	rc, ok := b.runs[runID]
	delete(b.runs, runID)
	b.mu.Unlock()

	if ok {
		rc.close()
	}
}

// Close shuts the bus down, closing every run channel.
func (b *UpdateBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	channels := make([]*runChannel, 0, len(b.runs))
	for id, rc := range b.runs {
		channels = append(channels, rc)
		delete(b.runs, id)
	}
	b.mu.Unlock()

	for _, rc := range channels {
		rc.close()
	}
}
