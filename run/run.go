// Package run orchestrates one request end to end: it picks the execution
// path, feeds the agent state store from either the live event feed or the
// progress simulator, races the opaque call against the deadline, applies
// the provider fallback policy and assembles the final record.
package run

import (
	"context"
	"errors"
	"sync"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/bus"
	"github.com/smallnest/crewrelay/types"
)

// Path selects how progress is produced while a run is in flight.
type Path string

const (
	// PathStreamed consumes a live event feed; agent state reflects true
	// backend progress.
	PathStreamed Path = "streamed"
	// PathSimulated issues one opaque call and synthesizes staged progress
	// on a fixed cadence while it is outstanding.
	PathSimulated Path = "simulated"
)

// ErrRunCanceled is returned by Wait when the run was abandoned before a
// record was produced.
var ErrRunCanceled = errors.New("run canceled")

// Run is the caller's handle to one in-flight execution. Progress arrives
// on Updates; the final record via Wait.
type Run struct {
	ID   string
	Mode agents.Mode
	Path Path

	token         uint64
	prevSessionID string
	updates       <-chan *bus.Update

	done      chan struct{}
	closeOnce sync.Once
	record    *types.ResultRecord
}

// signal marks the run settled. Safe to call from both the finishing and
// the abandoning side of a race.
func (r *Run) signal() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Updates returns the progress channel for this run. It is closed after
// the final update.
func (r *Run) Updates() <-chan *bus.Update {
	return r.updates
}

// Wait blocks until the run produces its record, the run is canceled, or
// ctx expires.
func (r *Run) Wait(ctx context.Context) (*types.ResultRecord, error) {
	select {
	case <-r.done:
		if r.record == nil {
			return nil, ErrRunCanceled
		}
		return r.record, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
