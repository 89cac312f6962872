package agents

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/internal/logger"
)

// Snapshot is a point-in-time copy of one agent's state, safe to hand to
// subscribers.
type Snapshot struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Content   string    `json:"content"`
	StartedAt time.Time `json:"started_at,omitzero"`
	DoneAt    time.Time `json:"done_at,omitzero"`
}

type agentState struct {
	id        string
	status    Status
	content   strings.Builder
	startedAt time.Time
	doneAt    time.Time
}

// Store holds the agent state machines for the current run. It is shared by
// the orchestrator, the event applier and the simulator; all mutation goes
// through methods that enforce the transition table, so observed status
// sequences are monotone and content only ever grows between resets.
type Store struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*agentState
}

// NewStore returns an empty store. Seed declares the participants.
func NewStore() *Store {
	return &Store{agents: make(map[string]*agentState)}
}

// Seed discards all previous state and creates one idle agent per id,
// preserving order. Called once at run start when the phase is announced.
func (s *Store) Seed(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = make([]string, 0, len(ids))
	s.agents = make(map[string]*agentState, len(ids))
	for _, id := range ids {
		if _, ok := s.agents[id]; ok {
			continue
		}
		s.order = append(s.order, id)
		s.agents[id] = &agentState{id: id, status: StatusIdle}
	}
}

// Transition moves one agent to the given status if the transition table
// allows it, stamping StartedAt on the first active state and DoneAt on the
// terminal one. Illegal moves are ignored and reported false.
func (s *Store) Transition(id string, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, to)
}

func (s *Store) transitionLocked(id string, to Status) bool {
	a, ok := s.agents[id]
	if !ok {
		return false
	}
	if !allowed(a.status, to) {
		logger.Debug("ignoring illegal agent transition",
			zap.String("agent", id),
			zap.String("from", string(a.status)),
			zap.String("to", string(to)))
		return false
	}

	a.status = to
	switch {
	case to == StatusThinking || to == StatusStreaming:
		if a.startedAt.IsZero() {
			a.startedAt = time.Now()
		}
	case to.Terminal():
		if a.startedAt.IsZero() {
			a.startedAt = time.Now()
		}
		if a.doneAt.IsZero() {
			a.doneAt = time.Now()
		}
	}
	return true
}

// Append adds token text to an agent's content. Tokens arriving after a
// terminal status are dropped; content never shrinks.
func (s *Store) Append(id, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok || a.status.Terminal() {
		return false
	}
	a.content.WriteString(token)
	return true
}

// FinishAll forces every non-terminal agent to the given terminal status.
// Used when the real response resolves (done) or the run fails (error).
func (s *Store) FinishAll(to Status) {
	if !to.Terminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if a := s.agents[id]; !a.status.Terminal() {
			s.transitionLocked(id, to)
		}
	}
}

// IDs returns the participating agent ids in declaration order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Get returns a snapshot of one agent.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(a), true
}

// Snapshot returns snapshots of all agents in declaration order.
func (s *Store) Snapshot() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshotOf(s.agents[id]))
	}
	return out
}

func snapshotOf(a *agentState) Snapshot {
	return Snapshot{
		ID:        a.id,
		Status:    a.status,
		Content:   a.content.String(),
		StartedAt: a.startedAt,
		DoneAt:    a.doneAt,
	}
}
