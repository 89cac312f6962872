// Package relay wires the orchestration core to its collaborators: it
// builds requests from the session cache and repo manifest, starts runs,
// and commits finished records back to the session cache.
package relay

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/smallnest/crewrelay/agents"
	"github.com/smallnest/crewrelay/backend"
	"github.com/smallnest/crewrelay/bus"
	"github.com/smallnest/crewrelay/config"
	"github.com/smallnest/crewrelay/internal/logger"
	"github.com/smallnest/crewrelay/repos"
	"github.com/smallnest/crewrelay/run"
	"github.com/smallnest/crewrelay/session"
	"github.com/smallnest/crewrelay/types"
)

// Question is one user request plus its execution choices. Zero values
// fall back to the configured defaults.
type Question struct {
	Message string
	Mode    agents.Mode
	Path    run.Path
	Tier    backend.Tier
	// Repos overrides the manifest for this question when non-nil.
	Repos []string
}

// Service owns the orchestrator and its collaborators for one process.
type Service struct {
	cfg      *config.Config
	orch     *run.Orchestrator
	cache    *session.Cache
	registry *repos.Registry
}

// New builds a Service from configuration.
func New(cfg *config.Config) (*Service, error) {
	client := backend.NewClient(
		cfg.Backend.BaseURL,
		&http.Client{},
		cfg.Backend.ChatPath,
		cfg.Backend.MultiPath,
		cfg.Backend.StreamPath,
	)

	orch := run.NewOrchestrator(run.Options{
		Client:   client,
		Bus:      bus.NewUpdateBus(0),
		Deadline: cfg.Deadline(),
		Cadence:  cfg.Cadence(),
		Providers: map[backend.Tier]string{
			backend.TierPrimary:   cfg.Providers.Primary,
			backend.TierSecondary: cfg.Providers.Secondary,
		},
		DefaultTier: backend.Tier(cfg.Run.DefaultTier),
	})

	cache, err := session.NewCache(cfg.Session.DBPath, cfg.Session.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("open session cache: %w", err)
	}

	registry, err := repos.Load(cfg.Repos.ManifestPath)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("load repo manifest: %w", err)
	}
	if cfg.Repos.Watch {
		if err := registry.Watch(); err != nil {
			logger.Warn("repo manifest watch unavailable", zap.Error(err))
		}
	}

	return &Service{cfg: cfg, orch: orch, cache: cache, registry: registry}, nil
}

// Orchestrator exposes the underlying orchestrator.
func (s *Service) Orchestrator() *run.Orchestrator {
	return s.orch
}

// Repos returns the currently enabled repo names.
func (s *Service) Repos() []string {
	return s.registry.Names()
}

// Ask starts a run for key's conversation. The previous run, if any, is
// abandoned.
func (s *Service) Ask(ctx context.Context, key string, q Question) *run.Run {
	mode := q.Mode
	if mode == "" {
		mode = agents.Mode(s.cfg.Run.DefaultMode)
	}
	path := q.Path
	if path == "" {
		path = run.Path(s.cfg.Run.DefaultPath)
	}
	repoNames := q.Repos
	if repoNames == nil {
		repoNames = s.registry.Names()
	}

	req := backend.NewRequest(q.Message, s.cache.SessionID(key), s.cache.History(key), repoNames)
	return s.orch.StartRun(ctx, mode, path, req, q.Tier)
}

// Commit records a finished run in key's conversation: both the question
// and the answer become normal turns (diagnostic answers included), and
// the continuation id is refreshed.
func (s *Service) Commit(key, question string, record *types.ResultRecord) {
	s.cache.AppendTurn(key, "user", question)
	s.cache.AppendTurn(key, "assistant", record.Answer)
	if record.SessionID != "" {
		if err := s.cache.SetSessionID(key, record.SessionID); err != nil {
			logger.Warn("persisting continuation id failed", zap.Error(err))
		}
	}
}

// Reset forgets key's conversation so the next question starts fresh.
func (s *Service) Reset(key string) {
	if err := s.cache.Forget(key); err != nil {
		logger.Warn("resetting conversation failed", zap.Error(err))
	}
}

// Cancel abandons the in-flight run, if any.
func (s *Service) Cancel() {
	s.orch.CancelRun()
}

// Close releases the service's resources.
func (s *Service) Close() {
	s.orch.Bus().Close()
	_ = s.registry.Close()
	_ = s.cache.Close()
}
