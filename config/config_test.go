package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.BaseURL != "http://127.0.0.1:8600" {
		t.Fatalf("base url default: %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.StreamPath != "/api/multi-agent/stream" {
		t.Fatalf("stream path default: %q", cfg.Backend.StreamPath)
	}
	if cfg.Deadline() != 120*time.Second {
		t.Fatalf("deadline default: %v", cfg.Deadline())
	}
	if cfg.Cadence() != 2100*time.Millisecond {
		t.Fatalf("cadence default: %v", cfg.Cadence())
	}
	if cfg.Providers.Primary != "fast" || cfg.Providers.Secondary != "deep" {
		t.Fatalf("provider defaults: %+v", cfg.Providers)
	}
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 18600 {
		t.Fatalf("gateway defaults: %+v", cfg.Gateway)
	}
	if cfg.Session.MaxHistory != 20 {
		t.Fatalf("history default: %d", cfg.Session.MaxHistory)
	}
	if !cfg.Repos.Watch {
		t.Fatalf("manifest watching should default on")
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level default: %q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: http://10.0.0.5:9000
run:
  deadline_seconds: 30
  cadence_ms: 500
  default_tier: secondary
providers:
  secondary: glacier
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.BaseURL != "http://10.0.0.5:9000" {
		t.Fatalf("base url: %q", cfg.Backend.BaseURL)
	}
	if cfg.Deadline() != 30*time.Second || cfg.Cadence() != 500*time.Millisecond {
		t.Fatalf("timings: %v %v", cfg.Deadline(), cfg.Cadence())
	}
	if cfg.Run.DefaultTier != "secondary" || cfg.Providers.Secondary != "glacier" {
		t.Fatalf("tier config: %+v %+v", cfg.Run, cfg.Providers)
	}
	// Untouched keys keep their defaults.
	if cfg.Providers.Primary != "fast" {
		t.Fatalf("unset key lost its default: %q", cfg.Providers.Primary)
	}
}

func TestLoadExpandsUserPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, `
session:
  db_path: ~/state/sessions.db
repos:
  manifest_path: ~/state/repos.yaml
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(home, "state", "sessions.db"); cfg.Session.DBPath != want {
		t.Fatalf("db path %q, want %q", cfg.Session.DBPath, want)
	}
	if want := filepath.Join(home, "state", "repos.yaml"); cfg.Repos.ManifestPath != want {
		t.Fatalf("manifest path %q, want %q", cfg.Repos.ManifestPath, want)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "backend: [nope")); err == nil {
		t.Fatalf("malformed config should fail")
	}
}

func TestExpandUserPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandUserPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandUserPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path should pass through, got %q", got)
	}
	if got := ExpandUserPath(""); got != "" {
		t.Fatalf("empty path should pass through, got %q", got)
	}
}

// writeConfig writes content to a config.yaml in a fresh temp dir and
// returns its path. Empty content still produces a valid file so Load
// exercises the explicit-path branch.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if strings.TrimSpace(content) == "" {
		content = "{}\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
