// Package repos manages the manifest of indexable repositories. The
// manifest names which repos a question may draw context from; its
// contents ride along on every request.
package repos

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/smallnest/crewrelay/internal/logger"
)

// Manifest is the on-disk shape of repos.yaml.
type Manifest struct {
	Repos []Repo `yaml:"repos"`
}

// Repo is one indexable repository entry.
type Repo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Disabled    bool   `yaml:"disabled,omitempty"`
}

// Registry holds the active manifest and optionally keeps it fresh with a
// file watcher.
type Registry struct {
	path    string
	mu      sync.RWMutex
	names   []string
	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// Load reads the manifest at path. A missing file yields an empty
// registry; questions then run without repo context.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, closeCh: make(chan struct{})}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.names = nil
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read repo manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse repo manifest: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, repo := range m.Repos {
		name := strings.TrimSpace(repo.Name)
		if name == "" || repo.Disabled || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	r.names = names
	r.mu.Unlock()
	return nil
}

// Names returns the enabled repo names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Watch reloads the manifest whenever the file changes. Reload failures
// keep the previous manifest and are logged, never fatal.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch manifest: %w", err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Warn("repo manifest reload failed", zap.Error(err))
					continue
				}
				logger.Info("repo manifest reloaded", zap.Int("repos", len(r.Names())))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("repo manifest watcher error", zap.Error(err))
			case <-r.closeCh:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if any.
func (r *Registry) Close() error {
	close(r.closeCh)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
