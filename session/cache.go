// Package session caches the opaque continuation identifier the backend
// hands back, keyed by conversation. The identifier is the only thing
// persisted; the short history window sent along with requests lives in
// memory for the life of the process.
package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"

	"github.com/smallnest/crewrelay/backend"
)

const defaultMaxHistory = 20

// Cache stores continuation ids in sqlite and history windows in memory.
type Cache struct {
	db         *sql.DB
	mu         sync.RWMutex
	histories  map[string][]backend.Turn
	maxHistory int
}

// NewCache opens (creating if needed) the cache database at dbPath.
func NewCache(dbPath string, maxHistory int) (*Cache, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("session db path is required")
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create session db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	c := &Cache{
		db:         db,
		histories:  make(map[string][]backend.Turn),
		maxHistory: maxHistory,
	}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  key TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

// SessionID returns the cached continuation id for key, or "" when none is
// known.
func (c *Cache) SessionID(key string) string {
	var id string
	err := c.db.QueryRow(`SELECT session_id FROM sessions WHERE key = ?`, key).Scan(&id)
	if err != nil {
		return ""
	}
	return id
}

// SetSessionID records the continuation id for key. Setting the empty
// string forgets the entry.
func (c *Cache) SetSessionID(key, id string) error {
	if id == "" {
		return c.Forget(key)
	}
	_, err := c.db.Exec(`
INSERT INTO sessions (key, session_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		key, id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store session id: %w", err)
	}
	return nil
}

// Forget drops the continuation id and history of key, starting the next
// run from a clean session.
func (c *Cache) Forget(key string) error {
	c.mu.Lock()
	delete(c.histories, key)
	c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	return nil
}

// AppendTurn adds one conversation turn to key's in-memory window,
// trimming the oldest turns past the window size.
func (c *Cache) AppendTurn(key, role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := append(c.histories[key], backend.Turn{Role: role, Content: content})
	if excess := len(turns) - c.maxHistory; excess > 0 {
		turns = turns[excess:]
	}
	c.histories[key] = turns
}

// History returns a copy of key's history window.
func (c *Cache) History(key string) []backend.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := c.histories[key]
	out := make([]backend.Turn, len(turns))
	copy(out, turns)
	return out
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
