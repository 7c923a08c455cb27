// Package registry persists which chats are registered with the agent,
// their display names, and the metadata sync cursor. Reads on the inbound
// hot path are served from an in-memory snapshot so per-event registration
// checks never touch disk.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

const (
	lastGroupSyncKey = "last_group_sync"

	// How long a snapshot may serve reads before a background reload is
	// triggered. Other processes write the same database file, so the
	// snapshot must converge without a restart.
	defaultSnapshotMaxAge = 5 * time.Second
)

type Group struct {
	ChatKey      string
	Name         string
	Registered   bool
	LastActivity time.Time
}

type Store struct {
	db             *sql.DB
	snapshotMaxAge time.Duration

	mu       sync.RWMutex
	cache    map[string]Group
	loadedAt time.Time

	reloading atomic.Bool
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, snapshotMaxAge: defaultSnapshotMaxAge, cache: make(map[string]Group)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadCache(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS groups (
	chat_key      TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	registered    INTEGER NOT NULL DEFAULT 0,
	last_activity INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sync_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`)
	return err
}

func (s *Store) loadCache() error {
	rows, err := s.db.Query(`SELECT chat_key, name, registered, last_activity FROM groups`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := make(map[string]Group)
	for rows.Next() {
		var g Group
		var registered int
		var lastActivity int64
		if err := rows.Scan(&g.ChatKey, &g.Name, &registered, &lastActivity); err != nil {
			return err
		}
		g.Registered = registered != 0
		if lastActivity > 0 {
			g.LastActivity = time.Unix(lastActivity, 0).UTC()
		}
		cache[g.ChatKey] = g
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = cache
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// maybeRefresh reloads the snapshot in the background once it is older
// than snapshotMaxAge. Callers keep reading the current snapshot, so
// the hot path never waits on the database.
func (s *Store) maybeRefresh() {
	s.mu.RLock()
	stale := time.Since(s.loadedAt) >= s.snapshotMaxAge
	s.mu.RUnlock()

	if !stale || !s.reloading.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.reloading.Store(false)
		if err := s.loadCache(); err != nil {
			logger.WarnCF("registry", "Snapshot reload failed", map[string]any{"error": err.Error()})
		}
	}()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RegisteredGroups returns a snapshot of registered chats keyed by chat key.
// It never blocks on the database; registrations written by another
// process appear once the snapshot is refreshed.
func (s *Store) RegisteredGroups() map[string]Group {
	s.maybeRefresh()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Group)
	for k, g := range s.cache {
		if g.Registered {
			out[k] = g
		}
	}
	return out
}

// All returns every known chat, registered or not, sorted by chat key.
func (s *Store) All() []Group {
	s.maybeRefresh()

	s.mu.RLock()
	out := make([]Group, 0, len(s.cache))
	for _, g := range s.cache {
		out = append(out, g)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChatKey < out[j].ChatKey })
	return out
}

func (s *Store) Register(chatKey, name string) error {
	_, err := s.db.Exec(`
INSERT INTO groups (chat_key, name, registered) VALUES (?, ?, 1)
ON CONFLICT(chat_key) DO UPDATE SET registered = 1, name = CASE WHEN excluded.name != '' THEN excluded.name ELSE groups.name END`,
		chatKey, name)
	if err != nil {
		return fmt.Errorf("register %s: %w", chatKey, err)
	}

	s.mu.Lock()
	g := s.cache[chatKey]
	g.ChatKey = chatKey
	g.Registered = true
	if name != "" {
		g.Name = name
	}
	s.cache[chatKey] = g
	s.mu.Unlock()
	return nil
}

func (s *Store) Unregister(chatKey string) error {
	_, err := s.db.Exec(`UPDATE groups SET registered = 0 WHERE chat_key = ?`, chatKey)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", chatKey, err)
	}

	s.mu.Lock()
	if g, ok := s.cache[chatKey]; ok {
		g.Registered = false
		s.cache[chatKey] = g
	}
	s.mu.Unlock()
	return nil
}

// UpdateChatName upserts the display name without touching the
// registration flag. Last write wins.
func (s *Store) UpdateChatName(chatKey, name string) error {
	_, err := s.db.Exec(`
INSERT INTO groups (chat_key, name) VALUES (?, ?)
ON CONFLICT(chat_key) DO UPDATE SET name = excluded.name`,
		chatKey, name)
	if err != nil {
		return fmt.Errorf("update chat name %s: %w", chatKey, err)
	}

	s.mu.Lock()
	g := s.cache[chatKey]
	g.ChatKey = chatKey
	g.Name = name
	s.cache[chatKey] = g
	s.mu.Unlock()
	return nil
}

// RecordActivity notes that a chat was seen on the event stream. Unknown
// chats get an unregistered row so first-contact chats are discoverable.
func (s *Store) RecordActivity(chatKey string, ts time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO groups (chat_key, last_activity) VALUES (?, ?)
ON CONFLICT(chat_key) DO UPDATE SET last_activity = excluded.last_activity`,
		chatKey, ts.Unix())
	if err != nil {
		return fmt.Errorf("record activity %s: %w", chatKey, err)
	}

	s.mu.Lock()
	g := s.cache[chatKey]
	g.ChatKey = chatKey
	g.LastActivity = ts.UTC()
	s.cache[chatKey] = g
	s.mu.Unlock()
	return nil
}

func (s *Store) LastGroupSync() (time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, lastGroupSyncKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

func (s *Store) SetLastGroupSync(t time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO sync_state (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastGroupSyncKey, t.UTC().Format(time.RFC3339))
	return err
}
