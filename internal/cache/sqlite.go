// Shared sqlite cache provider.
//
// DESIGN: One table keyed by request fingerprint with millisecond expiry.
// A single shared connection avoids writer lock contention with SQLite under
// concurrent goroutines. All provider errors fail open: Get reads as a miss,
// Set drops the write, and the request proceeds with live retrieval.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/issuepilot/context-engine/internal/contextagg"
)

// SQLiteStore persists responses in a shared sqlite database.
type SQLiteStore struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSQLiteStore creates/opens the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS context_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS context_cache_expiry_idx ON context_cache(expires_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init cache schema: %w", err)
		}
	}
	return nil
}

// Get returns the cached response; expired rows and provider errors are
// misses.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*contextagg.ContextResponse, bool) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM context_cache WHERE key = ? AND expires_at_ms > ?`,
		key, time.Now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Warn().Err(err).Msg("cache: sqlite read failed, treating as miss")
		}
		s.misses.Add(1)
		return nil, false
	}

	var resp contextagg.ContextResponse
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		log.Warn().Err(err).Msg("cache: corrupt sqlite entry, treating as miss")
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return &resp, true
}

// Set upserts a response under key; write failures are logged and dropped.
func (s *SQLiteStore) Set(ctx context.Context, key string, resp *contextagg.ContextResponse, ttl time.Duration) {
	if resp == nil || ttl <= 0 {
		return
	}
	value, err := json.Marshal(resp)
	if err != nil {
		log.Warn().Err(err).Msg("cache: response marshal failed, skipping store")
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO context_cache(key, value, expires_at_ms) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at_ms=excluded.expires_at_ms`,
		key, string(value), time.Now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		log.Warn().Err(err).Msg("cache: sqlite write failed, skipping store")
	}
}

// Delete removes one key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM context_cache WHERE key = ?`, key)
	return err
}

// Clear removes entries matching pattern; empty pattern removes all.
// "*" wildcards translate to SQL LIKE "%".
func (s *SQLiteStore) Clear(ctx context.Context, pattern string) (int, error) {
	var res sql.Result
	var err error
	if pattern == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM context_cache`)
	} else {
		like := strings.ReplaceAll(pattern, "*", "%")
		res, err = s.db.ExecContext(ctx, `DELETE FROM context_cache WHERE key LIKE ?`, like)
	}
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Healthy pings the database.
func (s *SQLiteStore) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Stats counts live entries plus the in-process hit/miss counters.
func (s *SQLiteStore) Stats() Stats {
	var entries int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM context_cache WHERE expires_at_ms > ?`,
		time.Now().UnixMilli(),
	).Scan(&entries)
	if err != nil {
		entries = 0
	}
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: entries,
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PurgeExpired removes expired rows. Called periodically by the daemon.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM context_cache WHERE expires_at_ms <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
