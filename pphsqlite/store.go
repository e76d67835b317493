// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package pphsqlite implements the on-device record store and durable
// operation queue on top of SQLite.
package pphsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

var (
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrInvalidTransition = errors.New("invalid queue status transition")
)

// timeLayout is fixed width so that stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Config holds configuration for the local store
type Config struct {
	MaxRetries int              // retry budget stamped into every new queue entry
	LeaseTTL   time.Duration    // how long a sync lease survives without renewal
	Now        func() time.Time // clock, overridable in tests
	Logger     *slog.Logger
}

// DefaultConfig returns the store defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 5,
		LeaseTTL:   2 * time.Minute,
		Now:        time.Now,
		Logger:     slog.Default(),
	}
}

// Store is the SQLite-backed Local Record Store and Operation Queue.
// Every exported mutation is a single transaction; nothing here calls the
// network.
type Store struct {
	db     *sql.DB
	owned  bool
	holder string // sync lease identity of this handle
	config *Config
	logger *slog.Logger

	hookMu sync.RWMutex
	onEnq  func(clinical.QueueEntry)
}

// Open opens (or creates) the database file at path and initializes it.
func Open(ctx context.Context, path string, config *Config) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection avoids SQLITE_BUSY between the sync worker and UI writes.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, config)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an already opened database handle.
func New(ctx context.Context, db *sql.DB, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("config.MaxRetries must be positive, got %d", config.MaxRetries)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultConfig().LeaseTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, holder: uuid.NewString(), config: config, logger: logger}
	if err := s.initializeDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// Close gives up a held sync lease and releases the database if the store
// opened it.
func (s *Store) Close() error {
	if err := s.ReleaseSyncLease(context.Background()); err != nil {
		s.logger.Warn("Failed to release sync lease", "error", err)
	}
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// SetEnqueueHook registers fn to run after every committed enqueue.
func (s *Store) SetEnqueueHook(fn func(clinical.QueueEntry)) {
	s.hookMu.Lock()
	s.onEnq = fn
	s.hookMu.Unlock()
}

func (s *Store) fireEnqueued(e clinical.QueueEntry) {
	s.hookMu.RLock()
	fn := s.onEnq
	s.hookMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func (s *Store) initializeDatabase(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var stmts []string
	for _, t := range clinical.RecordTables {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				local_id    TEXT PRIMARY KEY,
				remote_id   TEXT,
				is_synced   INTEGER NOT NULL DEFAULT 0,
				case_id     TEXT,
				facility_id TEXT,
				unit_id     TEXT,
				kind        TEXT,                 -- case status or event type
				is_deleted  INTEGER NOT NULL DEFAULT 0,
				sort_at     TEXT NOT NULL,        -- ordering timestamp, most recent first
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				body        TEXT NOT NULL         -- JSON of the typed record
			)`, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sort ON %s(sort_at)`, t, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_case ON %s(case_id)`, t, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unit ON %s(facility_id, unit_id)`, t, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_remote ON %s(remote_id)`, t, t),
		)
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS sync_queue (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,  -- tie-breaker for equal created_at
			id            TEXT NOT NULL UNIQUE,
			table_name    TEXT NOT NULL,
			record_id     TEXT NOT NULL,
			operation     TEXT NOT NULL CHECK (operation IN ('insert','update','delete')),
			payload       TEXT NOT NULL,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			max_retries   INTEGER NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','syncing','synced','failed')),
			error_message TEXT,
			created_at    TEXT NOT NULL,
			synced_at     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON sync_queue(table_name, record_id)`,
		`CREATE TABLE IF NOT EXISTS sync_lease (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			holder     TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
	)

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// AcquireSyncLease claims or renews the device-wide right to run a sync
// pass. It reports false while another handle, possibly in another
// process, holds an unexpired lease.
//
// Taking over a free or expired lease also repairs what a previous holder
// left behind, since no pass can be running at that point: entries stuck
// in syncing go back to pending, and soft-deleted contacts whose delete
// was already acknowledged are physically removed.
func (s *Store) AcquireSyncLease(ctx context.Context) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	var holder, expires string
	err = tx.QueryRowContext(ctx, `SELECT holder, expires_at FROM sync_lease WHERE id = 1`).Scan(&holder, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("failed to read sync lease: %w", err)
	case holder != s.holder:
		until, err := parseTime(expires)
		if err != nil {
			return false, err
		}
		if now.Before(until) {
			return false, nil
		}
		s.logger.Warn("Taking over expired sync lease", "previous_holder", holder, "expired_at", until)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_lease (id, holder, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at`,
		s.holder, formatTime(now.Add(s.config.LeaseTTL))); err != nil {
		return false, fmt.Errorf("failed to write sync lease: %w", err)
	}
	if holder != s.holder {
		if err := s.recoverInterrupted(ctx, tx); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit sync lease: %w", err)
	}
	return true, nil
}

// ReleaseSyncLease gives up the lease if this handle holds it.
func (s *Store) ReleaseSyncLease(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_lease WHERE id = 1 AND holder = ?`, s.holder); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

func (s *Store) recoverInterrupted(ctx context.Context, ex execer) error {
	res, err := ex.ExecContext(ctx, `UPDATE sync_queue SET status = 'pending' WHERE status = 'syncing'`)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted queue entries: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("Reset interrupted queue entries", "count", n)
	}

	res, err = ex.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE is_deleted = 1
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue q
			WHERE q.table_name = ? AND q.record_id = %s.local_id AND q.status <> 'synced'
		  )`, clinical.TableContacts, clinical.TableContacts),
		string(clinical.TableContacts))
	if err != nil {
		return fmt.Errorf("failed to purge acknowledged contact deletes: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("Purged acknowledged contact deletes", "count", n)
	}
	return nil
}

func (s *Store) now() time.Time { return s.config.Now().UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
