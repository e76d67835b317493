// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

const queueColumns = `id, table_name, record_id, operation, payload, retry_count, max_retries, status, error_message, created_at, synced_at`

func scanEntry(sc rowScanner) (clinical.QueueEntry, error) {
	var (
		e         clinical.QueueEntry
		table     string
		op        string
		payload   string
		status    string
		errMsg    sql.NullString
		createdAt string
		syncedAt  sql.NullString
	)
	if err := sc.Scan(&e.ID, &table, &e.RecordID, &op, &payload, &e.RetryCount, &e.MaxRetries, &status, &errMsg, &createdAt, &syncedAt); err != nil {
		return e, err
	}
	e.TableName = clinical.Table(table)
	e.Operation = clinical.Operation(op)
	e.Payload = []byte(payload)
	e.Status = clinical.QueueStatus(status)
	e.ErrorMessage = errMsg.String
	t, err := parseTime(createdAt)
	if err != nil {
		return e, err
	}
	e.CreatedAt = t
	if syncedAt.Valid {
		st, err := parseTime(syncedAt.String)
		if err != nil {
			return e, err
		}
		e.SyncedAt = &st
	}
	return e, nil
}

// Enqueue appends a pending mutation. The entry is committed before the
// call returns.
func (s *Store) Enqueue(ctx context.Context, table clinical.Table, recordID string, op clinical.Operation, payload []byte) (clinical.QueueEntry, error) {
	e, err := s.enqueueTx(ctx, s.db, table, recordID, op, payload)
	if err != nil {
		return e, err
	}
	s.fireEnqueued(e)
	return e, nil
}

func (s *Store) enqueueTx(ctx context.Context, ex execer, table clinical.Table, recordID string, op clinical.Operation, payload []byte) (clinical.QueueEntry, error) {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return clinical.QueueEntry{}, err
	}
	if !op.Valid() {
		return clinical.QueueEntry{}, fmt.Errorf("invalid operation %q", op)
	}
	if recordID == "" {
		return clinical.QueueEntry{}, errors.New("record id is required")
	}
	if !json.Valid(payload) {
		return clinical.QueueEntry{}, fmt.Errorf("payload for %s/%s is not valid JSON", table, recordID)
	}

	e := clinical.QueueEntry{
		ID:         uuid.NewString(),
		TableName:  table,
		RecordID:   recordID,
		Operation:  op,
		Payload:    payload,
		MaxRetries: s.config.MaxRetries,
		Status:     clinical.StatusPending,
		CreatedAt:  s.now(),
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sync_queue (id, table_name, record_id, operation, payload, retry_count, max_retries, status, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, 'pending', ?)`,
		e.ID, string(table), recordID, string(op), string(payload), e.MaxRetries, formatTime(e.CreatedAt))
	if err != nil {
		return clinical.QueueEntry{}, fmt.Errorf("failed to enqueue %s %s/%s: %w", op, table, recordID, err)
	}
	return e, nil
}

// Save writes a record and queues its mutation in one transaction, so a
// local write is never persisted without the entry that will push it.
func (s *Store) Save(ctx context.Context, rec clinical.Record, op clinical.Operation) (clinical.QueueEntry, error) {
	if op == clinical.OpDelete && rec.Table() != clinical.TableContacts {
		return clinical.QueueEntry{}, fmt.Errorf("records of %s are never deleted", rec.Table())
	}
	if c, ok := rec.(*clinical.EmergencyContact); ok && op == clinical.OpDelete {
		c.IsDeleted = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return clinical.QueueEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.putTx(ctx, tx, rec); err != nil {
		return clinical.QueueEntry{}, err
	}
	payload, err := clinical.EncodePayload(rec)
	if err != nil {
		return clinical.QueueEntry{}, err
	}
	e, err := s.enqueueTx(ctx, tx, rec.Table(), rec.Meta().LocalID, op, payload)
	if err != nil {
		return clinical.QueueEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return clinical.QueueEntry{}, fmt.Errorf("failed to commit save: %w", err)
	}
	s.fireEnqueued(e)
	return e, nil
}

// Pending returns entries eligible for the next pass, oldest first:
// pending ones and failed ones with retries left.
func (s *Store) Pending(ctx context.Context) ([]clinical.QueueEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE status = 'pending' OR (status = 'failed' AND retry_count < max_retries)
		ORDER BY created_at ASC, seq ASC`)
}

// Entry loads one queue entry.
func (s *Store) Entry(ctx context.Context, id string) (clinical.QueueEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return e, fmt.Errorf("failed to load queue entry %s: %w", id, err)
	}
	return e, nil
}

// QueueFilter narrows ListQueue. Empty fields match everything.
type QueueFilter struct {
	Status   clinical.QueueStatus
	Table    clinical.Table
	RecordID string
}

func (s *Store) ListQueue(ctx context.Context, f QueueFilter) ([]clinical.QueueEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, string(f.Table))
	}
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	query := `SELECT ` + queueColumns + ` FROM sync_queue`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, seq ASC"
	return s.queryEntries(ctx, query, args...)
}

// TerminalFailures returns failed entries that exhausted their retries.
// They stay until a manual retry resets them.
func (s *Store) TerminalFailures(ctx context.Context) ([]clinical.QueueEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE status = 'failed' AND retry_count >= max_retries
		ORDER BY created_at ASC, seq ASC`)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]clinical.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var out []clinical.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return out, nil
}

func transitionAllowed(from, to clinical.QueueStatus, retries, max int) bool {
	switch to {
	case clinical.StatusSyncing:
		return from == clinical.StatusPending || (from == clinical.StatusFailed && retries < max)
	case clinical.StatusSynced, clinical.StatusFailed:
		return from == clinical.StatusSyncing
	}
	return false
}

// MarkStatus moves an entry forward. Marking failed increments the retry
// count and records errMsg; marking synced stamps synced_at.
func (s *Store) MarkStatus(ctx context.Context, id string, status clinical.QueueStatus, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		from           string
		retries, limit int
	)
	err = tx.QueryRowContext(ctx, `SELECT status, retry_count, max_retries FROM sync_queue WHERE id = ?`, id).Scan(&from, &retries, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to load queue entry %s: %w", id, err)
	}
	if !transitionAllowed(clinical.QueueStatus(from), status, retries, limit) {
		return fmt.Errorf("%w: %s -> %s (entry %s)", ErrInvalidTransition, from, status, id)
	}

	switch status {
	case clinical.StatusSyncing:
		_, err = tx.ExecContext(ctx, `UPDATE sync_queue SET status = 'syncing' WHERE id = ?`, id)
	case clinical.StatusSynced:
		_, err = tx.ExecContext(ctx, `UPDATE sync_queue SET status = 'synced', error_message = NULL, synced_at = ? WHERE id = ?`,
			formatTime(s.now()), id)
	case clinical.StatusFailed:
		_, err = tx.ExecContext(ctx, `UPDATE sync_queue SET status = 'failed', retry_count = retry_count + 1, error_message = ? WHERE id = ?`,
			nullString(errMsg), id)
	}
	if err != nil {
		return fmt.Errorf("failed to mark queue entry %s %s: %w", id, status, err)
	}
	return tx.Commit()
}

// Defer returns a syncing entry to pending without consuming its retry
// budget. errMsg stays visible until the next attempt resolves it.
func (s *Store) Defer(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET status = 'pending', error_message = ? WHERE id = ? AND status = 'syncing'`,
		nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to defer queue entry %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: defer requires a syncing entry (%s)", ErrInvalidTransition, id)
	}
	return nil
}

// ClearSynced purges acknowledged entries.
func (s *Store) ClearSynced(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = 'synced'`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear synced entries: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed resets failed entries to pending with a fresh retry budget.
// With no ids every failed entry is reset.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE sync_queue SET status = 'pending', retry_count = 0, error_message = NULL WHERE status = 'failed'`
	var args []any
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Reset failed queue entries for manual retry", "count", n)
		s.fireEnqueued(clinical.QueueEntry{Status: clinical.StatusPending})
	}
	return n, nil
}

// HasOutstanding reports whether record has an unacknowledged entry other
// than excludeID.
func (s *Store) HasOutstanding(ctx context.Context, table clinical.Table, recordID, excludeID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sync_queue
		WHERE table_name = ? AND record_id = ? AND id <> ? AND status <> 'synced')`,
		string(table), recordID, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check outstanding entries: %w", err)
	}
	return exists, nil
}

// QueueStats summarizes the queue for the sync status notice.
type QueueStats struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Retryable int `json:"retryable"` // failed with retries left
	Terminal  int `json:"terminal"`  // failed with no retries left
}

func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'syncing' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' AND retry_count < max_retries THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' AND retry_count >= max_retries THEN 1 ELSE 0 END), 0)
		FROM sync_queue`).Scan(&st.Pending, &st.Syncing, &st.Retryable, &st.Terminal)
	if err != nil {
		return st, fmt.Errorf("failed to compute queue stats: %w", err)
	}
	return st, nil
}
