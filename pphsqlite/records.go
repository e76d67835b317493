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
	"time"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// Filter narrows a record listing. All set fields must match.
type Filter struct {
	CaseID         string // parent case reference (dependents only)
	FacilityID     string
	UnitID         string
	Kind           string // case status or event type
	UnsyncedOnly   bool
	IncludeDeleted bool // contacts only
	Limit          int
}

// indexed columns derived from a record
type recordIndex struct {
	caseID     string
	facilityID string
	unitID     string
	kind       string
	deleted    bool
	sortAt     time.Time
}

func indexOf(rec clinical.Record) recordIndex {
	switch r := rec.(type) {
	case *clinical.ClinicalCase:
		return recordIndex{facilityID: r.FacilityID, unitID: r.UnitID, kind: string(r.Status), sortAt: r.UpdatedAt}
	case *clinical.VitalSign:
		return recordIndex{caseID: r.CaseID, sortAt: r.RecordedAt}
	case *clinical.InterventionChecklist:
		return recordIndex{caseID: r.CaseID, sortAt: r.UpdatedAt}
	case *clinical.CaseEvent:
		return recordIndex{caseID: r.CaseID, kind: string(r.EventType), sortAt: r.OccurredAt}
	case *clinical.EmergencyContact:
		return recordIndex{facilityID: r.FacilityID, unitID: r.UnitID, deleted: r.IsDeleted, sortAt: r.UpdatedAt}
	}
	return recordIndex{sortAt: rec.Meta().UpdatedAt}
}

// Put upserts a record by local id. The write is treated as a local
// mutation: updated_at advances and is_synced drops to false. A known
// remote id is never cleared by a put.
func (s *Store) Put(ctx context.Context, rec clinical.Record) error {
	return s.putTx(ctx, s.db, rec)
}

func (s *Store) putTx(ctx context.Context, ex execer, rec clinical.Record) error {
	meta := rec.Meta()
	if meta.LocalID == "" {
		meta.LocalID = clinical.NewLocalID()
	}
	meta.Touch(s.now())
	if err := rec.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", rec.Table(), err)
	}
	idx := indexOf(rec)
	if idx.sortAt.IsZero() {
		idx.sortAt = meta.UpdatedAt
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (local_id, remote_id, is_synced, case_id, facility_id, unit_id, kind, is_deleted, sort_at, created_at, updated_at, body)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id   = COALESCE(excluded.remote_id, %[1]s.remote_id),
			is_synced   = 0,
			case_id     = excluded.case_id,
			facility_id = excluded.facility_id,
			unit_id     = excluded.unit_id,
			kind        = excluded.kind,
			is_deleted  = excluded.is_deleted,
			sort_at     = excluded.sort_at,
			updated_at  = excluded.updated_at,
			body        = excluded.body`, rec.Table())

	_, err = ex.ExecContext(ctx, query,
		meta.LocalID, nullString(meta.RemoteID),
		nullString(idx.caseID), nullString(idx.facilityID), nullString(idx.unitID), nullString(idx.kind),
		idx.deleted, formatTime(idx.sortAt), formatTime(meta.CreatedAt), formatTime(meta.UpdatedAt), string(body))
	if err != nil {
		return fmt.Errorf("failed to put %s record %s: %w", rec.Table(), meta.LocalID, err)
	}
	return nil
}

const recordColumns = `local_id, remote_id, is_synced, created_at, updated_at, body`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(table clinical.Table, sc rowScanner) (clinical.Record, error) {
	var (
		localID              string
		remoteID             sql.NullString
		synced               bool
		createdAt, updatedAt string
		body                 string
	)
	if err := sc.Scan(&localID, &remoteID, &synced, &createdAt, &updatedAt, &body); err != nil {
		return nil, err
	}
	rec, err := clinical.NewRecord(table)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(body), rec); err != nil {
		return nil, fmt.Errorf("failed to decode stored %s record %s: %w", table, localID, err)
	}
	// Columns are authoritative for sync bookkeeping.
	m := rec.Meta()
	m.LocalID = localID
	m.RemoteID = remoteID.String
	m.IsSynced = synced
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads a record by local id.
func (s *Store) Get(ctx context.Context, table clinical.Table, localID string) (clinical.Record, error) {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE local_id = ?`, recordColumns, table), localID)
	rec, err := scanRecord(table, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", clinical.ErrRecordNotFound, table, localID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record %s: %w", table, localID, err)
	}
	return rec, nil
}

// FindByRemoteID loads a record by its server identifier.
func (s *Store) FindByRemoteID(ctx context.Context, table clinical.Table, remoteID string) (clinical.Record, error) {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE remote_id = ?`, recordColumns, table), remoteID)
	rec, err := scanRecord(table, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s remote %s", clinical.ErrRecordNotFound, table, remoteID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s record by remote id: %w", table, err)
	}
	return rec, nil
}

// List returns records of one table matching f, most recent first.
// Soft-deleted contacts are hidden unless f.IncludeDeleted is set.
func (s *Store) List(ctx context.Context, table clinical.Table, f Filter) ([]clinical.Record, error) {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.CaseID != "" {
		add("case_id = ?", f.CaseID)
	}
	if f.FacilityID != "" {
		add("facility_id = ?", f.FacilityID)
	}
	if f.UnitID != "" {
		add("unit_id = ?", f.UnitID)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.UnsyncedOnly {
		where = append(where, "is_synced = 0")
	}
	if !f.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, recordColumns, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sort_at DESC, updated_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []clinical.Record
	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return out, nil
}

func listAs[T clinical.Record](recs []clinical.Record) []T {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func getAs[T clinical.Record](ctx context.Context, s *Store, table clinical.Table, localID string) (T, error) {
	var zero T
	rec, err := s.Get(ctx, table, localID)
	if err != nil {
		return zero, err
	}
	v, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T in %s", rec, table)
	}
	return v, nil
}

func (s *Store) GetCase(ctx context.Context, localID string) (*clinical.ClinicalCase, error) {
	return getAs[*clinical.ClinicalCase](ctx, s, clinical.TableCases, localID)
}

func (s *Store) GetVitalSign(ctx context.Context, localID string) (*clinical.VitalSign, error) {
	return getAs[*clinical.VitalSign](ctx, s, clinical.TableVitalSigns, localID)
}

func (s *Store) GetChecklist(ctx context.Context, localID string) (*clinical.InterventionChecklist, error) {
	return getAs[*clinical.InterventionChecklist](ctx, s, clinical.TableChecklists, localID)
}

func (s *Store) GetCaseEvent(ctx context.Context, localID string) (*clinical.CaseEvent, error) {
	return getAs[*clinical.CaseEvent](ctx, s, clinical.TableCaseEvents, localID)
}

func (s *Store) GetContact(ctx context.Context, localID string) (*clinical.EmergencyContact, error) {
	return getAs[*clinical.EmergencyContact](ctx, s, clinical.TableContacts, localID)
}

// GetChecklistForCase returns the single checklist of a case.
func (s *Store) GetChecklistForCase(ctx context.Context, caseID string) (*clinical.InterventionChecklist, error) {
	recs, err := s.List(ctx, clinical.TableChecklists, Filter{CaseID: caseID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: checklist for case %s", clinical.ErrRecordNotFound, caseID)
	}
	return recs[0].(*clinical.InterventionChecklist), nil
}

func (s *Store) ListCases(ctx context.Context, f Filter) ([]*clinical.ClinicalCase, error) {
	recs, err := s.List(ctx, clinical.TableCases, f)
	if err != nil {
		return nil, err
	}
	return listAs[*clinical.ClinicalCase](recs), nil
}

func (s *Store) ListVitalSigns(ctx context.Context, f Filter) ([]*clinical.VitalSign, error) {
	recs, err := s.List(ctx, clinical.TableVitalSigns, f)
	if err != nil {
		return nil, err
	}
	return listAs[*clinical.VitalSign](recs), nil
}

func (s *Store) ListCaseEvents(ctx context.Context, f Filter) ([]*clinical.CaseEvent, error) {
	recs, err := s.List(ctx, clinical.TableCaseEvents, f)
	if err != nil {
		return nil, err
	}
	return listAs[*clinical.CaseEvent](recs), nil
}

func (s *Store) ListContacts(ctx context.Context, f Filter) ([]*clinical.EmergencyContact, error) {
	recs, err := s.List(ctx, clinical.TableContacts, f)
	if err != nil {
		return nil, err
	}
	return listAs[*clinical.EmergencyContact](recs), nil
}

// MarkSynced records the remote id and flags the record acknowledged.
// Calling it again with the same arguments changes nothing.
func (s *Store) MarkSynced(ctx context.Context, table clinical.Table, localID, remoteID string) error {
	return s.setRemote(ctx, s.db, table, localID, remoteID, true)
}

// AttachRemoteID records the remote id without touching is_synced. Used
// when the mapping is learned while later local mutations are still queued.
func (s *Store) AttachRemoteID(ctx context.Context, table clinical.Table, localID, remoteID string) error {
	return s.setRemote(ctx, s.db, table, localID, remoteID, false)
}

func (s *Store) setRemote(ctx context.Context, ex execer, table clinical.Table, localID, remoteID string, synced bool) error {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return err
	}
	if remoteID == "" {
		return fmt.Errorf("empty remote id for %s/%s", table, localID)
	}
	query := fmt.Sprintf(`UPDATE %s SET remote_id = ? WHERE local_id = ?`, table)
	if synced {
		query = fmt.Sprintf(`UPDATE %s SET remote_id = ?, is_synced = 1 WHERE local_id = ?`, table)
	}
	res, err := ex.ExecContext(ctx, query, remoteID, localID)
	if err != nil {
		return fmt.Errorf("failed to record remote id for %s/%s: %w", table, localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", clinical.ErrRecordNotFound, table, localID)
	}
	return nil
}

// Acknowledge applies a successful push of entry: the remote id is recorded
// and the record is flagged synced only when no other unacknowledged queue
// entry exists for it. Check and update happen in one transaction.
func (s *Store) Acknowledge(ctx context.Context, entry clinical.QueueEntry, remoteID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var outstanding bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM sync_queue
		WHERE table_name = ? AND record_id = ? AND id <> ? AND status <> 'synced')`,
		string(entry.TableName), entry.RecordID, entry.ID).Scan(&outstanding)
	if err != nil {
		return fmt.Errorf("failed to check outstanding entries: %w", err)
	}
	if err := s.setRemote(ctx, tx, entry.TableName, entry.RecordID, remoteID, !outstanding); err != nil {
		return err
	}
	return tx.Commit()
}

// SoftDeleteContact hides a contact from listings until its delete syncs.
// Prefer Save with clinical.OpDelete, which also queues the delete.
func (s *Store) SoftDeleteContact(ctx context.Context, localID string) error {
	c, err := s.GetContact(ctx, localID)
	if err != nil {
		return err
	}
	c.IsDeleted = true
	return s.Put(ctx, c)
}

// Purge physically removes a record.
func (s *Store) Purge(ctx context.Context, table clinical.Table, localID string) error {
	if _, err := clinical.ParseTable(string(table)); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, table), localID); err != nil {
		return fmt.Errorf("failed to purge %s/%s: %w", table, localID, err)
	}
	return nil
}

// TableStats counts records of one table.
type TableStats struct {
	Table    clinical.Table `json:"table"`
	Total    int            `json:"total"`
	Unsynced int            `json:"unsynced"`
}

// RecordStats reports per-table totals, feeding the offline badges.
func (s *Store) RecordStats(ctx context.Context) ([]TableStats, error) {
	out := make([]TableStats, 0, len(clinical.RecordTables))
	for _, t := range clinical.RecordTables {
		st := TableStats{Table: t}
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_synced = 0 THEN 1 ELSE 0 END), 0) FROM %s`, t),
		).Scan(&st.Total, &st.Unsynced)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		out = append(out, st)
	}
	return out, nil
}
