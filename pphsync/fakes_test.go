package pphsync

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
	"github.com/Abdulhalim7177/MotivAid-Native-sub001/pphsqlite"
)

// fakeRemote behaves like the row API: inserts are idempotent on local_id,
// updates only set the columns they carry, deletes of missing rows answer
// not found.
type fakeRemote struct {
	mu    sync.Mutex
	rows  map[clinical.Table]map[string]clinical.Row
	calls []string

	lastUpdate clinical.Row

	insertErr func(table clinical.Table, row clinical.Row) error
	updateErr func(table clinical.Table, id string) error
	deleteErr func(table clinical.Table, id string) error
	selectErr error
	onInsert  func() // runs before an insert is applied, outside the lock
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: map[clinical.Table]map[string]clinical.Row{}}
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) Insert(ctx context.Context, table clinical.Table, row clinical.Row) (string, error) {
	if f.onInsert != nil {
		f.onInsert()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("insert " + string(table))
	if f.insertErr != nil {
		if err := f.insertErr(table, row); err != nil {
			return "", err
		}
	}
	if caseID, scoped := row.StringField("case_id"); scoped {
		if _, ok := f.rows[clinical.TableCases][caseID]; !ok {
			return "", &RemoteError{StatusCode: 409, Code: "fk_missing", Message: "case_id"}
		}
	}
	localID, _ := row.StringField("local_id")
	for id, r := range f.rows[table] {
		if existing, _ := r.StringField("local_id"); existing == localID {
			return id, nil
		}
	}
	id := uuid.NewString()
	stored := clinical.Row{"id": id}
	for k, v := range row {
		stored[k] = v
	}
	if f.rows[table] == nil {
		f.rows[table] = map[string]clinical.Row{}
	}
	f.rows[table][id] = stored
	return id, nil
}

func (f *fakeRemote) Update(ctx context.Context, table clinical.Table, id string, fields clinical.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update " + string(table))
	if f.updateErr != nil {
		if err := f.updateErr(table, id); err != nil {
			return err
		}
	}
	r, ok := f.rows[table][id]
	if !ok {
		return &RemoteError{StatusCode: 404, Code: "not_found"}
	}
	f.lastUpdate = fields
	for k, v := range fields {
		r[k] = v
	}
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, table clinical.Table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + string(table))
	if f.deleteErr != nil {
		if err := f.deleteErr(table, id); err != nil {
			return err
		}
	}
	if _, ok := f.rows[table][id]; !ok {
		return &RemoteError{StatusCode: 404, Code: "not_found"}
	}
	delete(f.rows[table], id)
	return nil
}

func (f *fakeRemote) Select(ctx context.Context, table clinical.Table, filter map[string]string) ([]clinical.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("select " + string(table))
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	var out []clinical.Row
	for _, r := range f.rows[table] {
		match := true
		for k, v := range filter {
			if fmt.Sprint(r[k]) != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) row(table clinical.Table, id string) clinical.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[table][id]
}

func (f *fakeRemote) rowCount(table clinical.Table) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[table])
}

func (f *fakeRemote) seed(table clinical.Table, row clinical.Row) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	row["id"] = id
	if f.rows[table] == nil {
		f.rows[table] = map[string]clinical.Row{}
	}
	f.rows[table][id] = row
	return id
}

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(t *testing.T, maxRetries int) *pphsqlite.Store {
	t.Helper()
	return openTestStoreAt(t, filepath.Join(t.TempDir(), "pph.db"), maxRetries)
}

func openTestStoreAt(t *testing.T, path string, maxRetries int) *pphsqlite.Store {
	t.Helper()
	cfg := pphsqlite.DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.Now = (&tickClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}).Now
	s, err := pphsqlite.Open(context.Background(), path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCase(localID string) *clinical.ClinicalCase {
	return &clinical.ClinicalCase{
		SyncMeta:    clinical.SyncMeta{LocalID: localID},
		PatientName: "Amina",
		Status:      clinical.CaseActive,
		UnitID:      "labour-ward",
		StartedAt:   time.Date(2025, 3, 1, 9, 55, 0, 0, time.UTC),
	}
}

func testVital(localID, caseRef string) *clinical.VitalSign {
	hr := 124
	return &clinical.VitalSign{
		SyncMeta:   clinical.SyncMeta{LocalID: localID},
		CaseID:     caseRef,
		HeartRate:  &hr,
		RecordedAt: time.Date(2025, 3, 1, 10, 1, 0, 0, time.UTC),
	}
}

func entryFor(t *testing.T, s *pphsqlite.Store, table clinical.Table, recordID string) clinical.QueueEntry {
	t.Helper()
	entries, err := s.ListQueue(context.Background(), pphsqlite.QueueFilter{Table: table, RecordID: recordID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}
