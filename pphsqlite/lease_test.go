package pphsqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// Two handles on one file stand in for two processes on the same device.
func openTwoHandles(t *testing.T) (*Store, *Store, *stepClock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pph.db")
	clock := &stepClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	return openStoreWithClock(t, path, clock), openStoreWithClock(t, path, clock), clock
}

func TestSyncLease_OpeningDoesNotTouchInFlightEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pph.db")
	clock := &stepClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	worker := openStoreWithClock(t, path, clock)

	e, err := worker.Enqueue(ctx, clinical.TableCases, "case-1", clinical.OpInsert, []byte(`{}`))
	require.NoError(t, err)
	ok, err := worker.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, worker.MarkStatus(ctx, e.ID, clinical.StatusSyncing, ""))

	// Another command starts against the same file while the pass runs.
	other := openStoreWithClock(t, path, clock)
	got, err := other.Entry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, clinical.StatusSyncing, got.Status)

	ok, err = other.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.False(t, ok, "lease is held by the running pass")

	got, err = other.Entry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, clinical.StatusSyncing, got.Status)
	require.NoError(t, worker.MarkStatus(ctx, e.ID, clinical.StatusSynced, ""))
}

func TestSyncLease_RenewAndRelease(t *testing.T) {
	ctx := context.Background()
	a, b, _ := openTwoHandles(t)

	e, err := a.Enqueue(ctx, clinical.TableCases, "case-1", clinical.OpInsert, []byte(`{}`))
	require.NoError(t, err)
	ok, err := a.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, a.MarkStatus(ctx, e.ID, clinical.StatusSyncing, ""))

	// Renewal by the holder keeps its in-flight entry claimed.
	ok, err = a.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := a.Entry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, clinical.StatusSyncing, got.Status)

	require.NoError(t, a.MarkStatus(ctx, e.ID, clinical.StatusSynced, ""))
	require.NoError(t, a.ReleaseSyncLease(ctx))

	ok, err = b.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// Releasing a lease held by someone else is a no-op.
	require.NoError(t, a.ReleaseSyncLease(ctx))
	ok, err = a.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSyncLease_TakeoverRecoversInterruptedPass(t *testing.T) {
	ctx := context.Background()
	crashed, survivor, clock := openTwoHandles(t)

	e, err := crashed.Enqueue(ctx, clinical.TableCases, "case-1", clinical.OpInsert, []byte(`{}`))
	require.NoError(t, err)
	ok, err := crashed.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, crashed.MarkStatus(ctx, e.ID, clinical.StatusSyncing, ""))

	// Soft-deleted contact whose delete already synced and was cleared.
	ct := &clinical.EmergencyContact{SyncMeta: clinical.SyncMeta{LocalID: "ct-1"}, Name: "Midwife desk", Phone: "100"}
	del, err := crashed.Save(ctx, ct, clinical.OpDelete)
	require.NoError(t, err)
	require.NoError(t, crashed.MarkStatus(ctx, del.ID, clinical.StatusSyncing, ""))
	require.NoError(t, crashed.MarkStatus(ctx, del.ID, clinical.StatusSynced, ""))
	_, err = crashed.ClearSynced(ctx)
	require.NoError(t, err)

	ok, err = survivor.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	clock.advance(DefaultConfig().LeaseTTL + time.Second)
	ok, err = survivor.AcquireSyncLease(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := survivor.Entry(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, clinical.StatusPending, got.Status)
	require.Zero(t, got.RetryCount)
	_, err = survivor.GetContact(ctx, "ct-1")
	require.ErrorIs(t, err, clinical.ErrRecordNotFound)
}
