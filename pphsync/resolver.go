// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// RecordStore is the part of the local record store used by the sync engine.
type RecordStore interface {
	Get(ctx context.Context, table clinical.Table, localID string) (clinical.Record, error)
	AttachRemoteID(ctx context.Context, table clinical.Table, localID, remoteID string) error
	Acknowledge(ctx context.Context, entry clinical.QueueEntry, remoteID string) error
	Purge(ctx context.Context, table clinical.Table, localID string) error
}

// Queue is the part of the operation queue used by the sync engine.
type Queue interface {
	Pending(ctx context.Context) ([]clinical.QueueEntry, error)
	MarkStatus(ctx context.Context, id string, status clinical.QueueStatus, errMsg string) error
	Defer(ctx context.Context, id string, errMsg string) error
	ClearSynced(ctx context.Context) (int64, error)
	HasOutstanding(ctx context.Context, table clinical.Table, recordID, excludeID string) (bool, error)
}

// Lease guards the queue against passes running in more than one process
// on the same device.
type Lease interface {
	AcquireSyncLease(ctx context.Context) (bool, error)
	ReleaseSyncLease(ctx context.Context) error
}

// Store combines the three; *pphsqlite.Store implements it.
type Store interface {
	RecordStore
	Queue
	Lease
}

// Resolver maps local identifiers to remote ones.
type Resolver struct {
	store  RecordStore
	remote RemoteAPI // nil disables the remote fallback
	logger *slog.Logger
}

// NewResolver creates a resolver. When remote is non-nil, identifiers
// unknown to the store are looked up remotely by their embedded local_id.
func NewResolver(store RecordStore, remote RemoteAPI, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, remote: remote, logger: logger}
}

// Known returns the remote id recorded in the local store, or "".
func (r *Resolver) Known(ctx context.Context, table clinical.Table, localID string) (string, error) {
	rec, err := r.store.Get(ctx, table, localID)
	if errors.Is(err, clinical.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Meta().RemoteID, nil
}

// Resolve returns the remote id for id in table. ok is false when the
// record has no remote identity yet, which callers must treat as "retry
// later". Values that already are remote ids resolve to themselves.
func (r *Resolver) Resolve(ctx context.Context, table clinical.Table, id string) (remoteID string, ok bool, err error) {
	if clinical.IsRemoteID(id) {
		return id, true, nil
	}

	known, err := r.Known(ctx, table, id)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve %s/%s: %w", table, id, err)
	}
	if known != "" {
		return known, true, nil
	}
	if r.remote == nil {
		return "", false, nil
	}

	rows, err := r.remote.Select(ctx, table, map[string]string{"local_id": id})
	if err != nil {
		// Lookup failures only delay resolution.
		r.logger.Debug("Remote identity lookup failed", "table", table, "local_id", id, "error", err)
		return "", false, nil
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	remoteID, _ = rows[0].StringField("id")
	if remoteID == "" {
		return "", false, nil
	}

	// Remember the mapping so the fast path serves it next time.
	if err := r.store.AttachRemoteID(ctx, table, id, remoteID); err != nil && !errors.Is(err, clinical.ErrRecordNotFound) {
		r.logger.Warn("Failed to record resolved remote id", "table", table, "local_id", id, "error", err)
	}
	return remoteID, true, nil
}
