// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package pphsync drains the operation queue against the remote system of
// record: identity resolution, dependency checks, dispatch and bookkeeping.
package pphsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// Config holds configuration for the sync processor
type Config struct {
	// RemoteLookup enables resolving identities by the local_id embedded in
	// remote rows when the local store has no mapping yet.
	RemoteLookup bool
	// UncappedDependencyWait returns dependency-not-ready entries to pending
	// without consuming retry budget. Off by default: dependency waits count
	// as ordinary failed attempts.
	UncappedDependencyWait bool

	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
	Logger          *slog.Logger
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() *Config {
	return &Config{
		RemoteLookup: true,
		Logger:       slog.Default(),
	}
}

// PassResult summarizes one processing pass.
type PassResult struct {
	Attempted   int           `json:"attempted"`
	Synced      int           `json:"synced"`
	Failed      int           `json:"failed"`
	Terminal    int           `json:"terminal"` // failures that exhausted the retry budget in this pass
	Deferred    int           `json:"deferred"` // dependency waits returned to pending
	Purged      int64         `json:"purged"`
	Interrupted bool          `json:"interrupted"`
	Busy        bool          `json:"busy"` // another process holds the sync lease; nothing was attempted
	Duration    time.Duration `json:"duration"`
}

// Processor runs processing passes. At most one pass is in flight at a
// time; concurrent callers of Process share the running pass's result.
type Processor struct {
	store    Store
	remote   RemoteAPI
	resolver *Resolver
	config   *Config
	logger   *slog.Logger
	passes   singleflight.Group
}

// NewProcessor creates a processor over store and remote.
func NewProcessor(store Store, remote RemoteAPI, config *Config) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var lookup RemoteAPI
	if config.RemoteLookup {
		lookup = remote
	}
	return &Processor{
		store:    store,
		remote:   remote,
		resolver: NewResolver(store, lookup, logger),
		config:   config,
		logger:   logger,
	}
}

// Resolver exposes the identity resolver used by the processor.
func (p *Processor) Resolver() *Resolver { return p.resolver }

// Process runs one pass over the eligible queue entries. Failures of
// individual entries are recorded on the entries and counted in the
// result; an error is returned only when the queue cannot be read.
//
// A pass holds the store's sync lease while it runs. When another process
// holds it, Process returns a result with Busy set.
//
// Cancelling ctx stops the pass between entries. Statuses already written
// stay written.
func (p *Processor) Process(ctx context.Context) (*PassResult, error) {
	v, err, shared := p.passes.Do("pass", func() (any, error) {
		return p.runPass(ctx)
	})
	if shared {
		p.logger.Debug("Joined in-flight sync pass")
	}
	if err != nil {
		return nil, err
	}
	res := *v.(*PassResult)
	return &res, nil
}

func (p *Processor) runPass(ctx context.Context) (*PassResult, error) {
	started := time.Now()
	totalStart := p.stageStart()
	res := &PassResult{}

	held, err := p.store.AcquireSyncLease(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if !held {
		p.logger.Info("Sync lease held by another process, skipping pass")
		res.Busy = true
		return res, nil
	}
	// Bookkeeping writes must land even when the pass was cancelled.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := p.store.ReleaseSyncLease(bg); err != nil {
			p.logger.Warn("Failed to release sync lease", "error", err)
		}
	}()

	loadStart := p.stageStart()
	entries, err := p.store.Pending(ctx)
	p.observeStage(ctx, StageTiming{Operation: MetricsOpPass, Stage: MetricsStageLoad, Count: len(entries), Error: err != nil}, loadStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending entries: %w", err)
	}

	for i, e := range entries {
		if ctx.Err() != nil {
			res.Interrupted = true
			p.logger.Info("Sync pass interrupted", "remaining", len(entries)-res.Attempted)
			break
		}
		if i > 0 {
			if held, err := p.store.AcquireSyncLease(bg); err != nil || !held {
				res.Interrupted = true
				p.logger.Warn("Lost sync lease, stopping pass", "remaining", len(entries)-res.Attempted, "error", err)
				break
			}
		}
		res.Attempted++
		p.processEntry(ctx, e, res)
	}

	clearStart := p.stageStart()
	purged, err := p.store.ClearSynced(bg)
	p.observeStage(bg, StageTiming{Operation: MetricsOpPass, Stage: MetricsStageClearing, Count: int(purged), Error: err != nil}, clearStart)
	if err != nil {
		p.logger.Warn("Failed to clear synced entries", "error", err)
	}
	res.Purged = purged
	res.Duration = time.Since(started)

	p.observeStage(bg, StageTiming{Operation: MetricsOpPass, Stage: MetricsStageTotal, Count: res.Attempted, Error: res.Failed > 0}, totalStart)
	if res.Attempted > 0 {
		p.logger.Info("Sync pass finished",
			"attempted", res.Attempted,
			"synced", res.Synced,
			"failed", res.Failed,
			"terminal", res.Terminal,
			"deferred", res.Deferred,
			"duration", res.Duration)
	}
	return res, nil
}

func (p *Processor) processEntry(ctx context.Context, e clinical.QueueEntry, res *PassResult) {
	bg := context.WithoutCancel(ctx)
	log := p.logger.With("entry_id", e.ID, "table", e.TableName, "record_id", e.RecordID, "op", e.Operation)

	if err := p.store.MarkStatus(bg, e.ID, clinical.StatusSyncing, ""); err != nil {
		// Not claimed, so it will be seen again by a later pass.
		log.Error("Failed to claim queue entry", "error", err)
		res.Failed++
		return
	}

	start := p.stageStart()
	pushErr := p.push(ctx, e)
	p.observeStage(bg, StageTiming{
		Operation: string(e.Operation),
		Table:     e.TableName,
		Stage:     MetricsStagePush,
		Count:     1,
		Attempt:   e.RetryCount,
		Error:     pushErr != nil,
	}, start)

	switch {
	case pushErr == nil:
		if err := p.store.MarkStatus(bg, e.ID, clinical.StatusSynced, ""); err != nil {
			log.Error("Failed to mark entry synced", "error", err)
			res.Failed++
			return
		}
		res.Synced++
		if e.Operation == clinical.OpDelete && e.TableName == clinical.TableContacts {
			if err := p.store.Purge(bg, e.TableName, e.RecordID); err != nil {
				log.Warn("Failed to purge deleted contact", "error", err)
			}
		}

	case errors.Is(pushErr, ErrDependencyNotReady) && p.config.UncappedDependencyWait:
		if err := p.store.Defer(bg, e.ID, pushErr.Error()); err != nil {
			log.Error("Failed to defer entry", "error", err)
		}
		res.Deferred++
		log.Debug("Entry waiting for dependency", "reason", pushErr)

	default:
		if err := p.store.MarkStatus(bg, e.ID, clinical.StatusFailed, pushErr.Error()); err != nil {
			log.Error("Failed to mark entry failed", "error", err)
		}
		res.Failed++
		if e.RetryCount+1 >= e.MaxRetries {
			res.Terminal++
			log.Warn("Queue entry failed permanently", "retry_count", e.RetryCount+1, "error", pushErr)
		} else {
			log.Info("Queue entry failed", "retry_count", e.RetryCount+1, "error", pushErr)
		}
	}
}

// push performs the remote side of one entry.
func (p *Processor) push(ctx context.Context, e clinical.QueueEntry) error {
	rec, err := clinical.DecodePayload(e.TableName, e.RecordID, e.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	row, err := clinical.RemoteRow(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if scoped, ok := rec.(clinical.CaseScoped); ok {
		ref := scoped.CaseRef()
		caseID, resolved, err := p.resolver.Resolve(ctx, clinical.TableCases, ref)
		if err != nil {
			return err
		}
		if !resolved {
			return fmt.Errorf("%w: case %s has no remote identity", ErrDependencyNotReady, ref)
		}
		row["case_id"] = caseID
	}

	switch e.Operation {
	case clinical.OpInsert:
		return p.pushInsert(ctx, e, row)
	case clinical.OpUpdate:
		return p.pushUpdate(ctx, e, row)
	case clinical.OpDelete:
		return p.pushDelete(ctx, e)
	}
	return fmt.Errorf("%w: unknown operation %q", ErrBadPayload, e.Operation)
}

func (p *Processor) pushInsert(ctx context.Context, e clinical.QueueEntry, row clinical.Row) error {
	// A resolvable identity means the insert already reached the remote
	// system (e.g. the process died before the entry was marked synced).
	known, ok, err := p.resolver.Resolve(ctx, e.TableName, e.RecordID)
	if err != nil {
		return err
	}
	if ok {
		p.logger.Debug("Insert already applied remotely", "table", e.TableName, "record_id", e.RecordID, "remote_id", known)
		return p.acknowledge(ctx, e, known)
	}

	row["local_id"] = e.RecordID
	id, err := p.remote.Insert(ctx, e.TableName, row)
	if err != nil {
		return fmt.Errorf("insert into %s failed: %w", e.TableName, err)
	}
	return p.acknowledge(ctx, e, id)
}

func (p *Processor) pushUpdate(ctx context.Context, e clinical.QueueEntry, row clinical.Row) error {
	id, ok, err := p.resolver.Resolve(ctx, e.TableName, e.RecordID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s not yet inserted remotely", ErrDependencyNotReady, e.TableName, e.RecordID)
	}
	if err := p.remote.Update(ctx, e.TableName, id, row); err != nil {
		return fmt.Errorf("update of %s/%s failed: %w", e.TableName, id, err)
	}
	return p.acknowledge(ctx, e, id)
}

func (p *Processor) pushDelete(ctx context.Context, e clinical.QueueEntry) error {
	id, ok, err := p.resolver.Resolve(ctx, e.TableName, e.RecordID)
	if err != nil {
		return err
	}
	if !ok {
		// An earlier entry may still create the row; wait for it.
		earlier, err := p.store.HasOutstanding(ctx, e.TableName, e.RecordID, e.ID)
		if err != nil {
			return err
		}
		if earlier {
			return fmt.Errorf("%w: %s/%s has unsynced earlier entries", ErrDependencyNotReady, e.TableName, e.RecordID)
		}
		return nil
	}
	if err := p.remote.Delete(ctx, e.TableName, id); err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return fmt.Errorf("delete of %s/%s failed: %w", e.TableName, id, err)
	}
	return nil
}

func (p *Processor) acknowledge(ctx context.Context, e clinical.QueueEntry, remoteID string) error {
	err := p.store.Acknowledge(context.WithoutCancel(ctx), e, remoteID)
	if errors.Is(err, clinical.ErrRecordNotFound) {
		p.logger.Warn("Pushed record no longer exists locally", "table", e.TableName, "record_id", e.RecordID)
		return nil
	}
	return err
}
