// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Syncer runs one processing pass; *Processor implements it.
type Syncer interface {
	Process(ctx context.Context) (*PassResult, error)
}

// Prober reports whether the remote system is currently reachable.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// MonitorConfig holds configuration for the connectivity monitor
type MonitorConfig struct {
	Interval      time.Duration // periodic pass while reachable; 0 disables
	ProbeInterval time.Duration // how often Prober is polled; 0 disables
	Prober        Prober
	OnPass        func(*PassResult, error) // called after every pass
	Logger        *slog.Logger
}

// Monitor triggers processing passes on connectivity changes, after local
// enqueues and on a timer. Passes run on a single worker goroutine; triggers
// that arrive while a pass runs collapse into one follow-up pass.
type Monitor struct {
	syncer Syncer
	config MonitorConfig
	logger *slog.Logger
	wake   chan struct{}

	mu        sync.RWMutex
	reachable bool
	running   bool
	last      *PassResult
	lastErr   error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor. The device starts out unreachable until
// told otherwise.
func NewMonitor(syncer Syncer, config MonitorConfig) *Monitor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		syncer: syncer,
		config: config,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the worker (and the prober loop when configured).
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("monitor already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
	if m.config.Prober != nil && m.config.ProbeInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.probeLoop(ctx)
		}()
	}
	m.logger.Debug("Connectivity monitor started", "interval", m.config.Interval, "probe_interval", m.config.ProbeInterval)
	return nil
}

// Stop cancels the worker and waits for it. An in-flight pass stops
// between entries.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// OnReachabilityChange records the new reachability. A transition into
// reachable triggers exactly one pass.
func (m *Monitor) OnReachabilityChange(reachable bool) {
	m.mu.Lock()
	prev := m.reachable
	m.reachable = reachable
	m.mu.Unlock()

	if reachable && !prev {
		m.logger.Info("Network reachable, triggering sync")
		m.trigger()
	} else if !reachable && prev {
		m.logger.Info("Network unreachable, sync paused")
	}
}

// NotifyEnqueued is called after a local enqueue; it triggers a pass when
// the device is online.
func (m *Monitor) NotifyEnqueued() {
	if m.Reachable() {
		m.trigger()
	}
}

// SyncNow requests a pass. It returns false when the device is offline.
func (m *Monitor) SyncNow() bool {
	if !m.Reachable() {
		return false
	}
	m.trigger()
	return true
}

func (m *Monitor) Reachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reachable
}

// LastResult returns the outcome of the most recent pass.
func (m *Monitor) LastResult() (*PassResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.lastErr
}

func (m *Monitor) trigger() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context) {
	var tick <-chan time.Time
	if m.config.Interval > 0 {
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			m.runOnce(ctx)
		case <-m.wake:
			m.runOnce(ctx)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	if !m.Reachable() {
		return
	}
	res, err := m.syncer.Process(ctx)
	if err != nil {
		m.logger.Error("Sync pass failed", "error", err)
	}

	m.mu.Lock()
	m.last, m.lastErr = res, err
	m.mu.Unlock()

	if m.config.OnPass != nil {
		m.config.OnPass(res, err)
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.OnReachabilityChange(m.config.Prober.Reachable(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.OnReachabilityChange(m.config.Prober.Reachable(ctx))
		}
	}
}
