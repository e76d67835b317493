// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"context"
	"time"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

const (
	MetricsOpPass = "pass"

	MetricsStageTotal    = "total"
	MetricsStageLoad     = "load"
	MetricsStagePush     = "push"
	MetricsStageClearing = "clear_synced"
)

type StageTiming struct {
	Operation string // "pass" or the queue operation of a pushed entry
	Table     clinical.Table
	Stage     string
	Duration  time.Duration
	Count     int
	Attempt   int // retry_count of the entry before this attempt
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (p *Processor) stageTimingEnabled() bool {
	return p.config.StageMetrics != nil || p.config.LogStageTimings
}

func (p *Processor) stageStart() time.Time {
	if !p.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (p *Processor) observeStage(ctx context.Context, timing StageTiming, start time.Time) {
	if start.IsZero() {
		return
	}
	timing.Duration = time.Since(start)

	if p.config.StageMetrics != nil {
		p.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if p.config.LogStageTimings {
		p.logger.Debug("Stage timing",
			"op", timing.Operation,
			"table", timing.Table,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"attempt", timing.Attempt,
			"error", timing.Error,
		)
	}
}
