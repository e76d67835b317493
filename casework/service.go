// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package casework holds the write paths used at the bedside. Every write
// lands in the local store together with its queue entry and, for case
// activity, an audit event.
package casework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

var (
	ErrCaseClosed    = errors.New("case is closed")
	ErrInvalidStatus = errors.New("invalid status transition")
)

// Store is the part of the local record store used by the write paths.
type Store interface {
	Save(ctx context.Context, rec clinical.Record, op clinical.Operation) (clinical.QueueEntry, error)
	GetCase(ctx context.Context, localID string) (*clinical.ClinicalCase, error)
	GetChecklistForCase(ctx context.Context, caseID string) (*clinical.InterventionChecklist, error)
	GetContact(ctx context.Context, localID string) (*clinical.EmergencyContact, error)
}

// Config holds configuration for the case service
type Config struct {
	Actor  string           // recorded as created_by / recorded_by / actor
	Now    func() time.Time // clock, overridable in tests
	Logger *slog.Logger
}

func DefaultConfig() *Config {
	return &Config{
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

type Service struct {
	store  Store
	config *Config
	logger *slog.Logger
}

func New(store Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, config: config, logger: logger}
}

func (s *Service) now() time.Time { return s.config.Now().UTC() }

// CaseInput is what the clinician enters when opening a case.
type CaseInput struct {
	PatientName        string
	PatientAge         *int
	Gravida            *int
	Parity             *int
	GestationalWeeks   *int
	DeliveryMode       string
	RiskLevel          clinical.RiskLevel
	EstimatedBloodLoss *int
	FacilityID         string
	UnitID             string
}

// OpenCase creates an active case, its empty bundle checklist and the
// case_opened event.
func (s *Service) OpenCase(ctx context.Context, in CaseInput) (*clinical.ClinicalCase, error) {
	now := s.now()
	c := &clinical.ClinicalCase{
		SyncMeta:           clinical.SyncMeta{LocalID: clinical.NewLocalID()},
		PatientName:        in.PatientName,
		PatientAge:         in.PatientAge,
		Gravida:            in.Gravida,
		Parity:             in.Parity,
		GestationalWeeks:   in.GestationalWeeks,
		DeliveryMode:       in.DeliveryMode,
		Status:             clinical.CaseActive,
		RiskLevel:          in.RiskLevel,
		EstimatedBloodLoss: in.EstimatedBloodLoss,
		FacilityID:         in.FacilityID,
		UnitID:             in.UnitID,
		CreatedBy:          s.config.Actor,
		StartedAt:          now,
	}
	if _, err := s.store.Save(ctx, c, clinical.OpInsert); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}

	cl := &clinical.InterventionChecklist{
		SyncMeta: clinical.SyncMeta{LocalID: clinical.NewLocalID()},
		CaseID:   c.LocalID,
	}
	if _, err := s.store.Save(ctx, cl, clinical.OpInsert); err != nil {
		return nil, fmt.Errorf("failed to save checklist: %w", err)
	}

	if err := s.emit(ctx, c.LocalID, clinical.EventCaseOpened, "Case opened", map[string]any{
		"risk_level": in.RiskLevel,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("Case opened", "case_id", c.LocalID, "facility_id", c.FacilityID)
	return c, nil
}

// RecordVitals appends a reading to an open case. A missing recorded_at is
// stamped with the current time and a missing shock index is derived from
// heart rate and systolic pressure.
func (s *Service) RecordVitals(ctx context.Context, caseID string, v clinical.VitalSign) (*clinical.VitalSign, error) {
	c, err := s.openCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	v.SyncMeta = clinical.SyncMeta{LocalID: clinical.NewLocalID()}
	v.CaseID = c.LocalID
	if v.RecordedAt.IsZero() {
		v.RecordedAt = s.now()
	}
	if v.RecordedBy == "" {
		v.RecordedBy = s.config.Actor
	}
	if v.ShockIndex == nil {
		v.ShockIndex = ShockIndex(v.HeartRate, v.SystolicBP)
	}
	if _, err := s.store.Save(ctx, &v, clinical.OpInsert); err != nil {
		return nil, fmt.Errorf("failed to save vital signs: %w", err)
	}

	meta := map[string]any{"vital_sign_id": v.LocalID}
	if v.ShockIndex != nil {
		meta["shock_index"] = *v.ShockIndex
	}
	if v.BloodLossML != nil {
		meta["blood_loss_ml"] = *v.BloodLossML
	}
	if err := s.emit(ctx, c.LocalID, clinical.EventVitalsRecorded, "Vital signs recorded", meta); err != nil {
		return nil, err
	}
	return &v, nil
}

// ShockIndex is heart rate over systolic pressure, rounded to two places.
// Nil when either reading is missing or pressure is not positive.
func ShockIndex(heartRate, systolic *int) *float64 {
	if heartRate == nil || systolic == nil || *systolic <= 0 {
		return nil
	}
	si := math.Round(float64(*heartRate)/float64(*systolic)*100) / 100
	return &si
}

// CompleteStep marks a bundle step done on the case checklist.
func (s *Service) CompleteStep(ctx context.Context, caseID string, step clinical.Step, detail *clinical.StepDetail) (*clinical.InterventionChecklist, error) {
	c, err := s.openCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	cl, err := s.store.GetChecklistForCase(ctx, c.LocalID)
	if err != nil {
		return nil, err
	}
	if err := cl.Mark(step, s.now(), detail); err != nil {
		return nil, err
	}
	if _, err := s.store.Save(ctx, cl, clinical.OpUpdate); err != nil {
		return nil, fmt.Errorf("failed to save checklist: %w", err)
	}

	meta := map[string]any{"step": step, "completed": cl.Completed()}
	if detail != nil {
		meta["detail"] = detail
	}
	if err := s.emit(ctx, c.LocalID, clinical.EventStepCompleted, "Completed "+string(step), meta); err != nil {
		return nil, err
	}
	return cl, nil
}

// Escalate records an escalation, marks the escalation step and raises the
// case to high risk.
func (s *Service) Escalate(ctx context.Context, caseID, reason string) error {
	c, err := s.openCase(ctx, caseID)
	if err != nil {
		return err
	}
	if _, err := s.CompleteStep(ctx, caseID, clinical.StepEscalation, &clinical.StepDetail{Note: reason}); err != nil {
		return err
	}
	if c.RiskLevel != clinical.RiskHigh {
		c.RiskLevel = clinical.RiskHigh
		if _, err := s.store.Save(ctx, c, clinical.OpUpdate); err != nil {
			return fmt.Errorf("failed to save case: %w", err)
		}
	}
	return s.emit(ctx, c.LocalID, clinical.EventEscalation, reason, map[string]any{"risk_level": c.RiskLevel})
}

// ChangeStatus moves a case to a new status. Closing stamps closed_at; a
// closed case cannot change again.
func (s *Service) ChangeStatus(ctx context.Context, caseID string, status clinical.CaseStatus) (*clinical.ClinicalCase, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, status)
	}
	c, err := s.openCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}
	from := c.Status
	c.Status = status
	if status == clinical.CaseClosed {
		t := s.now()
		c.ClosedAt = &t
	}
	if _, err := s.store.Save(ctx, c, clinical.OpUpdate); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}
	if err := s.emit(ctx, c.LocalID, clinical.EventStatusChanged,
		fmt.Sprintf("Status %s -> %s", from, status),
		map[string]any{"from": from, "to": status}); err != nil {
		return nil, err
	}
	return c, nil
}

// Elapsed is the time since the case started, frozen at closed_at once the
// case is closed.
func (s *Service) Elapsed(ctx context.Context, caseID string) (time.Duration, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return 0, err
	}
	end := s.now()
	if c.ClosedAt != nil {
		end = *c.ClosedAt
	}
	return clinical.Elapsed(c.StartedAt, end), nil
}

func (s *Service) openCase(ctx context.Context, caseID string) (*clinical.ClinicalCase, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == clinical.CaseClosed {
		return nil, fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
	}
	return c, nil
}

func (s *Service) emit(ctx context.Context, caseID string, typ clinical.EventType, desc string, meta map[string]any) error {
	var raw json.RawMessage
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		raw = b
	}
	ev := &clinical.CaseEvent{
		SyncMeta:    clinical.SyncMeta{LocalID: clinical.NewLocalID()},
		CaseID:      caseID,
		EventType:   typ,
		Description: desc,
		Actor:       s.config.Actor,
		Metadata:    raw,
		OccurredAt:  s.now(),
	}
	if _, err := s.store.Save(ctx, ev, clinical.OpInsert); err != nil {
		return fmt.Errorf("failed to save %s event: %w", typ, err)
	}
	return nil
}
