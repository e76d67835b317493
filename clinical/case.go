// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"fmt"
	"time"
)

// CaseStatus is the lifecycle state of a patient episode
type CaseStatus string

const (
	CaseActive     CaseStatus = "active"
	CaseStabilized CaseStatus = "stabilized"
	CaseReferred   CaseStatus = "referred"
	CaseClosed     CaseStatus = "closed"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CaseActive, CaseStabilized, CaseReferred, CaseClosed:
		return true
	}
	return false
}

// RiskLevel as computed by the caller; the store only persists it
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case "", RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// ClinicalCase is a patient episode and the root of the dependency graph.
type ClinicalCase struct {
	SyncMeta
	PatientName        string     `json:"patient_name"`
	PatientAge         *int       `json:"patient_age"`
	Gravida            *int       `json:"gravida"`
	Parity             *int       `json:"parity"`
	GestationalWeeks   *int       `json:"gestational_weeks"`
	DeliveryMode       string     `json:"delivery_mode"`
	Status             CaseStatus `json:"status"`
	RiskLevel          RiskLevel  `json:"risk_level"`
	EstimatedBloodLoss *int       `json:"estimated_blood_loss_ml"`
	FacilityID         string     `json:"facility_id"`
	UnitID             string     `json:"unit_id"`
	CreatedBy          string     `json:"created_by"`
	StartedAt          time.Time  `json:"started_at"`
	ClosedAt           *time.Time `json:"closed_at"`
}

func (c *ClinicalCase) Table() Table { return TableCases }

func (c *ClinicalCase) Validate() error {
	if err := requireField("local_id", c.LocalID); err != nil {
		return err
	}
	if err := requireField("patient_name", c.PatientName); err != nil {
		return err
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown case status %q", ErrInvalidRecord, c.Status)
	}
	if !c.RiskLevel.Valid() {
		return fmt.Errorf("%w: unknown risk level %q", ErrInvalidRecord, c.RiskLevel)
	}
	return nil
}
