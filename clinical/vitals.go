// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"fmt"
	"time"
)

// VitalSign is one point-in-time measurement set. Readings are appended,
// never edited.
type VitalSign struct {
	SyncMeta
	CaseID          string    `json:"case_id"`
	HeartRate       *int      `json:"heart_rate"`
	SystolicBP      *int      `json:"systolic_bp"`
	DiastolicBP     *int      `json:"diastolic_bp"`
	RespiratoryRate *int      `json:"respiratory_rate"`
	SpO2            *int      `json:"spo2"`
	TemperatureC    *float64  `json:"temperature_c"`
	BloodLossML     *int      `json:"blood_loss_ml"`
	ShockIndex      *float64  `json:"shock_index"`
	RecordedBy      string    `json:"recorded_by"`
	RecordedAt      time.Time `json:"recorded_at"`
}

func (v *VitalSign) Table() Table         { return TableVitalSigns }
func (v *VitalSign) CaseRef() string      { return v.CaseID }
func (v *VitalSign) SetCaseRef(id string) { v.CaseID = id }

func (v *VitalSign) Validate() error {
	if err := requireField("local_id", v.LocalID); err != nil {
		return err
	}
	if err := requireField("case_id", v.CaseID); err != nil {
		return err
	}
	if v.RecordedAt.IsZero() {
		return fmt.Errorf("%w: recorded_at is required", ErrInvalidRecord)
	}
	return nil
}
