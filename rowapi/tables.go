// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package rowapi

import (
	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

// ColumnType is the PostgreSQL type a column value is cast to.
type ColumnType string

const (
	ColText      ColumnType = "text"
	ColInt       ColumnType = "integer"
	ColNumeric   ColumnType = "numeric"
	ColBool      ColumnType = "boolean"
	ColTimestamp ColumnType = "timestamptz"
	ColUUID      ColumnType = "uuid"
	ColJSON      ColumnType = "jsonb"
)

type Column struct {
	Name string
	Type ColumnType
}

// TableSpec describes one registered table: the columns a device may write.
// id, local_id, device_id and server_updated_at are managed by the service.
type TableSpec struct {
	Name    string
	Columns []Column
}

func (t TableSpec) column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var timestamps = []Column{
	{"created_at", ColTimestamp},
	{"updated_at", ColTimestamp},
}

func withTimestamps(cols ...Column) []Column {
	return append(cols, timestamps...)
}

// DefaultTables are the tables of the PPH record set.
var DefaultTables = []TableSpec{
	{
		Name: string(clinical.TableCases),
		Columns: withTimestamps(
			Column{"patient_name", ColText},
			Column{"patient_age", ColInt},
			Column{"gravida", ColInt},
			Column{"parity", ColInt},
			Column{"gestational_weeks", ColInt},
			Column{"delivery_mode", ColText},
			Column{"status", ColText},
			Column{"risk_level", ColText},
			Column{"estimated_blood_loss_ml", ColInt},
			Column{"facility_id", ColText},
			Column{"unit_id", ColText},
			Column{"created_by", ColText},
			Column{"started_at", ColTimestamp},
			Column{"closed_at", ColTimestamp},
		),
	},
	{
		Name: string(clinical.TableVitalSigns),
		Columns: withTimestamps(
			Column{"case_id", ColUUID},
			Column{"heart_rate", ColInt},
			Column{"systolic_bp", ColInt},
			Column{"diastolic_bp", ColInt},
			Column{"respiratory_rate", ColInt},
			Column{"spo2", ColInt},
			Column{"temperature_c", ColNumeric},
			Column{"blood_loss_ml", ColInt},
			Column{"shock_index", ColNumeric},
			Column{"recorded_by", ColText},
			Column{"recorded_at", ColTimestamp},
		),
	},
	{
		Name: string(clinical.TableChecklists),
		Columns: withTimestamps(
			Column{"case_id", ColUUID},
			Column{"uterine_massage", ColJSON},
			Column{"uterotonics", ColJSON},
			Column{"tranexamic_acid", ColJSON},
			Column{"iv_fluids", ColJSON},
			Column{"examination", ColJSON},
			Column{"escalation", ColJSON},
		),
	},
	{
		Name: string(clinical.TableCaseEvents),
		Columns: withTimestamps(
			Column{"case_id", ColUUID},
			Column{"event_type", ColText},
			Column{"description", ColText},
			Column{"actor", ColText},
			Column{"metadata", ColJSON},
			Column{"occurred_at", ColTimestamp},
		),
	},
	{
		Name: string(clinical.TableContacts),
		Columns: withTimestamps(
			Column{"facility_id", ColText},
			Column{"unit_id", ColText},
			Column{"name", ColText},
			Column{"role", ColText},
			Column{"phone", ColText},
			Column{"priority", ColInt},
			Column{"is_deleted", ColBool},
		),
	},
}
