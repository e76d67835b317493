// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package clinical defines the synchronizable record kinds of the PPH
// collector and the queue entry shape shared by the local store and the
// sync engine.
package clinical

import (
	"errors"
	"fmt"
	"time"
)

// Table identifies both the local table and the remote table of a record kind
type Table string

const (
	TableCases      Table = "cases"
	TableVitalSigns Table = "vital_signs"
	TableChecklists Table = "intervention_checklists"
	TableCaseEvents Table = "case_events"
	TableContacts   Table = "emergency_contacts"
	TableSyncQueue  Table = "sync_queue"
)

// RecordTables lists the syncable tables in parent-first order.
var RecordTables = []Table{TableCases, TableVitalSigns, TableChecklists, TableCaseEvents, TableContacts}

// ParseTable validates a syncable table name.
func ParseTable(s string) (Table, error) {
	for _, t := range RecordTables {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
}

// Operation is the kind of mutation recorded in the queue
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueStatus of a queue entry. Moves pending -> syncing -> synced|failed.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusSyncing QueueStatus = "syncing"
	StatusSynced  QueueStatus = "synced"
	StatusFailed  QueueStatus = "failed"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownTable   = errors.New("unknown table")
	ErrInvalidRecord  = errors.New("invalid record")
)

// SyncMeta is embedded in every syncable record.
type SyncMeta struct {
	LocalID   string    `json:"local_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	IsSynced  bool      `json:"is_synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta gives access to the sync bookkeeping of a record.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Touch stamps a local mutation: updated_at advances and the record is
// no longer considered acknowledged.
func (m *SyncMeta) Touch(now time.Time) {
	now = now.UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.IsSynced = false
}

// Record is implemented by the closed set of syncable record kinds:
// *ClinicalCase, *VitalSign, *InterventionChecklist, *CaseEvent and
// *EmergencyContact.
type Record interface {
	Table() Table
	Meta() *SyncMeta
	Validate() error
}

// CaseScoped is implemented by records that reference a parent case.
type CaseScoped interface {
	Record
	CaseRef() string
	SetCaseRef(id string)
}

// NewRecord returns an empty record of the kind stored in table.
func NewRecord(table Table) (Record, error) {
	switch table {
	case TableCases:
		return &ClinicalCase{}, nil
	case TableVitalSigns:
		return &VitalSign{}, nil
	case TableChecklists:
		return &InterventionChecklist{}, nil
	case TableCaseEvents:
		return &CaseEvent{}, nil
	case TableContacts:
		return &EmergencyContact{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}

// QueueEntry is one durable pending mutation.
type QueueEntry struct {
	ID           string      `json:"id"`
	TableName    Table       `json:"table_name"`
	RecordID     string      `json:"record_id"`
	Operation    Operation   `json:"operation"`
	Payload      []byte      `json:"payload"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	Status       QueueStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	SyncedAt     *time.Time  `json:"synced_at,omitempty"`
}

// Eligible reports whether the entry may be attempted by the next pass.
func (e *QueueEntry) Eligible() bool {
	switch e.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return e.RetryCount < e.MaxRetries
	}
	return false
}

// Terminal reports a failed entry that exhausted its retry budget.
func (e *QueueEntry) Terminal() bool {
	return e.Status == StatusFailed && e.RetryCount >= e.MaxRetries
}

func requireField(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRecord, name)
	}
	return nil
}
