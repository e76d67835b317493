// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventCaseOpened     EventType = "case_opened"
	EventVitalsRecorded EventType = "vitals_recorded"
	EventStepCompleted  EventType = "step_completed"
	EventEscalation     EventType = "escalation"
	EventStatusChanged  EventType = "status_changed"
)

func (e EventType) Valid() bool {
	switch e {
	case EventCaseOpened, EventVitalsRecorded, EventStepCompleted, EventEscalation, EventStatusChanged:
		return true
	}
	return false
}

// CaseEvent is an immutable audit entry tied to a case.
type CaseEvent struct {
	SyncMeta
	CaseID      string          `json:"case_id"`
	EventType   EventType       `json:"event_type"`
	Description string          `json:"description"`
	Actor       string          `json:"actor"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (e *CaseEvent) Table() Table         { return TableCaseEvents }
func (e *CaseEvent) CaseRef() string      { return e.CaseID }
func (e *CaseEvent) SetCaseRef(id string) { e.CaseID = id }

func (e *CaseEvent) Validate() error {
	if err := requireField("local_id", e.LocalID); err != nil {
		return err
	}
	if err := requireField("case_id", e.CaseID); err != nil {
		return err
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidRecord, e.EventType)
	}
	if len(e.Metadata) > 0 && !json.Valid(e.Metadata) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrInvalidRecord)
	}
	return nil
}
