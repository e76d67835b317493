// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package clinical

import (
	"fmt"
	"time"
)

// Step names one of the six bundle interventions.
type Step string

const (
	StepUterineMassage Step = "uterine_massage"
	StepUterotonics    Step = "uterotonics"
	StepTranexamicAcid Step = "tranexamic_acid"
	StepIVFluids       Step = "iv_fluids"
	StepExamination    Step = "examination"
	StepEscalation     Step = "escalation"
)

// Steps in bundle order.
var Steps = []Step{StepUterineMassage, StepUterotonics, StepTranexamicAcid, StepIVFluids, StepExamination, StepEscalation}

func ParseStep(s string) (Step, error) {
	for _, st := range Steps {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown checklist step %q", ErrInvalidRecord, s)
}

// StepDetail is the optional structured detail recorded with a step.
type StepDetail struct {
	Dose     string `json:"dose,omitempty"`
	VolumeML *int   `json:"volume_ml,omitempty"`
	Note     string `json:"note,omitempty"`
}

type StepState struct {
	Done   bool        `json:"done"`
	DoneAt *time.Time  `json:"done_at,omitempty"`
	Detail *StepDetail `json:"detail,omitempty"`
}

// InterventionChecklist is the single per-case bundle checklist, updated in
// place as steps are completed.
type InterventionChecklist struct {
	SyncMeta
	CaseID         string    `json:"case_id"`
	UterineMassage StepState `json:"uterine_massage"`
	Uterotonics    StepState `json:"uterotonics"`
	TranexamicAcid StepState `json:"tranexamic_acid"`
	IVFluids       StepState `json:"iv_fluids"`
	Examination    StepState `json:"examination"`
	Escalation     StepState `json:"escalation"`
}

func (c *InterventionChecklist) Table() Table         { return TableChecklists }
func (c *InterventionChecklist) CaseRef() string      { return c.CaseID }
func (c *InterventionChecklist) SetCaseRef(id string) { c.CaseID = id }

func (c *InterventionChecklist) Validate() error {
	if err := requireField("local_id", c.LocalID); err != nil {
		return err
	}
	return requireField("case_id", c.CaseID)
}

// Step returns the state slot for a named step.
func (c *InterventionChecklist) Step(name Step) (*StepState, error) {
	switch name {
	case StepUterineMassage:
		return &c.UterineMassage, nil
	case StepUterotonics:
		return &c.Uterotonics, nil
	case StepTranexamicAcid:
		return &c.TranexamicAcid, nil
	case StepIVFluids:
		return &c.IVFluids, nil
	case StepExamination:
		return &c.Examination, nil
	case StepEscalation:
		return &c.Escalation, nil
	}
	return nil, fmt.Errorf("%w: unknown checklist step %q", ErrInvalidRecord, name)
}

// Mark sets a step done at the given time. Marking an already completed
// step keeps the original completion time and replaces the detail.
func (c *InterventionChecklist) Mark(name Step, at time.Time, detail *StepDetail) error {
	st, err := c.Step(name)
	if err != nil {
		return err
	}
	if !st.Done || st.DoneAt == nil {
		t := at.UTC()
		st.DoneAt = &t
	}
	st.Done = true
	if detail != nil {
		st.Detail = detail
	}
	return nil
}

// Completed counts the steps marked done.
func (c *InterventionChecklist) Completed() int {
	n := 0
	for _, name := range Steps {
		if st, _ := c.Step(name); st.Done {
			n++
		}
	}
	return n
}
