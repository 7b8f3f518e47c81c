package sequence

import (
	"sort"
	"time"
)

// ActionType is what a step does when it fires.
type ActionType string

const (
	ActionEmailDraft ActionType = "email_draft"
	ActionTask       ActionType = "task"
	ActionNote       ActionType = "note"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionEmailDraft, ActionTask, ActionNote:
		return true
	}
	return false
}

// Step is one day-offset action of a sequence.
type Step struct {
	ID          string     `json:"id"`
	DayOffset   int        `json:"day_offset"`
	ActionType  ActionType `json:"action_type"`
	Description string     `json:"description,omitempty"`
	TemplateID  string     `json:"template_id,omitempty"`
	TaskTitle   string     `json:"task_title,omitempty"`
	NoteText    string     `json:"note_text,omitempty"`
}

// Sequence is an ordered set of day-offset steps. An empty TriggerStage means
// contacts only join through manual enrollment.
type Sequence struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	TriggerStage string    `json:"trigger_stage,omitempty"`
	IsActive     bool      `json:"is_active"`
	Steps        []Step    `json:"steps"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IndexedStep pairs a step with its position in the sequence definition.
type IndexedStep struct {
	Index int  `json:"index"`
	Step  Step `json:"step"`
}

// Triggers reports whether entering stage auto-enrolls into s.
func (s *Sequence) Triggers(stage string) bool {
	return s.IsActive && s.TriggerStage != "" && s.TriggerStage == stage
}

// ExecutionOrder returns the steps sorted by day offset. Equal offsets keep
// definition order.
func (s *Sequence) ExecutionOrder() []IndexedStep {
	ordered := make([]IndexedStep, len(s.Steps))
	for i, step := range s.Steps {
		ordered[i] = IndexedStep{Index: i, Step: step}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Step.DayOffset < ordered[j].Step.DayOffset
	})
	return ordered
}

// StepByID returns the step with id. Empty ids never match.
func (s *Sequence) StepByID(id string) (Step, bool) {
	if id == "" {
		return Step{}, false
	}
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// Clone returns a deep copy so callers can mutate steps safely.
func (s *Sequence) Clone() *Sequence {
	c := *s
	c.Steps = append([]Step(nil), s.Steps...)
	return &c
}
