// Package enrollment tracks contacts moving through sequences: who is
// enrolled where, which steps are due and which have already fired.
package enrollment

import (
	"time"

	"github.com/jordanlanch/outreach/pkg/sequence"
)

// Status is the lifecycle state of an enrollment.
type Status string

const (
	StatusPending   Status = "enrolled_pending"
	StatusComplete  Status = "enrolled_complete"
	StatusWithdrawn Status = "withdrawn"
)

// Source records how an enrollment was created.
type Source string

const (
	SourceTrigger Source = "trigger"
	SourceManual  Source = "manual"
)

const day = 24 * time.Hour

// Enrollment links one contact to one sequence's in-progress execution.
// FiredSteps holds the ids of fired steps in firing order. Ids survive edits
// that insert, remove or reorder steps; definition indices do not.
type Enrollment struct {
	ID             string     `json:"id"`
	ContactID      string     `json:"contact_id"`
	SequenceID     string     `json:"sequence_id"`
	Status         Status     `json:"status"`
	Source         Source     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	FiredSteps     []string   `json:"fired_steps"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	WithdrawnAt    *time.Time `json:"withdrawn_at,omitempty"`
	WithdrawReason string     `json:"withdraw_reason,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Pending reports whether steps may still fire.
func (e *Enrollment) Pending() bool {
	return e.Status == StatusPending
}

// HasFired reports whether the step with stepID has fired.
func (e *Enrollment) HasFired(stepID string) bool {
	for _, id := range e.FiredSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with e.
func (e *Enrollment) Clone() *Enrollment {
	c := *e
	c.FiredSteps = append([]string(nil), e.FiredSteps...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.WithdrawnAt != nil {
		t := *e.WithdrawnAt
		c.WithdrawnAt = &t
	}
	return &c
}

// ElapsedDays is the number of whole days between start and asOf, floored.
// It is negative when asOf precedes start.
func ElapsedDays(start, asOf time.Time) int {
	d := asOf.Sub(start)
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}

// DueDate is when a step with the given offset becomes due.
func DueDate(start time.Time, dayOffset int) time.Time {
	return start.Add(time.Duration(dayOffset) * day)
}

// DueSteps returns the steps of seq not yet fired for e whose offset has
// elapsed at asOf, ascending by offset with ties in definition order.
// Finished enrollments and inactive sequences have nothing due.
func DueSteps(e *Enrollment, seq *sequence.Sequence, asOf time.Time) []sequence.IndexedStep {
	if !e.Pending() || !seq.IsActive {
		return nil
	}

	elapsed := ElapsedDays(e.StartedAt, asOf)
	if elapsed < 0 {
		return nil
	}

	var due []sequence.IndexedStep
	for _, s := range seq.ExecutionOrder() {
		if s.Step.DayOffset > elapsed {
			break
		}
		if !e.HasFired(s.Step.ID) {
			due = append(due, s)
		}
	}
	return due
}

// AllFired reports whether every step of seq has fired for e. Fired ids of
// steps since removed from seq are ignored.
func AllFired(e *Enrollment, seq *sequence.Sequence) bool {
	for _, step := range seq.Steps {
		if !e.HasFired(step.ID) {
			return false
		}
	}
	return true
}

// MarkFired records stepID as fired and completes the enrollment once every
// step of seq has fired. Firing an already fired step, or firing on a
// finished enrollment, changes nothing and returns false.
func MarkFired(e *Enrollment, seq *sequence.Sequence, stepID string, now time.Time) bool {
	if !e.Pending() || e.HasFired(stepID) {
		return false
	}

	e.FiredSteps = append(e.FiredSteps, stepID)
	e.UpdatedAt = now

	if AllFired(e, seq) {
		complete(e, now)
	}
	return true
}

func complete(e *Enrollment, now time.Time) {
	e.Status = StatusComplete
	e.CompletedAt = &now
	e.UpdatedAt = now
}

func withdraw(e *Enrollment, reason string, now time.Time) {
	e.Status = StatusWithdrawn
	e.WithdrawnAt = &now
	e.WithdrawReason = reason
	e.UpdatedAt = now
}
