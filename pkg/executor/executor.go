// Package executor turns due sequence steps into action descriptors for the
// stores that apply them.
package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/personalize"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

// Kind identifies what an external store should do with a descriptor.
type Kind string

const (
	KindDraftEmail   Kind = "draft_email"
	KindComposeEmail Kind = "compose_email"
	KindCreateTask   Kind = "create_task"
	KindCreateNote   Kind = "create_note"
)

// ActionDescriptor is the side effect a fired step asks for. Only the fields
// relevant to Kind are set.
type ActionDescriptor struct {
	Kind         Kind       `json:"kind"`
	EnrollmentID string     `json:"enrollment_id"`
	SequenceID   string     `json:"sequence_id"`
	StepID       string     `json:"step_id"`
	StepIndex    int        `json:"step_index"`
	ContactID    string     `json:"contact_id"`
	To           string     `json:"to,omitempty"`
	TemplateID   string     `json:"template_id,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Body         string     `json:"body,omitempty"`
	Title        string     `json:"title,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Text         string     `json:"text,omitempty"`
}

// Templates indexes templates by id.
type Templates map[string]*models.EmailTemplate

// IndexTemplates builds a Templates lookup.
func IndexTemplates(ts []*models.EmailTemplate) Templates {
	idx := make(Templates, len(ts))
	for _, t := range ts {
		idx[t.ID] = t
	}
	return idx
}

// Execute builds the descriptor for a due step. Missing templates and note
// text degrade to minimal descriptors, and so does a draft for a nil contact,
// which gets a blank compose with no recipient. A task without a title or an
// unknown action type is an invariant violation.
func Execute(step sequence.IndexedStep, e *enrollment.Enrollment, contact *models.Contact, templates Templates, productName string) (*ActionDescriptor, error) {
	d := &ActionDescriptor{
		EnrollmentID: e.ID,
		SequenceID:   e.SequenceID,
		StepID:       step.Step.ID,
		StepIndex:    step.Index,
		ContactID:    e.ContactID,
	}

	switch step.Step.ActionType {
	case sequence.ActionEmailDraft:
		if contact == nil {
			d.Kind = KindComposeEmail
			return d, nil
		}
		d.To = contact.Email
		t, ok := templates[step.Step.TemplateID]
		if step.Step.TemplateID == "" || !ok {
			d.Kind = KindComposeEmail
			return d, nil
		}
		rendered := personalize.ResolveTemplate(t, personalize.FieldsFromContact(contact), productName)
		d.Kind = KindDraftEmail
		d.TemplateID = t.ID
		d.Subject = rendered.Subject
		d.Body = rendered.Body

	case sequence.ActionTask:
		if strings.TrimSpace(step.Step.TaskTitle) == "" {
			return nil, domain.NewInvariantViolation(fmt.Sprintf("step %d of sequence %s is a task without a title", step.Index+1, e.SequenceID))
		}
		due := enrollment.DueDate(e.StartedAt, step.Step.DayOffset)
		d.Kind = KindCreateTask
		d.Title = step.Step.TaskTitle
		d.DueDate = &due

	case sequence.ActionNote:
		d.Kind = KindCreateNote
		d.Text = step.Step.NoteText

	default:
		return nil, domain.NewInvariantViolation(fmt.Sprintf("step %d of sequence %s has unknown action type %q", step.Index+1, e.SequenceID, step.Step.ActionType))
	}

	return d, nil
}
