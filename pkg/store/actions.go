package store

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/executor"
)

const tableActions = "actions"

var actionColumns = []string{"id", "kind", "enrollment_id", "sequence_id", "step_id", "step_index", "contact_id", "payload", "created_at"}

// Action is a dispatched descriptor as recorded in the outbox.
type Action struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	executor.ActionDescriptor
}

// ActionFilter narrows ListActions. Zero values match everything.
type ActionFilter struct {
	ContactID    string
	EnrollmentID string
	Kind         executor.Kind
	Limit        int
}

// Dispatch appends an action to the outbox. A draft built from a template
// also counts as a send of that template. Each enrollment step is recorded at
// most once, keyed by step id; dispatching it again is a no-op.
func (s *Store) Dispatch(ctx context.Context, a *executor.ActionDescriptor) error {
	if a.EnrollmentID == "" || a.StepID == "" {
		return domain.NewValidationError("enrollment_id and step_id are required")
	}

	payload, err := marshalJSON(a)
	if err != nil {
		return err
	}

	duplicate := false
	err = s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.b.Insert(tableActions).
			Columns(actionColumns...).
			Values(uuid.NewString(), string(a.Kind), a.EnrollmentID, a.SequenceID, a.StepID, a.StepIndex, a.ContactID, payload, utc(s.now())).
			Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			if isUniqueViolation(err) {
				duplicate = true
			}
			return fmt.Errorf("failed to record action: %w", err)
		}

		if a.Kind != executor.KindDraftEmail || a.TemplateID == "" {
			return nil
		}

		query, args = s.b.Update(tableTemplates).
			Add("send_count", 1).
			Where(entsql.EQ("id", a.TemplateID)).
			Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to count template send: %w", err)
		}
		return nil
	})
	if duplicate {
		return nil
	}
	return err
}

// ListActions returns recorded actions, oldest first.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]*Action, error) {
	var preds []*entsql.Predicate
	if f.ContactID != "" {
		preds = append(preds, entsql.EQ("contact_id", f.ContactID))
	}
	if f.EnrollmentID != "" {
		preds = append(preds, entsql.EQ("enrollment_id", f.EnrollmentID))
	}
	if f.Kind != "" {
		preds = append(preds, entsql.EQ("kind", string(f.Kind)))
	}

	selector := s.b.Select("id", "payload", "created_at").
		From(s.b.Table(tableActions)).
		OrderBy("created_at", "enrollment_id", "step_index")
	if len(preds) > 0 {
		selector.Where(entsql.And(preds...))
	}
	if f.Limit > 0 {
		selector.Limit(f.Limit)
	}

	var actions []*Action
	query, args := selector.Query()
	err := s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		var (
			a       Action
			payload string
		)
		if err := rows.Scan(&a.ID, &payload, &a.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.CreatedAt = utc(a.CreatedAt)
		if err := unmarshalJSON(payload, &a.ActionDescriptor); err != nil {
			return err
		}
		actions = append(actions, &a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	return actions, nil
}
