package store

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
)

const tableEnrollments = "enrollments"

var enrollmentColumns = []string{
	"id", "contact_id", "sequence_id", "status", "source", "started_at",
	"fired_steps", "completed_at", "withdrawn_at", "withdraw_reason", "updated_at",
}

// CreateEnrollment stores a new enrollment. A second pending enrollment for
// the same contact and sequence is rejected by the database and reported as
// a conflict.
func (s *Store) CreateEnrollment(ctx context.Context, e *enrollment.Enrollment) error {
	fired, err := marshalJSON(firedSteps(e.FiredSteps))
	if err != nil {
		return err
	}

	query, args := s.b.Insert(tableEnrollments).
		Columns(enrollmentColumns...).
		Values(
			e.ID, e.ContactID, e.SequenceID, string(e.Status), string(e.Source), utc(e.StartedAt),
			fired, nullTime(e.CompletedAt), nullTime(e.WithdrawnAt), e.WithdrawReason, utc(e.UpdatedAt),
		).
		Query()
	if _, err := s.exec(ctx, s.drv, query, args); err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("contact already enrolled in this sequence")
		}
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}

// UpdateEnrollment writes the mutable state of an enrollment.
func (s *Store) UpdateEnrollment(ctx context.Context, e *enrollment.Enrollment) error {
	fired, err := marshalJSON(firedSteps(e.FiredSteps))
	if err != nil {
		return err
	}

	query, args := s.b.Update(tableEnrollments).
		Set("status", string(e.Status)).
		Set("fired_steps", fired).
		Set("completed_at", nullTime(e.CompletedAt)).
		Set("withdrawn_at", nullTime(e.WithdrawnAt)).
		Set("withdraw_reason", e.WithdrawReason).
		Set("updated_at", utc(e.UpdatedAt)).
		Where(entsql.And(
			entsql.EQ("id", e.ID),
			entsql.EQ("status", string(enrollment.StatusPending)),
		)).
		Query()
	n, err := s.exec(ctx, s.drv, query, args)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("contact already enrolled in this sequence")
		}
		return fmt.Errorf("failed to update enrollment: %w", err)
	}
	if n == 0 {
		// every transition starts from pending; tell a finished row from a missing one
		if _, err := s.GetEnrollment(ctx, e.ID); err != nil {
			return err
		}
		return domain.NewConflictError("enrollment is no longer pending")
	}
	return nil
}

// GetEnrollment loads an enrollment by id.
func (s *Store) GetEnrollment(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	ens, err := s.loadEnrollments(ctx, entsql.EQ("id", id), false)
	if err != nil {
		return nil, err
	}
	if len(ens) == 0 {
		return nil, domain.NewNotFoundError("enrollment")
	}
	return ens[0], nil
}

// FindPending loads the pending enrollment of a contact in a sequence.
func (s *Store) FindPending(ctx context.Context, contactID, sequenceID string) (*enrollment.Enrollment, error) {
	ens, err := s.loadEnrollments(ctx, entsql.And(
		entsql.EQ("contact_id", contactID),
		entsql.EQ("sequence_id", sequenceID),
		entsql.EQ("status", string(enrollment.StatusPending)),
	), false)
	if err != nil {
		return nil, err
	}
	if len(ens) == 0 {
		return nil, domain.NewNotFoundError("enrollment")
	}
	return ens[0], nil
}

// ListPending loads every pending enrollment, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*enrollment.Enrollment, error) {
	return s.loadEnrollments(ctx, entsql.EQ("status", string(enrollment.StatusPending)), false)
}

// ListByContact loads a contact's enrollments, newest first.
func (s *Store) ListByContact(ctx context.Context, contactID string) ([]*enrollment.Enrollment, error) {
	return s.loadEnrollments(ctx, entsql.EQ("contact_id", contactID), true)
}

// ListBySequence loads a sequence's enrollments, newest first.
func (s *Store) ListBySequence(ctx context.Context, sequenceID string) ([]*enrollment.Enrollment, error) {
	return s.loadEnrollments(ctx, entsql.EQ("sequence_id", sequenceID), true)
}

// CountPendingBySequence counts pending enrollments per sequence.
func (s *Store) CountPendingBySequence(ctx context.Context) (map[string]int, error) {
	query, args := s.b.Select("sequence_id", entsql.Count("*")).
		From(s.b.Table(tableEnrollments)).
		Where(entsql.EQ("status", string(enrollment.StatusPending))).
		GroupBy("sequence_id").
		Query()

	counts := make(map[string]int)
	err := s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return fmt.Errorf("failed to scan count: %w", err)
		}
		counts[id] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return counts, nil
}

func (s *Store) loadEnrollments(ctx context.Context, where *entsql.Predicate, newestFirst bool) ([]*enrollment.Enrollment, error) {
	order := []string{"started_at", "id"}
	if newestFirst {
		order = []string{entsql.Desc("started_at"), "id"}
	}
	query, args := s.b.Select(enrollmentColumns...).
		From(s.b.Table(tableEnrollments)).
		Where(where).
		OrderBy(order...).
		Query()

	var ens []*enrollment.Enrollment
	err := s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		var (
			e                     enrollment.Enrollment
			status, source, fired string
			completed, withdrawn  sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.ContactID, &e.SequenceID, &status, &source, &e.StartedAt,
			&fired, &completed, &withdrawn, &e.WithdrawReason, &e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan enrollment: %w", err)
		}

		e.Status = enrollment.Status(status)
		e.Source = enrollment.Source(source)
		e.StartedAt = utc(e.StartedAt)
		e.UpdatedAt = utc(e.UpdatedAt)
		e.CompletedAt = timePtr(completed)
		e.WithdrawnAt = timePtr(withdrawn)
		if err := unmarshalJSON(fired, &e.FiredSteps); err != nil {
			return err
		}
		ens = append(ens, &e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	return ens, nil
}

func firedSteps(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
