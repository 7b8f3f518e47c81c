package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

const (
	tableSequences = "sequences"
	tableSteps     = "sequence_steps"
)

var sequenceColumns = []string{"id", "name", "description", "trigger_stage", "is_active", "created_at", "updated_at"}

var stepColumns = []string{"sequence_id", "step_index", "id", "day_offset", "action_type", "description", "template_id", "task_title", "note_text"}

// CreateSequence stores a sequence and its steps.
func (s *Store) CreateSequence(ctx context.Context, seq *sequence.Sequence) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.b.Insert(tableSequences).
			Columns(sequenceColumns...).
			Values(seq.ID, seq.Name, seq.Description, seq.TriggerStage, seq.IsActive, utc(seq.CreatedAt), utc(seq.UpdatedAt)).
			Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			if isUniqueViolation(err) {
				return domain.NewConflictError("sequence already exists")
			}
			return fmt.Errorf("failed to insert sequence: %w", err)
		}
		return s.insertSteps(ctx, tx, seq)
	})
}

// UpdateSequence replaces a sequence row and all of its steps.
func (s *Store) UpdateSequence(ctx context.Context, seq *sequence.Sequence) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.b.Update(tableSequences).
			Set("name", seq.Name).
			Set("description", seq.Description).
			Set("trigger_stage", seq.TriggerStage).
			Set("is_active", seq.IsActive).
			Set("updated_at", utc(seq.UpdatedAt)).
			Where(entsql.EQ("id", seq.ID)).
			Query()
		n, err := s.exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to update sequence: %w", err)
		}
		if n == 0 {
			return domain.NewNotFoundError("sequence")
		}

		query, args = s.b.Delete(tableSteps).Where(entsql.EQ("sequence_id", seq.ID)).Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to clear steps: %w", err)
		}
		return s.insertSteps(ctx, tx, seq)
	})
}

func (s *Store) insertSteps(ctx context.Context, tx dialect.Tx, seq *sequence.Sequence) error {
	if len(seq.Steps) == 0 {
		return nil
	}

	insert := s.b.Insert(tableSteps).Columns(stepColumns...)
	for i, st := range seq.Steps {
		insert.Values(seq.ID, i, st.ID, st.DayOffset, string(st.ActionType), st.Description, st.TemplateID, st.TaskTitle, st.NoteText)
	}

	query, args := insert.Query()
	if _, err := s.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to insert steps: %w", err)
	}
	return nil
}

// GetSequence loads a sequence with its steps in definition order.
func (s *Store) GetSequence(ctx context.Context, id string) (*sequence.Sequence, error) {
	seqs, err := s.loadSequences(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, domain.NewNotFoundError("sequence")
	}
	return seqs[0], nil
}

// ListSequences loads every sequence, oldest first.
func (s *Store) ListSequences(ctx context.Context) ([]*sequence.Sequence, error) {
	return s.loadSequences(ctx, nil)
}

func (s *Store) loadSequences(ctx context.Context, where *entsql.Predicate) ([]*sequence.Sequence, error) {
	selector := s.b.Select(sequenceColumns...).
		From(s.b.Table(tableSequences)).
		OrderBy("created_at", "id")
	if where != nil {
		selector.Where(where)
	}

	var seqs []*sequence.Sequence
	query, args := selector.Query()
	err := s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		seq := &sequence.Sequence{}
		if err := rows.Scan(&seq.ID, &seq.Name, &seq.Description, &seq.TriggerStage, &seq.IsActive, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan sequence: %w", err)
		}
		seq.CreatedAt = utc(seq.CreatedAt)
		seq.UpdatedAt = utc(seq.UpdatedAt)
		seqs = append(seqs, seq)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	if len(seqs) == 0 {
		return seqs, nil
	}

	byID := make(map[string]*sequence.Sequence, len(seqs))
	ids := make([]any, len(seqs))
	for i, seq := range seqs {
		seq.Steps = []sequence.Step{}
		byID[seq.ID] = seq
		ids[i] = seq.ID
	}

	query, args = s.b.Select(stepColumns...).
		From(s.b.Table(tableSteps)).
		Where(entsql.In("sequence_id", ids...)).
		OrderBy("sequence_id", "step_index").
		Query()
	err = s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		var (
			seqID string
			index int
			st    sequence.Step
			kind  string
		)
		if err := rows.Scan(&seqID, &index, &st.ID, &st.DayOffset, &kind, &st.Description, &st.TemplateID, &st.TaskTitle, &st.NoteText); err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}
		st.ActionType = sequence.ActionType(kind)
		if seq, ok := byID[seqID]; ok {
			seq.Steps = append(seq.Steps, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	return seqs, nil
}

// DeleteSequence removes a sequence and its steps. Enrollments are kept as
// history.
func (s *Store) DeleteSequence(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx dialect.Tx) error {
		query, args := s.b.Delete(tableSteps).Where(entsql.EQ("sequence_id", id)).Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to delete steps: %w", err)
		}

		query, args = s.b.Delete(tableSequences).Where(entsql.EQ("id", id)).Query()
		n, err := s.exec(ctx, tx, query, args)
		if err != nil {
			return fmt.Errorf("failed to delete sequence: %w", err)
		}
		if n == 0 {
			return domain.NewNotFoundError("sequence")
		}
		return nil
	})
}
