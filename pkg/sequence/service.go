package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/logger"
)

// Repository persists sequences. GetSequence returns a domain not-found
// error for unknown ids.
type Repository interface {
	CreateSequence(ctx context.Context, s *Sequence) error
	UpdateSequence(ctx context.Context, s *Sequence) error
	GetSequence(ctx context.Context, id string) (*Sequence, error)
	ListSequences(ctx context.Context) ([]*Sequence, error)
	DeleteSequence(ctx context.Context, id string) error
}

// EnrollmentCloser withdraws pending enrollments of a removed sequence.
type EnrollmentCloser interface {
	WithdrawSequence(ctx context.Context, sequenceID, reason string) (int, error)
}

// Service handles sequence definition operations.
type Service struct {
	repo   Repository
	closer EnrollmentCloser
	stages map[string]bool
	log    logger.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStages restricts trigger stages to the configured pipeline stages.
func WithStages(stages []string) Option {
	return func(s *Service) {
		if len(stages) == 0 {
			return
		}
		s.stages = make(map[string]bool, len(stages))
		for _, st := range stages {
			s.stages[st] = true
		}
	}
}

// WithEnrollmentCloser withdraws pending enrollments when a sequence is deleted.
func WithEnrollmentCloser(c EnrollmentCloser) Option {
	return func(s *Service) { s.closer = c }
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new sequence service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		log:  logger.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StepInput is a step as submitted by a client.
type StepInput struct {
	ID          string     `json:"id,omitempty" validate:"max=64"`
	DayOffset   int        `json:"day_offset"`
	ActionType  ActionType `json:"action_type"`
	Description string     `json:"description,omitempty" validate:"max=500"`
	TemplateID  string     `json:"template_id,omitempty"`
	TaskTitle   string     `json:"task_title,omitempty" validate:"max=500"`
	NoteText    string     `json:"note_text,omitempty"`
}

// SaveSequenceRequest creates or fully replaces a sequence definition.
type SaveSequenceRequest struct {
	Name         string      `json:"name" validate:"max=200"`
	Description  string      `json:"description,omitempty" validate:"max=2000"`
	TriggerStage string      `json:"trigger_stage,omitempty" validate:"max=100"`
	IsActive     *bool       `json:"is_active,omitempty"`
	Steps        []StepInput `json:"steps" validate:"max=100,dive"`
}

// steps builds the step list. A step sent without an id takes the id of an
// identical step in current that no other step claims, so resubmitting an
// unchanged step keeps its fired state; otherwise it gets a fresh id.
func (r SaveSequenceRequest) steps(current []Step) []Step {
	claimed := make(map[string]bool)
	for _, in := range r.Steps {
		if in.ID != "" {
			claimed[in.ID] = true
		}
	}

	steps := make([]Step, len(r.Steps))
	for i, in := range r.Steps {
		steps[i] = Step{
			ID:          in.ID,
			DayOffset:   in.DayOffset,
			ActionType:  in.ActionType,
			Description: in.Description,
			TemplateID:  in.TemplateID,
			TaskTitle:   in.TaskTitle,
			NoteText:    in.NoteText,
		}
		if steps[i].ID != "" {
			continue
		}
		for _, cur := range current {
			if !claimed[cur.ID] && sameAction(cur, steps[i]) {
				steps[i].ID = cur.ID
				claimed[cur.ID] = true
				break
			}
		}
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
	}
	return steps
}

func sameAction(a, b Step) bool {
	return a.DayOffset == b.DayOffset &&
		a.ActionType == b.ActionType &&
		a.Description == b.Description &&
		a.TemplateID == b.TemplateID &&
		a.TaskTitle == b.TaskTitle &&
		a.NoteText == b.NoteText
}

// check runs Validate plus the configured-stage rule and converts the outcome
// into a validation error whose message is the first violation.
func (s *Service) check(seq *Sequence) error {
	vs := Validate(seq)
	if seq.TriggerStage != "" && s.stages != nil && !s.stages[seq.TriggerStage] {
		vs = append(vs, Violation{Field: "trigger_stage", Message: fmt.Sprintf("unknown pipeline stage %q", seq.TriggerStage)})
	}
	if len(vs) > 0 {
		return domain.WrapValidationError(vs[0].String(), vs)
	}
	return nil
}

// CreateSequence validates and stores a new sequence. New sequences are
// active unless the request says otherwise.
func (s *Service) CreateSequence(ctx context.Context, req SaveSequenceRequest) (*Sequence, error) {
	now := s.now()
	seq := &Sequence{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		TriggerStage: req.TriggerStage,
		IsActive:     req.IsActive == nil || *req.IsActive,
		Steps:        req.steps(nil),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.check(seq); err != nil {
		return nil, err
	}

	if err := s.repo.CreateSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("failed to create sequence: %w", err)
	}

	s.log.Info("sequence created", "sequence_id", seq.ID, "trigger_stage", seq.TriggerStage, "steps", len(seq.Steps))
	return seq, nil
}

// UpdateSequence replaces the definition of an existing sequence. Nothing is
// written when validation fails.
func (s *Service) UpdateSequence(ctx context.Context, id string, req SaveSequenceRequest) (*Sequence, error) {
	current, err := s.repo.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Name = req.Name
	updated.Description = req.Description
	updated.TriggerStage = req.TriggerStage
	updated.Steps = req.steps(current.Steps)
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.now()

	if err := s.check(updated); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSequence(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update sequence: %w", err)
	}

	return updated, nil
}

// SetActive toggles a sequence. Deactivation keeps existing enrollments; they
// produce no due steps until the sequence is active again.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Sequence, error) {
	seq, err := s.repo.GetSequence(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq.IsActive == active {
		return seq, nil
	}

	seq.IsActive = active
	seq.UpdatedAt = s.now()
	if err := s.repo.UpdateSequence(ctx, seq); err != nil {
		return nil, fmt.Errorf("failed to update sequence: %w", err)
	}

	s.log.Info("sequence toggled", "sequence_id", id, "active", active)
	return seq, nil
}

// GetSequence retrieves a sequence by ID.
func (s *Service) GetSequence(ctx context.Context, id string) (*Sequence, error) {
	return s.repo.GetSequence(ctx, id)
}

// ListSequences lists every sequence.
func (s *Service) ListSequences(ctx context.Context) ([]*Sequence, error) {
	seqs, err := s.repo.ListSequences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	return seqs, nil
}

// DeleteSequence removes a sequence and withdraws its pending enrollments.
func (s *Service) DeleteSequence(ctx context.Context, id string) error {
	if err := s.repo.DeleteSequence(ctx, id); err != nil {
		return err
	}

	if s.closer != nil {
		n, err := s.closer.WithdrawSequence(ctx, id, "sequence deleted")
		if err != nil {
			return fmt.Errorf("failed to withdraw enrollments: %w", err)
		}
		if n > 0 {
			s.log.Info("withdrew enrollments of deleted sequence", "sequence_id", id, "count", n)
		}
	}

	return nil
}
