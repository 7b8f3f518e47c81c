package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

// Repository persists enrollments. CreateEnrollment returns a domain conflict
// error when the contact already holds a pending enrollment in the sequence.
// UpdateEnrollment only applies while the stored enrollment is still pending
// and returns a domain conflict error otherwise. Lookups of unknown ids return
// a domain not-found error.
type Repository interface {
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	UpdateEnrollment(ctx context.Context, e *Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*Enrollment, error)
	FindPending(ctx context.Context, contactID, sequenceID string) (*Enrollment, error)
	ListPending(ctx context.Context) ([]*Enrollment, error)
	ListByContact(ctx context.Context, contactID string) ([]*Enrollment, error)
	ListBySequence(ctx context.Context, sequenceID string) ([]*Enrollment, error)
	CountPendingBySequence(ctx context.Context) (map[string]int, error)
}

// SequenceReader reads sequence definitions.
type SequenceReader interface {
	GetSequence(ctx context.Context, id string) (*sequence.Sequence, error)
	ListSequences(ctx context.Context) ([]*sequence.Sequence, error)
}

// CountCache caches active enrollment counts per sequence. A miss returns
// ok false with a nil error. GetCounts also returns the cache generation,
// which Invalidate advances; SetCounts drops the write when the generation
// moved since it was read, so counts computed before a change never land
// after that change's invalidation.
type CountCache interface {
	GetCounts(ctx context.Context) (counts map[string]int, gen int64, ok bool, err error)
	SetCounts(ctx context.Context, gen int64, counts map[string]int) error
	Invalidate(ctx context.Context) error
}

// Observer receives enrollment lifecycle events, typically for metrics.
type Observer interface {
	EnrollmentCreated(source string)
	EnrollmentWithdrawn()
	EnrollmentCompleted()
	StepFired(actionType string)
}

// Engine owns the enrollment state machine.
type Engine struct {
	repo           Repository
	sequences      SequenceReader
	cache          CountCache
	observer       Observer
	stages         map[string]bool
	withdrawOnExit bool
	log            logger.Logger
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCountCache caches ActiveCounts.
func WithCountCache(c CountCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithObserver reports lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithStages rejects stage-change events naming stages outside the list.
func WithStages(stages []string) Option {
	return func(e *Engine) {
		if len(stages) == 0 {
			return
		}
		e.stages = make(map[string]bool, len(stages))
		for _, s := range stages {
			e.stages[s] = true
		}
	}
}

// WithWithdrawOnStageExit controls whether leaving a trigger stage withdraws
// the pending enrollment of that sequence. Enabled by default.
func WithWithdrawOnStageExit(enabled bool) Option {
	return func(e *Engine) { e.withdrawOnExit = enabled }
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an enrollment engine.
func NewEngine(repo Repository, sequences SequenceReader, opts ...Option) *Engine {
	e := &Engine{
		repo:           repo,
		sequences:      sequences,
		withdrawOnExit: true,
		log:            logger.Nop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KnownStage reports whether stage may be used. Every stage is known when no
// stage list is configured.
func (e *Engine) KnownStage(stage string) bool {
	return e.stages == nil || e.stages[stage]
}

// StageChangeResult describes what a stage-change event did.
type StageChangeResult struct {
	Enrolled        []*Enrollment `json:"enrolled"`
	Withdrawn       []*Enrollment `json:"withdrawn"`
	AlreadyEnrolled []string      `json:"already_enrolled"`
}

// HandleStageChange enrolls the contact into every active sequence triggered
// by the new stage and, when enabled, withdraws it from sequences triggered
// by the stage it left. Repeated events never create a second pending
// enrollment. A failure on one sequence does not stop the others; all
// failures are returned joined.
func (e *Engine) HandleStageChange(ctx context.Context, ev models.StageChange) (*StageChangeResult, error) {
	if ev.ContactID == "" {
		return nil, domain.NewValidationError("contact_id is required")
	}
	if ev.NewStage == "" {
		return nil, domain.NewValidationError("new_stage is required")
	}
	if !e.KnownStage(ev.NewStage) {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown pipeline stage %q", ev.NewStage))
	}

	seqs, err := e.sequences.ListSequences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}

	log := e.log.With("contact_id", ev.ContactID, "old_stage", ev.OldStage, "new_stage", ev.NewStage)
	res := &StageChangeResult{}
	var errs []error

	for _, seq := range seqs {
		if e.leaves(seq, ev) {
			w, err := e.withdrawPending(ctx, ev.ContactID, seq.ID, fmt.Sprintf("contact left stage %q", seq.TriggerStage))
			if err != nil {
				errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
				continue
			}
			if w != nil {
				res.Withdrawn = append(res.Withdrawn, w)
			}
		}

		if !seq.Triggers(ev.NewStage) {
			continue
		}

		en, created, err := e.enroll(ctx, ev.ContactID, seq, SourceTrigger)
		if err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			continue
		}
		if created {
			res.Enrolled = append(res.Enrolled, en)
		} else {
			res.AlreadyEnrolled = append(res.AlreadyEnrolled, seq.ID)
		}
	}

	if len(res.Enrolled) > 0 || len(res.Withdrawn) > 0 {
		e.invalidate(ctx)
		log.Info("stage change processed", "enrolled", len(res.Enrolled), "withdrawn", len(res.Withdrawn))
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (e *Engine) leaves(seq *sequence.Sequence, ev models.StageChange) bool {
	return e.withdrawOnExit &&
		seq.TriggerStage != "" &&
		ev.OldStage == seq.TriggerStage &&
		ev.NewStage != seq.TriggerStage
}

// enroll creates a pending enrollment unless one already exists. created is
// false when the existing enrollment is returned.
func (e *Engine) enroll(ctx context.Context, contactID string, seq *sequence.Sequence, source Source) (*Enrollment, bool, error) {
	existing, err := e.repo.FindPending(ctx, contactID, seq.ID)
	if err == nil {
		return existing, false, nil
	}
	if !domain.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to check enrollment: %w", err)
	}

	now := e.now()
	en := &Enrollment{
		ID:         uuid.NewString(),
		ContactID:  contactID,
		SequenceID: seq.ID,
		Status:     StatusPending,
		Source:     source,
		StartedAt:  now,
		FiredSteps: []string{},
		UpdatedAt:  now,
	}

	if err := e.repo.CreateEnrollment(ctx, en); err != nil {
		if domain.IsConflict(err) {
			existing, ferr := e.repo.FindPending(ctx, contactID, seq.ID)
			if ferr != nil {
				return nil, false, fmt.Errorf("failed to load enrollment: %w", ferr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create enrollment: %w", err)
	}

	if e.observer != nil {
		e.observer.EnrollmentCreated(string(source))
	}
	e.log.Info("contact enrolled", "enrollment_id", en.ID, "contact_id", contactID, "sequence_id", seq.ID, "source", source)
	return en, true, nil
}

// Enroll manually enrolls a contact into an active sequence, with or without
// a trigger stage.
func (e *Engine) Enroll(ctx context.Context, contactID, sequenceID string) (*Enrollment, error) {
	if contactID == "" {
		return nil, domain.NewValidationError("contact_id is required")
	}

	seq, err := e.sequences.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive {
		return nil, domain.NewConflictError("sequence is not active")
	}

	en, created, err := e.enroll(ctx, contactID, seq, SourceManual)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, domain.NewConflictError("contact already enrolled in this sequence")
	}

	e.invalidate(ctx)
	return en, nil
}

// Withdraw ends a pending enrollment.
func (e *Engine) Withdraw(ctx context.Context, enrollmentID, reason string) (*Enrollment, error) {
	en, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !en.Pending() {
		return nil, domain.NewConflictError(fmt.Sprintf("enrollment is %s", en.Status))
	}

	if reason == "" {
		reason = "withdrawn manually"
	}
	if err := e.applyWithdraw(ctx, en, reason); err != nil {
		return nil, err
	}

	e.invalidate(ctx)
	return en, nil
}

// WithdrawSequence withdraws every pending enrollment of a sequence and
// returns how many were withdrawn.
func (e *Engine) WithdrawSequence(ctx context.Context, sequenceID, reason string) (int, error) {
	ens, err := e.repo.ListBySequence(ctx, sequenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to list enrollments: %w", err)
	}

	n := 0
	for _, en := range ens {
		if !en.Pending() {
			continue
		}
		if err := e.applyWithdraw(ctx, en, reason); err != nil {
			return n, err
		}
		n++
	}

	if n > 0 {
		e.invalidate(ctx)
	}
	return n, nil
}

func (e *Engine) withdrawPending(ctx context.Context, contactID, sequenceID, reason string) (*Enrollment, error) {
	en, err := e.repo.FindPending(ctx, contactID, sequenceID)
	if domain.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}

	if err := e.applyWithdraw(ctx, en, reason); err != nil {
		return nil, err
	}
	return en, nil
}

func (e *Engine) applyWithdraw(ctx context.Context, en *Enrollment, reason string) error {
	withdraw(en, reason, e.now())
	if err := e.repo.UpdateEnrollment(ctx, en); err != nil {
		return fmt.Errorf("failed to withdraw enrollment: %w", err)
	}

	if e.observer != nil {
		e.observer.EnrollmentWithdrawn()
	}
	e.log.Info("enrollment withdrawn", "enrollment_id", en.ID, "contact_id", en.ContactID, "sequence_id", en.SequenceID, "reason", reason)
	return nil
}

// Work is one pending enrollment with steps due at the evaluated instant.
type Work struct {
	Enrollment *Enrollment
	Sequence   *sequence.Sequence
	Steps      []sequence.IndexedStep
}

// PendingWork returns every pending enrollment with due steps at asOf.
// Enrollments of inactive sequences are skipped and stay pending.
// Enrollments whose sequence no longer exists are withdrawn, and those whose
// steps have all fired (the sequence shrank after they started) are
// completed.
func (e *Engine) PendingWork(ctx context.Context, asOf time.Time) ([]Work, error) {
	ens, err := e.repo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending enrollments: %w", err)
	}

	seqs, err := e.sequences.ListSequences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	byID := make(map[string]*sequence.Sequence, len(seqs))
	for _, s := range seqs {
		byID[s.ID] = s
	}

	var work []Work
	changed := false
	for _, en := range ens {
		seq, ok := byID[en.SequenceID]
		if !ok {
			if err := e.applyWithdraw(ctx, en, "sequence deleted"); err != nil {
				e.log.Error("failed to withdraw orphaned enrollment", "enrollment_id", en.ID, "error", err)
				continue
			}
			changed = true
			continue
		}

		if AllFired(en, seq) {
			if err := e.applyComplete(ctx, en); err != nil {
				e.log.Error("failed to complete enrollment", "enrollment_id", en.ID, "error", err)
				continue
			}
			changed = true
			continue
		}

		if steps := DueSteps(en, seq, asOf); len(steps) > 0 {
			work = append(work, Work{Enrollment: en, Sequence: seq, Steps: steps})
		}
	}

	if changed {
		e.invalidate(ctx)
	}
	return work, nil
}

func (e *Engine) applyComplete(ctx context.Context, en *Enrollment) error {
	complete(en, e.now())
	if err := e.repo.UpdateEnrollment(ctx, en); err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}
	if e.observer != nil {
		e.observer.EnrollmentCompleted()
	}
	return nil
}

// Fire marks the step with stepID fired for the enrollment, completing it
// once every step has fired. Firing twice is a no-op. The enrollment is
// updated in place and persisted only when something changed. An enrollment
// that stopped being pending in storage meanwhile yields a conflict.
func (e *Engine) Fire(ctx context.Context, en *Enrollment, seq *sequence.Sequence, stepID string) error {
	step, ok := seq.StepByID(stepID)
	if !ok {
		return domain.NewInvariantViolation(fmt.Sprintf("step %q not found in sequence %s", stepID, seq.ID))
	}

	if !MarkFired(en, seq, stepID, e.now()) {
		return nil
	}

	if err := e.repo.UpdateEnrollment(ctx, en); err != nil {
		return fmt.Errorf("failed to record fired step: %w", err)
	}

	if e.observer != nil {
		e.observer.StepFired(string(step.ActionType))
	}

	if en.Status == StatusComplete {
		if e.observer != nil {
			e.observer.EnrollmentCompleted()
		}
		e.invalidate(ctx)
		e.log.Info("enrollment complete", "enrollment_id", en.ID, "contact_id", en.ContactID, "sequence_id", en.SequenceID)
	}
	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (e *Engine) GetEnrollment(ctx context.Context, id string) (*Enrollment, error) {
	return e.repo.GetEnrollment(ctx, id)
}

// ListByContact returns every enrollment of a contact, newest first.
func (e *Engine) ListByContact(ctx context.Context, contactID string) ([]*Enrollment, error) {
	ens, err := e.repo.ListByContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return ens, nil
}

// ListBySequence returns every enrollment of a sequence, newest first.
func (e *Engine) ListBySequence(ctx context.Context, sequenceID string) ([]*Enrollment, error) {
	ens, err := e.repo.ListBySequence(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return ens, nil
}

// ActiveCounts returns the number of pending enrollments per sequence id.
// Sequences without pending enrollments are absent.
func (e *Engine) ActiveCounts(ctx context.Context) (map[string]int, error) {
	var gen int64
	cacheable := false
	if e.cache != nil {
		counts, g, ok, err := e.cache.GetCounts(ctx)
		switch {
		case err != nil:
			e.log.Warn("enrollment count cache read failed", "error", err)
		case ok:
			return counts, nil
		default:
			gen, cacheable = g, true
		}
	}

	counts, err := e.repo.CountPendingBySequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}

	if cacheable {
		if err := e.cache.SetCounts(ctx, gen, counts); err != nil {
			e.log.Warn("enrollment count cache write failed", "error", err)
		}
	}
	return counts, nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		e.log.Warn("enrollment count cache invalidation failed", "error", err)
	}
}
