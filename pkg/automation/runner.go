// Package automation runs evaluation ticks: it finds due steps, turns them
// into action descriptors and hands them to a sink.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/executor"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

// Sink applies action descriptors, e.g. by writing them to an outbox.
type Sink interface {
	Dispatch(ctx context.Context, action *executor.ActionDescriptor) error
}

// ErrorReporter forwards errors that should never happen to an error tracker.
type ErrorReporter interface {
	Report(err error, tags map[string]string)
}

// ContactReader reads contact snapshots.
type ContactReader interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// TemplateLister lists every email template.
type TemplateLister interface {
	ListTemplates(ctx context.Context) ([]*models.EmailTemplate, error)
}

// Observer is told about every finished tick.
type Observer interface {
	TickCompleted(report *TickReport, duration time.Duration)
}

// Failure describes an enrollment that stopped early during a tick, or a step
// that was skipped because it can never execute.
type Failure struct {
	EnrollmentID string `json:"enrollment_id"`
	ContactID    string `json:"contact_id"`
	SequenceID   string `json:"sequence_id"`
	StepID       string `json:"step_id,omitempty"`
	StepIndex    int    `json:"step_index"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// TickReport summarises one evaluation pass.
type TickReport struct {
	AsOf      time.Time `json:"as_of"`
	Evaluated int       `json:"evaluated"`
	Fired     int       `json:"fired"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Runner executes evaluation ticks. Ticks are serialized.
type Runner struct {
	mu          sync.Mutex
	engine      *enrollment.Engine
	contacts    ContactReader
	templates   TemplateLister
	sink        Sink
	reporter    ErrorReporter
	observer    Observer
	productName string
	log         logger.Logger
}

// Config holds the Runner's collaborators. Reporter and Observer are optional.
type Config struct {
	Engine      *enrollment.Engine
	Contacts    ContactReader
	Templates   TemplateLister
	Sink        Sink
	Reporter    ErrorReporter
	Observer    Observer
	ProductName string
	Logger      logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		engine:      cfg.Engine,
		contacts:    cfg.Contacts,
		templates:   cfg.Templates,
		sink:        cfg.Sink,
		reporter:    cfg.Reporter,
		observer:    cfg.Observer,
		productName: cfg.ProductName,
		log:         log.With("component", "automation"),
	}
}

// Tick evaluates every pending enrollment at asOf. Steps of an enrollment
// run in due order; the first failure stops that enrollment until the next
// tick and never affects other enrollments. A step that violates a sequence
// invariant is reported once, marked fired without dispatching and skipped so
// later steps still run. Only loading the work itself can fail the whole
// tick.
func (r *Runner) Tick(ctx context.Context, asOf time.Time) (*TickReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	report := &TickReport{AsOf: asOf}

	work, err := r.engine.PendingWork(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending work: %w", err)
	}

	var templates executor.Templates
	if len(work) > 0 {
		ts, err := r.templates.ListTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		templates = executor.IndexTemplates(ts)
	}

	for _, w := range work {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Evaluated++
		r.run(ctx, w, templates, report)
	}

	if r.observer != nil {
		r.observer.TickCompleted(report, time.Since(start))
	}
	r.log.Info("evaluation tick finished",
		"as_of", asOf,
		"evaluated", report.Evaluated,
		"fired", report.Fired,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, w enrollment.Work, templates executor.Templates, report *TickReport) {
	en := w.Enrollment
	log := r.log.With("enrollment_id", en.ID, "contact_id", en.ContactID, "sequence_id", en.SequenceID)

	contact, err := r.contacts.GetContact(ctx, en.ContactID)
	if err != nil {
		if domain.IsNotFound(err) {
			log.Warn("contact snapshot missing, skipping enrollment")
		} else {
			log.Error("failed to load contact", "error", err)
		}
		r.fail(report, en, sequence.IndexedStep{Index: -1}, err)
		return
	}

	for _, step := range w.Steps {
		stepLog := log.With("step_id", step.Step.ID, "step_index", step.Index)

		action, err := executor.Execute(step, en, contact, templates, r.productName)
		if err != nil {
			stepLog.Error("step execution failed", "error", err)
			r.fail(report, en, step, err)
			if !domain.IsInvariantViolation(err) {
				return
			}
			if r.reporter != nil {
				r.reporter.Report(err, map[string]string{
					"enrollment_id": en.ID,
					"sequence_id":   en.SequenceID,
					"step_id":       step.Step.ID,
				})
			}
			// the step can never run; consume it so it is not retried every tick
			if !r.fire(ctx, stepLog, report, en, w, step) {
				return
			}
			report.Skipped++
			continue
		}

		if err := r.sink.Dispatch(ctx, action); err != nil {
			stepLog.Error("failed to dispatch action", "kind", action.Kind, "error", err)
			r.fail(report, en, step, err)
			return
		}

		if !r.fire(ctx, stepLog, report, en, w, step) {
			return
		}
		report.Fired++
		stepLog.Debug("step fired", "kind", action.Kind)
	}
}

// fire records step as fired and reports whether the enrollment may go on.
// An enrollment withdrawn or completed elsewhere since the tick loaded it
// stops without a failure.
func (r *Runner) fire(ctx context.Context, log logger.Logger, report *TickReport, en *enrollment.Enrollment, w enrollment.Work, step sequence.IndexedStep) bool {
	err := r.engine.Fire(ctx, en, w.Sequence, step.Step.ID)
	if err == nil {
		return true
	}
	if domain.IsConflict(err) {
		log.Info("enrollment left pending during tick, stopping", "error", err)
		return false
	}
	log.Error("failed to record fired step", "error", err)
	r.fail(report, en, step, err)
	return false
}

func (r *Runner) fail(report *TickReport, en *enrollment.Enrollment, step sequence.IndexedStep, err error) {
	report.Failed++
	report.Failures = append(report.Failures, Failure{
		EnrollmentID: en.ID,
		ContactID:    en.ContactID,
		SequenceID:   en.SequenceID,
		StepID:       step.Step.ID,
		StepIndex:    step.Index,
		Code:         domain.GetErrorCode(err),
		Message:      err.Error(),
	})
}
