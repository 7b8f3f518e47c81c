package automation

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jordanlanch/outreach/pkg/database"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/executor"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/sequence"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeReporter struct {
	errs []error
	tags []map[string]string
}

func (f *fakeReporter) Report(err error, tags map[string]string) {
	f.errs = append(f.errs, err)
	f.tags = append(f.tags, tags)
}

type fakeObserver struct {
	reports []*TickReport
}

func (f *fakeObserver) TickCompleted(report *TickReport, _ time.Duration) {
	f.reports = append(f.reports, report)
}

// flakySink fails every dispatch for the listed contacts until healed.
// beforeDispatch, when set, runs ahead of every dispatch.
type flakySink struct {
	next           Sink
	failFor        map[string]bool
	beforeDispatch func(a *executor.ActionDescriptor)
}

func (f *flakySink) Dispatch(ctx context.Context, a *executor.ActionDescriptor) error {
	if f.beforeDispatch != nil {
		f.beforeDispatch(a)
	}
	if f.failFor[a.ContactID] {
		return errors.New("outbox unavailable")
	}
	return f.next.Dispatch(ctx, a)
}

type harness struct {
	store    *store.Store
	engine   *enrollment.Engine
	runner   *Runner
	clock    *clock
	reporter *fakeReporter
	observer *fakeObserver
	sink     *flakySink
}

func setup(t *testing.T) *harness {
	t.Helper()
	dsn := "file:" + unsafeName.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared&_fk=1"
	client, err := database.Open("sqlite3", dsn, database.DefaultPoolConfig("sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	clk := &clock{now: t0}
	st := store.New(client, store.WithClock(clk.Now))
	require.NoError(t, st.Migrate(context.Background()))

	engine := enrollment.NewEngine(st, st, enrollment.WithClock(clk.Now))
	h := &harness{
		store:    st,
		engine:   engine,
		clock:    clk,
		reporter: &fakeReporter{},
		observer: &fakeObserver{},
		sink:     &flakySink{next: st, failFor: map[string]bool{}},
	}
	h.runner = NewRunner(Config{
		Engine:      engine,
		Contacts:    st,
		Templates:   st,
		Sink:        h.sink,
		Reporter:    h.reporter,
		Observer:    h.observer,
		ProductName: "Glow",
	})
	return h
}

func (h *harness) seedColdOutreach(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateTemplate(ctx, &models.EmailTemplate{
		ID:           "tpl-intro",
		Name:         "Intro",
		TemplateType: models.TemplateOutreach,
		Subject:      "Hi {name}",
		Body:         "Loved your posts from {location}. Meet {product}.",
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}))
	require.NoError(t, h.store.CreateSequence(ctx, &sequence.Sequence{
		ID:           "seq-cold",
		Name:         "Cold Outreach",
		TriggerStage: "Contacted",
		IsActive:     true,
		Steps: []sequence.Step{
			{ID: "s1", DayOffset: 0, ActionType: sequence.ActionEmailDraft, TemplateID: "tpl-intro"},
			{ID: "s2", DayOffset: 3, ActionType: sequence.ActionNote, NoteText: "check for reply"},
			{ID: "s3", DayOffset: 5, ActionType: sequence.ActionTask, TaskTitle: "Follow up call"},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
}

func (h *harness) addContact(t *testing.T, id, name string) {
	t.Helper()
	_, _, err := h.store.UpsertContact(context.Background(), &models.Contact{
		ID:            id,
		Name:          name,
		Email:         id + "@example.com",
		Location:      "Lisbon",
		PipelineStage: "Contacted",
		UpdatedAt:     t0,
	})
	require.NoError(t, err)
}

func (h *harness) enroll(t *testing.T, contactID string) *enrollment.Enrollment {
	t.Helper()
	en, err := h.engine.Enroll(context.Background(), contactID, "seq-cold")
	require.NoError(t, err)
	return en
}

func (h *harness) actions(t *testing.T, enrollmentID string) []*store.Action {
	t.Helper()
	actions, err := h.store.ListActions(context.Background(), store.ActionFilter{EnrollmentID: enrollmentID})
	require.NoError(t, err)
	return actions
}

func TestTick_ColdOutreach(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	en := h.enroll(t, "c1")

	t.Run("Success - day zero drafts the intro email", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0)
		require.NoError(t, err)

		assert.Equal(t, 1, report.Evaluated)
		assert.Equal(t, 1, report.Fired)
		assert.Zero(t, report.Failed)

		actions := h.actions(t, en.ID)
		require.Len(t, actions, 1)
		assert.Equal(t, executor.KindDraftEmail, actions[0].Kind)
		assert.Equal(t, "c1@example.com", actions[0].To)
		assert.Equal(t, "Hi Lena", actions[0].Subject)
		assert.Equal(t, "Loved your posts from Lisbon. Meet Glow.", actions[0].Body)

		tpl, err := h.store.GetTemplate(ctx, "tpl-intro")
		require.NoError(t, err)
		assert.Equal(t, 1, tpl.SendCount)
	})

	t.Run("Success - rerunning the same instant fires nothing", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0)
		require.NoError(t, err)
		assert.Zero(t, report.Fired)
		assert.Len(t, h.actions(t, en.ID), 1)
	})

	t.Run("Success - day five catches up the note and the task", func(t *testing.T) {
		asOf := t0.Add(5 * 24 * time.Hour)
		h.clock.Set(asOf)

		report, err := h.runner.Tick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Fired)

		actions := h.actions(t, en.ID)
		require.Len(t, actions, 3)
		assert.Equal(t, executor.KindCreateNote, actions[1].Kind)
		assert.Equal(t, "check for reply", actions[1].Text)
		assert.Equal(t, executor.KindCreateTask, actions[2].Kind)
		assert.Equal(t, "Follow up call", actions[2].Title)
		require.NotNil(t, actions[2].DueDate)
		assert.True(t, t0.Add(5*24*time.Hour).Equal(*actions[2].DueDate))

		got, err := h.store.GetEnrollment(ctx, en.ID)
		require.NoError(t, err)
		assert.Equal(t, enrollment.StatusComplete, got.Status)
		assert.Equal(t, []string{"s1", "s2", "s3"}, got.FiredSteps)
	})

	t.Run("Success - completed enrollments are not evaluated", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0.Add(30*24*time.Hour))
		require.NoError(t, err)
		assert.Zero(t, report.Evaluated)
	})

	assert.Len(t, h.observer.reports, 4)
}

func TestTick_MissingContact(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	ghost := h.enroll(t, "ghost")
	known := h.enroll(t, "c1")

	report, err := h.runner.Tick(ctx, t0)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Fired)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, ghost.ID, report.Failures[0].EnrollmentID)
	assert.Equal(t, -1, report.Failures[0].StepIndex)
	assert.Equal(t, domain.ErrCodeNotFound, report.Failures[0].Code)

	assert.Empty(t, h.actions(t, ghost.ID))
	assert.Len(t, h.actions(t, known.ID), 1)

	got, err := h.store.GetEnrollment(ctx, ghost.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, got.Status)
	assert.Empty(t, h.reporter.errs)
}

func TestTick_InvariantViolationIsReported(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.addContact(t, "c1", "Lena")
	// written straight to storage, bypassing sequence validation
	require.NoError(t, h.store.CreateSequence(ctx, &sequence.Sequence{
		ID:       "seq-broken",
		Name:     "Broken",
		IsActive: true,
		Steps: []sequence.Step{
			{ID: "n1", DayOffset: 0, ActionType: sequence.ActionNote, NoteText: "hello"},
			{ID: "t1", DayOffset: 0, ActionType: sequence.ActionTask},
			{ID: "n2", DayOffset: 0, ActionType: sequence.ActionNote, NoteText: "still runs"},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
	en, err := h.engine.Enroll(ctx, "c1", "seq-broken")
	require.NoError(t, err)

	t.Run("Error - broken step is reported and skipped", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Fired)
		assert.Equal(t, 1, report.Skipped)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 1, report.Failures[0].StepIndex)
		assert.Equal(t, "t1", report.Failures[0].StepID)
		assert.Equal(t, domain.ErrCodeInvariantViolation, report.Failures[0].Code)

		require.Len(t, h.reporter.errs, 1)
		assert.True(t, domain.IsInvariantViolation(h.reporter.errs[0]))
		assert.Equal(t, "t1", h.reporter.tags[0]["step_id"])
		assert.Equal(t, en.ID, h.reporter.tags[0]["enrollment_id"])

		got, err := h.store.GetEnrollment(ctx, en.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"n1", "t1", "n2"}, got.FiredSteps)
		assert.Equal(t, enrollment.StatusComplete, got.Status)

		actions := h.actions(t, en.ID)
		require.Len(t, actions, 2)
		assert.Equal(t, "still runs", actions[1].Text)
	})

	t.Run("Success - later ticks do not report it again", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0.Add(time.Hour))
		require.NoError(t, err)

		assert.Zero(t, report.Evaluated)
		assert.Zero(t, report.Failed)
		assert.Len(t, h.reporter.errs, 1)
	})
}

func TestTick_SequenceEditedMidEnrollment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	en := h.enroll(t, "c1")

	_, err := h.runner.Tick(ctx, t0)
	require.NoError(t, err)
	require.Len(t, h.actions(t, en.ID), 1)

	// a welcome note is inserted ahead of the already drafted intro email
	seq, err := h.store.GetSequence(ctx, "seq-cold")
	require.NoError(t, err)
	seq.Steps = append([]sequence.Step{
		{ID: "s0", DayOffset: 0, ActionType: sequence.ActionNote, NoteText: "welcome"},
	}, seq.Steps...)
	seq.UpdatedAt = t0
	require.NoError(t, h.store.UpdateSequence(ctx, seq))

	h.clock.Set(t0.Add(time.Minute))
	report, err := h.runner.Tick(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Zero(t, report.Failed)

	actions := h.actions(t, en.ID)
	require.Len(t, actions, 2)
	assert.Equal(t, executor.KindDraftEmail, actions[0].Kind)
	assert.Equal(t, "s1", actions[0].StepID)
	assert.Equal(t, executor.KindCreateNote, actions[1].Kind)
	assert.Equal(t, "s0", actions[1].StepID)

	tpl, err := h.store.GetTemplate(ctx, "tpl-intro")
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.SendCount)

	got, err := h.store.GetEnrollment(ctx, en.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s0"}, got.FiredSteps)
	assert.Equal(t, enrollment.StatusPending, got.Status)
}

func TestTick_WithdrawnDuringTick(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	en := h.enroll(t, "c1")

	// the contact replies while the tick is dispatching its first step
	h.sink.beforeDispatch = func(a *executor.ActionDescriptor) {
		h.sink.beforeDispatch = nil
		_, err := h.engine.Withdraw(ctx, a.EnrollmentID, "replied")
		require.NoError(t, err)
	}

	report, err := h.runner.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Zero(t, report.Fired)
	assert.Zero(t, report.Failed)

	got, err := h.store.GetEnrollment(ctx, en.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusWithdrawn, got.Status)
	assert.Equal(t, "replied", got.WithdrawReason)
	assert.Empty(t, got.FiredSteps)

	report, err = h.runner.Tick(ctx, t0.Add(5*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
}

func TestTick_SinkFailureRetriesNextTick(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	h.addContact(t, "c2", "Marco")
	failing := h.enroll(t, "c1")
	healthy := h.enroll(t, "c2")
	h.sink.failFor["c1"] = true

	t.Run("Error - failure isolated to one enrollment", func(t *testing.T) {
		report, err := h.runner.Tick(ctx, t0)
		require.NoError(t, err)

		assert.Equal(t, 1, report.Fired)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, failing.ID, report.Failures[0].EnrollmentID)
		assert.Equal(t, 0, report.Failures[0].StepIndex)
		assert.Equal(t, domain.ErrCodeInternal, report.Failures[0].Code)

		assert.Empty(t, h.actions(t, failing.ID))
		assert.Len(t, h.actions(t, healthy.ID), 1)
	})

	t.Run("Success - step retried once the sink recovers", func(t *testing.T) {
		delete(h.sink.failFor, "c1")

		report, err := h.runner.Tick(ctx, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Fired)
		assert.Zero(t, report.Failed)
		assert.Len(t, h.actions(t, failing.ID), 1)
	})
}

func TestTick_WithdrawnEnrollmentsDoNotFire(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")

	res, err := h.engine.HandleStageChange(ctx, models.StageChange{ContactID: "c1", OldStage: "Lead", NewStage: "Contacted"})
	require.NoError(t, err)
	require.Len(t, res.Enrolled, 1)

	_, err = h.engine.HandleStageChange(ctx, models.StageChange{ContactID: "c1", OldStage: "Contacted", NewStage: "Negotiating"})
	require.NoError(t, err)

	report, err := h.runner.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated)
	assert.Empty(t, h.actions(t, res.Enrolled[0].ID))
}

func TestTick_Canceled(t *testing.T) {
	h := setup(t)
	h.seedColdOutreach(t)
	h.addContact(t, "c1", "Lena")
	h.enroll(t, "c1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Tick(ctx, t0)
	assert.Error(t, err)
}
