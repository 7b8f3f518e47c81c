package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/jordanlanch/outreach/pkg/abtest"
	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/jordanlanch/outreach/pkg/database"
	"github.com/jordanlanch/outreach/pkg/emailtemplate"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/sequence"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store       *store.Store
	engine      *enrollment.Engine
	sequences   *SequenceHandler
	templates   *TemplateHandler
	contacts    *ContactHandler
	events      *EventHandler
	enrollments *EnrollmentHandler
	evaluations *EvaluationHandler
	actions     *ActionHandler
}

func setupEnv(t *testing.T, stages ...string) *testEnv {
	t.Helper()
	dsn := "file:" + unsafeName.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared&_fk=1"
	client, err := database.Open("sqlite3", dsn, database.DefaultPoolConfig("sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	clock := func() time.Time { return t0 }
	st := store.New(client, store.WithClock(clock))
	require.NoError(t, st.Migrate(context.Background()))

	log := logger.Nop()
	engine := enrollment.NewEngine(st, st,
		enrollment.WithStages(stages),
		enrollment.WithClock(clock),
		enrollment.WithLogger(log),
	)
	seqs := sequence.NewService(st,
		sequence.WithStages(stages),
		sequence.WithEnrollmentCloser(engine),
		sequence.WithClock(clock),
		sequence.WithLogger(log),
	)
	templates := emailtemplate.NewService(st, st, "Glow", log)
	runner := automation.NewRunner(automation.Config{
		Engine:      engine,
		Contacts:    st,
		Templates:   st,
		Sink:        st,
		ProductName: "Glow",
		Logger:      log,
	})

	env := &testEnv{
		store:       st,
		engine:      engine,
		sequences:   NewSequenceHandler(seqs, engine, log),
		templates:   NewTemplateHandler(templates, abtest.NewService(st)),
		contacts:    NewContactHandler(st, engine, log),
		events:      NewEventHandler(st, engine, log),
		enrollments: NewEnrollmentHandler(engine, log),
		evaluations: NewEvaluationHandler(runner, log),
		actions:     NewActionHandler(st),
	}
	env.contacts.now = clock
	env.evaluations.now = clock
	return env
}

// newRequest builds an echo context for a JSON request. params are
// name/value pairs for path parameters.
func newRequest(t *testing.T, method, path string, body interface{}, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	decode(t, rec, &resp)
	return resp
}

func (env *testEnv) seedTemplate(t *testing.T, id, group string, sends, opens int) {
	t.Helper()
	require.NoError(t, env.store.CreateTemplate(context.Background(), &models.EmailTemplate{
		ID:           id,
		Name:         "Template " + id,
		TemplateType: models.TemplateOutreach,
		VariantGroup: group,
		Subject:      "Hi {name}",
		Body:         "Meet {product}, {name} from {location}. {unknown}",
		SendCount:    sends,
		OpenCount:    opens,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}))
}

func (env *testEnv) seedSequence(t *testing.T, id, stage string) {
	t.Helper()
	require.NoError(t, env.store.CreateSequence(context.Background(), &sequence.Sequence{
		ID:           id,
		Name:         "Cold Outreach",
		TriggerStage: stage,
		IsActive:     true,
		Steps: []sequence.Step{
			{ID: "s1", DayOffset: 0, ActionType: sequence.ActionEmailDraft, TemplateID: "tpl-1"},
			{ID: "s2", DayOffset: 5, ActionType: sequence.ActionTask, TaskTitle: "Follow up call"},
		},
		CreatedAt: t0,
		UpdatedAt: t0,
	}))
}

func (env *testEnv) seedContact(t *testing.T, id, stage string, lastContacted *time.Time) {
	t.Helper()
	_, _, err := env.store.UpsertContact(context.Background(), &models.Contact{
		ID:            id,
		Name:          "Lena " + id,
		Email:         id + "@example.com",
		Location:      "Lisbon",
		PipelineStage: stage,
		LastContacted: lastContacted,
		UpdatedAt:     t0,
	})
	require.NoError(t, err)
}

func daysAgo(n int) *time.Time {
	ts := t0.Add(-time.Duration(n) * 24 * time.Hour)
	return &ts
}
