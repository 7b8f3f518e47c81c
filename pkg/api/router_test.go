package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/jordanlanch/outreach/pkg/abtest"
	"github.com/jordanlanch/outreach/pkg/api/handlers"
	"github.com/jordanlanch/outreach/pkg/auth"
	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/jordanlanch/outreach/pkg/database"
	"github.com/jordanlanch/outreach/pkg/emailtemplate"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/sequence"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

func newServer(t *testing.T, secret string) *echo.Echo {
	t.Helper()
	dsn := "file:" + unsafeName.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared&_fk=1"
	client, err := database.Open("sqlite3", dsn, database.DefaultPoolConfig("sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	st := store.New(client)
	require.NoError(t, st.Migrate(context.Background()))

	log := logger.Nop()
	engine := enrollment.NewEngine(st, st, enrollment.WithLogger(log))
	runner := automation.NewRunner(automation.Config{
		Engine:    engine,
		Contacts:  st,
		Templates: st,
		Sink:      st,
		Logger:    log,
	})

	e := echo.New()
	Register(e, Handlers{
		Sequences:   handlers.NewSequenceHandler(sequence.NewService(st, sequence.WithEnrollmentCloser(engine)), engine, log),
		Templates:   handlers.NewTemplateHandler(emailtemplate.NewService(st, st, "Glow", log), abtest.NewService(st)),
		Contacts:    handlers.NewContactHandler(st, engine, log),
		Events:      handlers.NewEventHandler(st, engine, log),
		Enrollments: handlers.NewEnrollmentHandler(engine, log),
		Evaluations: handlers.NewEvaluationHandler(runner, log),
		Actions:     handlers.NewActionHandler(st),
		Health: handlers.NewHealthHandler(handlers.Check{
			Name: "database",
			Ping: func(ctx context.Context) error { return client.Ping(ctx) },
		}),
	}, secret)
	return e
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegister_Open(t *testing.T) {
	e := newServer(t, "")

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/sequences", "", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/templates/variants", "", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/contacts/follow-up", "", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/enrollments/counts", "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/enrollments/missing", "", "").Code)
}

func TestRegister_SequenceLifecycle(t *testing.T) {
	e := newServer(t, "")

	body := `{"name":"Cold Outreach","trigger_stage":"Contacted","steps":[{"id":"s1","day_offset":0,"action_type":"task","task_title":"Call"}]}`
	rec := do(e, http.MethodPost, "/api/v1/sequences", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPut, "/api/v1/contacts/c1", `{"name":"Lena Park","pipeline_stage":"Contacted"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"enrolled":[{`)

	rec = do(e, http.MethodPost, "/api/v1/evaluations", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"evaluated":1`)

	rec = do(e, http.MethodGet, "/api/v1/actions?kind=create_task", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Call"`)
}

func TestRegister_JWT(t *testing.T) {
	e := newServer(t, testSecret)

	t.Run("health stays public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "", "").Code)
	})

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/sequences", "", "").Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := auth.GenerateJWT("ops@example.com", "other-secret", 1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/sequences", "", token).Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := auth.GenerateJWT("ops@example.com", testSecret, 1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/sequences", "", token).Code)
	})
}
