package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentHandler(t *testing.T) {
	env := setupEnv(t)
	env.seedSequence(t, "seq-1", "")
	env.seedSequence(t, "seq-2", "")

	ctx := context.Background()
	first, err := env.engine.Enroll(ctx, "c1", "seq-1")
	require.NoError(t, err)
	_, err = env.engine.Enroll(ctx, "c2", "seq-1")
	require.NoError(t, err)
	_, err = env.engine.Enroll(ctx, "c1", "seq-2")
	require.NoError(t, err)

	t.Run("Success - counts pending per sequence", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodGet, "/api/v1/enrollments/counts", nil)
		require.NoError(t, env.enrollments.Counts(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Counts map[string]int `json:"counts"`
			Total  int            `json:"total"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, 2, resp.Counts["seq-1"])
		assert.Equal(t, 1, resp.Counts["seq-2"])
		assert.Equal(t, 3, resp.Total)
	})

	t.Run("Success - get", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodGet, "/api/v1/enrollments/"+first.ID, nil, "id", first.ID)
		require.NoError(t, env.enrollments.Get(c))

		var got enrollment.Enrollment
		decode(t, rec, &got)
		assert.Equal(t, enrollment.StatusPending, got.Status)
		assert.Equal(t, enrollment.SourceManual, got.Source)
	})

	t.Run("Success - withdraw", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodPost, "/api/v1/enrollments/"+first.ID+"/withdraw",
			WithdrawRequest{Reason: "replied by phone"}, "id", first.ID)
		require.NoError(t, env.enrollments.Withdraw(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var got enrollment.Enrollment
		decode(t, rec, &got)
		assert.Equal(t, enrollment.StatusWithdrawn, got.Status)
		assert.Equal(t, "replied by phone", got.WithdrawReason)
		assert.NotNil(t, got.WithdrawnAt)
	})

	t.Run("Error - withdrawing twice conflicts", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodPost, "/api/v1/enrollments/"+first.ID+"/withdraw", nil, "id", first.ID)
		require.NoError(t, env.enrollments.Withdraw(c))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Success - counts drop after withdrawal", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodGet, "/api/v1/enrollments/counts", nil)
		require.NoError(t, env.enrollments.Counts(c))

		var resp struct {
			Total int `json:"total"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("Error - unknown enrollment", func(t *testing.T) {
		c, rec := newRequest(t, http.MethodGet, "/api/v1/enrollments/nope", nil, "id", "nope")
		require.NoError(t, env.enrollments.Get(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
