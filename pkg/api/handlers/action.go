package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/executor"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/labstack/echo/v4"
)

const maxActionsLimit = 500

// ActionLister reads the action outbox.
type ActionLister interface {
	ListActions(ctx context.Context, f store.ActionFilter) ([]*store.Action, error)
}

// ActionHandler exposes the action outbox.
type ActionHandler struct {
	actions ActionLister
}

// NewActionHandler creates a new action handler.
func NewActionHandler(actions ActionLister) *ActionHandler {
	return &ActionHandler{actions: actions}
}

// List returns dispatched actions, oldest first, filtered by contact_id,
// enrollment_id and kind.
// GET /api/v1/actions
func (h *ActionHandler) List(c echo.Context) error {
	f := store.ActionFilter{
		ContactID:    c.QueryParam("contact_id"),
		EnrollmentID: c.QueryParam("enrollment_id"),
		Kind:         executor.Kind(c.QueryParam("kind")),
		Limit:        100,
	}

	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxActionsLimit {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and " + strconv.Itoa(maxActionsLimit),
			})
		}
		f.Limit = limit
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	actions, err := h.actions.ListActions(ctx, f)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"actions": actions,
		"total":   len(actions),
	})
}
