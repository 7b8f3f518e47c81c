package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/labstack/echo/v4"
)

// EventHandler accepts pipeline events from the CRM.
type EventHandler struct {
	contacts  ContactStore
	engine    *enrollment.Engine
	validator *validator.Validate
	log       logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(contacts ContactStore, engine *enrollment.Engine, log logger.Logger) *EventHandler {
	return &EventHandler{
		contacts:  contacts,
		engine:    engine,
		validator: validator.New(),
		log:       log,
	}
}

// StageChange applies a stage-change event. A stored snapshot of the contact
// is moved to the new stage; unknown contacts are still enrolled.
// POST /api/v1/events/stage-change
func (h *EventHandler) StageChange(c echo.Context) error {
	var ev models.StageChange
	if ok, err := bind(c, h.validator, &ev); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.engine.HandleStageChange(ctx, ev)
	if err != nil {
		if res == nil {
			return apierrors.DomainError(c, err)
		}
		h.log.Error("stage change partially failed", "contact_id", ev.ContactID, "error", err)
	}

	if _, err := h.contacts.SetContactStage(ctx, ev.ContactID, ev.NewStage); err != nil && !domain.IsNotFound(err) {
		h.log.Warn("failed to move contact snapshot", "contact_id", ev.ContactID, "error", err)
	}

	return c.JSON(http.StatusOK, res)
}
