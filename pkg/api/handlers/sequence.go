package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/sequence"
	"github.com/labstack/echo/v4"
)

// SequenceHandler handles sequence definitions and their enrollments.
type SequenceHandler struct {
	service   *sequence.Service
	engine    *enrollment.Engine
	validator *validator.Validate
	log       logger.Logger
}

// NewSequenceHandler creates a new sequence handler.
func NewSequenceHandler(service *sequence.Service, engine *enrollment.Engine, log logger.Logger) *SequenceHandler {
	return &SequenceHandler{
		service:   service,
		engine:    engine,
		validator: validator.New(),
		log:       log,
	}
}

// EnrollRequest names the contact to enroll manually.
type EnrollRequest struct {
	ContactID string `json:"contact_id" validate:"required,max=128"`
}

// Create stores a new sequence.
// POST /api/v1/sequences
func (h *SequenceHandler) Create(c echo.Context) error {
	var req sequence.SaveSequenceRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seq, err := h.service.CreateSequence(ctx, req)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusCreated, seq)
}

// List returns every sequence.
// GET /api/v1/sequences
func (h *SequenceHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seqs, err := h.service.ListSequences(ctx)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sequences": seqs,
		"total":     len(seqs),
	})
}

// Get returns one sequence.
// GET /api/v1/sequences/:id
func (h *SequenceHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seq, err := h.service.GetSequence(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, seq)
}

// Update replaces a sequence definition.
// PUT /api/v1/sequences/:id
func (h *SequenceHandler) Update(c echo.Context) error {
	var req sequence.SaveSequenceRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seq, err := h.service.UpdateSequence(ctx, c.Param("id"), req)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, seq)
}

// Delete removes a sequence and withdraws its pending enrollments.
// DELETE /api/v1/sequences/:id
func (h *SequenceHandler) Delete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.service.DeleteSequence(ctx, c.Param("id")); err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Activate turns a sequence on.
// POST /api/v1/sequences/:id/activate
func (h *SequenceHandler) Activate(c echo.Context) error {
	return h.setActive(c, true)
}

// Deactivate turns a sequence off. Pending enrollments are kept.
// POST /api/v1/sequences/:id/deactivate
func (h *SequenceHandler) Deactivate(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *SequenceHandler) setActive(c echo.Context, active bool) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	seq, err := h.service.SetActive(ctx, c.Param("id"), active)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, seq)
}

// ListEnrollments returns the enrollments of a sequence, newest first.
// GET /api/v1/sequences/:id/enrollments
func (h *SequenceHandler) ListEnrollments(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id := c.Param("id")
	if _, err := h.service.GetSequence(ctx, id); err != nil {
		return apierrors.DomainError(c, err)
	}

	ens, err := h.engine.ListBySequence(ctx, id)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"enrollments": ens,
		"total":       len(ens),
	})
}

// Enroll manually enrolls a contact.
// POST /api/v1/sequences/:id/enrollments
func (h *SequenceHandler) Enroll(c echo.Context) error {
	var req EnrollRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	en, err := h.engine.Enroll(ctx, req.ContactID, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	h.log.Info("contact enrolled manually", "enrollment_id", en.ID, "operator", operator(c))
	return c.JSON(http.StatusCreated, en)
}
