package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/labstack/echo/v4"
)

// EnrollmentHandler handles enrollment reads and manual withdrawal.
type EnrollmentHandler struct {
	engine    *enrollment.Engine
	validator *validator.Validate
	log       logger.Logger
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(engine *enrollment.Engine, log logger.Logger) *EnrollmentHandler {
	return &EnrollmentHandler{
		engine:    engine,
		validator: validator.New(),
		log:       log,
	}
}

// WithdrawRequest optionally explains a manual withdrawal.
type WithdrawRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// Counts returns pending enrollments per sequence id.
// GET /api/v1/enrollments/counts
func (h *EnrollmentHandler) Counts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	counts, err := h.engine.ActiveCounts(ctx)
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"counts": counts,
		"total":  total,
	})
}

// Get returns one enrollment.
// GET /api/v1/enrollments/:id
func (h *EnrollmentHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	en, err := h.engine.GetEnrollment(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, en)
}

// Withdraw ends a pending enrollment.
// POST /api/v1/enrollments/:id/withdraw
func (h *EnrollmentHandler) Withdraw(c echo.Context) error {
	var req WithdrawRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	en, err := h.engine.Withdraw(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	h.log.Info("enrollment withdrawn manually", "enrollment_id", en.ID, "operator", operator(c))
	return c.JSON(http.StatusOK, en)
}
