package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/labstack/echo/v4"
)

// Evaluator runs one evaluation pass.
type Evaluator interface {
	Tick(ctx context.Context, asOf time.Time) (*automation.TickReport, error)
}

// EvaluationHandler triggers evaluation ticks on demand.
type EvaluationHandler struct {
	evaluator Evaluator
	validator *validator.Validate
	log       logger.Logger
	now       func() time.Time
}

// NewEvaluationHandler creates a new evaluation handler.
func NewEvaluationHandler(evaluator Evaluator, log logger.Logger) *EvaluationHandler {
	return &EvaluationHandler{
		evaluator: evaluator,
		validator: validator.New(),
		log:       log,
		now:       time.Now,
	}
}

// EvaluationRequest optionally pins the evaluation instant, e.g. to replay a
// missed window. It defaults to now.
type EvaluationRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// Run evaluates every pending enrollment and returns the tick report.
// POST /api/v1/evaluations
func (h *EvaluationHandler) Run(c echo.Context) error {
	var req EvaluationRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	asOf := h.now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Minute)
	defer cancel()

	report, err := h.evaluator.Tick(ctx, asOf)
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	h.log.Info("evaluation triggered", "operator", operator(c), "as_of", asOf, "fired", report.Fired)
	return c.JSON(http.StatusOK, report)
}
