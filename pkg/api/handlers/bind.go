package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/api/middleware"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/labstack/echo/v4"
)

// bind decodes the request into req and validates it. When ok is false the
// error response has been written and err is what the handler should return.
func bind(c echo.Context, v *validator.Validate, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request body",
		})
	}
	if err := v.Struct(req); err != nil {
		return false, apierrors.ValidationError(c, err)
	}
	return true, nil
}

// operator names the authenticated caller for logs; "anonymous" when auth is off.
func operator(c echo.Context) string {
	if op := middleware.Operator(c); op != "" {
		return op
	}
	return "anonymous"
}
