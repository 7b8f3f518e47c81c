package errors

import (
	stderrors "errors"
	"log"
	"net/http"

	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/labstack/echo/v4"
)

// detailer is implemented by errors carrying several messages, such as the
// list of sequence validation violations.
type detailer interface {
	Strings() []string
}

// ValidationError returns a generic validation error for malformed requests
func ValidationError(c echo.Context, err error) error {
	log.Printf("[VALIDATION ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Printf("[INTERNAL ERROR] Path: %s, Error: %v", c.Request().URL.Path, err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// NotFoundError returns a not found error for resource
func NotFoundError(c echo.Context, resource string) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: resource + " not found",
	})
}

// DomainError maps a domain error to its HTTP status. Validation failures
// expose every violation in Details; unknown errors stay opaque.
func DomainError(c echo.Context, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeValidation:
		resp := models.ErrorResponse{
			Error:   "validation_error",
			Message: domain.GetErrorMessage(err),
		}
		var d detailer
		if stderrors.As(err, &d) {
			resp.Details = d.Strings()
		}
		return c.JSON(http.StatusBadRequest, resp)
	case domain.ErrCodeBadRequest:
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: domain.GetErrorMessage(err),
		})
	case domain.ErrCodeNotFound:
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: domain.GetErrorMessage(err),
		})
	case domain.ErrCodeConflict:
		return c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "conflict",
			Message: domain.GetErrorMessage(err),
		})
	default:
		return InternalError(c, err)
	}
}
