package middleware

import (
	"net/http"
	"strings"

	"github.com/jordanlanch/outreach/pkg/auth"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/labstack/echo/v4"
)

// OperatorKey is the echo context key holding the authenticated operator.
const OperatorKey = "operator"

// JWTMiddleware creates a JWT authentication middleware
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Get authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			// Check Bearer prefix
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token_format",
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}

			claims, err := auth.ValidateJWT(parts[1], secret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: err.Error(),
				})
			}

			c.Set(OperatorKey, claims.Operator)
			return next(c)
		}
	}
}

// Operator returns the operator set by JWTMiddleware, or "" when auth is off.
func Operator(c echo.Context) string {
	op, _ := c.Get(OperatorKey).(string)
	return op
}
