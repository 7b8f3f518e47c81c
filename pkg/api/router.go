// Package api wires the HTTP handlers into an echo router.
package api

import (
	"github.com/jordanlanch/outreach/pkg/api/handlers"
	"github.com/jordanlanch/outreach/pkg/api/middleware"
	"github.com/labstack/echo/v4"
)

// Handlers groups every handler the API serves.
type Handlers struct {
	Sequences   *handlers.SequenceHandler
	Templates   *handlers.TemplateHandler
	Contacts    *handlers.ContactHandler
	Events      *handlers.EventHandler
	Enrollments *handlers.EnrollmentHandler
	Evaluations *handlers.EvaluationHandler
	Actions     *handlers.ActionHandler
	Health      *handlers.HealthHandler
}

// Register mounts the public routes on e and the versioned API under
// /api/v1. A non-empty jwtSecret puts the API behind bearer auth.
func Register(e *echo.Echo, h Handlers, jwtSecret string, mw ...echo.MiddlewareFunc) {
	e.GET("/health", h.Health.Health)

	if jwtSecret != "" {
		mw = append(mw, middleware.JWTMiddleware(jwtSecret))
	}
	v1 := e.Group("/api/v1", mw...)

	// Sequences
	v1.POST("/sequences", h.Sequences.Create)
	v1.GET("/sequences", h.Sequences.List)
	v1.GET("/sequences/:id", h.Sequences.Get)
	v1.PUT("/sequences/:id", h.Sequences.Update)
	v1.DELETE("/sequences/:id", h.Sequences.Delete)
	v1.POST("/sequences/:id/activate", h.Sequences.Activate)
	v1.POST("/sequences/:id/deactivate", h.Sequences.Deactivate)
	v1.GET("/sequences/:id/enrollments", h.Sequences.ListEnrollments)
	v1.POST("/sequences/:id/enrollments", h.Sequences.Enroll)

	// Templates (static path before :id)
	v1.GET("/templates/variants", h.Templates.Variants)
	v1.POST("/templates", h.Templates.Create)
	v1.GET("/templates", h.Templates.List)
	v1.GET("/templates/:id", h.Templates.Get)
	v1.PUT("/templates/:id", h.Templates.Update)
	v1.DELETE("/templates/:id", h.Templates.Delete)
	v1.POST("/templates/:id/preview", h.Templates.Preview)
	v1.POST("/templates/:id/opens", h.Templates.RecordOpens)

	// Contacts
	v1.GET("/contacts/follow-up", h.Contacts.FollowUp)
	v1.PUT("/contacts/:id", h.Contacts.Upsert)
	v1.GET("/contacts/:id/health", h.Contacts.Health)
	v1.GET("/contacts/:id/enrollments", h.Contacts.Enrollments)

	// Events
	v1.POST("/events/stage-change", h.Events.StageChange)

	// Enrollments
	v1.GET("/enrollments/counts", h.Enrollments.Counts)
	v1.GET("/enrollments/:id", h.Enrollments.Get)
	v1.POST("/enrollments/:id/withdraw", h.Enrollments.Withdraw)

	// Evaluations and the action outbox
	v1.POST("/evaluations", h.Evaluations.Run)
	v1.GET("/actions", h.Actions.List)
}
