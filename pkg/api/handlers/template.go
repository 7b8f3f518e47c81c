package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/outreach/pkg/abtest"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/emailtemplate"
	"github.com/labstack/echo/v4"
)

// TemplateHandler handles email templates and their A/B variant results.
type TemplateHandler struct {
	service   *emailtemplate.Service
	variants  *abtest.Service
	validator *validator.Validate
}

// NewTemplateHandler creates a new template handler.
func NewTemplateHandler(service *emailtemplate.Service, variants *abtest.Service) *TemplateHandler {
	return &TemplateHandler{
		service:   service,
		variants:  variants,
		validator: validator.New(),
	}
}

// RecordOpensRequest reports opens observed for a template.
type RecordOpensRequest struct {
	Count int `json:"count" validate:"required,min=1,max=100000"`
}

// Create stores a new template.
// POST /api/v1/templates
func (h *TemplateHandler) Create(c echo.Context) error {
	var req emailtemplate.SaveTemplateRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.service.CreateTemplate(ctx, req)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// List returns every template.
// GET /api/v1/templates
func (h *TemplateHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ts, err := h.service.ListTemplates(ctx)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"templates": ts,
		"total":     len(ts),
	})
}

// Get returns one template.
// GET /api/v1/templates/:id
func (h *TemplateHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.service.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Update replaces a template's content. Counters are kept.
// PUT /api/v1/templates/:id
func (h *TemplateHandler) Update(c echo.Context) error {
	var req emailtemplate.SaveTemplateRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.service.UpdateTemplate(ctx, c.Param("id"), req)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Delete removes a template. Steps still naming it fall back to a blank
// compose action.
// DELETE /api/v1/templates/:id
func (h *TemplateHandler) Delete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.service.DeleteTemplate(ctx, c.Param("id")); err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Preview renders a template for a stored contact.
// POST /api/v1/templates/:id/preview
func (h *TemplateHandler) Preview(c echo.Context) error {
	var req emailtemplate.PreviewRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp, err := h.service.Preview(ctx, c.Param("id"), req)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RecordOpens adds opens to a template's counter.
// POST /api/v1/templates/:id/opens
func (h *TemplateHandler) RecordOpens(c echo.Context) error {
	var req RecordOpensRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.service.RecordOpens(ctx, c.Param("id"), req.Count); err != nil {
		return apierrors.DomainError(c, err)
	}

	t, err := h.service.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// Variants reports every variant group with its winner, or one group when
// ?group= is given.
// GET /api/v1/templates/variants
func (h *TemplateHandler) Variants(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if group := c.QueryParam("group"); group != "" {
		res, err := h.variants.GroupResults(ctx, group)
		if err != nil {
			return apierrors.DomainError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}

	groups, err := h.variants.Results(ctx)
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"groups": groups,
		"total":  len(groups),
	})
}
