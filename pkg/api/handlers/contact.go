package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/outreach/pkg/api/errors"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/healthscore"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/labstack/echo/v4"
)

// ContactStore persists contact snapshots.
type ContactStore interface {
	UpsertContact(ctx context.Context, c *models.Contact) (previousStage string, existed bool, err error)
	SetContactStage(ctx context.Context, id, stage string) (string, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// ContactHandler handles contact snapshots, their health and their
// enrollments.
type ContactHandler struct {
	contacts  ContactStore
	engine    *enrollment.Engine
	validator *validator.Validate
	log       logger.Logger
	now       func() time.Time
}

// NewContactHandler creates a new contact handler.
func NewContactHandler(contacts ContactStore, engine *enrollment.Engine, log logger.Logger) *ContactHandler {
	return &ContactHandler{
		contacts:  contacts,
		engine:    engine,
		validator: validator.New(),
		log:       log,
		now:       time.Now,
	}
}

// ContactRequest is a full contact snapshot as pushed by the CRM.
type ContactRequest struct {
	Name            string                 `json:"name" validate:"required,max=200"`
	Email           string                 `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Location        string                 `json:"location,omitempty" validate:"max=200"`
	InstagramHandle string                 `json:"instagram_handle,omitempty" validate:"max=100"`
	Followers       *int                   `json:"followers,omitempty" validate:"omitempty,min=0"`
	PipelineStage   string                 `json:"pipeline_stage" validate:"required,max=100"`
	LastContacted   *LenientTime           `json:"last_contacted,omitempty"`
	PartnershipType models.PartnershipType `json:"partnership_type,omitempty" validate:"omitempty,oneof=SALE PARTNER"`
	PartnerDetails  *models.PartnerDetails `json:"partner_details,omitempty"`
	Interactions    []models.Interaction   `json:"interactions,omitempty" validate:"max=500"`
	Tags            []string               `json:"tags,omitempty" validate:"max=50"`
}

// UpsertResponse is the stored snapshot plus the effect of any stage change.
type UpsertResponse struct {
	Contact     *models.Contact               `json:"contact"`
	StageChange *enrollment.StageChangeResult `json:"stage_change,omitempty"`
}

// Upsert stores a contact snapshot. A new contact, or a stored one whose
// stage differs, is run through the enrollment engine as a stage change.
// PUT /api/v1/contacts/:id
func (h *ContactHandler) Upsert(c echo.Context) error {
	var req ContactRequest
	if ok, err := bind(c, h.validator, &req); !ok {
		return err
	}
	stage := strings.TrimSpace(req.PipelineStage)
	if !h.engine.KnownStage(stage) {
		return apierrors.DomainError(c, domain.NewValidationError(fmt.Sprintf("unknown pipeline stage %q", stage)))
	}

	if req.LastContacted.Invalid() {
		h.log.Warn("unreadable last_contacted, treating contact as never contacted", "contact_id", c.Param("id"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	contact := &models.Contact{
		ID:              c.Param("id"),
		Name:            strings.TrimSpace(req.Name),
		Email:           strings.TrimSpace(req.Email),
		Location:        req.Location,
		InstagramHandle: req.InstagramHandle,
		Followers:       req.Followers,
		PipelineStage:   stage,
		LastContacted:   req.LastContacted.Ptr(),
		PartnershipType: req.PartnershipType,
		PartnerDetails:  req.PartnerDetails,
		Interactions:    req.Interactions,
		Tags:            req.Tags,
		UpdatedAt:       h.now().UTC(),
	}

	previous, existed, err := h.contacts.UpsertContact(ctx, contact)
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	resp := UpsertResponse{Contact: contact}
	if !existed || previous != stage {
		res, err := h.engine.HandleStageChange(ctx, models.StageChange{
			ContactID: contact.ID,
			OldStage:  previous,
			NewStage:  stage,
		})
		if err != nil {
			// the snapshot is stored; failed sequences can be replayed via /events/stage-change
			h.log.Error("stage change after contact upsert failed", "contact_id", contact.ID, "error", err)
		}
		resp.StageChange = res
	}

	return c.JSON(http.StatusOK, resp)
}

// Health scores one contact.
// GET /api/v1/contacts/:id/health
func (h *ContactHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	contact, err := h.contacts.GetContact(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, healthscore.Evaluate(contact, h.now()))
}

// FollowUp lists contacts below the warm threshold, coldest first, with the
// level distribution across every contact.
// GET /api/v1/contacts/follow-up
func (h *ContactHandler) FollowUp(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	contacts, err := h.contacts.ListContacts(ctx)
	if err != nil {
		return apierrors.DomainError(c, err)
	}

	now := h.now()
	queue := healthscore.FollowUpQueue(contacts, now)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"contacts":     queue,
		"total":        len(queue),
		"distribution": healthscore.Distribution(contacts, now),
	})
}

// Enrollments lists a contact's enrollments, newest first.
// GET /api/v1/contacts/:id/enrollments
func (h *ContactHandler) Enrollments(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	ens, err := h.engine.ListByContact(ctx, c.Param("id"))
	if err != nil {
		return apierrors.DomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"enrollments": ens,
		"total":       len(ens),
	})
}
