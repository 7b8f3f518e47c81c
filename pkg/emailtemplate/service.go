// Package emailtemplate manages reusable email templates and renders
// previews against stored contacts.
package emailtemplate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/personalize"
)

// Repository persists templates. Lookups of unknown ids return a domain
// not-found error.
type Repository interface {
	CreateTemplate(ctx context.Context, t *models.EmailTemplate) error
	UpdateTemplate(ctx context.Context, t *models.EmailTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.EmailTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.EmailTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
	RecordOpens(ctx context.Context, id string, n int) error
}

// ContactReader reads contact snapshots.
type ContactReader interface {
	GetContact(ctx context.Context, id string) (*models.Contact, error)
}

// Service handles template operations
type Service struct {
	repo        Repository
	contacts    ContactReader
	productName string
	log         logger.Logger
}

// NewService creates a new template service. productName fills the
// {product} token in previews.
func NewService(repo Repository, contacts ContactReader, productName string, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, contacts: contacts, productName: productName, log: log}
}

// SaveTemplateRequest creates or replaces a template.
type SaveTemplateRequest struct {
	Name         string              `json:"name" validate:"required,max=200"`
	TemplateType models.TemplateType `json:"template_type,omitempty" validate:"omitempty,oneof=outreach follow_up check_in custom"`
	VariantGroup string              `json:"variant_group,omitempty" validate:"max=100"`
	Subject      string              `json:"subject" validate:"max=500"`
	Body         string              `json:"body" validate:"max=20000"`
}

// PreviewRequest names the contact a template is rendered against.
type PreviewRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
}

// PreviewResponse is a rendered template plus any tokens left unresolved.
type PreviewResponse struct {
	TemplateID    string   `json:"template_id"`
	ContactID     string   `json:"contact_id"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	UnknownTokens []string `json:"unknown_tokens,omitempty"`
}

func (req SaveTemplateRequest) check() error {
	if strings.TrimSpace(req.Name) == "" {
		return domain.NewValidationError("name is required")
	}
	if req.TemplateType != "" && !req.TemplateType.Valid() {
		return domain.NewValidationError(fmt.Sprintf("unknown template type %q", req.TemplateType))
	}
	return nil
}

func (req SaveTemplateRequest) templateType() models.TemplateType {
	if req.TemplateType == "" {
		return models.TemplateCustom
	}
	return req.TemplateType
}

// CreateTemplate stores a new template with zeroed counters.
func (s *Service) CreateTemplate(ctx context.Context, req SaveTemplateRequest) (*models.EmailTemplate, error) {
	if err := req.check(); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &models.EmailTemplate{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		TemplateType: req.templateType(),
		VariantGroup: strings.TrimSpace(req.VariantGroup),
		Subject:      req.Subject,
		Body:         req.Body,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.log.Info("template created", "template_id", t.ID, "variant_group", t.VariantGroup)
	return t, nil
}

// UpdateTemplate replaces a template's content. Counters are preserved.
func (s *Service) UpdateTemplate(ctx context.Context, id string, req SaveTemplateRequest) (*models.EmailTemplate, error) {
	if err := req.check(); err != nil {
		return nil, err
	}

	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	t.Name = strings.TrimSpace(req.Name)
	t.TemplateType = req.templateType()
	t.VariantGroup = strings.TrimSpace(req.VariantGroup)
	t.Subject = req.Subject
	t.Body = req.Body
	t.UpdatedAt = time.Now()

	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return t, nil
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id string) (*models.EmailTemplate, error) {
	return s.repo.GetTemplate(ctx, id)
}

// ListTemplates lists templates in creation order.
func (s *Service) ListTemplates(ctx context.Context) ([]*models.EmailTemplate, error) {
	ts, err := s.repo.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return ts, nil
}

// DeleteTemplate removes a template. Steps naming it degrade to blank
// compose drafts.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	return s.repo.DeleteTemplate(ctx, id)
}

// RecordOpens adds n opens to a template's counter.
func (s *Service) RecordOpens(ctx context.Context, id string, n int) error {
	if n <= 0 {
		return domain.NewValidationError("count must be positive")
	}
	if err := s.repo.RecordOpens(ctx, id, n); err != nil {
		return err
	}
	return nil
}

// Preview resolves a template against a stored contact.
func (s *Service) Preview(ctx context.Context, templateID string, req PreviewRequest) (*PreviewResponse, error) {
	t, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	c, err := s.contacts.GetContact(ctx, req.ContactID)
	if err != nil {
		return nil, err
	}

	rendered := personalize.ResolveTemplate(t, personalize.FieldsFromContact(c), s.productName)
	unknown := personalize.UnknownTokens(t.Subject + "\n" + t.Body)

	return &PreviewResponse{
		TemplateID:    t.ID,
		ContactID:     c.ID,
		Subject:       rendered.Subject,
		Body:          rendered.Body,
		UnknownTokens: unknown,
	}, nil
}
