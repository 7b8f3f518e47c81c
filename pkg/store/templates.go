package store

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/models"
)

const tableTemplates = "email_templates"

var templateColumns = []string{"id", "name", "template_type", "variant_group", "subject", "body", "send_count", "open_count", "created_at", "updated_at"}

// CreateTemplate stores a new template.
func (s *Store) CreateTemplate(ctx context.Context, t *models.EmailTemplate) error {
	query, args := s.b.Insert(tableTemplates).
		Columns(templateColumns...).
		Values(t.ID, t.Name, string(t.TemplateType), t.VariantGroup, t.Subject, t.Body, t.SendCount, t.OpenCount, utc(t.CreatedAt), utc(t.UpdatedAt)).
		Query()
	if _, err := s.exec(ctx, s.drv, query, args); err != nil {
		if isUniqueViolation(err) {
			return domain.NewConflictError("template already exists")
		}
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

// UpdateTemplate replaces a template's content. Counters are only changed
// through Dispatch and RecordOpens.
func (s *Store) UpdateTemplate(ctx context.Context, t *models.EmailTemplate) error {
	query, args := s.b.Update(tableTemplates).
		Set("name", t.Name).
		Set("template_type", string(t.TemplateType)).
		Set("variant_group", t.VariantGroup).
		Set("subject", t.Subject).
		Set("body", t.Body).
		Set("updated_at", utc(t.UpdatedAt)).
		Where(entsql.EQ("id", t.ID)).
		Query()
	n, err := s.exec(ctx, s.drv, query, args)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError("template")
	}
	return nil
}

// GetTemplate loads a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*models.EmailTemplate, error) {
	ts, err := s.loadTemplates(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, domain.NewNotFoundError("template")
	}
	return ts[0], nil
}

// ListTemplates loads every template in creation order.
func (s *Store) ListTemplates(ctx context.Context) ([]*models.EmailTemplate, error) {
	return s.loadTemplates(ctx, nil)
}

func (s *Store) loadTemplates(ctx context.Context, where *entsql.Predicate) ([]*models.EmailTemplate, error) {
	selector := s.b.Select(templateColumns...).
		From(s.b.Table(tableTemplates)).
		OrderBy("created_at", "id")
	if where != nil {
		selector.Where(where)
	}

	var ts []*models.EmailTemplate
	query, args := selector.Query()
	err := s.query(ctx, s.drv, query, args, func(rows *entsql.Rows) error {
		var (
			t    models.EmailTemplate
			kind string
		)
		if err := rows.Scan(&t.ID, &t.Name, &kind, &t.VariantGroup, &t.Subject, &t.Body, &t.SendCount, &t.OpenCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan template: %w", err)
		}
		t.TemplateType = models.TemplateType(kind)
		t.CreatedAt = utc(t.CreatedAt)
		t.UpdatedAt = utc(t.UpdatedAt)
		ts = append(ts, &t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	return ts, nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	query, args := s.b.Delete(tableTemplates).Where(entsql.EQ("id", id)).Query()
	n, err := s.exec(ctx, s.drv, query, args)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n == 0 {
		return domain.NewNotFoundError("template")
	}
	return nil
}

// RecordOpens adds n to a template's open counter.
func (s *Store) RecordOpens(ctx context.Context, id string, n int) error {
	query, args := s.b.Update(tableTemplates).
		Add("open_count", n).
		Where(entsql.EQ("id", id)).
		Query()
	affected, err := s.exec(ctx, s.drv, query, args)
	if err != nil {
		return fmt.Errorf("failed to record opens: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFoundError("template")
	}
	return nil
}
