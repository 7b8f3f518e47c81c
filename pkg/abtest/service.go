// Package abtest groups email templates into variant cohorts and picks the
// best performing member of each cohort.
package abtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/models"
)

// VariantResult holds results for a single template in a group
type VariantResult struct {
	TemplateID string  `json:"template_id"`
	Name       string  `json:"name"`
	Sends      int     `json:"sends"`
	Opens      int     `json:"opens"`
	OpenRate   float64 `json:"open_rate"`
}

// GroupResults holds complete results for a variant group
type GroupResults struct {
	Group      string          `json:"group"`
	Variants   []VariantResult `json:"variants"`
	TotalSends int             `json:"total_sends"`
	TotalOpens int             `json:"total_opens"`
	WinnerID   string          `json:"winner_id,omitempty"`
}

// Groups maps each non-empty variant group to its member template ids in
// the order they were encountered. Solo templates are left out.
func Groups(templates []*models.EmailTemplate) map[string][]string {
	groups := make(map[string][]string)
	for _, t := range templates {
		g := t.Group()
		if g == "" {
			continue
		}
		groups[g] = append(groups[g], t.ID)
	}
	return groups
}

// Winner returns the member with the highest open rate among those with at
// least one send. Ties keep the earliest member. ok is false when no member
// has been sent yet.
func Winner(members []*models.EmailTemplate) (winner *models.EmailTemplate, ok bool) {
	best := -1.0
	for _, t := range members {
		if t.SendCount <= 0 {
			continue
		}
		if rate := t.OpenRate(); rate > best {
			best = rate
			winner = t
		}
	}
	return winner, winner != nil
}

// Report builds results for every variant group, sorted by group name.
func Report(templates []*models.EmailTemplate) []GroupResults {
	members := make(map[string][]*models.EmailTemplate)
	for _, t := range templates {
		if g := t.Group(); g != "" {
			members[g] = append(members[g], t)
		}
	}

	results := make([]GroupResults, 0, len(members))
	for group, ts := range members {
		results = append(results, groupResults(group, ts))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Group < results[j].Group })
	return results
}

func groupResults(group string, members []*models.EmailTemplate) GroupResults {
	res := GroupResults{Group: group, Variants: make([]VariantResult, 0, len(members))}
	for _, t := range members {
		res.Variants = append(res.Variants, VariantResult{
			TemplateID: t.ID,
			Name:       t.Name,
			Sends:      t.SendCount,
			Opens:      t.OpenCount,
			OpenRate:   t.OpenRate() * 100,
		})
		res.TotalSends += t.SendCount
		res.TotalOpens += t.OpenCount
	}
	if w, ok := Winner(members); ok {
		res.WinnerID = w.ID
	}
	return res
}

// TemplateLister lists templates in creation order.
type TemplateLister interface {
	ListTemplates(ctx context.Context) ([]*models.EmailTemplate, error)
}

// Service handles variant group reporting
type Service struct {
	templates TemplateLister
}

// NewService creates a new variant reporting service
func NewService(templates TemplateLister) *Service {
	return &Service{templates: templates}
}

// Results returns results for every variant group.
func (s *Service) Results(ctx context.Context) ([]GroupResults, error) {
	ts, err := s.templates.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return Report(ts), nil
}

// GroupResults returns results for a single variant group.
func (s *Service) GroupResults(ctx context.Context, group string) (*GroupResults, error) {
	ts, err := s.templates.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var members []*models.EmailTemplate
	for _, t := range ts {
		if t.Group() == group {
			members = append(members, t)
		}
	}
	if group == "" || len(members) == 0 {
		return nil, domain.NewNotFoundError("variant group")
	}

	res := groupResults(group, members)
	return &res, nil
}
