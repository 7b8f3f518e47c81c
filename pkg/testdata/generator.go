// Package testdata builds fake contacts, templates and sequences for tests
// and local demos.
package testdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/sequence"
)

// DefaultStages is a typical creator-outreach pipeline.
var DefaultStages = []string{"Lead", "Contacted", "Negotiating", "Partner", "Closed"}

var interactionTypes = []string{"email", "dm", "call", "meeting"}

// ContactGeneratorConfig configures contact generation
type ContactGeneratorConfig struct {
	Count            int
	Stages           []string
	EmailChance      float64 // 0.0-1.0
	InstagramChance  float64
	PartnerChance    float64
	MaxInteractions  int
	MaxDaysSinceSeen int
	Now              time.Time
}

// DefaultContactConfig returns a config producing mostly complete contacts.
func DefaultContactConfig(count int, now time.Time) ContactGeneratorConfig {
	return ContactGeneratorConfig{
		Count:            count,
		Stages:           DefaultStages,
		EmailChance:      0.9,
		InstagramChance:  0.7,
		PartnerChance:    0.2,
		MaxInteractions:  4,
		MaxDaysSinceSeen: 60,
		Now:              now,
	}
}

// Generator wraps a seeded faker so fixtures are reproducible.
type Generator struct {
	faker *gofakeit.Faker
}

// New creates a generator; equal seeds produce equal fixtures.
func New(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

func (g *Generator) chance(p float64) bool {
	return g.faker.Float64Range(0, 1) < p
}

// Contacts generates cfg.Count contact snapshots. Interactions are
// most-recent-first.
func (g *Generator) Contacts(cfg ContactGeneratorConfig) []*models.Contact {
	stages := cfg.Stages
	if len(stages) == 0 {
		stages = DefaultStages
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	contacts := make([]*models.Contact, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		contacts = append(contacts, g.contact(cfg, stages, now))
	}
	return contacts
}

func (g *Generator) contact(cfg ContactGeneratorConfig, stages []string, now time.Time) *models.Contact {
	f := g.faker
	name := f.Name()
	c := &models.Contact{
		ID:            f.UUID(),
		Name:          name,
		Location:      f.City(),
		PipelineStage: f.RandomString(stages),
		UpdatedAt:     now,
	}

	if g.chance(cfg.EmailChance) {
		c.Email = strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@" + f.DomainName()
	}
	if g.chance(cfg.InstagramChance) {
		c.InstagramHandle = "@" + strings.ToLower(f.Username())
		followers := f.Number(500, 2_000_000)
		c.Followers = &followers
	}
	if g.chance(cfg.PartnerChance) {
		agreed := f.Number(1, 10)
		c.PartnershipType = models.PartnershipPartner
		c.PartnerDetails = &models.PartnerDetails{
			DeliverablesAgreed:    agreed,
			DeliverablesDelivered: f.Number(0, agreed),
		}
	}

	if cfg.MaxDaysSinceSeen > 0 && g.chance(0.85) {
		last := now.Add(-time.Duration(f.Number(0, cfg.MaxDaysSinceSeen)) * 24 * time.Hour)
		c.LastContacted = &last

		n := 0
		if cfg.MaxInteractions > 0 {
			n = f.Number(0, cfg.MaxInteractions)
		}
		at := last
		for j := 0; j < n; j++ {
			c.Interactions = append(c.Interactions, models.Interaction{
				Type:       f.RandomString(interactionTypes),
				Note:       f.Sentence(6),
				OccurredAt: at,
			})
			at = at.Add(-time.Duration(f.Number(1, 10)) * 24 * time.Hour)
		}
	}

	c.Tags = []string{strings.ToLower(f.HipsterWord())}
	return c
}

// Template generates an outreach template using every personalization token.
func (g *Generator) Template(group string, now time.Time) *models.EmailTemplate {
	f := g.faker
	return &models.EmailTemplate{
		ID:           f.UUID(),
		Name:         fmt.Sprintf("%s %s", f.BuzzWord(), f.Noun()),
		TemplateType: models.TemplateOutreach,
		VariantGroup: group,
		Subject:      "Hi {name}, quick idea for {instagram}",
		Body:         "Loved your work in {location}. With {followers} followers, {product} could be a great fit.",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Sequence generates an active sequence triggered by stage whose steps cover
// every action type. templateID may be empty.
func (g *Generator) Sequence(stage, templateID string, now time.Time) *sequence.Sequence {
	f := g.faker
	return &sequence.Sequence{
		ID:           f.UUID(),
		Name:         fmt.Sprintf("%s outreach", f.HipsterWord()),
		Description:  f.Sentence(8),
		TriggerStage: stage,
		IsActive:     true,
		Steps: []sequence.Step{
			{ID: f.UUID(), DayOffset: 0, ActionType: sequence.ActionEmailDraft, TemplateID: templateID},
			{ID: f.UUID(), DayOffset: 3, ActionType: sequence.ActionNote, NoteText: f.Sentence(5)},
			{ID: f.UUID(), DayOffset: 7, ActionType: sequence.ActionTask, TaskTitle: "Follow up with " + f.FirstName()},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
