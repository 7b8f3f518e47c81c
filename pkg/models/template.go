package models

import (
	"strings"
	"time"
)

// TemplateType categorises email templates.
type TemplateType string

const (
	TemplateOutreach TemplateType = "outreach"
	TemplateFollowUp TemplateType = "follow_up"
	TemplateCheckIn  TemplateType = "check_in"
	TemplateCustom   TemplateType = "custom"
)

// Valid reports whether t is one of the known template types.
func (t TemplateType) Valid() bool {
	switch t {
	case TemplateOutreach, TemplateFollowUp, TemplateCheckIn, TemplateCustom:
		return true
	}
	return false
}

// EmailTemplate is a reusable subject/body pair with personalization tokens.
// OpenCount above SendCount is tolerated as data.
type EmailTemplate struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	TemplateType TemplateType `json:"template_type"`
	VariantGroup string       `json:"variant_group,omitempty"`
	Subject      string       `json:"subject"`
	Body         string       `json:"body"`
	SendCount    int          `json:"send_count"`
	OpenCount    int          `json:"open_count"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Group returns the trimmed variant group; empty means the template is solo.
func (t *EmailTemplate) Group() string {
	return strings.TrimSpace(t.VariantGroup)
}

// OpenRate is opens per send, zero when nothing was sent.
func (t *EmailTemplate) OpenRate() float64 {
	if t.SendCount <= 0 {
		return 0
	}
	return float64(t.OpenCount) / float64(t.SendCount)
}
