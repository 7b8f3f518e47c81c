package models

import "time"

// PartnershipType classifies the commercial relationship with a contact.
type PartnershipType string

const (
	PartnershipNone    PartnershipType = ""
	PartnershipSale    PartnershipType = "SALE"
	PartnershipPartner PartnershipType = "PARTNER"
)

// PartnerDetails tracks deliverables for partner contacts.
type PartnerDetails struct {
	DeliverablesAgreed    int `json:"deliverables_agreed"`
	DeliverablesDelivered int `json:"deliverables_delivered"`
}

// Outstanding returns how many agreed deliverables are still open.
func (p PartnerDetails) Outstanding() int {
	if p.DeliverablesDelivered >= p.DeliverablesAgreed {
		return 0
	}
	return p.DeliverablesAgreed - p.DeliverablesDelivered
}

// Interaction is one logged touchpoint with a contact.
type Interaction struct {
	Type       string    `json:"type"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Contact is the read-only snapshot of a relationship the engine works from.
// Interactions are most-recent-first by convention.
type Contact struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email,omitempty"`
	Location        string          `json:"location,omitempty"`
	InstagramHandle string          `json:"instagram_handle,omitempty"`
	Followers       *int            `json:"followers,omitempty"`
	PipelineStage   string          `json:"pipeline_stage"`
	LastContacted   *time.Time      `json:"last_contacted,omitempty"`
	PartnershipType PartnershipType `json:"partnership_type,omitempty"`
	PartnerDetails  *PartnerDetails `json:"partner_details,omitempty"`
	Interactions    []Interaction   `json:"interactions,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StageChange is the inbound event emitted when a contact moves between
// pipeline stages. OldStage is empty for newly created contacts.
type StageChange struct {
	ContactID string `json:"contact_id" validate:"required"`
	OldStage  string `json:"old_stage"`
	NewStage  string `json:"new_stage" validate:"required"`
}
