package store

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/outreach/pkg/domain"
	"github.com/jordanlanch/outreach/pkg/models"
)

const tableContacts = "contacts"

var contactColumns = []string{
	"id", "name", "email", "location", "instagram_handle", "followers",
	"pipeline_stage", "last_contacted", "partnership_type",
	"deliverables_agreed", "deliverables_delivered", "interactions", "tags", "updated_at",
}

// UpsertContact stores a contact snapshot, replacing any previous one. It
// returns the stage held before the write and whether the contact existed.
func (s *Store) UpsertContact(ctx context.Context, c *models.Contact) (previousStage string, existed bool, err error) {
	interactions, err := marshalJSON(nonNilInteractions(c.Interactions))
	if err != nil {
		return "", false, err
	}
	tags, err := marshalJSON(nonNilStrings(c.Tags))
	if err != nil {
		return "", false, err
	}

	var agreed, delivered *int
	if c.PartnerDetails != nil {
		agreed = &c.PartnerDetails.DeliverablesAgreed
		delivered = &c.PartnerDetails.DeliverablesDelivered
	}

	err = s.withTx(ctx, func(tx dialect.Tx) error {
		prev, err := s.loadContacts(ctx, tx, entsql.EQ("id", c.ID))
		if err != nil {
			return err
		}
		if len(prev) > 0 {
			previousStage, existed = prev[0].PipelineStage, true
		}

		query, args := s.b.Insert(tableContacts).
			Columns(contactColumns...).
			Values(
				c.ID, c.Name, c.Email, c.Location, c.InstagramHandle, nullInt(c.Followers),
				c.PipelineStage, nullTime(c.LastContacted), string(c.PartnershipType),
				nullInt(agreed), nullInt(delivered), interactions, tags, utc(c.UpdatedAt),
			).
			OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
			Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to upsert contact: %w", err)
		}
		return nil
	})
	return previousStage, existed, err
}

// SetContactStage moves a stored contact to stage and returns the stage it
// held before.
func (s *Store) SetContactStage(ctx context.Context, id, stage string) (string, error) {
	var previous string
	err := s.withTx(ctx, func(tx dialect.Tx) error {
		prev, err := s.loadContacts(ctx, tx, entsql.EQ("id", id))
		if err != nil {
			return err
		}
		if len(prev) == 0 {
			return domain.NewNotFoundError("contact")
		}
		previous = prev[0].PipelineStage

		query, args := s.b.Update(tableContacts).
			Set("pipeline_stage", stage).
			Set("updated_at", utc(s.now())).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := s.exec(ctx, tx, query, args); err != nil {
			return fmt.Errorf("failed to update contact stage: %w", err)
		}
		return nil
	})
	return previous, err
}

// GetContact loads a contact snapshot.
func (s *Store) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	cs, err := s.loadContacts(ctx, s.drv, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, domain.NewNotFoundError("contact")
	}
	return cs[0], nil
}

// ListContacts loads every contact snapshot ordered by name.
func (s *Store) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	return s.loadContacts(ctx, s.drv, nil)
}

func (s *Store) loadContacts(ctx context.Context, q dialect.ExecQuerier, where *entsql.Predicate) ([]*models.Contact, error) {
	selector := s.b.Select(contactColumns...).
		From(s.b.Table(tableContacts)).
		OrderBy("name", "id")
	if where != nil {
		selector.Where(where)
	}

	var cs []*models.Contact
	query, args := selector.Query()
	err := s.query(ctx, q, query, args, func(rows *entsql.Rows) error {
		var (
			c                  models.Contact
			followers          sql.NullInt64
			lastContacted      sql.NullTime
			partnership        string
			agreed, delivered  sql.NullInt64
			interactions, tags string
		)
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.Location, &c.InstagramHandle, &followers,
			&c.PipelineStage, &lastContacted, &partnership,
			&agreed, &delivered, &interactions, &tags, &c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan contact: %w", err)
		}

		c.Followers = intPtr(followers)
		c.LastContacted = timePtr(lastContacted)
		c.PartnershipType = models.PartnershipType(partnership)
		c.UpdatedAt = utc(c.UpdatedAt)
		if agreed.Valid || delivered.Valid {
			c.PartnerDetails = &models.PartnerDetails{
				DeliverablesAgreed:    int(agreed.Int64),
				DeliverablesDelivered: int(delivered.Int64),
			}
		}
		if err := unmarshalJSON(interactions, &c.Interactions); err != nil {
			return err
		}
		if err := unmarshalJSON(tags, &c.Tags); err != nil {
			return err
		}
		cs = append(cs, &c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	return cs, nil
}

func nonNilInteractions(v []models.Interaction) []models.Interaction {
	if v == nil {
		return []models.Interaction{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
