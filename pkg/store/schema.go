package store

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
)

// schema is applied in order. {ts} becomes the dialect's timestamp type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sequences (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		trigger_stage TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_steps (
		sequence_id VARCHAR(64) NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
		step_index INTEGER NOT NULL,
		id VARCHAR(64) NOT NULL,
		day_offset INTEGER NOT NULL,
		action_type VARCHAR(32) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL DEFAULT '',
		task_title TEXT NOT NULL DEFAULT '',
		note_text TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (sequence_id, step_index)
	)`,
	`CREATE TABLE IF NOT EXISTS email_templates (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		template_type VARCHAR(32) NOT NULL,
		variant_group TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		send_count INTEGER NOT NULL DEFAULT 0,
		open_count INTEGER NOT NULL DEFAULT 0,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		instagram_handle TEXT NOT NULL DEFAULT '',
		followers INTEGER NULL,
		pipeline_stage TEXT NOT NULL DEFAULT '',
		last_contacted {ts} NULL,
		partnership_type VARCHAR(16) NOT NULL DEFAULT '',
		deliverables_agreed INTEGER NULL,
		deliverables_delivered INTEGER NULL,
		interactions TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		updated_at {ts} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id VARCHAR(64) PRIMARY KEY,
		contact_id VARCHAR(64) NOT NULL,
		sequence_id VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		source VARCHAR(16) NOT NULL,
		started_at {ts} NOT NULL,
		fired_steps TEXT NOT NULL DEFAULT '[]',
		completed_at {ts} NULL,
		withdrawn_at {ts} NULL,
		withdraw_reason TEXT NOT NULL DEFAULT '',
		updated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_contact ON enrollments (contact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollments_sequence ON enrollments (sequence_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_enrollments_pending ON enrollments (contact_id, sequence_id) WHERE status = 'enrolled_pending'`,
	`CREATE TABLE IF NOT EXISTS actions (
		id VARCHAR(64) PRIMARY KEY,
		kind VARCHAR(32) NOT NULL,
		enrollment_id VARCHAR(64) NOT NULL,
		sequence_id VARCHAR(64) NOT NULL,
		step_id VARCHAR(64) NOT NULL,
		step_index INTEGER NOT NULL,
		contact_id VARCHAR(64) NOT NULL,
		payload TEXT NOT NULL,
		created_at {ts} NOT NULL,
		UNIQUE (enrollment_id, step_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_contact ON actions (contact_id)`,
}

// Migrate creates every table and index that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	ts := "DATETIME"
	if s.drv.Dialect() == dialect.Postgres {
		ts = "TIMESTAMPTZ"
	}

	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{ts}", ts)
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("failed applying schema: %w", err)
		}
	}
	return nil
}
