package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates the call signaling tables if they are missing.
// The users table belongs to the account service and is only read here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		call_id UUID PRIMARY KEY,
		caller_id UUID NOT NULL,
		receiver_id UUID NOT NULL,
		media_kind STRING NOT NULL CHECK (media_kind IN ('audio', 'video')),
		status STRING NOT NULL CHECK (status IN ('ringing', 'connected', 'rejected', 'ended')),
		offer STRING NOT NULL DEFAULT '',
		offer_version INT8 NOT NULL DEFAULT 0,
		answer STRING NOT NULL DEFAULT '',
		answer_version INT8 NOT NULL DEFAULT 0,
		candidate_seq INT8 NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		answered_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		duration INT,
		ended_by UUID,
		end_reason STRING NOT NULL DEFAULT '',
		CHECK (caller_id <> receiver_id)
	)`,
	`CREATE INDEX IF NOT EXISTS calls_caller_created_idx ON calls (caller_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS calls_receiver_created_idx ON calls (receiver_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS call_candidates (
		call_id UUID NOT NULL REFERENCES calls (call_id),
		sequence INT8 NOT NULL,
		owner_id UUID NOT NULL,
		payload STRING NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (call_id, sequence)
	)`,
}

// EnsureSchema applies the call signaling DDL
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
