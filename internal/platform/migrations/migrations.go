// Package migrations applies the escrow service database schema. Statements
// are idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS escrow_records (
		address               TEXT PRIMARY KEY,
		owner                 CHAR(64) NOT NULL,
		platform_authority    CHAR(64) NOT NULL,
		trading_authority     CHAR(64) NOT NULL,
		token_mint            CHAR(64) NOT NULL,
		address_salt          SMALLINT NOT NULL,
		flags                 SMALLINT NOT NULL DEFAULT 0,
		created_at            BIGINT NOT NULL,
		platform_activated_at BIGINT NOT NULL DEFAULT 0,
		trading_activated_at  BIGINT NOT NULL DEFAULT 0,
		last_paused_at        BIGINT NOT NULL DEFAULT 0,
		action_nonce          BIGINT NOT NULL DEFAULT 0,
		total_deposited       BIGINT NOT NULL DEFAULT 0,
		total_withdrawn       BIGINT NOT NULL DEFAULT 0,
		total_fees_paid       BIGINT NOT NULL DEFAULT 0,
		total_traded          BIGINT NOT NULL DEFAULT 0,
		max_balance           BIGINT NOT NULL,
		max_lifetime          BIGINT NOT NULL DEFAULT 0,
		schema_version        INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE INDEX IF NOT EXISTS idx_escrow_records_owner ON escrow_records (owner)`,

	`CREATE INDEX IF NOT EXISTS idx_escrow_records_platform_active
		ON escrow_records ((flags & 1)) WHERE flags & 1 <> 0`,

	`CREATE TABLE IF NOT EXISTS escrow_vaults (
		address    TEXT PRIMARY KEY REFERENCES escrow_records (address) ON DELETE CASCADE,
		owner      CHAR(64) NOT NULL,
		token_mint CHAR(64) NOT NULL,
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		reserve    BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS escrow_events (
		id          UUID PRIMARY KEY,
		address     TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		actor       CHAR(64) NOT NULL DEFAULT '',
		authority   CHAR(64) NOT NULL DEFAULT '',
		amount      BIGINT NOT NULL DEFAULT 0,
		balance     BIGINT NOT NULL DEFAULT 0,
		occurred_at BIGINT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_escrow_events_address ON escrow_events (address, occurred_at)`,
}

// Apply executes every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
