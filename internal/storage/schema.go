package storage

import (
	"context"
	"fmt"
)

// Schema is applied at startup; statements are idempotent so restarts are
// safe without an external migration runner.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		email              TEXT NOT NULL UNIQUE,
		subscription_tier  TEXT NOT NULL DEFAULT 'none',
		subscription_start TIMESTAMP,
		subscription_end   TIMESTAMP,
		is_active          INTEGER NOT NULL DEFAULT 0,
		trial_used         INTEGER NOT NULL DEFAULT 0,
		created_at         TIMESTAMP NOT NULL,
		updated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id        INTEGER NOT NULL REFERENCES users(id),
		plan_id        TEXT NOT NULL,
		tier           TEXT NOT NULL,
		duration_days  INTEGER NOT NULL,
		amount         REAL NOT NULL,
		currency       TEXT NOT NULL,
		external_id    TEXT NOT NULL UNIQUE,
		invoice_id     TEXT NOT NULL UNIQUE,
		invoice_url    TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'pending',
		payment_method TEXT,
		paid_at        TIMESTAMP,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at)`,
}

func (s *storageImpl) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
