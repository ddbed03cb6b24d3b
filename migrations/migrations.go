// Package migrations holds the postgres schema for wallets, payments,
// refunds and usage billing.
package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Statements returns the schema, one statement per entry, safe to re-run.
func Statements() []string {
	return []string{
		// ─── Wallets ───────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS wallets (
			id                    TEXT PRIMARY KEY,
			user_id               TEXT NOT NULL UNIQUE,
			credit_balance        NUMERIC(20, 4) NOT NULL DEFAULT 0,
			currency              CHAR(3) NOT NULL DEFAULT 'USD',
			auto_top_up_enabled   BOOLEAN NOT NULL DEFAULT FALSE,
			auto_top_up_threshold NUMERIC(20, 4),
			auto_top_up_amount    NUMERIC(20, 4),
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// ─── Payment transactions ──────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id                      TEXT PRIMARY KEY,
			wallet_id               TEXT NOT NULL REFERENCES wallets(id),
			user_id                 TEXT NOT NULL,
			provider                TEXT NOT NULL,
			provider_payment_id     TEXT NOT NULL,
			provider_transaction_id TEXT,
			amount                  NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
			currency                CHAR(3) NOT NULL,
			requested_amount        NUMERIC(20, 4) NOT NULL,
			requested_currency      CHAR(3) NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'pending',
			type                    TEXT NOT NULL DEFAULT 'top_up',
			payment_method          TEXT NOT NULL,
			description             TEXT NOT NULL DEFAULT '',
			failure_reason          TEXT,
			gateway_response        JSONB NOT NULL DEFAULT '{}'::jsonb,
			metadata                JSONB NOT NULL DEFAULT '{}'::jsonb,
			completed_at            TIMESTAMPTZ,
			failed_at               TIMESTAMPTZ,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider, provider_payment_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_tx_provider_tx ON payment_transactions(provider, provider_transaction_id) WHERE provider_transaction_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_payment_tx_wallet ON payment_transactions(wallet_id, created_at DESC)`,

		// ─── Billable actions ──────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS billable_actions (
			id          TEXT PRIMARY KEY,
			action_code TEXT NOT NULL UNIQUE,
			action_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT 'general',
			cost        NUMERIC(20, 4) NOT NULL CHECK (cost >= 0),
			currency    CHAR(3) NOT NULL DEFAULT 'USD',
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// ─── Usage ledger ──────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS usage_ledger (
			id                  TEXT PRIMARY KEY,
			wallet_id           TEXT NOT NULL REFERENCES wallets(id),
			user_id             TEXT NOT NULL,
			action_id           TEXT NOT NULL,
			action_code         TEXT NOT NULL,
			amount_deducted     NUMERIC(20, 4) NOT NULL,
			balance_before      NUMERIC(20, 4) NOT NULL,
			balance_after       NUMERIC(20, 4) NOT NULL,
			request_id          TEXT,
			profile_id          TEXT,
			organization_id     TEXT,
			related_entity_type TEXT,
			related_entity_id   TEXT,
			metadata            JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_ledger_wallet ON usage_ledger(wallet_id, created_at DESC)`,

		// ─── Refunds ───────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS refunds (
			id                     TEXT PRIMARY KEY,
			user_id                TEXT NOT NULL,
			wallet_id              TEXT NOT NULL REFERENCES wallets(id),
			payment_transaction_id TEXT NOT NULL REFERENCES payment_transactions(id),
			provider               TEXT NOT NULL,
			amount                 NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
			currency               CHAR(3) NOT NULL,
			status                 TEXT NOT NULL DEFAULT 'pending',
			reason                 TEXT NOT NULL,
			admin_notes            TEXT,
			processed_by           TEXT,
			provider_refund_id     TEXT,
			failure_reason         TEXT,
			metadata               JSONB NOT NULL DEFAULT '{}'::jsonb,
			processed_at           TIMESTAMPTZ,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// at most one open refund per payment
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_refunds_open_per_payment ON refunds(payment_transaction_id) WHERE status IN ('pending', 'approved')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_refunds_provider_refund ON refunds(provider, provider_refund_id) WHERE provider_refund_id IS NOT NULL`,

		// ─── Wallet transactions ───────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id                     TEXT PRIMARY KEY,
			wallet_id              TEXT NOT NULL REFERENCES wallets(id),
			type                   TEXT NOT NULL,
			direction              TEXT NOT NULL CHECK (direction IN ('in', 'out')),
			amount                 NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
			currency               CHAR(3) NOT NULL,
			balance_before         NUMERIC(20, 4) NOT NULL,
			balance_after          NUMERIC(20, 4) NOT NULL,
			status                 TEXT NOT NULL DEFAULT 'completed',
			description            TEXT NOT NULL DEFAULT '',
			payment_transaction_id TEXT REFERENCES payment_transactions(id),
			usage_ledger_id        TEXT REFERENCES usage_ledger(id),
			refund_id              TEXT REFERENCES refunds(id),
			idempotency_key        TEXT UNIQUE,
			metadata               JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_wallet ON wallet_transactions(wallet_id, created_at DESC)`,

		// ─── Usage charge queue ────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS usage_charges (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			action_code     TEXT NOT NULL,
			request_id      TEXT NOT NULL,
			context         JSONB NOT NULL DEFAULT '{}'::jsonb,
			status          TEXT NOT NULL DEFAULT 'queued',
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, action_code, request_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_charges_due ON usage_charges(next_attempt_at) WHERE status = 'queued'`,
	}
}

// Apply runs every statement inside one transaction.
func Apply(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := Statements()
	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	logger.Info("schema applied", zap.Int("statements", len(stmts)))
	return nil
}
