package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChargeRepository is the durable queue behind post-hoc usage billing.
type ChargeRepository interface {
	// Enqueue inserts the charge unless (user, action, request) already
	// exists, in which case the stored row is returned with created=false.
	Enqueue(ctx context.Context, c *domain.UsageCharge) (stored *domain.UsageCharge, created bool, err error)
	// ClaimDue leases up to limit due charges, pushing their next attempt
	// out by lease so concurrent workers skip them.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.UsageCharge, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, lastError string, next time.Time, dead bool) error
	Get(ctx context.Context, id string) (*domain.UsageCharge, error)
	ListDead(ctx context.Context, limit int) ([]*domain.UsageCharge, error)
}

type chargeRepo struct {
	db *pgxpool.Pool
}

func NewChargeRepository(db *pgxpool.Pool) ChargeRepository {
	return &chargeRepo{db: db}
}

const chargeColumns = `
	id, user_id, action_code, request_id, context, status, attempts,
	last_error, next_attempt_at, created_at, updated_at`

func scanCharge(row pgx.Row) (*domain.UsageCharge, error) {
	var c domain.UsageCharge
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ActionCode,
		&c.RequestID,
		&c.Context,
		&c.Status,
		&c.Attempts,
		&c.LastError,
		&c.NextAttemptAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *chargeRepo) Enqueue(ctx context.Context, c *domain.UsageCharge) (*domain.UsageCharge, bool, error) {
	query := `
		INSERT INTO usage_charges (id, user_id, action_code, request_id, context, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, action_code, request_id) DO NOTHING
		RETURNING ` + chargeColumns

	stored, err := scanCharge(r.db.QueryRow(ctx, query,
		c.ID,
		c.UserID,
		c.ActionCode,
		c.RequestID,
		c.Context,
		domain.ChargeQueued,
		c.NextAttemptAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to enqueue usage charge: %w", err)
	}

	existing := `SELECT ` + chargeColumns + ` FROM usage_charges WHERE user_id = $1 AND action_code = $2 AND request_id = $3`
	stored, err = scanCharge(r.db.QueryRow(ctx, existing, c.UserID, c.ActionCode, c.RequestID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing usage charge: %w", err)
	}
	return stored, false, nil
}

func (r *chargeRepo) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*domain.UsageCharge, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE usage_charges
		SET next_attempt_at = $3, attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM usage_charges
			WHERE status = 'queued' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + chargeColumns

	rows, err := tx.Query(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim usage charges: %w", err)
	}

	var charges []*domain.UsageCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan usage charge: %w", err)
		}
		charges = append(charges, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return charges, nil
}

func (r *chargeRepo) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE usage_charges SET status = 'completed', last_error = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *chargeRepo) MarkFailed(ctx context.Context, id, lastError string, next time.Time, dead bool) error {
	status := domain.ChargeQueued
	if dead {
		status = domain.ChargeDead
	}
	query := `
		UPDATE usage_charges
		SET status = $2, last_error = $3, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, status, lastError, next)
	return err
}

func (r *chargeRepo) Get(ctx context.Context, id string) (*domain.UsageCharge, error) {
	return scanCharge(r.db.QueryRow(ctx, `SELECT `+chargeColumns+` FROM usage_charges WHERE id = $1`, id))
}

func (r *chargeRepo) ListDead(ctx context.Context, limit int) ([]*domain.UsageCharge, error) {
	rows, err := r.db.Query(ctx, `SELECT `+chargeColumns+` FROM usage_charges WHERE status = 'dead' ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead charges: %w", err)
	}
	defer rows.Close()

	var charges []*domain.UsageCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage charge: %w", err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}
