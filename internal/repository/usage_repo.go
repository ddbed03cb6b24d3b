package repository

import (
	"context"
	"fmt"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// UsageRepository reads the usage ledger. Rows are written by
// WalletRepository.Mutate in the same transaction as the debit.
type UsageRepository interface {
	List(ctx context.Context, filter domain.UsageFilter) ([]*domain.UsageEntry, int64, decimal.Decimal, error)
}

type usageRepo struct {
	db *pgxpool.Pool
}

func NewUsageRepository(db *pgxpool.Pool) UsageRepository {
	return &usageRepo{db: db}
}

func insertUsage(ctx context.Context, tx pgx.Tx, u *domain.UsageEntry) error {
	query := `
		INSERT INTO usage_ledger (
			id, wallet_id, user_id, action_id, action_code, amount_deducted,
			balance_before, balance_after, request_id, profile_id, organization_id,
			related_entity_type, related_entity_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		u.ID,
		u.WalletID,
		u.UserID,
		u.ActionID,
		u.ActionCode,
		u.AmountDeducted,
		u.BalanceBefore,
		u.BalanceAfter,
		nullable(u.Context.RequestID),
		nullable(u.Context.ProfileID),
		nullable(u.Context.OrganizationID),
		nullable(u.Context.RelatedEntityType),
		nullable(u.Context.RelatedEntityID),
		jsonb(u.Context.Metadata),
	).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage entry: %w", err)
	}
	return nil
}

func (r *usageRepo) List(ctx context.Context, filter domain.UsageFilter) ([]*domain.UsageEntry, int64, decimal.Decimal, error) {
	page, limit := domain.Normalize(filter.Page, filter.Limit)

	f := &filterBuilder{}
	f.add("wallet_id = $%d", filter.WalletID)
	if filter.ActionCode != "" {
		f.add("action_code = $%d", filter.ActionCode)
	}
	if filter.StartDate != nil {
		f.add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		f.add("created_at <= $%d", *filter.EndDate)
	}

	var (
		total int64
		spent decimal.Decimal
	)
	summary := `SELECT COUNT(*), COALESCE(SUM(amount_deducted), 0) FROM usage_ledger WHERE 1=1` + f.where
	if err := r.db.QueryRow(ctx, summary, f.args...).Scan(&total, &spent); err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("failed to summarize usage: %w", err)
	}

	query := `
		SELECT
			id, wallet_id, user_id, action_id, action_code, amount_deducted,
			balance_before, balance_after,
			COALESCE(request_id, ''), COALESCE(profile_id, ''), COALESCE(organization_id, ''),
			COALESCE(related_entity_type, ''), COALESCE(related_entity_id, ''),
			metadata, created_at
		FROM usage_ledger
		WHERE 1=1` + f.where + ` ORDER BY created_at DESC` + f.page(page, limit)

	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, decimal.Zero, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var entries []*domain.UsageEntry
	for rows.Next() {
		var u domain.UsageEntry
		if err := rows.Scan(
			&u.ID,
			&u.WalletID,
			&u.UserID,
			&u.ActionID,
			&u.ActionCode,
			&u.AmountDeducted,
			&u.BalanceBefore,
			&u.BalanceAfter,
			&u.Context.RequestID,
			&u.Context.ProfileID,
			&u.Context.OrganizationID,
			&u.Context.RelatedEntityType,
			&u.Context.RelatedEntityID,
			&u.Context.Metadata,
			&u.CreatedAt,
		); err != nil {
			return nil, 0, decimal.Zero, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entries = append(entries, &u)
	}
	return entries, total, spent, rows.Err()
}
