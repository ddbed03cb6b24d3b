package repository

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type RefundRepository interface {
	// Create fails with ErrDuplicateRefund when the payment already has an
	// open refund or the provider refund id was recorded before.
	Create(ctx context.Context, r *domain.Refund) error
	GetByID(ctx context.Context, id string) (*domain.Refund, error)
	GetByProviderRefundID(ctx context.Context, provider domain.ProviderKind, providerRefundID string) (*domain.Refund, error)
	FindOpen(ctx context.Context, paymentTxID string) (*domain.Refund, error)
	SumProcessed(ctx context.Context, paymentTxID string) (decimal.Decimal, error)
	Update(ctx context.Context, id string, upd *domain.RefundUpdate) (*domain.Refund, error)
	List(ctx context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error)
	Statistics(ctx context.Context, filter domain.RefundFilter) (*domain.RefundStatistics, error)
}

type refundRepo struct {
	db *pgxpool.Pool
}

func NewRefundRepository(db *pgxpool.Pool) RefundRepository {
	return &refundRepo{db: db}
}

const refundColumns = `
	id, user_id, wallet_id, payment_transaction_id, provider, amount, currency, status,
	reason, admin_notes, processed_by, provider_refund_id, failure_reason, metadata,
	processed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var r domain.Refund
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.WalletID,
		&r.PaymentTransactionID,
		&r.Provider,
		&r.Amount,
		&r.Currency,
		&r.Status,
		&r.Reason,
		&r.AdminNotes,
		&r.ProcessedBy,
		&r.ProviderRefundID,
		&r.FailureReason,
		&r.Metadata,
		&r.ProcessedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (r *refundRepo) Create(ctx context.Context, rf *domain.Refund) error {
	query := `
		INSERT INTO refunds (
			id, user_id, wallet_id, payment_transaction_id, provider, amount, currency,
			status, reason, admin_notes, processed_by, provider_refund_id, metadata, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		rf.ID,
		rf.UserID,
		rf.WalletID,
		rf.PaymentTransactionID,
		rf.Provider,
		rf.Amount,
		rf.Currency,
		rf.Status,
		rf.Reason,
		rf.AdminNotes,
		rf.ProcessedBy,
		rf.ProviderRefundID,
		jsonb(rf.Metadata),
		rf.ProcessedAt,
	).Scan(&rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return fmt.Errorf("%w (%s)", domain.ErrDuplicateRefund, xerrors.ConstraintName(err))
		}
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (r *refundRepo) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	return scanRefund(r.db.QueryRow(ctx, query, id))
}

func (r *refundRepo) GetByProviderRefundID(ctx context.Context, provider domain.ProviderKind, providerRefundID string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE provider = $1 AND provider_refund_id = $2`
	return scanRefund(r.db.QueryRow(ctx, query, provider, providerRefundID))
}

func (r *refundRepo) FindOpen(ctx context.Context, paymentTxID string) (*domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refunds
		WHERE payment_transaction_id = $1 AND status IN ('pending', 'approved')
		LIMIT 1
	`
	return scanRefund(r.db.QueryRow(ctx, query, paymentTxID))
}

func (r *refundRepo) SumProcessed(ctx context.Context, paymentTxID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_transaction_id = $1 AND status = 'processed'`
	if err := r.db.QueryRow(ctx, query, paymentTxID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return sum, nil
}

func (r *refundRepo) Update(ctx context.Context, id string, upd *domain.RefundUpdate) (*domain.Refund, error) {
	var metadata []byte
	if upd.Metadata != nil {
		metadata = jsonb(upd.Metadata)
	}
	query := `
		UPDATE refunds
		SET
			status = COALESCE(NULLIF($2::text, ''), status),
			admin_notes = COALESCE($3, admin_notes),
			processed_by = COALESCE($4, processed_by),
			provider_refund_id = COALESCE($5, provider_refund_id),
			failure_reason = COALESCE($6, failure_reason),
			metadata = CASE WHEN $7::jsonb IS NULL THEN metadata ELSE metadata || $7::jsonb END,
			processed_at = CASE WHEN $2::text = 'processed' AND processed_at IS NULL THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + refundColumns

	rf, err := scanRefund(r.db.QueryRow(ctx, query,
		id,
		string(upd.Status),
		upd.AdminNotes,
		upd.ProcessedBy,
		upd.ProviderRefundID,
		upd.FailureReason,
		metadata,
	))
	if err != nil && xerrors.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w (%s)", domain.ErrDuplicateRefund, xerrors.ConstraintName(err))
	}
	return rf, err
}

func refundFilter(filter domain.RefundFilter) *filterBuilder {
	f := &filterBuilder{}
	if filter.Status != "" {
		f.add("status = $%d", filter.Status)
	}
	if filter.UserID != "" {
		f.add("user_id = $%d", filter.UserID)
	}
	if filter.PaymentTransactionID != "" {
		f.add("payment_transaction_id = $%d", filter.PaymentTransactionID)
	}
	if filter.StartDate != nil {
		f.add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		f.add("created_at <= $%d", *filter.EndDate)
	}
	return f
}

func (r *refundRepo) List(ctx context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error) {
	page, limit := domain.Normalize(filter.Page, filter.Limit)
	f := refundFilter(filter)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM refunds WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count refunds: %w", err)
	}

	query := `SELECT ` + refundColumns + ` FROM refunds WHERE 1=1` + f.where + ` ORDER BY created_at DESC` + f.page(page, limit)
	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, rf)
	}
	return refunds, total, rows.Err()
}

func (r *refundRepo) Statistics(ctx context.Context, filter domain.RefundFilter) (*domain.RefundStatistics, error) {
	f := refundFilter(filter)
	stats := &domain.RefundStatistics{ByStatus: make(map[domain.RefundStatus]int64)}

	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE 1=1`+f.where+`
		GROUP BY status`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate refunds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status domain.RefundStatus
			count  int64
			sum    decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan refund aggregate: %w", err)
		}
		stats.ByStatus[status] = count
		stats.TotalRefunds += count
		stats.TotalAmount = stats.TotalAmount.Add(sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reasons, err := r.db.Query(ctx, `
		SELECT reason, COUNT(*) AS n
		FROM refunds
		WHERE 1=1`+f.where+`
		GROUP BY reason
		ORDER BY n DESC
		LIMIT 5`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate refund reasons: %w", err)
	}
	defer reasons.Close()

	for reasons.Next() {
		var rc domain.ReasonCount
		if err := reasons.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan refund reason: %w", err)
		}
		stats.TopReasons = append(stats.TopReasons, rc)
	}
	return stats, reasons.Err()
}
