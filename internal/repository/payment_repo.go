package repository

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error)
	GetByProviderPaymentID(ctx context.Context, provider domain.ProviderKind, providerPaymentID string) (*domain.PaymentTransaction, error)
	GetByProviderTransactionID(ctx context.Context, provider domain.ProviderKind, providerTxID string) (*domain.PaymentTransaction, error)
	// FindByGatewayReference scans settled payments whose stored gateway
	// response mentions ref. Kept for rows confirmed before transaction ids
	// were recorded.
	FindByGatewayReference(ctx context.Context, provider domain.ProviderKind, ref string) (*domain.PaymentTransaction, error)
	Update(ctx context.Context, id string, upd *domain.PaymentUpdate) (*domain.PaymentTransaction, error)
	ListByWallet(ctx context.Context, walletID string, page, limit int) ([]*domain.PaymentTransaction, int64, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
	id, wallet_id, user_id, provider, provider_payment_id, provider_transaction_id,
	amount, currency, requested_amount, requested_currency, status, type, payment_method,
	description, failure_reason, gateway_response, metadata,
	completed_at, failed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.PaymentTransaction, error) {
	var p domain.PaymentTransaction
	err := row.Scan(
		&p.ID,
		&p.WalletID,
		&p.UserID,
		&p.Provider,
		&p.ProviderPaymentID,
		&p.ProviderTransactionID,
		&p.Amount,
		&p.Currency,
		&p.RequestedAmount,
		&p.RequestedCurrency,
		&p.Status,
		&p.Type,
		&p.PaymentMethod,
		&p.Description,
		&p.FailureReason,
		&p.GatewayResponse,
		&p.Metadata,
		&p.CompletedAt,
		&p.FailedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, wallet_id, user_id, provider, provider_payment_id, provider_transaction_id,
			amount, currency, requested_amount, requested_currency, status, type,
			payment_method, description, gateway_response, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.WalletID,
		p.UserID,
		p.Provider,
		p.ProviderPaymentID,
		p.ProviderTransactionID,
		p.Amount,
		p.Currency,
		p.RequestedAmount,
		p.RequestedCurrency,
		p.Status,
		p.Type,
		p.PaymentMethod,
		p.Description,
		jsonb(p.GatewayResponse),
		jsonb(p.Metadata),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

func (r *paymentRepo) GetByProviderPaymentID(ctx context.Context, provider domain.ProviderKind, providerPaymentID string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE provider = $1 AND provider_payment_id = $2`
	return scanPayment(r.db.QueryRow(ctx, query, provider, providerPaymentID))
}

func (r *paymentRepo) GetByProviderTransactionID(ctx context.Context, provider domain.ProviderKind, providerTxID string) (*domain.PaymentTransaction, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE provider = $1 AND provider_transaction_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, provider, providerTxID))
}

func (r *paymentRepo) FindByGatewayReference(ctx context.Context, provider domain.ProviderKind, ref string) (*domain.PaymentTransaction, error) {
	if ref == "" {
		return nil, domain.ErrTransactionNotFound
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_transactions
		WHERE provider = $1
		  AND status IN ('completed', 'refunded')
		  AND position($2 in gateway_response::text) > 0
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanPayment(r.db.QueryRow(ctx, query, provider, `"`+ref+`"`))
}

// Update applies a status transition. completed_at and failed_at are stamped
// the first time the row enters those states.
func (r *paymentRepo) Update(ctx context.Context, id string, upd *domain.PaymentUpdate) (*domain.PaymentTransaction, error) {
	var gateway, metadata []byte
	if upd.GatewayResponse != nil {
		gateway = jsonb(upd.GatewayResponse)
	}
	if upd.Metadata != nil {
		metadata = jsonb(upd.Metadata)
	}

	query := `
		UPDATE payment_transactions
		SET
			status = COALESCE(NULLIF($2::text, ''), status),
			provider_payment_id = COALESCE($3, provider_payment_id),
			provider_transaction_id = COALESCE($4, provider_transaction_id),
			failure_reason = COALESCE($5, failure_reason),
			gateway_response = CASE WHEN $6::jsonb IS NULL THEN gateway_response ELSE gateway_response || $6::jsonb END,
			metadata = CASE WHEN $7::jsonb IS NULL THEN metadata ELSE metadata || $7::jsonb END,
			completed_at = CASE WHEN $2::text = 'completed' AND completed_at IS NULL THEN NOW() ELSE completed_at END,
			failed_at = CASE WHEN $2::text IN ('failed', 'cancelled') AND failed_at IS NULL THEN NOW() ELSE failed_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns

	return scanPayment(r.db.QueryRow(ctx, query,
		id,
		string(upd.Status),
		upd.ProviderPaymentID,
		upd.ProviderTransactionID,
		upd.FailureReason,
		gateway,
		metadata,
	))
}

func (r *paymentRepo) ListByWallet(ctx context.Context, walletID string, page, limit int) ([]*domain.PaymentTransaction, int64, error) {
	page, limit = domain.Normalize(page, limit)

	f := &filterBuilder{}
	f.add("wallet_id = $%d", walletID)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_transactions WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE 1=1` + f.where + ` ORDER BY created_at DESC` + f.page(page, limit)
	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}
