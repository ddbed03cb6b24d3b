package repository

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain"
	"settlement-service/pkg/id"
	"settlement-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WalletRepository interface {
	// GetOrCreate is safe under concurrent first access: one wallet per user.
	GetOrCreate(ctx context.Context, userID, currency string) (*domain.Wallet, error)
	GetByID(ctx context.Context, walletID string) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)
	List(ctx context.Context, filter domain.WalletFilter) ([]*domain.Wallet, int64, error)

	// Mutate applies one balance change under the wallet row lock. A repeated
	// idempotency key returns the original transaction with replayed=true.
	Mutate(ctx context.Context, m *domain.Mutation) (tx *domain.WalletTransaction, replayed bool, err error)
	Transactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, error)
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepository(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `
	id, user_id, credit_balance, currency, auto_top_up_enabled,
	auto_top_up_threshold, auto_top_up_amount, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.Currency,
		&w.AutoTopUpEnabled,
		&w.AutoTopUpThreshold,
		&w.AutoTopUpAmount,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) GetOrCreate(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	query := `
		INSERT INTO wallets (id, user_id, credit_balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, id.New(id.PrefixWallet), userID, currency); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.GetByUserID(ctx, userID)
}

func (r *walletRepo) GetByID(ctx context.Context, walletID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, walletID))
}

func (r *walletRepo) GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

func (r *walletRepo) List(ctx context.Context, filter domain.WalletFilter) ([]*domain.Wallet, int64, error) {
	page, limit := domain.Normalize(filter.Page, filter.Limit)

	f := &filterBuilder{}
	if filter.UserID != "" {
		f.add("user_id = $%d", filter.UserID)
	}
	if filter.MinBalance != nil {
		f.add("credit_balance >= $%d", *filter.MinBalance)
	}
	if filter.MaxBalance != nil {
		f.add("credit_balance <= $%d", *filter.MaxBalance)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count wallets: %w", err)
	}

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE 1=1` + f.where + ` ORDER BY created_at DESC` + f.page(page, limit)
	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, total, rows.Err()
}

// ============================================
// MUTATIONS
// ============================================

func (r *walletRepo) lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, walletID))
}

func (r *walletRepo) Mutate(ctx context.Context, m *domain.Mutation) (*domain.WalletTransaction, bool, error) {
	if err := m.Validate(); err != nil {
		return nil, false, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := r.lockWallet(ctx, tx, m.WalletID)
	if err != nil {
		return nil, false, err
	}

	// the row lock serializes callers with the same key, so this read is
	// authoritative
	if m.IdempotencyKey != "" {
		existing, err := r.transactionByKey(ctx, tx, m.IdempotencyKey)
		if err == nil {
			return existing, true, tx.Commit(ctx)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	after, err := m.Apply(wallet.Balance, wallet.Currency)
	if err != nil {
		return nil, false, err
	}

	wt := &domain.WalletTransaction{
		ID:                   id.New(id.PrefixTransaction),
		WalletID:             wallet.ID,
		Type:                 m.Type,
		Direction:            m.Direction,
		Amount:               m.Amount,
		Currency:             wallet.Currency,
		BalanceBefore:        wallet.Balance,
		BalanceAfter:         after,
		Status:               domain.TxStatusCompleted,
		Description:          m.Description,
		PaymentTransactionID: nullable(m.PaymentTransactionID),
		RefundID:             nullable(m.RefundID),
		IdempotencyKey:       nullable(m.IdempotencyKey),
		Metadata:             m.Metadata,
	}

	if m.Usage != nil {
		u := m.Usage
		u.ID = id.New(id.PrefixUsage)
		u.WalletID = wallet.ID
		u.AmountDeducted = m.Amount
		u.BalanceBefore = wallet.Balance
		u.BalanceAfter = after
		if err := insertUsage(ctx, tx, u); err != nil {
			return nil, false, err
		}
		wt.UsageLedgerID = &u.ID
	}

	insertTx := `
		INSERT INTO wallet_transactions (
			id, wallet_id, type, direction, amount, currency, balance_before, balance_after,
			status, description, payment_transaction_id, usage_ledger_id, refund_id,
			idempotency_key, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertTx,
		wt.ID,
		wt.WalletID,
		wt.Type,
		wt.Direction,
		wt.Amount,
		wt.Currency,
		wt.BalanceBefore,
		wt.BalanceAfter,
		wt.Status,
		wt.Description,
		wt.PaymentTransactionID,
		wt.UsageLedgerID,
		wt.RefundID,
		wt.IdempotencyKey,
		jsonb(wt.Metadata),
	).Scan(&wt.CreatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) && m.IdempotencyKey != "" {
			return r.replay(ctx, m.IdempotencyKey)
		}
		return nil, false, fmt.Errorf("failed to insert wallet transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET credit_balance = $1, updated_at = NOW() WHERE id = $2`, after, wallet.ID); err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit wallet mutation: %w", err)
	}
	return wt, false, nil
}

func (r *walletRepo) replay(ctx context.Context, key string) (*domain.WalletTransaction, bool, error) {
	existing, err := r.transactionByKey(ctx, r.db, key)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// ============================================
// HISTORY
// ============================================

const walletTxColumns = `
	id, wallet_id, type, direction, amount, currency, balance_before, balance_after,
	status, description, payment_transaction_id, usage_ledger_id, refund_id,
	idempotency_key, metadata, created_at`

func scanWalletTx(row pgx.Row) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	err := row.Scan(
		&t.ID,
		&t.WalletID,
		&t.Type,
		&t.Direction,
		&t.Amount,
		&t.Currency,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.Status,
		&t.Description,
		&t.PaymentTransactionID,
		&t.UsageLedgerID,
		&t.RefundID,
		&t.IdempotencyKey,
		&t.Metadata,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *walletRepo) transactionByKey(ctx context.Context, q querier, key string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE idempotency_key = $1`
	return scanWalletTx(q.QueryRow(ctx, query, key))
}

func (r *walletRepo) Transactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, error) {
	page, limit := domain.Normalize(filter.Page, filter.Limit)

	f := &filterBuilder{}
	f.add("wallet_id = $%d", filter.WalletID)
	if filter.Type != "" {
		f.add("type = $%d", filter.Type)
	}
	if filter.Status != "" {
		f.add("status = $%d", filter.Status)
	}
	if filter.StartDate != nil {
		f.add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		f.add("created_at <= $%d", *filter.EndDate)
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE 1=1`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE 1=1` + f.where +
		` ORDER BY created_at DESC, id DESC` + f.page(page, limit)
	rows, err := r.db.Query(ctx, query, f.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTx(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}
