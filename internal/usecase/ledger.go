package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/internal/repository"
	"settlement-service/pkg/events"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceNotifier pushes committed changes to connected clients.
type BalanceNotifier interface {
	NotifyBalance(userID string, wallet *domain.Wallet, tx *domain.WalletTransaction)
	NotifyPayment(userID string, payment *domain.PaymentTransaction)
}

type CreditRequest struct {
	WalletID       string
	Amount         decimal.Decimal
	Type           domain.TransactionType
	Description    string
	Metadata       map[string]interface{}
	IdempotencyKey string

	PaymentTransactionID string
	RefundID             string
}

type DebitRequest struct {
	WalletID       string
	Amount         decimal.Decimal
	Type           domain.TransactionType
	Description    string
	Metadata       map[string]interface{}
	IdempotencyKey string
	AllowNegative  bool

	PaymentTransactionID string
	RefundID             string
	Usage                *domain.UsageEntry
}

type WalletLedger struct {
	wallets  repository.WalletRepository
	events   events.Publisher
	notifier BalanceNotifier
	logger   *zap.Logger
}

func NewWalletLedger(
	wallets repository.WalletRepository,
	publisher events.Publisher,
	notifier BalanceNotifier,
	logger *zap.Logger,
) *WalletLedger {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &WalletLedger{
		wallets:  wallets,
		events:   publisher,
		notifier: notifier,
		logger:   logger,
	}
}

// ===============================
// READS
// ===============================

// GetOrCreate returns the user's wallet, creating an empty one on first access.
func (uc *WalletLedger) GetOrCreate(ctx context.Context, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	wallet, err := uc.wallets.GetOrCreate(ctx, userID, domain.DefaultWalletCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

func (uc *WalletLedger) Wallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return uc.wallets.GetByID(ctx, walletID)
}

func (uc *WalletLedger) Balance(ctx context.Context, userID string) (*domain.Wallet, error) {
	return uc.GetOrCreate(ctx, userID)
}

func (uc *WalletLedger) HasSufficientBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	wallet, err := uc.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}
	return wallet.Balance.GreaterThanOrEqual(amount), nil
}

// Transactions pages the wallet history of a user together with the current wallet.
func (uc *WalletLedger) Transactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, *domain.Wallet, error) {
	wallet, err := uc.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, 0, nil, err
	}
	filter.WalletID = wallet.ID
	txs, total, err := uc.wallets.Transactions(ctx, filter)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, wallet, nil
}

// ===============================
// MUTATIONS
// ===============================

func (uc *WalletLedger) Credit(ctx context.Context, req CreditRequest) (*domain.WalletTransaction, error) {
	typ := req.Type
	if typ == "" {
		typ = domain.TxCredit
	}
	return uc.apply(ctx, &domain.Mutation{
		WalletID:             req.WalletID,
		Type:                 typ,
		Direction:            domain.DirectionIn,
		Amount:               req.Amount,
		Description:          req.Description,
		Metadata:             req.Metadata,
		IdempotencyKey:       req.IdempotencyKey,
		PaymentTransactionID: req.PaymentTransactionID,
		RefundID:             req.RefundID,
	})
}

func (uc *WalletLedger) Debit(ctx context.Context, req DebitRequest) (*domain.WalletTransaction, error) {
	typ := req.Type
	if typ == "" {
		typ = domain.TxDebit
	}
	return uc.apply(ctx, &domain.Mutation{
		WalletID:             req.WalletID,
		Type:                 typ,
		Direction:            domain.DirectionOut,
		Amount:               req.Amount,
		Description:          req.Description,
		Metadata:             req.Metadata,
		AllowNegative:        req.AllowNegative,
		IdempotencyKey:       req.IdempotencyKey,
		PaymentTransactionID: req.PaymentTransactionID,
		RefundID:             req.RefundID,
		Usage:                req.Usage,
	})
}

// Adjust applies a signed admin correction to a user's wallet.
func (uc *WalletLedger) Adjust(ctx context.Context, req *domain.AdjustRequest, adminID string) (*domain.WalletTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	wallet, err := uc.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	direction := domain.DirectionIn
	if req.Amount.IsNegative() {
		direction = domain.DirectionOut
	}

	tx, err := uc.apply(ctx, &domain.Mutation{
		WalletID:      wallet.ID,
		Type:          domain.TxAdjustment,
		Direction:     direction,
		Amount:        req.Amount.Abs(),
		Description:   "Admin adjustment: " + req.Reason,
		AllowNegative: req.AllowNegative,
		Metadata: map[string]interface{}{
			"adjustedBy": adminID,
			"reason":     req.Reason,
		},
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("wallet balance adjusted",
		zap.String("user_id", req.UserID),
		zap.String("wallet_id", wallet.ID),
		zap.String("admin_id", adminID),
		zap.String("amount", req.Amount.String()),
		zap.String("balance_after", tx.BalanceAfter.String()))

	return tx, nil
}

func (uc *WalletLedger) apply(ctx context.Context, m *domain.Mutation) (*domain.WalletTransaction, error) {
	tx, replayed, err := uc.wallets.Mutate(ctx, m)
	if err != nil {
		result := "error"
		if errors.Is(err, domain.ErrInsufficientBalance) {
			result = "insufficient_balance"
		}
		metrics.WalletMutations.WithLabelValues(string(m.Type), result).Inc()
		return nil, err
	}

	if replayed {
		metrics.WalletMutations.WithLabelValues(string(m.Type), "replayed").Inc()
		uc.logger.Info("wallet mutation replayed",
			zap.String("wallet_id", m.WalletID),
			zap.String("idempotency_key", m.IdempotencyKey),
			zap.String("transaction_id", tx.ID))
		return tx, nil
	}

	metrics.WalletMutations.WithLabelValues(string(m.Type), "ok").Inc()
	uc.afterCommit(ctx, tx)
	return tx, nil
}

// afterCommit fans the change out. Nothing here can undo the mutation.
func (uc *WalletLedger) afterCommit(ctx context.Context, tx *domain.WalletTransaction) {
	wallet, err := uc.wallets.GetByID(ctx, tx.WalletID)
	if err != nil {
		uc.logger.Warn("failed to load wallet after mutation",
			zap.String("wallet_id", tx.WalletID), zap.Error(err))
		return
	}

	evtType := events.WalletCredited
	if tx.Direction == domain.DirectionOut {
		evtType = events.WalletDebited
	}
	balance := tx.BalanceAfter
	attrs := map[string]interface{}{
		"transaction_id":   tx.ID,
		"transaction_type": tx.Type,
	}
	if tx.PaymentTransactionID != nil {
		attrs["payment_transaction_id"] = *tx.PaymentTransactionID
	}
	if tx.RefundID != nil {
		attrs["refund_id"] = *tx.RefundID
	}
	uc.events.Publish(ctx, events.Event{
		Type:         evtType,
		UserID:       wallet.UserID,
		WalletID:     wallet.ID,
		Reference:    tx.ID,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		BalanceAfter: &balance,
		Attributes:   attrs,
		OccurredAt:   time.Now().UTC(),
	})

	if uc.notifier != nil {
		uc.notifier.NotifyBalance(wallet.UserID, wallet, tx)
	}
}
