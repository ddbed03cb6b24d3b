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
	"settlement-service/pkg/id"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type UsageConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
	BatchSize     int
}

// BalanceCheck is the priced view of one action against one wallet.
type BalanceCheck struct {
	Action     *domain.BillableAction
	Wallet     *domain.Wallet
	Required   decimal.Decimal
	Sufficient bool
}

type UsageBiller struct {
	catalog repository.CatalogRepository
	charges repository.ChargeRepository
	ledger  *WalletLedger
	fx      Converter
	events  events.Publisher
	cfg     UsageConfig
	logger  *zap.Logger

	now func() time.Time
	// spawn runs the immediate post-enqueue attempt.
	spawn func(func())
}

func NewUsageBiller(
	catalog repository.CatalogRepository,
	charges repository.ChargeRepository,
	ledger *WalletLedger,
	conv Converter,
	publisher events.Publisher,
	cfg UsageConfig,
	logger *zap.Logger,
) *UsageBiller {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &UsageBiller{
		catalog: catalog,
		charges: charges,
		ledger:  ledger,
		fx:      conv,
		events:  publisher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		spawn:   func(fn func()) { go fn() },
	}
}

func (uc *UsageBiller) activeAction(ctx context.Context, actionCode string) (*domain.BillableAction, error) {
	action, err := uc.catalog.GetByCode(ctx, actionCode)
	if err != nil {
		return nil, err
	}
	if !action.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrActionInactive, actionCode)
	}
	return action, nil
}

// Check prices the action in the wallet's currency and compares it with the balance.
func (uc *UsageBiller) Check(ctx context.Context, userID, actionCode string) (*BalanceCheck, error) {
	action, err := uc.activeAction(ctx, actionCode)
	if err != nil {
		return nil, err
	}
	wallet, err := uc.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if action.Cost.IsZero() {
		return &BalanceCheck{Action: action, Wallet: wallet, Required: decimal.Zero, Sufficient: true}, nil
	}

	required, _, err := convertInto(ctx, uc.fx, action.Cost, action.Currency, wallet.Currency)
	if err != nil {
		return nil, err
	}
	return &BalanceCheck{
		Action:     action,
		Wallet:     wallet,
		Required:   required,
		Sufficient: wallet.Balance.GreaterThanOrEqual(required),
	}, nil
}

func (uc *UsageBiller) CheckBalance(ctx context.Context, userID, actionCode string) (bool, error) {
	check, err := uc.Check(ctx, userID, actionCode)
	if err != nil {
		return false, err
	}
	return check.Sufficient, nil
}

// Shortfall returns nil when the balance covers the action.
func (uc *UsageBiller) Shortfall(ctx context.Context, userID, actionCode string) (*domain.InsufficientBalanceError, error) {
	check, err := uc.Check(ctx, userID, actionCode)
	if err != nil {
		return nil, err
	}
	if check.Sufficient {
		return nil, nil
	}
	return domain.NewInsufficientBalanceError(check.Required, check.Wallet.Balance, check.Wallet.Currency), nil
}

// DeductForAction charges the current price of the action. Insufficient
// balance is reported in the result, not as an error.
func (uc *UsageBiller) DeductForAction(ctx context.Context, userID, actionCode string, usage domain.UsageContext) (*domain.DeductResult, error) {
	tx, err := uc.deduct(ctx, userID, actionCode, usage)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.UsageCharges.WithLabelValues("insufficient_balance").Inc()
			return &domain.DeductResult{Success: false, Error: "Insufficient balance"}, nil
		}
		metrics.UsageCharges.WithLabelValues("error").Inc()
		return &domain.DeductResult{Success: false, Error: err.Error()}, err
	}

	metrics.UsageCharges.WithLabelValues("charged").Inc()
	balance := tx.BalanceAfter
	return &domain.DeductResult{Success: true, NewBalance: &balance}, nil
}

// deduct re-resolves the price; it may have changed since the balance check.
func (uc *UsageBiller) deduct(ctx context.Context, userID, actionCode string, usage domain.UsageContext) (*domain.WalletTransaction, error) {
	check, err := uc.Check(ctx, userID, actionCode)
	if err != nil {
		return nil, err
	}
	if check.Required.IsZero() {
		return &domain.WalletTransaction{
			WalletID:      check.Wallet.ID,
			Currency:      check.Wallet.Currency,
			BalanceBefore: check.Wallet.Balance,
			BalanceAfter:  check.Wallet.Balance,
		}, nil
	}
	if !check.Sufficient {
		return nil, domain.NewInsufficientBalanceError(check.Required, check.Wallet.Balance, check.Wallet.Currency)
	}

	key := ""
	if usage.RequestID != "" {
		key = fmt.Sprintf("usage:%s:%s:%s", userID, actionCode, usage.RequestID)
	}

	tx, err := uc.ledger.Debit(ctx, DebitRequest{
		WalletID:       check.Wallet.ID,
		Amount:         check.Required,
		Type:           domain.TxDebit,
		Description:    "Usage: " + check.Action.ActionName,
		IdempotencyKey: key,
		Metadata: map[string]interface{}{
			"actionCode": actionCode,
			"requestId":  usage.RequestID,
			"cost":       check.Action.Cost.String(),
			"currency":   check.Action.Currency,
		},
		Usage: &domain.UsageEntry{
			ID:         id.New(id.PrefixUsage),
			UserID:     userID,
			ActionID:   check.Action.ID,
			ActionCode: actionCode,
			Context:    usage,
		},
	})
	if err != nil {
		return nil, err
	}

	uc.events.Publish(ctx, events.Event{
		Type:      events.UsageCharged,
		UserID:    userID,
		WalletID:  check.Wallet.ID,
		Reference: usage.RequestID,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Attributes: map[string]interface{}{
			"action_code": actionCode,
		},
		OccurredAt: uc.now().UTC(),
	})
	return tx, nil
}

// Enqueue stores the charge durably and tries it once in the background. A
// repeated (user, action, request) returns the stored charge untouched.
func (uc *UsageBiller) Enqueue(ctx context.Context, userID, actionCode string, usage domain.UsageContext) (*domain.UsageCharge, error) {
	if userID == "" || actionCode == "" {
		return nil, domain.ErrInvalidRequest
	}
	if usage.RequestID == "" {
		usage.RequestID = uuid.NewString()
	}

	charge := &domain.UsageCharge{
		ID:         id.New(id.PrefixCharge),
		UserID:     userID,
		ActionCode: actionCode,
		RequestID:  usage.RequestID,
		Context:    usage,
		Status:     domain.ChargeQueued,
		// The worker only picks it up if the immediate attempt does not finish.
		NextAttemptAt: uc.now().Add(uc.cfg.RetryInterval),
	}
	stored, created, err := uc.charges.Enqueue(ctx, charge)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue usage charge: %w", err)
	}
	if !created {
		uc.logger.Debug("usage charge already queued",
			zap.String("charge_id", stored.ID),
			zap.String("request_id", stored.RequestID))
		return stored, nil
	}

	bg := context.WithoutCancel(ctx)
	uc.spawn(func() {
		if err := uc.Attempt(bg, stored); err != nil {
			uc.logger.Warn("immediate usage charge failed, left for retry",
				zap.String("charge_id", stored.ID), zap.Error(err))
		}
	})
	return stored, nil
}
