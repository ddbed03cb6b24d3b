package usecase

import (
	"context"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UsageHistory is a page of usage entries plus the total spent over the filter.
type UsageHistory struct {
	Entries    []*domain.UsageEntry
	Total      int64
	TotalSpent decimal.Decimal
	Wallet     *domain.Wallet
}

// BackofficeUsecase backs the admin wallet screens.
type BackofficeUsecase struct {
	wallets repository.WalletRepository
	usage   repository.UsageRepository
	ledger  *WalletLedger
	logger  *zap.Logger
}

func NewBackofficeUsecase(
	wallets repository.WalletRepository,
	usage repository.UsageRepository,
	ledger *WalletLedger,
	logger *zap.Logger,
) *BackofficeUsecase {
	return &BackofficeUsecase{
		wallets: wallets,
		usage:   usage,
		ledger:  ledger,
		logger:  logger,
	}
}

func (uc *BackofficeUsecase) ListWallets(ctx context.Context, filter domain.WalletFilter) ([]*domain.Wallet, int64, error) {
	return uc.wallets.List(ctx, filter)
}

func (uc *BackofficeUsecase) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	return uc.wallets.GetByUserID(ctx, userID)
}

func (uc *BackofficeUsecase) AdjustBalance(ctx context.Context, req *domain.AdjustRequest, adminID string) (*domain.WalletTransaction, error) {
	return uc.ledger.Adjust(ctx, req, adminID)
}

func (uc *BackofficeUsecase) Transactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, *domain.Wallet, error) {
	wallet, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, nil, err
	}
	filter.WalletID = wallet.ID
	txs, total, err := uc.wallets.Transactions(ctx, filter)
	if err != nil {
		return nil, 0, nil, err
	}
	return txs, total, wallet, nil
}

func (uc *BackofficeUsecase) UsageHistory(ctx context.Context, userID string, filter domain.UsageFilter) (*UsageHistory, error) {
	wallet, err := uc.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	filter.WalletID = wallet.ID
	entries, total, spent, err := uc.usage.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &UsageHistory{Entries: entries, Total: total, TotalSpent: spent, Wallet: wallet}, nil
}
