package usecase

import (
	"context"
	"strings"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogUsecase manages the priced actions the usage biller charges for.
type CatalogUsecase struct {
	actions repository.CatalogRepository
	logger  *zap.Logger
}

func NewCatalogUsecase(actions repository.CatalogRepository, logger *zap.Logger) *CatalogUsecase {
	return &CatalogUsecase{actions: actions, logger: logger}
}

func (uc *CatalogUsecase) List(ctx context.Context, filter domain.ActionFilter) ([]*domain.BillableAction, int64, error) {
	return uc.actions.List(ctx, filter)
}

func (uc *CatalogUsecase) Get(ctx context.Context, actionID string) (*domain.BillableAction, error) {
	return uc.actions.GetByID(ctx, actionID)
}

func (uc *CatalogUsecase) GetByCode(ctx context.Context, code string) (*domain.BillableAction, error) {
	return uc.actions.GetByCode(ctx, code)
}

func (uc *CatalogUsecase) Create(ctx context.Context, in *domain.BillableActionInput) (*domain.BillableAction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	action := &domain.BillableAction{
		ID:          id.New(id.PrefixAction),
		ActionCode:  in.ActionCode,
		ActionName:  strings.TrimSpace(in.ActionName),
		Description: in.Description,
		Category:    in.Category,
		Cost:        in.Cost,
		Currency:    in.Currency,
		IsActive:    active,
		Metadata:    in.Metadata,
	}
	if err := uc.actions.Create(ctx, action); err != nil {
		return nil, err
	}
	uc.logger.Info("billable action created",
		zap.String("action_code", action.ActionCode),
		zap.String("cost", action.Cost.String()),
		zap.String("currency", action.Currency))
	return action, nil
}

func (uc *CatalogUsecase) Update(ctx context.Context, actionID string, upd *domain.BillableActionUpdate) (*domain.BillableAction, error) {
	if upd.Cost != nil && upd.Cost.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}
	if upd.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*upd.Currency))
		if len(c) != 3 {
			return nil, domain.ErrUnsupportedCurrency
		}
		upd.Currency = &c
	}
	return uc.actions.Update(ctx, actionID, upd)
}

func (uc *CatalogUsecase) SetStatus(ctx context.Context, actionID string, active bool) (*domain.BillableAction, error) {
	action, err := uc.actions.Update(ctx, actionID, &domain.BillableActionUpdate{IsActive: &active})
	if err != nil {
		return nil, err
	}
	uc.logger.Info("billable action status changed",
		zap.String("action_code", action.ActionCode),
		zap.Bool("active", active))
	return action, nil
}

func (uc *CatalogUsecase) SetPrice(ctx context.Context, actionID string, cost decimal.Decimal, currency string) (*domain.BillableAction, error) {
	upd := &domain.BillableActionUpdate{Cost: &cost}
	if currency != "" {
		upd.Currency = &currency
	}
	action, err := uc.Update(ctx, actionID, upd)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("billable action repriced",
		zap.String("action_code", action.ActionCode),
		zap.String("cost", action.Cost.String()),
		zap.String("currency", action.Currency))
	return action, nil
}

func (uc *CatalogUsecase) Delete(ctx context.Context, actionID string) error {
	return uc.actions.Delete(ctx, actionID)
}
