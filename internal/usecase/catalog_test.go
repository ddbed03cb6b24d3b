package usecase

import (
	"context"
	"testing"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCatalog_CreateDefaults(t *testing.T) {
	uc := NewCatalogUsecase(newFakeCatalog(), zap.NewNop())
	ctx := context.Background()

	created, err := uc.Create(ctx, &domain.BillableActionInput{
		ActionCode: " job.post ",
		ActionName: "Post a job",
		Cost:       dec("0.05"),
		Currency:   "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "job.post", created.ActionCode)
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, "general", created.Category)
	assert.True(t, created.IsActive)

	_, err = uc.Create(ctx, &domain.BillableActionInput{ActionCode: "job.post", ActionName: "Again", Cost: dec("1")})
	assert.ErrorIs(t, err, domain.ErrDuplicateActionCode)

	_, err = uc.Create(ctx, &domain.BillableActionInput{ActionCode: "neg", ActionName: "Negative", Cost: dec("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = uc.Create(ctx, &domain.BillableActionInput{ActionName: "No code"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCatalog_PriceAndStatus(t *testing.T) {
	uc := NewCatalogUsecase(newFakeCatalog(action("job.post", "0.05", "USD", true)), zap.NewNop())
	ctx := context.Background()

	repriced, err := uc.SetPrice(ctx, "act_job.post", dec("1250"), "vnd")
	require.NoError(t, err)
	assert.True(t, repriced.Cost.Equal(dec("1250")))
	assert.Equal(t, "VND", repriced.Currency)

	_, err = uc.SetPrice(ctx, "act_job.post", dec("-0.01"), "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = uc.SetPrice(ctx, "act_job.post", decimal.Zero, "dollars")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	disabled, err := uc.SetStatus(ctx, "act_job.post", false)
	require.NoError(t, err)
	assert.False(t, disabled.IsActive)

	byCode, err := uc.GetByCode(ctx, "job.post")
	require.NoError(t, err)
	assert.False(t, byCode.IsActive)

	require.NoError(t, uc.Delete(ctx, "act_job.post"))
	_, err = uc.Get(ctx, "act_job.post")
	assert.ErrorIs(t, err, domain.ErrActionNotFound)
}

func TestCatalog_RepriceAppliesToNextCharge(t *testing.T) {
	f := newUsageFixture(action("job.post", "0.05", "USD", true))
	w := f.wallets.seed("user-1", "USD", dec("1"))
	catalog := NewCatalogUsecase(f.catalog, zap.NewNop())
	ctx := context.Background()

	_, err := catalog.SetPrice(ctx, "act_job.post", dec("0.25"), "")
	require.NoError(t, err)

	res, err := f.biller.DeductForAction(ctx, "user-1", "job.post", domain.UsageContext{RequestID: "r1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, f.wallets.balance(w.ID).Equal(dec("0.75")))
}
