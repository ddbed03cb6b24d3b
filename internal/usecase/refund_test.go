package usecase

import (
	"context"
	"testing"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settledTopUp runs a top-up through to a credited wallet.
func (f *settlementFixture) settledTopUp(t *testing.T, providerCode string, method domain.PaymentMethod, amount, currency string) *domain.PaymentTransaction {
	t.Helper()
	res := f.topUp(t, providerCode, method, amount, currency)
	kind, err := domain.ParseProviderKind(providerCode)
	require.NoError(t, err)

	f.uc.ProcessWebhookEvent(context.Background(), kind, &domain.WebhookEvent{
		Type:          domain.EventPaymentSucceeded,
		PaymentID:     res.ProviderPaymentID,
		TransactionID: "settle-" + res.TransactionID,
		Status:        domain.PaymentCompleted,
	})
	payment, err := f.payments.GetByID(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentCompleted, payment.Status)
	return payment
}

func TestRefund_CreateProcessesAndDebits(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_1", Status: domain.RefundProcessed}

	refund, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID,
		Amount:               dec("40"),
		Reason:               "duplicate charge",
		AdminNotes:           "approved by support",
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, domain.RefundProcessed, refund.Status)
	require.NotNil(t, refund.ProviderRefundID)
	assert.Equal(t, "re_1", *refund.ProviderRefundID)
	require.NotNil(t, refund.ProcessedBy)
	assert.Equal(t, "admin-1", *refund.ProcessedBy)

	assert.Equal(t, "settle-"+payment.ID, f.stripe.lastRefund.TransactionID)
	assert.True(t, f.stripe.lastRefund.TotalAmount.Equal(dec("100")))
	assert.True(t, f.walletBalance(t).Equal(dec("60")))
	assert.Len(t, f.pub.ofType(events.RefundProcessed), 1)

	txs := f.wallets.walletTxs(payment.WalletID)
	last := txs[len(txs)-1]
	assert.Equal(t, domain.TxRefund, last.Type)
	require.NotNil(t, last.RefundID)
	assert.Equal(t, refund.ID, *last.RefundID)
	assert.Equal(t, "refund:"+refund.ID, *last.IdempotencyKey)
}

func TestRefund_AmountBoundedByPayment(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_a", Status: domain.RefundProcessed}

	_, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("100.01"), Reason: "too much"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	_, err = f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("40"), Reason: "partial"}, "admin-1")
	require.NoError(t, err)

	_, err = f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("61"), Reason: "rest plus one"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_b", Status: domain.RefundProcessed}
	_, err = f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("60"), Reason: "rest"}, "admin-1")
	require.NoError(t, err)

	stored, err := f.payments.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, stored.Status)
	assert.True(t, f.walletBalance(t).IsZero())

	_, err = f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("1"), Reason: "again"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRefund_SecondOpenRefundIsDuplicate(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")

	requested, err := f.refundUC.RequestRefund(ctx, "user-1", &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "changed my mind",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, requested.Status)

	_, err = f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "admin",
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateRefund)
	assert.Equal(t, 0, f.stripe.refundCalls)

	_, err = f.refundUC.RequestRefund(ctx, "someone-else", &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "not mine",
	})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestRefund_ProviderFailureMarksFailedAndAllowsRetry(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundErr = &domain.ProviderError{Provider: domain.ProviderStripe, Op: "refund", Message: "charge already disputed"}

	_, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("25"), Reason: "retry me"}, "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	refunds := f.refunds.all(payment.ID)
	require.Len(t, refunds, 1)
	failed := refunds[0]
	assert.Equal(t, domain.RefundFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, "charge already disputed")
	assert.True(t, f.walletBalance(t).Equal(dec("100")))

	f.stripe.refundErr = nil
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_retry", Status: domain.RefundProcessed}
	processed, err := f.refundUC.ProcessRefund(ctx, failed.ID, "second try", "admin-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, processed.Status)
	assert.True(t, f.walletBalance(t).Equal(dec("75")))

	_, err = f.refundUC.ProcessRefund(ctx, failed.ID, "third try", "admin-2")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 2, f.stripe.refundCalls)
}

func TestRefund_DeclinedByGateway(t *testing.T) {
	f := newSettlementFixture()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_no", Status: domain.RefundFailed}

	_, err := f.refundUC.CreateRefund(context.Background(), &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("5"), Reason: "x"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, domain.RefundFailed, f.refunds.all(payment.ID)[0].Status)
	assert.True(t, f.walletBalance(t).Equal(dec("100")))
}

func TestRefund_PendingGatewayRefundFinalizedByWebhook(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_async", Status: domain.RefundApproved}

	refund, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("30"), Reason: "async"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundApproved, refund.Status)
	require.NotNil(t, refund.ProviderRefundID)
	assert.Equal(t, "re_async", *refund.ProviderRefundID)
	assert.True(t, f.walletBalance(t).Equal(dec("100")))

	amount := dec("30")
	evt := &domain.WebhookEvent{
		Type:           domain.EventPaymentRefunded,
		TransactionID:  "settle-" + payment.ID,
		RefundID:       "re_async",
		RefundAmount:   &amount,
		RefundCurrency: "USD",
	}
	f.uc.ProcessWebhookEvent(ctx, domain.ProviderStripe, evt)
	f.uc.ProcessWebhookEvent(ctx, domain.ProviderStripe, evt)

	stored, err := f.refundUC.GetRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, stored.Status)
	assert.True(t, f.walletBalance(t).Equal(dec("70")))
	assert.Len(t, f.refunds.all(payment.ID), 1)
}

func TestRefund_RejectOnlyFromPending(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")

	requested, err := f.refundUC.RequestRefund(ctx, "user-1", &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "please",
	})
	require.NoError(t, err)

	rejected, err := f.refundUC.RejectRefund(ctx, requested.ID, "outside refund window", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundRejected, rejected.Status)

	_, err = f.refundUC.RejectRefund(ctx, requested.ID, "again", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.refundUC.ProcessRefund(ctx, requested.ID, "", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// A rejected request no longer blocks a new one.
	_, err = f.refundUC.RequestRefund(ctx, "user-1", &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "second ask",
	})
	assert.NoError(t, err)
}

func TestRefund_ConvertsIntoWalletCurrency(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "momo", domain.MethodEWallet, "10", "USD")
	require.Equal(t, "VND", payment.Currency)
	f.momo.refundResult = &provider.RefundResult{RefundID: payment.ProviderPaymentID + "-refund-x", Status: domain.RefundProcessed}

	_, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("50000"), Reason: "partial"}, "admin-1")
	require.NoError(t, err)

	assert.True(t, f.walletBalance(t).Equal(dec("8")))
	txs := f.wallets.walletTxs(payment.WalletID)
	last := txs[len(txs)-1]
	assert.True(t, last.Amount.Equal(dec("2")))
	conversion, ok := last.Metadata["conversion"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "0.00004", conversion["exchangeRate"])
}

func TestRefund_RequiresCompletedPayment(t *testing.T) {
	f := newSettlementFixture()
	res := f.topUp(t, "stripe", domain.MethodCard, "100", "USD")

	_, err := f.refundUC.CreateRefund(context.Background(), &domain.CreateRefundRequest{PaymentTransactionID: res.TransactionID, Amount: dec("1"), Reason: "early"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.refundUC.CreateRefund(context.Background(), &domain.CreateRefundRequest{PaymentTransactionID: "ptx_missing", Amount: dec("1"), Reason: "nope"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = f.refundUC.CreateRefund(context.Background(), &domain.CreateRefundRequest{PaymentTransactionID: res.TransactionID, Amount: dec("0"), Reason: "zero"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestRefund_Statistics(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	_, err := f.refundUC.RequestRefund(ctx, "user-1", &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "a"})
	require.NoError(t, err)

	stats, err := f.refundUC.Statistics(ctx, domain.RefundFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRefunds)
	assert.Equal(t, int64(1), stats.ByStatus[domain.RefundPending])

	list, total, err := f.refundUC.ListRefunds(ctx, domain.RefundFilter{Status: domain.RefundPending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}

func TestRefund_WebhookDebitRetriedAfterRateOutage(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	rates := defaultRates()
	f.refundUC.fx = rates
	payment := f.settledTopUp(t, "momo", domain.MethodEWallet, "100", "USD")
	require.True(t, f.walletBalance(t).Equal(dec("100")))

	amount := dec("1250000")
	evt := &domain.WebhookEvent{
		Type:           domain.EventPaymentRefunded,
		TransactionID:  "settle-" + payment.ID,
		RefundID:       payment.ProviderPaymentID + "-refund-1",
		RefundAmount:   &amount,
		RefundCurrency: "VND",
	}

	delete(rates, "VND/USD")
	f.uc.ProcessWebhookEvent(ctx, domain.ProviderMoMo, evt)

	refunds := f.refunds.all(payment.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundApproved, refunds[0].Status)
	assert.True(t, f.walletBalance(t).Equal(dec("100")))
	assert.Empty(t, f.pub.ofType(events.RefundProcessed))

	rates["VND/USD"] = dec("0.00004")
	f.uc.ProcessWebhookEvent(ctx, domain.ProviderMoMo, evt)

	refunds = f.refunds.all(payment.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundProcessed, refunds[0].Status)
	assert.True(t, f.walletBalance(t).Equal(dec("50")), "balance %s", f.walletBalance(t))
	assert.Len(t, f.pub.ofType(events.RefundProcessed), 1)
}

func TestRefund_ReprocessWaitsForPendingGatewayRefund(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")
	f.stripe.refundResult = &provider.RefundResult{RefundID: "re_1", Status: domain.RefundApproved}

	refund, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("40"), Reason: "slow gateway"}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, domain.RefundApproved, refund.Status)

	_, err = f.refundUC.ProcessRefund(ctx, refund.ID, "again", "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.stripe.refundCalls)
	assert.True(t, f.walletBalance(t).Equal(dec("100")))

	stored, err := f.refundUC.GetRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundApproved, stored.Status)
	assert.Equal(t, "re_1", *stored.ProviderRefundID)
}

func TestRefund_ReprocessRetriesOnlyTheDebit(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	rates := defaultRates()
	f.refundUC.fx = rates
	payment := f.settledTopUp(t, "momo", domain.MethodEWallet, "100", "USD")
	f.momo.refundResult = &provider.RefundResult{RefundID: payment.ProviderPaymentID + "-refund-2", Status: domain.RefundProcessed}

	delete(rates, "VND/USD")
	_, err := f.refundUC.CreateRefund(ctx, &domain.CreateRefundRequest{PaymentTransactionID: payment.ID, Amount: dec("1250000"), Reason: "half"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)

	refunds := f.refunds.all(payment.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundApproved, refunds[0].Status)
	assert.True(t, f.walletBalance(t).Equal(dec("100")))

	rates["VND/USD"] = dec("0.00004")
	processed, err := f.refundUC.ProcessRefund(ctx, refunds[0].ID, "rate back", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, processed.Status)
	assert.Equal(t, 1, f.momo.refundCalls)
	assert.True(t, f.walletBalance(t).Equal(dec("50")))
}

func TestRefund_WebhookRefundBesideOpenRequest(t *testing.T) {
	f := newSettlementFixture()
	ctx := context.Background()
	payment := f.settledTopUp(t, "stripe", domain.MethodCard, "100", "USD")

	requested, err := f.refundUC.RequestRefund(ctx, "user-1", &domain.CreateRefundRequest{
		PaymentTransactionID: payment.ID, Amount: dec("10"), Reason: "please",
	})
	require.NoError(t, err)

	amount := dec("20")
	f.uc.ProcessWebhookEvent(ctx, domain.ProviderStripe, &domain.WebhookEvent{
		Type:           domain.EventPaymentRefunded,
		TransactionID:  "settle-" + payment.ID,
		RefundID:       "re_dashboard",
		RefundAmount:   &amount,
		RefundCurrency: "USD",
	})

	assert.True(t, f.walletBalance(t).Equal(dec("80")))
	recorded, err := f.refunds.GetByProviderRefundID(ctx, domain.ProviderStripe, "re_dashboard")
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, recorded.Status)

	stillOpen, err := f.refundUC.GetRefund(ctx, requested.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPending, stillOpen.Status)
}
