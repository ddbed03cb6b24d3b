package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository"
	"settlement-service/pkg/events"
	"settlement-service/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RefundOrchestrator struct {
	providers ProviderDirectory
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	ledger    *WalletLedger
	fx        Converter
	events    events.Publisher
	logger    *zap.Logger
}

func NewRefundOrchestrator(
	providers ProviderDirectory,
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	ledger *WalletLedger,
	conv Converter,
	publisher events.Publisher,
	logger *zap.Logger,
) *RefundOrchestrator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &RefundOrchestrator{
		providers: providers,
		payments:  payments,
		refunds:   refunds,
		ledger:    ledger,
		fx:        conv,
		events:    publisher,
		logger:    logger,
	}
}

// ===============================
// QUERIES
// ===============================

func (uc *RefundOrchestrator) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	return uc.refunds.GetByID(ctx, refundID)
}

func (uc *RefundOrchestrator) ListRefunds(ctx context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error) {
	return uc.refunds.List(ctx, filter)
}

func (uc *RefundOrchestrator) Statistics(ctx context.Context, filter domain.RefundFilter) (*domain.RefundStatistics, error) {
	return uc.refunds.Statistics(ctx, filter)
}

// ===============================
// CREATION
// ===============================

// RequestRefund records a user's refund request for an admin to process or reject.
func (uc *RefundOrchestrator) RequestRefund(ctx context.Context, userID string, req *domain.CreateRefundRequest) (*domain.Refund, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payment, err := uc.payments.GetByID(ctx, req.PaymentTransactionID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, domain.ErrTransactionNotFound
	}
	if err := uc.checkRefundable(ctx, payment, req.Amount); err != nil {
		return nil, err
	}

	refund := newRefund(payment, req.Amount, req.Reason, domain.RefundPending)
	if err := uc.refunds.Create(ctx, refund); err != nil {
		return nil, err
	}
	metrics.Refunds.WithLabelValues(payment.Provider.String(), string(domain.RefundPending)).Inc()

	uc.logger.Info("refund requested",
		zap.String("refund_id", refund.ID),
		zap.String("payment_ref", payment.ID),
		zap.String("user_id", userID),
		zap.String("amount", refund.Amount.String()))
	return refund, nil
}

// CreateRefund is the admin path: the refund starts approved and is sent to
// the gateway straight away.
func (uc *RefundOrchestrator) CreateRefund(ctx context.Context, req *domain.CreateRefundRequest, adminID string) (*domain.Refund, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payment, err := uc.payments.GetByID(ctx, req.PaymentTransactionID)
	if err != nil {
		return nil, err
	}
	if err := uc.checkRefundable(ctx, payment, req.Amount); err != nil {
		return nil, err
	}

	refund := newRefund(payment, req.Amount, req.Reason, domain.RefundApproved)
	refund.AdminNotes = strPtr(req.AdminNotes)
	refund.ProcessedBy = strPtr(adminID)
	if err := uc.refunds.Create(ctx, refund); err != nil {
		return nil, err
	}

	return uc.ProcessRefund(ctx, refund.ID, req.AdminNotes, adminID)
}

func (uc *RefundOrchestrator) checkRefundable(ctx context.Context, payment *domain.PaymentTransaction, amount decimal.Decimal) error {
	if payment.Status != domain.PaymentCompleted {
		return fmt.Errorf("%w: payment is %s", domain.ErrInvalidTransition, payment.Status)
	}

	open, err := uc.refunds.FindOpen(ctx, payment.ID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: refund %s is %s", domain.ErrDuplicateRefund, open.ID, open.Status)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	refunded, err := uc.refunds.SumProcessed(ctx, payment.ID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(payment.Amount.Sub(refunded)) {
		return fmt.Errorf("%w: requested %s, refundable %s %s",
			domain.ErrRefundExceedsPayment, amount.String(), payment.Amount.Sub(refunded).String(), payment.Currency)
	}
	return nil
}

func newRefund(payment *domain.PaymentTransaction, amount decimal.Decimal, reason string, status domain.RefundStatus) *domain.Refund {
	return &domain.Refund{
		ID:                   id.New(id.PrefixRefund),
		UserID:               payment.UserID,
		WalletID:             payment.WalletID,
		PaymentTransactionID: payment.ID,
		Provider:             payment.Provider,
		Amount:               amount,
		Currency:             payment.Currency,
		Status:               status,
		Reason:               reason,
	}
}

// ===============================
// TRANSITIONS
// ===============================

// ProcessRefund sends the refund to the gateway. A failed refund may be
// processed again. A refund the gateway already holds is never sent twice:
// if the gateway settled it only the wallet debit is retried, otherwise it
// waits for the refund webhook.
func (uc *RefundOrchestrator) ProcessRefund(ctx context.Context, refundID, adminNotes, adminID string) (*domain.Refund, error) {
	refund, err := uc.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	switch refund.Status {
	case domain.RefundPending, domain.RefundApproved, domain.RefundFailed:
	default:
		return nil, fmt.Errorf("%w: refund is %s", domain.ErrInvalidTransition, refund.Status)
	}

	payment, err := uc.payments.GetByID(ctx, refund.PaymentTransactionID)
	if err != nil {
		return nil, err
	}

	if refund.ProviderRefundID != nil {
		if !gatewaySettled(refund) {
			return nil, fmt.Errorf("%w: gateway refund %s is awaiting settlement",
				domain.ErrInvalidTransition, *refund.ProviderRefundID)
		}
		uc.logger.Info("retrying wallet debit for settled gateway refund",
			zap.String("refund_id", refund.ID),
			zap.String("provider_refund_id", *refund.ProviderRefundID))
		return uc.complete(ctx, refund, payment, &domain.RefundUpdate{
			AdminNotes:  strPtr(adminNotes),
			ProcessedBy: strPtr(adminID),
		})
	}

	p, err := uc.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	result, err := p.RefundPayment(ctx, &provider.RefundRequest{
		PaymentID:     payment.ProviderPaymentID,
		TransactionID: deref(payment.ProviderTransactionID),
		Amount:        refund.Amount,
		TotalAmount:   payment.Amount,
		Currency:      refund.Currency,
		Reason:        refund.Reason,
	})
	if err == nil && (result.Status == domain.RefundFailed || result.Status == domain.RefundRejected) {
		err = &domain.ProviderError{Provider: payment.Provider, Op: "refund", Message: "gateway declined the refund"}
	}
	if err != nil {
		uc.logger.Error("provider refund failed",
			zap.String("refund_id", refund.ID),
			zap.String("payment_ref", payment.ID),
			zap.String("provider", payment.Provider.String()),
			zap.Error(err))
		if _, uerr := uc.refunds.Update(ctx, refund.ID, &domain.RefundUpdate{
			Status:        domain.RefundFailed,
			AdminNotes:    strPtr(adminNotes),
			ProcessedBy:   strPtr(adminID),
			FailureReason: strPtr(err.Error()),
		}); uerr != nil {
			uc.logger.Error("failed to mark refund failed", zap.String("refund_id", refund.ID), zap.Error(uerr))
		}
		metrics.Refunds.WithLabelValues(payment.Provider.String(), string(domain.RefundFailed)).Inc()
		return nil, err
	}

	if result.Status != domain.RefundProcessed {
		// The gateway settles later; its webhook finds this row by the refund id.
		updated, err := uc.refunds.Update(ctx, refund.ID, &domain.RefundUpdate{
			Status:           domain.RefundApproved,
			AdminNotes:       strPtr(adminNotes),
			ProcessedBy:      strPtr(adminID),
			ProviderRefundID: strPtr(result.RefundID),
			Metadata:         result.Raw,
		})
		if err != nil {
			return nil, err
		}
		metrics.Refunds.WithLabelValues(payment.Provider.String(), string(domain.RefundApproved)).Inc()
		uc.logger.Info("refund accepted by gateway, awaiting settlement",
			zap.String("refund_id", refund.ID),
			zap.String("provider_refund_id", result.RefundID))
		return updated, nil
	}

	return uc.complete(ctx, refund, payment, &domain.RefundUpdate{
		AdminNotes:       strPtr(adminNotes),
		ProcessedBy:      strPtr(adminID),
		ProviderRefundID: strPtr(result.RefundID),
		Metadata:         result.Raw,
	})
}

func (uc *RefundOrchestrator) RejectRefund(ctx context.Context, refundID, reason, adminID string) (*domain.Refund, error) {
	refund, err := uc.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != domain.RefundPending {
		return nil, fmt.Errorf("%w: only pending refunds can be rejected, refund is %s", domain.ErrInvalidTransition, refund.Status)
	}

	updated, err := uc.refunds.Update(ctx, refund.ID, &domain.RefundUpdate{
		Status:        domain.RefundRejected,
		AdminNotes:    strPtr(reason),
		ProcessedBy:   strPtr(adminID),
		FailureReason: strPtr(reason),
	})
	if err != nil {
		return nil, err
	}
	metrics.Refunds.WithLabelValues(refund.Provider.String(), string(domain.RefundRejected)).Inc()
	uc.logger.Info("refund rejected",
		zap.String("refund_id", refund.ID),
		zap.String("admin_id", adminID),
		zap.String("reason", reason))
	return updated, nil
}

// RecordProviderRefund applies a refund the gateway reports as settled.
// existing is the refund already stored under the same provider refund id.
func (uc *RefundOrchestrator) RecordProviderRefund(ctx context.Context, payment *domain.PaymentTransaction, existing *domain.Refund, evt *domain.WebhookEvent) error {
	if existing != nil {
		switch {
		case existing.Status == domain.RefundProcessed:
			uc.logger.Info("refund webhook already applied",
				zap.String("refund_id", existing.ID),
				zap.String("provider_refund_id", evt.RefundID))
			return nil
		case existing.Status.Open() || existing.Status == domain.RefundFailed:
			_, err := uc.complete(ctx, existing, payment, &domain.RefundUpdate{ProviderRefundID: strPtr(evt.RefundID)})
			return err
		default:
			uc.logger.Warn("refund webhook for a closed refund",
				zap.String("refund_id", existing.ID),
				zap.String("status", string(existing.Status)))
			return nil
		}
	}

	// An approved refund sent before the gateway assigned its id.
	open, err := uc.refunds.FindOpen(ctx, payment.ID)
	switch {
	case err == nil && open.Status == domain.RefundApproved && open.ProviderRefundID == nil:
		_, err := uc.complete(ctx, open, payment, &domain.RefundUpdate{ProviderRefundID: strPtr(evt.RefundID)})
		return err
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}

	refunded, err := uc.refunds.SumProcessed(ctx, payment.ID)
	if err != nil {
		return err
	}
	remaining := payment.Amount.Sub(refunded)

	amount := remaining
	if evt.RefundAmount != nil {
		amount = *evt.RefundAmount
		if evt.RefundCurrency != "" && evt.RefundCurrency != payment.Currency {
			converted, _, err := convertInto(ctx, uc.fx, amount, evt.RefundCurrency, payment.Currency)
			if err != nil {
				return err
			}
			amount = converted
		}
	}
	if amount.GreaterThan(remaining) {
		uc.logger.Warn("gateway refund exceeds refundable amount, capping",
			zap.String("payment_ref", payment.ID),
			zap.String("reported", amount.String()),
			zap.String("refundable", remaining.String()))
		amount = remaining
	}
	if !amount.IsPositive() {
		uc.logger.Warn("nothing left to refund",
			zap.String("payment_ref", payment.ID),
			zap.String("provider_refund_id", evt.RefundID))
		return nil
	}

	refundID := evt.RefundID
	if refundID == "" {
		refundID = id.New(id.PrefixRefund)
	}
	// Recorded before the debit and only marked processed by complete, so a
	// redelivery after a failed debit retries it.
	refund := newRefund(payment, amount, "Refund issued at "+payment.Provider.String(), domain.RefundApproved)
	refund.ProviderRefundID = &refundID
	refund.Metadata = map[string]interface{}{"source": "webhook", gatewaySettledKey: true}
	if err := uc.refunds.Create(ctx, refund); err != nil {
		if !errors.Is(err, domain.ErrDuplicateRefund) {
			return err
		}
		stored, lerr := uc.refunds.GetByProviderRefundID(ctx, payment.Provider, refundID)
		switch {
		case lerr == nil:
			// A concurrent delivery recorded it first.
			return uc.RecordProviderRefund(ctx, payment, stored, evt)
		case !errors.Is(lerr, domain.ErrNotFound):
			return lerr
		}
		// Another refund on this payment is open; keep this one out of the
		// open set until its debit lands.
		refund.Status = domain.RefundFailed
		refund.FailureReason = strPtr("wallet debit pending")
		if err := uc.refunds.Create(ctx, refund); err != nil {
			return err
		}
	}

	if _, err := uc.complete(ctx, refund, payment, &domain.RefundUpdate{}); err != nil {
		uc.logger.Error("gateway refund recorded but wallet debit failed; awaiting redelivery",
			zap.String("refund_id", refund.ID),
			zap.String("payment_ref", payment.ID),
			zap.String("wallet_id", payment.WalletID),
			zap.String("amount", refund.Amount.String()),
			zap.String("currency", refund.Currency),
			zap.Error(err))
		return err
	}
	return nil
}

// gatewaySettledKey marks refund metadata once the gateway reports the money
// as returned.
const gatewaySettledKey = "gatewaySettled"

func gatewaySettled(r *domain.Refund) bool {
	settled, _ := r.Metadata[gatewaySettledKey].(bool)
	return settled
}

// complete finalizes an accepted refund: debit the wallet, then mark it processed.
func (uc *RefundOrchestrator) complete(ctx context.Context, refund *domain.Refund, payment *domain.PaymentTransaction, upd *domain.RefundUpdate) (*domain.Refund, error) {
	// Store the gateway refund id and its settlement before money moves, so
	// a retry debits again instead of issuing a second gateway refund.
	if (upd.ProviderRefundID != nil && refund.ProviderRefundID == nil) || !gatewaySettled(refund) {
		pre := &domain.RefundUpdate{
			Metadata: map[string]interface{}{gatewaySettledKey: true},
		}
		if refund.ProviderRefundID == nil {
			pre.ProviderRefundID = upd.ProviderRefundID
		}
		if refund.Status.Open() {
			pre.Status = domain.RefundApproved
		}
		stored, err := uc.refunds.Update(ctx, refund.ID, pre)
		if err != nil {
			return nil, err
		}
		refund = stored
	}

	if err := uc.debit(ctx, refund, payment); err != nil {
		return nil, err
	}

	upd.Status = domain.RefundProcessed
	processed, err := uc.refunds.Update(ctx, refund.ID, upd)
	if err != nil {
		return nil, err
	}
	uc.afterProcessed(ctx, processed, payment)
	return processed, nil
}

// debit takes the refunded amount back out of the wallet for top-ups. The
// wallet may go negative: the money already left through the gateway.
func (uc *RefundOrchestrator) debit(ctx context.Context, refund *domain.Refund, payment *domain.PaymentTransaction) error {
	if payment.Type != domain.PaymentTypeTopUp {
		return nil
	}
	wallet, err := uc.ledger.Wallet(ctx, payment.WalletID)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	amount, conversion, err := convertInto(ctx, uc.fx, refund.Amount, refund.Currency, wallet.Currency)
	if err != nil {
		return err
	}
	meta := map[string]interface{}{
		"refundId":         refund.ID,
		"originalAmount":   refund.Amount.String(),
		"originalCurrency": refund.Currency,
	}
	if conversion != nil {
		meta["conversion"] = conversion
	}
	if refund.ProviderRefundID != nil {
		meta["providerRefundId"] = *refund.ProviderRefundID
	}

	_, err = uc.ledger.Debit(ctx, DebitRequest{
		WalletID:             wallet.ID,
		Amount:               amount,
		Type:                 domain.TxRefund,
		Description:          fmt.Sprintf("Refund of %s %s via %s", refund.Amount.String(), refund.Currency, payment.Provider),
		Metadata:             meta,
		IdempotencyKey:       "refund:" + refund.ID,
		AllowNegative:        true,
		PaymentTransactionID: payment.ID,
		RefundID:             refund.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to debit wallet for refund: %w", err)
	}
	return nil
}

func (uc *RefundOrchestrator) afterProcessed(ctx context.Context, refund *domain.Refund, payment *domain.PaymentTransaction) {
	metrics.Refunds.WithLabelValues(payment.Provider.String(), string(domain.RefundProcessed)).Inc()

	refunded, err := uc.refunds.SumProcessed(ctx, payment.ID)
	if err != nil {
		uc.logger.Warn("failed to sum processed refunds", zap.String("payment_ref", payment.ID), zap.Error(err))
	} else if refunded.GreaterThanOrEqual(payment.Amount) && payment.Status != domain.PaymentRefunded {
		if _, err := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{Status: domain.PaymentRefunded}); err != nil {
			uc.logger.Error("failed to mark payment refunded", zap.String("payment_ref", payment.ID), zap.Error(err))
		}
	}

	uc.events.Publish(ctx, events.Event{
		Type:      events.RefundProcessed,
		UserID:    refund.UserID,
		WalletID:  refund.WalletID,
		Reference: refund.ID,
		Amount:    refund.Amount,
		Currency:  refund.Currency,
		Attributes: map[string]interface{}{
			"payment_transaction_id": payment.ID,
			"provider":               payment.Provider,
			"provider_refund_id":     deref(refund.ProviderRefundID),
		},
		OccurredAt: time.Now().UTC(),
	})

	uc.logger.Info("refund processed",
		zap.String("refund_id", refund.ID),
		zap.String("payment_ref", payment.ID),
		zap.String("amount", refund.Amount.String()),
		zap.String("currency", refund.Currency))
}
