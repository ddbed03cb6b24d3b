package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/identity"
	"settlement-service/internal/metrics"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository"
	"settlement-service/pkg/events"
	"settlement-service/pkg/id"

	"go.uber.org/zap"
)

type SettlementConfig struct {
	// APIBaseURL is where gateways reach our webhook and return endpoints.
	APIBaseURL string
	LockTTL    time.Duration
}

type SettlementOrchestrator struct {
	providers ProviderDirectory
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	refundUC  *RefundOrchestrator
	ledger    *WalletLedger
	fx        Converter
	users     identity.Resolver
	events    events.Publisher
	notifier  BalanceNotifier
	locker    Locker
	cfg       SettlementConfig
	logger    *zap.Logger
}

func NewSettlementOrchestrator(
	providers ProviderDirectory,
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	refundUC *RefundOrchestrator,
	ledger *WalletLedger,
	conv Converter,
	users identity.Resolver,
	publisher events.Publisher,
	notifier BalanceNotifier,
	cfg SettlementConfig,
	logger *zap.Logger,
) *SettlementOrchestrator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if users == nil {
		users = identity.Passthrough{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &SettlementOrchestrator{
		providers: providers,
		payments:  payments,
		refunds:   refunds,
		refundUC:  refundUC,
		ledger:    ledger,
		fx:        conv,
		users:     users,
		events:    publisher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// WithLocker serializes concurrent webhook deliveries for one payment.
func (uc *SettlementOrchestrator) WithLocker(l Locker) *SettlementOrchestrator {
	uc.locker = l
	return uc
}

// ===============================
// PROVIDER DISCOVERY
// ===============================

func (uc *SettlementOrchestrator) AvailableProviders() []provider.Info {
	return provider.Describe(uc.providers.Available())
}

func (uc *SettlementOrchestrator) ProvidersByCriteria(currency string, method domain.PaymentMethod, region string) []provider.Info {
	return provider.Describe(uc.providers.ByCriteria(currency, method, region))
}

// ===============================
// TOP-UP
// ===============================

func (uc *SettlementOrchestrator) InitiateTopUp(ctx context.Context, req *domain.TopUpRequest) (*domain.TopUpResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := uc.providers.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}
	kind := p.Kind()
	if err := uc.providers.ValidateMethod(kind, req.PaymentMethod); err != nil {
		return nil, err
	}

	user, err := uc.users.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	wallet, err := uc.ledger.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	amount, currency := req.Amount, req.Currency
	metadata := map[string]interface{}{}
	if pinned := p.PinnedCurrency(); pinned != "" {
		converted, conversion, err := convertInto(ctx, uc.fx, req.Amount, req.Currency, pinned)
		if err != nil {
			return nil, err
		}
		amount, currency = converted, pinned
		if conversion != nil {
			metadata["conversion"] = conversion
		}
	} else if err := uc.providers.ValidateCurrency(kind, req.Currency); err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Wallet top-up via %s", p.Name())
	}

	payment := &domain.PaymentTransaction{
		ID:                id.New(id.PrefixPayment),
		WalletID:          wallet.ID,
		UserID:            req.UserID,
		Provider:          kind,
		ProviderPaymentID: id.New(id.PrefixPending),
		Amount:            amount,
		Currency:          currency,
		RequestedAmount:   req.Amount,
		RequestedCurrency: req.Currency,
		Status:            domain.PaymentPending,
		Type:              domain.PaymentTypeTopUp,
		PaymentMethod:     req.PaymentMethod,
		Description:       description,
		Metadata:          metadata,
	}
	if err := uc.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment transaction: %w", err)
	}

	returnURL := fmt.Sprintf("%s/api/v1/payments/%s/return", uc.cfg.APIBaseURL, kind)
	intent, err := p.CreatePaymentIntent(ctx, &provider.IntentRequest{
		Amount:      amount,
		Currency:    currency,
		Method:      req.PaymentMethod,
		Description: description,
		Reference:   payment.ID,
		UserID:      req.UserID,
		WalletID:    wallet.ID,
		Email:       user.Email,
		NotifyURL:   fmt.Sprintf("%s/api/v1/payments/%s/webhook", uc.cfg.APIBaseURL, kind),
		ReturnURL:   returnURL,
		CancelURL:   returnURL + "?cancelled=true",
		Metadata: map[string]string{
			"paymentTransactionId": payment.ID,
			"walletId":             wallet.ID,
			"userId":               req.UserID,
		},
	})
	if err != nil {
		metrics.TopUpsInitiated.WithLabelValues(kind.String(), "failed").Inc()
		uc.logger.Error("failed to create payment intent",
			zap.String("payment_ref", payment.ID),
			zap.String("provider", kind.String()),
			zap.String("amount", amount.String()),
			zap.String("currency", currency),
			zap.Error(err))
		if _, uerr := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
			Status:        domain.PaymentFailed,
			FailureReason: strPtr(err.Error()),
		}); uerr != nil {
			uc.logger.Error("failed to mark payment failed", zap.String("payment_ref", payment.ID), zap.Error(uerr))
		}
		return nil, err
	}

	intentMeta := map[string]interface{}{}
	for k, v := range map[string]string{
		"redirectUrl":  intent.RedirectURL,
		"paymentUrl":   intent.PaymentURL,
		"clientSecret": intent.ClientSecret,
		"qrCode":       intent.QRCode,
	} {
		if v != "" {
			intentMeta[k] = v
		}
	}
	if intent.ExpiresAt != nil {
		intentMeta["expiresAt"] = intent.ExpiresAt.UTC().Format(time.RFC3339)
	}

	payment, err = uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
		Status:            domain.PaymentProcessing,
		ProviderPaymentID: &intent.PaymentID,
		GatewayResponse:   intent.Raw,
		Metadata:          intentMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store provider payment id: %w", err)
	}

	metrics.TopUpsInitiated.WithLabelValues(kind.String(), "ok").Inc()
	uc.logger.Info("top-up initiated",
		zap.String("payment_ref", payment.ID),
		zap.String("provider", kind.String()),
		zap.String("provider_payment_id", intent.PaymentID),
		zap.String("user_id", req.UserID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency))

	return &domain.TopUpResult{
		TransactionID:     payment.ID,
		ProviderPaymentID: intent.PaymentID,
		Provider:          kind,
		Amount:            amount,
		Currency:          currency,
		Status:            payment.Status,
		RedirectURL:       intent.RedirectURL,
		PaymentURL:        intent.PaymentURL,
		ClientSecret:      intent.ClientSecret,
		QRCode:            intent.QRCode,
		ExpiresAt:         intent.ExpiresAt,
	}, nil
}

// ConfirmPayment settles a payment from the return flow. A completed payment
// is returned as stored.
func (uc *SettlementOrchestrator) ConfirmPayment(ctx context.Context, kind domain.ProviderKind, providerPaymentID string, data map[string]string) (*domain.PaymentTransaction, error) {
	p, err := uc.providers.Get(kind)
	if err != nil {
		return nil, err
	}
	payment, err := uc.payments.GetByProviderPaymentID(ctx, kind, providerPaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentRefunded {
		return payment, nil
	}

	result, err := p.ConfirmPayment(ctx, payment.ProviderPaymentID, data)
	if err != nil {
		uc.logger.Error("payment confirmation failed",
			zap.String("payment_ref", payment.ID),
			zap.String("provider", kind.String()),
			zap.Error(err))
		if _, uerr := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
			Status:        domain.PaymentFailed,
			FailureReason: strPtr(err.Error()),
		}); uerr != nil {
			uc.logger.Error("failed to mark payment failed", zap.String("payment_ref", payment.ID), zap.Error(uerr))
		}
		return nil, err
	}

	return uc.applyResult(ctx, payment, result)
}

// GetPaymentStatus asks the gateway and persists a change. Gateway errors fall
// back to the stored status.
func (uc *SettlementOrchestrator) GetPaymentStatus(ctx context.Context, kind domain.ProviderKind, providerPaymentID string) (domain.PaymentStatus, error) {
	p, err := uc.providers.Get(kind)
	if err != nil {
		return "", err
	}
	payment, err := uc.payments.GetByProviderPaymentID(ctx, kind, providerPaymentID)
	if err != nil {
		return "", err
	}

	status, err := p.GetPaymentStatus(ctx, payment.ProviderPaymentID)
	if err != nil {
		uc.logger.Warn("gateway status query failed, using stored status",
			zap.String("payment_ref", payment.ID),
			zap.String("provider", kind.String()),
			zap.String("stored_status", string(payment.Status)),
			zap.Error(err))
		return payment.Status, nil
	}
	if status == payment.Status || payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentRefunded {
		return payment.Status, nil
	}

	switch status {
	case domain.PaymentCompleted:
		result, err := p.ConfirmPayment(ctx, payment.ProviderPaymentID, nil)
		if err != nil || result.Status != domain.PaymentCompleted {
			result = &provider.PaymentResult{Status: domain.PaymentCompleted}
		}
		updated, err := uc.settle(ctx, payment, result.TransactionID, result.GatewayResponse)
		if err != nil {
			return payment.Status, err
		}
		return updated.Status, nil
	case domain.PaymentFailed, domain.PaymentCancelled:
		updated, err := uc.markClosed(ctx, payment, status, "reported by gateway status query", nil)
		if err != nil {
			return payment.Status, err
		}
		return updated.Status, nil
	case domain.PaymentRefunded:
		// Refunds only move through the refund path.
		return payment.Status, nil
	default:
		if _, err := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{Status: status}); err != nil {
			return payment.Status, fmt.Errorf("failed to update payment status: %w", err)
		}
		return status, nil
	}
}

func (uc *SettlementOrchestrator) applyResult(ctx context.Context, payment *domain.PaymentTransaction, result *provider.PaymentResult) (*domain.PaymentTransaction, error) {
	switch result.Status {
	case domain.PaymentCompleted:
		return uc.settle(ctx, payment, result.TransactionID, result.GatewayResponse)
	case domain.PaymentFailed, domain.PaymentCancelled:
		return uc.markClosed(ctx, payment, result.Status, "payment "+string(result.Status)+" at gateway", result.GatewayResponse)
	default:
		return uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
			Status:                result.Status,
			ProviderTransactionID: strPtr(result.TransactionID),
			GatewayResponse:       result.GatewayResponse,
		})
	}
}

// settle credits the wallet once per payment and marks it completed. The
// ledger idempotency key makes a repeated call a no-op.
func (uc *SettlementOrchestrator) settle(ctx context.Context, payment *domain.PaymentTransaction, transactionID string, gateway map[string]interface{}) (*domain.PaymentTransaction, error) {
	current, err := uc.payments.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.PaymentCompleted || current.Status == domain.PaymentRefunded {
		return current, nil
	}

	wallet, err := uc.ledger.Wallet(ctx, current.WalletID)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	creditAmount, conversion, err := convertInto(ctx, uc.fx, current.Amount, current.Currency, wallet.Currency)
	if err != nil {
		uc.logger.Error("cannot credit top-up without an exchange rate",
			zap.String("payment_ref", current.ID),
			zap.String("from", current.Currency),
			zap.String("to", wallet.Currency),
			zap.Error(err))
		return nil, err
	}

	creditMeta := map[string]interface{}{
		"provider":          current.Provider,
		"providerPaymentId": current.ProviderPaymentID,
		"originalAmount":    current.Amount.String(),
		"originalCurrency":  current.Currency,
	}
	if conversion != nil {
		creditMeta["conversion"] = conversion
	}
	tx, err := uc.ledger.Credit(ctx, CreditRequest{
		WalletID:             wallet.ID,
		Amount:               creditAmount,
		Type:                 domain.TxCredit,
		Description:          current.Description,
		Metadata:             creditMeta,
		IdempotencyKey:       "topup:" + current.ID,
		PaymentTransactionID: current.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	settled, err := uc.payments.Update(ctx, current.ID, &domain.PaymentUpdate{
		Status:                domain.PaymentCompleted,
		ProviderTransactionID: strPtr(transactionID),
		GatewayResponse:       gateway,
		Metadata: map[string]interface{}{
			"walletTransactionId": tx.ID,
			"creditedAmount":      creditAmount.String(),
			"creditedCurrency":    wallet.Currency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment completed: %w", err)
	}

	metrics.Settlements.WithLabelValues(settled.Provider.String(), string(domain.PaymentCompleted)).Inc()
	uc.events.Publish(ctx, events.Event{
		Type:      events.PaymentSettled,
		UserID:    settled.UserID,
		WalletID:  settled.WalletID,
		Reference: settled.ID,
		Amount:    settled.Amount,
		Currency:  settled.Currency,
		Attributes: map[string]interface{}{
			"provider":        settled.Provider,
			"credited_amount": creditAmount.String(),
		},
		OccurredAt: time.Now().UTC(),
	})
	if uc.notifier != nil {
		uc.notifier.NotifyPayment(settled.UserID, settled)
	}

	uc.logger.Info("payment settled",
		zap.String("payment_ref", settled.ID),
		zap.String("provider", settled.Provider.String()),
		zap.String("wallet_id", wallet.ID),
		zap.String("credited", creditAmount.String()),
		zap.String("balance_after", tx.BalanceAfter.String()))

	return settled, nil
}

func (uc *SettlementOrchestrator) markClosed(ctx context.Context, payment *domain.PaymentTransaction, status domain.PaymentStatus, reason string, gateway map[string]interface{}) (*domain.PaymentTransaction, error) {
	updated, err := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
		Status:          status,
		FailureReason:   strPtr(reason),
		GatewayResponse: gateway,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	metrics.Settlements.WithLabelValues(payment.Provider.String(), string(status)).Inc()
	if status == domain.PaymentFailed {
		uc.events.Publish(ctx, events.Event{
			Type:       events.PaymentFailed,
			UserID:     updated.UserID,
			WalletID:   updated.WalletID,
			Reference:  updated.ID,
			Amount:     updated.Amount,
			Currency:   updated.Currency,
			Attributes: map[string]interface{}{"reason": reason},
			OccurredAt: time.Now().UTC(),
		})
	}
	if uc.notifier != nil {
		uc.notifier.NotifyPayment(updated.UserID, updated)
	}
	return updated, nil
}

// ===============================
// WEBHOOKS
// ===============================

// HandleWebhook verifies and normalizes a delivery, then reconciles it. Only a
// bad signature or an unknown provider is returned; anything else is logged so
// the gateway gets its acknowledgement.
func (uc *SettlementOrchestrator) HandleWebhook(ctx context.Context, kind domain.ProviderKind, req *provider.WebhookRequest) error {
	p, err := uc.providers.Get(kind)
	if err != nil {
		return err
	}

	evt, err := p.HandleWebhook(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			metrics.WebhooksReceived.WithLabelValues(kind.String(), "", "invalid_signature").Inc()
			uc.logger.Warn("webhook signature rejected", zap.String("provider", kind.String()))
			return err
		}
		metrics.WebhooksReceived.WithLabelValues(kind.String(), "", "malformed").Inc()
		uc.logger.Error("failed to parse webhook", zap.String("provider", kind.String()), zap.Error(err))
		return nil
	}

	uc.ProcessWebhookEvent(ctx, kind, evt)
	return nil
}

// ProcessWebhookEvent applies a normalized event. Failures are logged and
// counted, never returned.
func (uc *SettlementOrchestrator) ProcessWebhookEvent(ctx context.Context, kind domain.ProviderKind, evt *domain.WebhookEvent) {
	outcome := "processed"
	err := uc.processWebhookEvent(ctx, kind, evt)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		outcome = "unmatched"
		uc.logger.Warn("webhook references an unknown payment",
			zap.String("provider", kind.String()),
			zap.String("event", string(evt.Type)),
			zap.String("payment_id", evt.PaymentID),
			zap.String("transaction_id", evt.TransactionID))
	case err != nil:
		outcome = "error"
		uc.logger.Error("webhook processing failed",
			zap.String("provider", kind.String()),
			zap.String("event", string(evt.Type)),
			zap.String("payment_id", evt.PaymentID),
			zap.String("transaction_id", evt.TransactionID),
			zap.String("refund_id", evt.RefundID),
			zap.Error(err))
	}
	metrics.WebhooksReceived.WithLabelValues(kind.String(), string(evt.Type), outcome).Inc()
}

func (uc *SettlementOrchestrator) processWebhookEvent(ctx context.Context, kind domain.ProviderKind, evt *domain.WebhookEvent) error {
	switch evt.Type {
	case domain.EventPaymentUnknown:
		uc.logger.Debug("ignoring webhook event", zap.String("provider", kind.String()), zap.String("message", evt.Message))
		return nil
	case domain.EventPaymentRefunded:
		return uc.reconcileRefund(ctx, kind, evt)
	}

	payment, err := uc.lookupPayment(ctx, kind, evt)
	if err != nil {
		return err
	}

	release, err := uc.lock(ctx, kind, payment.ProviderPaymentID)
	if err != nil {
		return err
	}
	defer release()

	switch evt.Type {
	case domain.EventPaymentSucceeded:
		if payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentRefunded {
			return nil
		}
		// An approval still has to be captured before money moves.
		if evt.Status != "" && evt.Status != domain.PaymentCompleted {
			p, err := uc.providers.Get(kind)
			if err != nil {
				return err
			}
			result, err := p.ConfirmPayment(ctx, payment.ProviderPaymentID, nil)
			if err != nil {
				return fmt.Errorf("confirm approved payment: %w", err)
			}
			_, err = uc.applyResult(ctx, payment, result)
			return err
		}
		_, err := uc.settle(ctx, payment, evt.TransactionID, evt.Data)
		return err

	case domain.EventPaymentFailed, domain.EventPaymentCancelled:
		if payment.Status == domain.PaymentCompleted || payment.Status == domain.PaymentRefunded {
			uc.logger.Warn("ignoring failure event for a settled payment",
				zap.String("payment_ref", payment.ID), zap.String("event", string(evt.Type)))
			return nil
		}
		status := domain.PaymentFailed
		if evt.Type == domain.EventPaymentCancelled {
			status = domain.PaymentCancelled
		}
		reason := evt.Message
		if reason == "" {
			reason = "payment " + string(status) + " at gateway"
		}
		_, err := uc.markClosed(ctx, payment, status, reason, evt.Data)
		return err

	case domain.EventPaymentUpdated:
		if evt.Status != domain.PaymentPending && evt.Status != domain.PaymentProcessing {
			return nil
		}
		if payment.Status != domain.PaymentPending && payment.Status != domain.PaymentProcessing {
			return nil
		}
		if payment.Status == evt.Status {
			return nil
		}
		_, err := uc.payments.Update(ctx, payment.ID, &domain.PaymentUpdate{
			Status:                evt.Status,
			ProviderTransactionID: strPtr(evt.TransactionID),
			GatewayResponse:       evt.Data,
		})
		return err
	}
	return nil
}

// lookupPayment tries the provider payment id, then the settlement id, then
// our own reference carried in the gateway metadata.
func (uc *SettlementOrchestrator) lookupPayment(ctx context.Context, kind domain.ProviderKind, evt *domain.WebhookEvent) (*domain.PaymentTransaction, error) {
	if evt.PaymentID != "" {
		payment, err := uc.payments.GetByProviderPaymentID(ctx, kind, evt.PaymentID)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) {
			return payment, err
		}
	}
	if evt.TransactionID != "" {
		payment, err := uc.payments.GetByProviderTransactionID(ctx, kind, evt.TransactionID)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) {
			return payment, err
		}
	}
	if ref := dataString(evt.Data, "reference"); ref != "" {
		payment, err := uc.payments.GetByID(ctx, ref)
		if err == nil && payment.Provider == kind {
			return payment, nil
		}
		if err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (uc *SettlementOrchestrator) reconcileRefund(ctx context.Context, kind domain.ProviderKind, evt *domain.WebhookEvent) error {
	var existing *domain.Refund
	if evt.RefundID != "" {
		r, err := uc.refunds.GetByProviderRefundID(ctx, kind, evt.RefundID)
		switch {
		case err == nil:
			existing = r
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	payment, err := uc.lookupRefundedPayment(ctx, kind, evt, existing)
	if err != nil {
		return err
	}

	release, err := uc.lock(ctx, kind, payment.ProviderPaymentID)
	if err != nil {
		return err
	}
	defer release()

	return uc.refundUC.RecordProviderRefund(ctx, payment, existing, evt)
}

// lookupRefundedPayment resolves the payment a refund notification belongs to.
// The gateway-response scan only matters for rows settled before transaction
// ids were stored.
func (uc *SettlementOrchestrator) lookupRefundedPayment(ctx context.Context, kind domain.ProviderKind, evt *domain.WebhookEvent, existing *domain.Refund) (*domain.PaymentTransaction, error) {
	if evt.TransactionID != "" {
		payment, err := uc.payments.GetByProviderTransactionID(ctx, kind, evt.TransactionID)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) {
			return payment, err
		}
	}

	for _, ref := range []string{evt.TransactionID, dataString(evt.Data, "chargeId")} {
		if ref == "" {
			continue
		}
		payment, err := uc.payments.FindByGatewayReference(ctx, kind, ref)
		if err == nil {
			uc.logger.Info("refund matched through gateway response scan",
				zap.String("payment_ref", payment.ID), zap.String("reference", ref))
			return payment, nil
		}
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	}

	if evt.PaymentID != "" {
		payment, err := uc.payments.GetByProviderPaymentID(ctx, kind, evt.PaymentID)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) {
			return payment, err
		}
	}

	if existing != nil {
		return uc.payments.GetByID(ctx, existing.PaymentTransactionID)
	}
	return nil, domain.ErrTransactionNotFound
}

func (uc *SettlementOrchestrator) lock(ctx context.Context, kind domain.ProviderKind, providerPaymentID string) (func(), error) {
	if uc.locker == nil {
		return func() {}, nil
	}
	name := fmt.Sprintf("settle:%s:%s", kind, providerPaymentID)
	release, ok, err := uc.locker.AcquireLock(ctx, name, id.ULID(), uc.cfg.LockTTL)
	if err != nil {
		uc.logger.Warn("settlement lock unavailable, continuing unlocked", zap.String("lock", name), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSettlementBusy, name)
	}
	return release, nil
}
