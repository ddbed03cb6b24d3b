package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/fx"
	"settlement-service/internal/provider"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sessionTTL      = 24*time.Hour - time.Minute
	signatureMaxAge = 5 * time.Minute
)

type Provider struct {
	config config.StripeConfig
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewStripeProvider(cfg config.StripeConfig, logger *zap.Logger) *Provider {
	return &Provider{
		config: cfg,
		client: provider.NewRestClient(cfg.BaseURL).SetAuthToken(cfg.SecretKey),
		logger: logger,
		now:    time.Now,
	}
}

func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderStripe }
func (p *Provider) Name() string              { return "Stripe" }
func (p *Provider) SupportedMethods() []domain.PaymentMethod {
	return []domain.PaymentMethod{domain.MethodCard}
}
func (p *Provider) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "VND", "SGD", "JPY", "AUD"}
}
func (p *Provider) SupportedRegions() []string { return nil }
func (p *Provider) PinnedCurrency() string     { return "" }

// toMinor converts to Stripe's smallest currency unit.
func toMinor(amount decimal.Decimal, currency string) int64 {
	if fx.IsZeroDecimal(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinor(amount int64, currency string) decimal.Decimal {
	if fx.IsZeroDecimal(currency) {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// ============================================
// API OBJECTS
// ============================================

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	ExpiresAt         int64             `json:"expires_at"`
}

type paymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	LatestCharge string            `json:"latest_charge"`
	Metadata     map[string]string `json:"metadata"`
}

type refund struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Reason        string `json:"reason"`
}

type charge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	PaymentIntent  string `json:"payment_intent"`
	Refunded       bool   `json:"refunded"`
	Refunds        struct {
		Data []refund `json:"data"`
	} `json:"refunds"`
	Metadata map[string]string `json:"metadata"`
}

func (p *Provider) do(ctx context.Context, method, path string, form map[string]string, out interface{}) error {
	var apiErr apiError
	req := p.client.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr).
		ForceContentType("application/json")
	if form != nil {
		req.SetFormData(form)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("stripe returned status %d", resp.StatusCode())
		}
		return errors.New(msg)
	}
	return nil
}

// ============================================
// CHECKOUT
// ============================================

func (p *Provider) CreatePaymentIntent(ctx context.Context, req *provider.IntentRequest) (*provider.IntentResult, error) {
	currency := strings.ToUpper(req.Currency)
	if !p.supports(currency) {
		return nil, fmt.Errorf("%w: Stripe does not support %s", domain.ErrUnsupportedCurrency, req.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	name := req.Description
	if name == "" {
		name = "Wallet top-up"
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = req.ReturnURL
	}
	expiresAt := p.now().Add(sessionTTL)

	form := map[string]string{
		"mode":                    "payment",
		"payment_method_types[0]": "card",
		"line_items[0][quantity]": "1",
		"line_items[0][price_data][currency]":            strings.ToLower(currency),
		"line_items[0][price_data][unit_amount]":         strconv.FormatInt(toMinor(req.Amount, currency), 10),
		"line_items[0][price_data][product_data][name]":  name,
		"success_url":                                    withSessionParam(req.ReturnURL),
		"cancel_url":                                     withSessionParam(cancelURL),
		"client_reference_id":                            req.Reference,
		"expires_at":                                     strconv.FormatInt(expiresAt.Unix(), 10),
		"metadata[paymentTransactionId]":                 req.Reference,
		"metadata[userId]":                               req.UserID,
		"metadata[walletId]":                             req.WalletID,
		"payment_intent_data[metadata][paymentTransactionId]": req.Reference,
	}
	if req.Email != "" {
		form["customer_email"] = req.Email
	}

	var session checkoutSession
	if err := p.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderStripe, Op: "create", Message: err.Error()}
	}

	p.logger.Info("stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.String("reference", req.Reference))

	return &provider.IntentResult{
		PaymentID:   session.ID,
		RedirectURL: session.URL,
		PaymentURL:  session.URL,
		ExpiresAt:   &expiresAt,
		Raw:         provider.ToMap(session),
	}, nil
}

func withSessionParam(u string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id={CHECKOUT_SESSION_ID}"
}

func (p *Provider) supports(currency string) bool {
	for _, c := range p.SupportedCurrencies() {
		if c == currency {
			return true
		}
	}
	return false
}

// sessionStatus maps a checkout session onto our payment status.
func sessionStatus(s *checkoutSession) domain.PaymentStatus {
	switch {
	case s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required":
		return domain.PaymentCompleted
	case s.Status == "expired":
		return domain.PaymentCancelled
	case s.PaymentStatus == "unpaid":
		return domain.PaymentPending
	default:
		return domain.PaymentFailed
	}
}

// IntentStatus maps a PaymentIntent status onto our payment status.
func IntentStatus(status string) domain.PaymentStatus {
	switch status {
	case "succeeded":
		return domain.PaymentCompleted
	case "processing", "requires_action", "requires_confirmation", "requires_payment_method", "requires_capture":
		return domain.PaymentProcessing
	case "canceled":
		return domain.PaymentCancelled
	default:
		return domain.PaymentFailed
	}
}

func (p *Provider) getSession(ctx context.Context, id string) (*checkoutSession, error) {
	var s checkoutSession
	if err := p.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+id, nil, &s); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderStripe, Op: "retrieve session", Message: err.Error()}
	}
	return &s, nil
}

func (p *Provider) getIntent(ctx context.Context, id string) (*paymentIntent, error) {
	var pi paymentIntent
	if err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &pi); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderStripe, Op: "retrieve intent", Message: err.Error()}
	}
	return &pi, nil
}

func (p *Provider) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	if strings.HasPrefix(paymentID, "pi_") {
		pi, err := p.getIntent(ctx, paymentID)
		if err != nil {
			return "", err
		}
		return IntentStatus(pi.Status), nil
	}
	s, err := p.getSession(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return sessionStatus(s), nil
}

// ConfirmPayment resolves the session to its PaymentIntent. The intent id is
// returned as the transaction id; refunds and charge events reference it.
func (p *Provider) ConfirmPayment(ctx context.Context, paymentID string, _ map[string]string) (*provider.PaymentResult, error) {
	intentID := paymentID
	var session *checkoutSession
	if !strings.HasPrefix(paymentID, "pi_") {
		s, err := p.getSession(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		session = s
		intentID = s.PaymentIntent
	}

	if intentID == "" {
		return &provider.PaymentResult{
			Status:          sessionStatus(session),
			Amount:          fromMinor(session.AmountTotal, session.Currency),
			Currency:        strings.ToUpper(session.Currency),
			GatewayResponse: map[string]interface{}{"session": provider.ToMap(session)},
		}, nil
	}

	pi, err := p.getIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	gateway := map[string]interface{}{
		"paymentIntent": provider.ToMap(pi),
		"chargeId":      pi.LatestCharge,
	}
	if session != nil {
		gateway["session"] = provider.ToMap(session)
	}

	return &provider.PaymentResult{
		Status:          IntentStatus(pi.Status),
		TransactionID:   pi.ID,
		Amount:          fromMinor(pi.Amount, pi.Currency),
		Currency:        strings.ToUpper(pi.Currency),
		GatewayResponse: gateway,
	}, nil
}

// ============================================
// REFUNDS
// ============================================

var stripeRefundReasons = map[string]bool{"duplicate": true, "fraudulent": true, "requested_by_customer": true}

func (p *Provider) RefundPayment(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	intentID := req.TransactionID
	if intentID == "" {
		s, err := p.getSession(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		intentID = s.PaymentIntent
	}
	if intentID == "" {
		return nil, fmt.Errorf("%w: no payment intent for %s", domain.ErrInvalidRequest, req.PaymentID)
	}

	form := map[string]string{"payment_intent": intentID}
	if req.Amount.IsPositive() {
		form["amount"] = strconv.FormatInt(toMinor(req.Amount, req.Currency), 10)
	}
	if stripeRefundReasons[req.Reason] {
		form["reason"] = req.Reason
	} else if req.Reason != "" {
		form["metadata[reason]"] = req.Reason
	}

	var r refund
	if err := p.do(ctx, http.MethodPost, "/v1/refunds", form, &r); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderStripe, Op: "refund", Message: err.Error()}
	}

	var status domain.RefundStatus
	switch r.Status {
	case "succeeded":
		status = domain.RefundProcessed
	case "pending", "requires_action":
		status = domain.RefundApproved
	default:
		return nil, &domain.ProviderError{Provider: domain.ProviderStripe, Op: "refund", Message: "refund " + r.Status}
	}

	p.logger.Info("stripe refund created",
		zap.String("refund_id", r.ID),
		zap.String("payment_intent", intentID),
		zap.String("status", r.Status))

	return &provider.RefundResult{
		RefundID: r.ID,
		Amount:   fromMinor(r.Amount, r.Currency),
		Currency: strings.ToUpper(r.Currency),
		Status:   status,
		Raw:      provider.ToMap(r),
	}, nil
}
