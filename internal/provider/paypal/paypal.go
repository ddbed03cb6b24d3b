package paypal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/fx"
	"settlement-service/internal/provider"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	orderTTL = 3 * time.Hour
	// tokens are refreshed this long before PayPal expires them
	tokenSkew = 5 * time.Minute
)

type Provider struct {
	config config.PayPalConfig
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	fetchCert certFetcher
	certMu    sync.RWMutex
	certs     map[string]*cachedCert
}

func NewPayPalProvider(cfg config.PayPalConfig, logger *zap.Logger) *Provider {
	p := &Provider{
		config: cfg,
		client: provider.NewRestClient(cfg.BaseURL),
		logger: logger,
		now:    time.Now,
		certs:  make(map[string]*cachedCert),
	}
	p.fetchCert = httpCertFetcher(resty.New().SetTimeout(10 * time.Second))
	return p
}

func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderPayPal }
func (p *Provider) Name() string              { return "PayPal" }
func (p *Provider) SupportedMethods() []domain.PaymentMethod {
	return []domain.PaymentMethod{domain.MethodPayPal}
}
func (p *Provider) SupportedCurrencies() []string {
	return []string{"USD", "EUR", "GBP", "AUD", "CAD", "JPY"}
}
func (p *Provider) SupportedRegions() []string { return nil }
func (p *Provider) PinnedCurrency() string     { return "" }

// ============================================
// API OBJECTS
// ============================================

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func formatMoney(amount decimal.Decimal, currency string) money {
	currency = strings.ToUpper(currency)
	places := int32(2)
	if fx.IsZeroDecimal(currency) {
		places = 0
	}
	return money{CurrencyCode: currency, Value: amount.StringFixed(places)}
}

func (m money) decimal() decimal.Decimal {
	d, err := decimal.NewFromString(m.Value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type capture struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Amount            money  `json:"amount"`
	CustomID          string `json:"custom_id,omitempty"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []link `json:"links,omitempty"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      money  `json:"amount"`
	Payments    *struct {
		Captures []capture `json:"captures"`
	} `json:"payments,omitempty"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []link         `json:"links"`
}

func (o *order) capture() *capture {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			return &pu.Payments.Captures[0]
		}
	}
	return nil
}

func (o *order) reference() string {
	if len(o.PurchaseUnits) == 0 {
		return ""
	}
	if o.PurchaseUnits[0].CustomID != "" {
		return o.PurchaseUnits[0].CustomID
	}
	return o.PurchaseUnits[0].ReferenceID
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
	Links  []link `json:"links,omitempty"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) String() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue + ": " + e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Name
}

// ============================================
// AUTH
// ============================================

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Provider) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	var tok tokenResponse
	var apiErr apiError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(p.config.ClientID, p.config.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tok).
		SetError(&apiErr).
		ForceContentType("application/json").
		Post("/v1/oauth2/token")
	if err != nil {
		return "", &domain.ProviderError{Provider: domain.ProviderPayPal, Op: "authenticate", Message: "token request failed", Err: err}
	}
	if resp.IsError() || tok.AccessToken == "" {
		return "", &domain.ProviderError{Provider: domain.ProviderPayPal, Op: "authenticate", Message: fmt.Sprintf("status %d: %s", resp.StatusCode(), apiErr.String())}
	}

	p.token = tok.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSkew)
	return p.token, nil
}

func (p *Provider) do(ctx context.Context, op, method, path string, body interface{}, requestID string, out interface{}) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	var apiErr apiError
	req := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(out).
		SetError(&apiErr).
		ForceContentType("application/json")
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if requestID != "" {
		req.SetHeader("PayPal-Request-Id", requestID)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &domain.ProviderError{Provider: domain.ProviderPayPal, Op: op, Message: "request failed", Err: err}
	}
	if resp.IsError() {
		return &domain.ProviderError{Provider: domain.ProviderPayPal, Op: op, Message: fmt.Sprintf("status %d: %s", resp.StatusCode(), apiErr.String())}
	}
	return nil
}

// ============================================
// ORDERS
// ============================================

type createOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type applicationContext struct {
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
	UserAction string `json:"user_action"`
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req *provider.IntentRequest) (*provider.IntentResult, error) {
	currency := strings.ToUpper(req.Currency)
	if !p.supports(currency) {
		return nil, fmt.Errorf("%w: PayPal does not support %s", domain.ErrUnsupportedCurrency, req.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = req.ReturnURL
	}

	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Reference,
			CustomID:    req.Reference,
			Description: req.Description,
			Amount:      formatMoney(req.Amount, currency),
		}},
		ApplicationContext: applicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  cancelURL,
			UserAction: "PAY_NOW",
		},
	}

	var o order
	if err := p.do(ctx, "create", http.MethodPost, "/v2/checkout/orders", body, "create-"+req.Reference, &o); err != nil {
		return nil, err
	}

	var approve string
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}

	expiresAt := p.now().Add(orderTTL)
	p.logger.Info("paypal order created",
		zap.String("order_id", o.ID),
		zap.String("reference", req.Reference))

	return &provider.IntentResult{
		PaymentID:   o.ID,
		RedirectURL: approve,
		PaymentURL:  approve,
		ExpiresAt:   &expiresAt,
		Raw:         provider.ToMap(o),
	}, nil
}

func (p *Provider) supports(currency string) bool {
	for _, c := range p.SupportedCurrencies() {
		if c == currency {
			return true
		}
	}
	return false
}

// OrderStatus maps an Orders v2 status. APPROVED orders still need a capture.
func OrderStatus(status string) domain.PaymentStatus {
	switch status {
	case "COMPLETED":
		return domain.PaymentCompleted
	case "APPROVED":
		return domain.PaymentProcessing
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return domain.PaymentPending
	case "VOIDED":
		return domain.PaymentCancelled
	default:
		return domain.PaymentFailed
	}
}

func CaptureStatus(status string) domain.PaymentStatus {
	switch status {
	case "COMPLETED", "PARTIALLY_REFUNDED":
		return domain.PaymentCompleted
	case "PENDING":
		return domain.PaymentProcessing
	case "REFUNDED":
		return domain.PaymentRefunded
	default:
		return domain.PaymentFailed
	}
}

func (p *Provider) getOrder(ctx context.Context, id string) (*order, error) {
	var o order
	if err := p.do(ctx, "get order", http.MethodGet, "/v2/checkout/orders/"+id, nil, "", &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Provider) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	o, err := p.getOrder(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if c := o.capture(); c != nil {
		return CaptureStatus(c.Status), nil
	}
	return OrderStatus(o.Status), nil
}

// ConfirmPayment captures an approved order. The capture id becomes the
// transaction id; refunds are issued against it.
func (p *Provider) ConfirmPayment(ctx context.Context, paymentID string, data map[string]string) (*provider.PaymentResult, error) {
	orderID := paymentID
	if token := data["token"]; token != "" {
		orderID = token
	}

	o, err := p.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Status == "APPROVED" {
		var captured order
		if err := p.do(ctx, "capture", http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, "capture-"+orderID, &captured); err != nil {
			return nil, err
		}
		o = &captured
		p.logger.Info("paypal order captured", zap.String("order_id", orderID), zap.String("status", o.Status))
	}

	c := o.capture()
	if c == nil {
		return &provider.PaymentResult{
			Status:          OrderStatus(o.Status),
			GatewayResponse: provider.ToMap(o),
		}, nil
	}

	return &provider.PaymentResult{
		Status:          CaptureStatus(c.Status),
		TransactionID:   c.ID,
		Amount:          c.Amount.decimal(),
		Currency:        c.Amount.CurrencyCode,
		GatewayResponse: provider.ToMap(o),
	}, nil
}

// ============================================
// REFUNDS
// ============================================

type refundRequest struct {
	Amount      *money `json:"amount,omitempty"`
	NoteToPayer string `json:"note_to_payer,omitempty"`
}

func (p *Provider) RefundPayment(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	captureID := req.TransactionID
	if captureID == "" {
		o, err := p.getOrder(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		c := o.capture()
		if c == nil {
			return nil, fmt.Errorf("%w: order %s has no capture", domain.ErrInvalidRequest, req.PaymentID)
		}
		captureID = c.ID
	}

	body := refundRequest{NoteToPayer: req.Reason}
	if req.Amount.IsPositive() {
		m := formatMoney(req.Amount, req.Currency)
		body.Amount = &m
	}

	var r refundResponse
	if err := p.do(ctx, "refund", http.MethodPost, "/v2/payments/captures/"+captureID+"/refund", body, uuid.NewString(), &r); err != nil {
		return nil, err
	}

	var status domain.RefundStatus
	switch r.Status {
	case "COMPLETED":
		status = domain.RefundProcessed
	case "PENDING":
		status = domain.RefundApproved
	default:
		return nil, &domain.ProviderError{Provider: domain.ProviderPayPal, Op: "refund", Message: "refund " + strings.ToLower(r.Status)}
	}

	p.logger.Info("paypal refund created",
		zap.String("refund_id", r.ID),
		zap.String("capture_id", captureID),
		zap.String("status", r.Status))

	return &provider.RefundResult{
		RefundID: r.ID,
		Amount:   r.Amount.decimal(),
		Currency: r.Amount.CurrencyCode,
		Status:   status,
		Raw:      provider.ToMap(r),
	}, nil
}
