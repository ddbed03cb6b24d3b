package momo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	currencyVND    = "VND"
	requestType    = "captureWallet"
	extraData      = "wallet-topup"
	paymentTTL     = 15 * time.Minute
	refundOrderTag = "-refund-"

	pathCreate = "/v2/gateway/api/create"
	pathQuery  = "/v2/gateway/api/query"
	pathRefund = "/v2/gateway/api/refund"
)

// Result codes documented by the MoMo v2 gateway.
const (
	resultSuccess         = 0
	resultPendingConfirm  = 1000
	resultPendingAuthored = 1001
	resultRejectedByUser  = 1006
	resultProcessing      = 9000
	resultRefundPending   = 7000
)

type Provider struct {
	config config.MoMoConfig
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewMoMoProvider(cfg config.MoMoConfig, logger *zap.Logger) *Provider {
	return &Provider{
		config: cfg,
		client: provider.NewRestClient(cfg.Endpoint).SetHeader("Content-Type", "application/json"),
		logger: logger,
		now:    time.Now,
	}
}

func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderMoMo }
func (p *Provider) Name() string              { return "MoMo" }
func (p *Provider) SupportedMethods() []domain.PaymentMethod {
	return []domain.PaymentMethod{domain.MethodEWallet, domain.MethodQRCode}
}
func (p *Provider) SupportedCurrencies() []string { return []string{currencyVND} }
func (p *Provider) SupportedRegions() []string    { return []string{"VN"} }
func (p *Provider) PinnedCurrency() string        { return currencyVND }

func (p *Provider) requestID() string {
	return p.config.PartnerCode + strconv.FormatInt(p.now().UnixMilli(), 10)
}

// ============================================
// CREATE
// ============================================

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type createResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink,omitempty"`
	QRCodeURL    string `json:"qrCodeUrl,omitempty"`
}

// createSignature signs the create request fields in MoMo's canonical order.
func createSignature(secretKey string, r *createRequest) string {
	raw := "accessKey=" + r.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IpnURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
	return provider.HMACSHA256Hex(secretKey, raw)
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req *provider.IntentRequest) (*provider.IntentResult, error) {
	if !strings.EqualFold(req.Currency, currencyVND) {
		return nil, fmt.Errorf("%w: MoMo only accepts VND, got %s", domain.ErrUnsupportedCurrency, req.Currency)
	}
	amount := req.Amount.Round(0).IntPart()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.NotifyURL == "" || req.ReturnURL == "" {
		return nil, fmt.Errorf("%w: MoMo needs notify and return urls", domain.ErrInvalidRequest)
	}

	orderInfo := req.Description
	if orderInfo == "" {
		orderInfo = "Wallet top-up " + req.Reference
	}

	body := &createRequest{
		PartnerCode: p.config.PartnerCode,
		AccessKey:   p.config.AccessKey,
		RequestID:   p.requestID(),
		Amount:      amount,
		OrderID:     req.Reference,
		OrderInfo:   orderInfo,
		RedirectURL: req.ReturnURL,
		IpnURL:      req.NotifyURL,
		ExtraData:   extraData,
		RequestType: requestType,
		Lang:        "en",
	}
	body.Signature = createSignature(p.config.SecretKey, body)

	var out createResponse
	if err := p.post(ctx, pathCreate, body, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderMoMo, Op: "create", Message: "request failed", Err: err}
	}
	if out.ResultCode != resultSuccess {
		p.logger.Warn("momo payment creation rejected",
			zap.String("order_id", req.Reference),
			zap.Int("result_code", out.ResultCode),
			zap.String("message", out.Message))
		return nil, &domain.ProviderError{Provider: domain.ProviderMoMo, Op: "create", Message: out.Message}
	}

	expires := p.now().Add(paymentTTL)
	return &provider.IntentResult{
		PaymentID:   body.OrderID,
		RedirectURL: out.PayURL,
		PaymentURL:  out.PayURL,
		QRCode:      out.QRCodeURL,
		ExpiresAt:   &expires,
		Raw:         provider.ToMap(out),
	}, nil
}

// ============================================
// QUERY
// ============================================

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type queryResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	ExtraData    string `json:"extraData"`
	Amount       int64  `json:"amount"`
	TransID      int64  `json:"transId"`
	PayType      string `json:"payType"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime"`
	LastUpdated  int64  `json:"lastUpdated"`
}

func (p *Provider) query(ctx context.Context, orderID string) (*queryResponse, error) {
	requestID := p.requestID()
	raw := "accessKey=" + p.config.AccessKey +
		"&orderId=" + orderID +
		"&partnerCode=" + p.config.PartnerCode +
		"&requestId=" + requestID

	body := &queryRequest{
		PartnerCode: p.config.PartnerCode,
		RequestID:   requestID,
		OrderID:     orderID,
		Signature:   provider.HMACSHA256Hex(p.config.SecretKey, raw),
		Lang:        "en",
	}

	var out queryResponse
	if err := p.post(ctx, pathQuery, body, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderMoMo, Op: "query", Message: "request failed", Err: err}
	}
	return &out, nil
}

// StatusFromResultCode maps a MoMo resultCode onto our payment status.
func StatusFromResultCode(code int) domain.PaymentStatus {
	switch code {
	case resultSuccess:
		return domain.PaymentCompleted
	case resultPendingConfirm, resultPendingAuthored:
		return domain.PaymentPending
	case resultProcessing:
		return domain.PaymentProcessing
	case resultRejectedByUser:
		return domain.PaymentCancelled
	default:
		return domain.PaymentFailed
	}
}

func (p *Provider) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	out, err := p.query(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return StatusFromResultCode(out.ResultCode), nil
}

func (p *Provider) ConfirmPayment(ctx context.Context, paymentID string, data map[string]string) (*provider.PaymentResult, error) {
	out, err := p.query(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	transID := ""
	if out.TransID > 0 {
		transID = strconv.FormatInt(out.TransID, 10)
	} else if v := data["transId"]; v != "" {
		transID = v
	}

	return &provider.PaymentResult{
		Status:          StatusFromResultCode(out.ResultCode),
		TransactionID:   transID,
		Amount:          decimal.NewFromInt(out.Amount),
		Currency:        currencyVND,
		GatewayResponse: provider.ToMap(out),
	}, nil
}

// ============================================
// IPN
// ============================================

type ipnPayload struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func ipnSignature(accessKey, secretKey string, n *ipnPayload) string {
	raw := "accessKey=" + accessKey +
		"&amount=" + strconv.FormatInt(n.Amount, 10) +
		"&extraData=" + n.ExtraData +
		"&message=" + n.Message +
		"&orderId=" + n.OrderID +
		"&orderInfo=" + n.OrderInfo +
		"&orderType=" + n.OrderType +
		"&partnerCode=" + n.PartnerCode +
		"&payType=" + n.PayType +
		"&requestId=" + n.RequestID +
		"&responseTime=" + strconv.FormatInt(n.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(n.ResultCode) +
		"&transId=" + strconv.FormatInt(n.TransID, 10)
	return provider.HMACSHA256Hex(secretKey, raw)
}

func (p *Provider) parseIPN(body []byte) (*ipnPayload, bool) {
	var n ipnPayload
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, false
	}
	if n.Signature == "" || n.PartnerCode != p.config.PartnerCode {
		return &n, false
	}
	expected := ipnSignature(p.config.AccessKey, p.config.SecretKey, &n)
	return &n, provider.EqualSignature(expected, n.Signature)
}

func (p *Provider) VerifyWebhookSignature(_ context.Context, req *provider.WebhookRequest) bool {
	_, ok := p.parseIPN(req.Body)
	return ok
}

func (p *Provider) HandleWebhook(_ context.Context, req *provider.WebhookRequest) (*domain.WebhookEvent, error) {
	n, ok := p.parseIPN(req.Body)
	if !ok {
		return nil, domain.ErrInvalidSignature
	}

	transID := ""
	if n.TransID > 0 {
		transID = strconv.FormatInt(n.TransID, 10)
	}

	event := &domain.WebhookEvent{
		PaymentID:     n.OrderID,
		TransactionID: transID,
		Message:       n.Message,
		Data:          provider.ToMap(n),
	}

	// Refund orders are "<orderId>-refund-<millis>".
	if idx := strings.Index(n.OrderID, refundOrderTag); idx > 0 {
		if n.ResultCode != resultSuccess {
			event.Type = domain.EventPaymentUpdated
			event.PaymentID = n.OrderID[:idx]
			return event, nil
		}
		amount := decimal.NewFromInt(n.Amount)
		event.Type = domain.EventPaymentRefunded
		event.PaymentID = n.OrderID[:idx]
		event.RefundID = n.OrderID
		event.RefundAmount = &amount
		event.RefundCurrency = currencyVND
		event.Status = domain.PaymentRefunded
		return event, nil
	}

	event.Status = StatusFromResultCode(n.ResultCode)
	switch event.Status {
	case domain.PaymentCompleted:
		event.Type = domain.EventPaymentSucceeded
	case domain.PaymentCancelled:
		event.Type = domain.EventPaymentCancelled
	case domain.PaymentPending, domain.PaymentProcessing:
		event.Type = domain.EventPaymentUpdated
	default:
		event.Type = domain.EventPaymentFailed
	}
	return event, nil
}

// ============================================
// REFUND
// ============================================

type refundRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	TransID     int64  `json:"transId"`
	Lang        string `json:"lang"`
	Description string `json:"description"`
	Signature   string `json:"signature"`
}

type refundResponse struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime"`
}

func (p *Provider) RefundPayment(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	if req.Currency != "" && !strings.EqualFold(req.Currency, currencyVND) {
		return nil, fmt.Errorf("%w: MoMo refunds settle in VND", domain.ErrUnsupportedCurrency)
	}
	transID, err := strconv.ParseInt(req.TransactionID, 10, 64)
	if err != nil || transID <= 0 {
		return nil, fmt.Errorf("%w: missing MoMo transId for %s", domain.ErrInvalidRequest, req.PaymentID)
	}
	amount := req.Amount.Round(0).IntPart()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	description := req.Reason
	if description == "" {
		description = "Refund"
	}

	body := &refundRequest{
		PartnerCode: p.config.PartnerCode,
		OrderID:     req.PaymentID + refundOrderTag + strconv.FormatInt(p.now().UnixMilli(), 10),
		RequestID:   p.requestID(),
		Amount:      amount,
		TransID:     transID,
		Lang:        "en",
		Description: description,
	}
	raw := "accessKey=" + p.config.AccessKey +
		"&amount=" + strconv.FormatInt(body.Amount, 10) +
		"&description=" + body.Description +
		"&orderId=" + body.OrderID +
		"&partnerCode=" + body.PartnerCode +
		"&requestId=" + body.RequestID +
		"&transId=" + strconv.FormatInt(body.TransID, 10)
	body.Signature = provider.HMACSHA256Hex(p.config.SecretKey, raw)

	var out refundResponse
	if err := p.post(ctx, pathRefund, body, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderMoMo, Op: "refund", Message: "request failed", Err: err}
	}

	status := domain.RefundProcessed
	switch out.ResultCode {
	case resultSuccess:
	case resultRefundPending, resultPendingConfirm:
		status = domain.RefundApproved
	default:
		return nil, &domain.ProviderError{Provider: domain.ProviderMoMo, Op: "refund", Message: out.Message}
	}

	refundID := out.OrderID
	if refundID == "" {
		refundID = body.OrderID
	}
	return &provider.RefundResult{
		RefundID: refundID,
		Amount:   decimal.NewFromInt(amount),
		Currency: currencyVND,
		Status:   status,
		Raw:      provider.ToMap(out),
	}, nil
}

// post sends a signed JSON request. MoMo reports business failures with a
// non-2xx status and the same body shape, so both decode into out.
func (p *Provider) post(ctx context.Context, path string, body, out interface{}) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(out).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("momo returned status %d", resp.StatusCode())
	}
	return nil
}
