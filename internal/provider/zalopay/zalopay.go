package zalopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/pkg/id"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	currencyVND = "VND"
	paymentTTL  = 15 * time.Minute

	pathCreate = "/v2/create"
	pathQuery  = "/v2/query"
	pathRefund = "/v2/refund"
)

const (
	returnSuccess    = 1
	returnFailed     = 2
	returnProcessing = 3
)

// ZaloPay dates its transaction ids in Vietnam time.
var vietnam = time.FixedZone("ICT", 7*60*60)

type Provider struct {
	config config.ZaloPayConfig
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewZaloPayProvider(cfg config.ZaloPayConfig, logger *zap.Logger) *Provider {
	return &Provider{
		config: cfg,
		client: provider.NewRestClient(cfg.Endpoint),
		logger: logger,
		now:    time.Now,
	}
}

func (p *Provider) Kind() domain.ProviderKind { return domain.ProviderZaloPay }
func (p *Provider) Name() string              { return "ZaloPay" }
func (p *Provider) SupportedMethods() []domain.PaymentMethod {
	return []domain.PaymentMethod{domain.MethodEWallet, domain.MethodQRCode, domain.MethodBankTransfer}
}
func (p *Provider) SupportedCurrencies() []string { return []string{currencyVND} }
func (p *Provider) SupportedRegions() []string    { return []string{"VN"} }
func (p *Provider) PinnedCurrency() string        { return currencyVND }

// ============================================
// CREATE ORDER
// ============================================

type orderItem struct {
	ItemID       string `json:"itemid"`
	ItemName     string `json:"itemname"`
	ItemPrice    int64  `json:"itemprice"`
	ItemQuantity int    `json:"itemquantity"`
}

type createResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZPTransToken     string `json:"zp_trans_token"`
	OrderToken       string `json:"order_token"`
	QRCode           string `json:"qr_code"`
}

// appTransID builds the yymmdd_<unique> id ZaloPay requires.
func (p *Provider) appTransID() string {
	return p.now().In(vietnam).Format("060102") + "_" + id.Short(16)
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req *provider.IntentRequest) (*provider.IntentResult, error) {
	if !strings.EqualFold(req.Currency, currencyVND) {
		return nil, fmt.Errorf("%w: ZaloPay only accepts VND, got %s", domain.ErrUnsupportedCurrency, req.Currency)
	}
	amount := req.Amount.Round(0).IntPart()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.NotifyURL == "" || req.ReturnURL == "" {
		return nil, fmt.Errorf("%w: ZaloPay needs callback and redirect urls", domain.ErrInvalidRequest)
	}

	description := req.Description
	if description == "" {
		description = "Wallet top-up " + req.Reference
	}

	items, _ := json.Marshal([]orderItem{{
		ItemID:       req.Reference,
		ItemName:     description,
		ItemPrice:    amount,
		ItemQuantity: 1,
	}})
	embed, _ := json.Marshal(map[string]string{"redirecturl": req.ReturnURL})

	appTransID := p.appTransID()
	appTime := strconv.FormatInt(p.now().UnixMilli(), 10)
	appUser := req.UserID
	if appUser == "" {
		appUser = "user"
	}
	amountStr := strconv.FormatInt(amount, 10)

	form := map[string]string{
		"app_id":       p.config.AppID,
		"app_trans_id": appTransID,
		"app_user":     appUser,
		"app_time":     appTime,
		"amount":       amountStr,
		"item":         string(items),
		"embed_data":   string(embed),
		"bank_code":    "",
		"callback_url": req.NotifyURL,
		"description":  description,
	}
	form["mac"] = provider.HMACSHA256Hex(p.config.Key1, strings.Join([]string{
		p.config.AppID, appTransID, appUser, amountStr, appTime, form["embed_data"], form["item"],
	}, "|"))

	var out createResponse
	if err := p.postForm(ctx, pathCreate, form, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderZaloPay, Op: "create", Message: "request failed", Err: err}
	}
	if out.ReturnCode != returnSuccess {
		p.logger.Warn("zalopay order creation rejected",
			zap.String("app_trans_id", appTransID),
			zap.Int("return_code", out.ReturnCode),
			zap.String("message", out.ReturnMessage),
			zap.String("sub_message", out.SubReturnMessage))
		return nil, &domain.ProviderError{Provider: domain.ProviderZaloPay, Op: "create", Message: joinMessages(out.ReturnMessage, out.SubReturnMessage)}
	}

	expires := p.now().Add(paymentTTL)
	return &provider.IntentResult{
		PaymentID:   appTransID,
		RedirectURL: out.OrderURL,
		PaymentURL:  out.OrderURL,
		QRCode:      out.QRCode,
		ExpiresAt:   &expires,
		Raw:         provider.ToMap(out),
	}, nil
}

// ============================================
// QUERY
// ============================================

type queryResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	IsProcessing     bool   `json:"is_processing"`
	Amount           int64  `json:"amount"`
	ZPTransID        int64  `json:"zp_trans_id"`
	ServerTime       int64  `json:"server_time"`
	DiscountAmount   int64  `json:"discount_amount"`
}

func (p *Provider) query(ctx context.Context, appTransID string) (*queryResponse, error) {
	form := map[string]string{
		"app_id":       p.config.AppID,
		"app_trans_id": appTransID,
	}
	form["mac"] = provider.HMACSHA256Hex(p.config.Key1, p.config.AppID+"|"+appTransID+"|"+p.config.Key1)

	var out queryResponse
	if err := p.postForm(ctx, pathQuery, form, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderZaloPay, Op: "query", Message: "request failed", Err: err}
	}
	return &out, nil
}

// StatusFromReturnCode maps a query return_code onto our payment status.
func StatusFromReturnCode(code int, processing bool) domain.PaymentStatus {
	switch {
	case code == returnSuccess:
		return domain.PaymentCompleted
	case code == returnProcessing || processing:
		return domain.PaymentProcessing
	case code == returnFailed:
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

func (p *Provider) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	out, err := p.query(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return StatusFromReturnCode(out.ReturnCode, out.IsProcessing), nil
}

func (p *Provider) ConfirmPayment(ctx context.Context, paymentID string, data map[string]string) (*provider.PaymentResult, error) {
	out, err := p.query(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	transID := ""
	if out.ZPTransID > 0 {
		transID = strconv.FormatInt(out.ZPTransID, 10)
	} else if v := data["zp_trans_id"]; v != "" {
		transID = v
	}

	return &provider.PaymentResult{
		Status:          StatusFromReturnCode(out.ReturnCode, out.IsProcessing),
		TransactionID:   transID,
		Amount:          decimal.NewFromInt(out.Amount),
		Currency:        currencyVND,
		GatewayResponse: provider.ToMap(out),
	}, nil
}

// ============================================
// CALLBACK
// ============================================

type callbackEnvelope struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type callbackData struct {
	AppID          int64  `json:"app_id"`
	AppTransID     string `json:"app_trans_id"`
	AppTime        int64  `json:"app_time"`
	AppUser        string `json:"app_user"`
	Amount         int64  `json:"amount"`
	EmbedData      string `json:"embed_data"`
	Item           string `json:"item"`
	ZPTransID      int64  `json:"zp_trans_id"`
	ServerTime     int64  `json:"server_time"`
	Channel        int    `json:"channel"`
	MerchantUserID string `json:"merchant_user_id"`
	UserFeeAmount  int64  `json:"user_fee_amount"`
	DiscountAmount int64  `json:"discount_amount"`
}

// parseEnvelope accepts the JSON body ZaloPay sends as well as a
// form-encoded variant.
func parseEnvelope(body []byte) (*callbackEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	var env callbackEnvelope
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		return &env, nil
	}
	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, err
	}
	env.Data = values.Get("data")
	env.Mac = values.Get("mac")
	env.Type, _ = strconv.Atoi(values.Get("type"))
	return &env, nil
}

func (p *Provider) verify(body []byte) (*callbackEnvelope, bool) {
	env, err := parseEnvelope(body)
	if err != nil || env.Data == "" || env.Mac == "" {
		return nil, false
	}
	expected := provider.HMACSHA256Hex(p.config.Key2, env.Data)
	return env, provider.EqualSignature(expected, env.Mac)
}

func (p *Provider) VerifyWebhookSignature(_ context.Context, req *provider.WebhookRequest) bool {
	_, ok := p.verify(req.Body)
	return ok
}

func (p *Provider) HandleWebhook(_ context.Context, req *provider.WebhookRequest) (*domain.WebhookEvent, error) {
	env, ok := p.verify(req.Body)
	if !ok {
		return nil, domain.ErrInvalidSignature
	}

	var data callbackData
	if err := json.Unmarshal([]byte(env.Data), &data); err != nil {
		return nil, fmt.Errorf("%w: zalopay callback data: %v", domain.ErrInvalidRequest, err)
	}

	event := &domain.WebhookEvent{
		PaymentID: data.AppTransID,
		Data:      provider.ToMap(data),
	}

	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	var items []orderItem
	if err := json.Unmarshal([]byte(data.Item), &items); err == nil && len(items) > 0 {
		event.Data["reference"] = items[0].ItemID
	}

	if data.ZPTransID > 0 {
		event.Type = domain.EventPaymentSucceeded
		event.Status = domain.PaymentCompleted
		event.TransactionID = strconv.FormatInt(data.ZPTransID, 10)
	} else {
		event.Type = domain.EventPaymentFailed
		event.Status = domain.PaymentFailed
	}
	return event, nil
}

// ============================================
// REFUND
// ============================================

type refundResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	RefundID         int64  `json:"refund_id"`
}

func (p *Provider) RefundPayment(ctx context.Context, req *provider.RefundRequest) (*provider.RefundResult, error) {
	if req.Currency != "" && !strings.EqualFold(req.Currency, currencyVND) {
		return nil, fmt.Errorf("%w: ZaloPay refunds settle in VND", domain.ErrUnsupportedCurrency)
	}
	if req.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing zp_trans_id for %s", domain.ErrInvalidRequest, req.PaymentID)
	}
	amount := req.Amount.Round(0).IntPart()
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.TotalAmount.IsPositive() && req.Amount.GreaterThan(req.TotalAmount) {
		return nil, domain.ErrRefundExceedsPayment
	}

	description := req.Reason
	if description == "" {
		description = "Refund payment"
	}
	now := p.now()
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	amountStr := strconv.FormatInt(amount, 10)
	mRefundID := fmt.Sprintf("%s_%s_%s", now.In(vietnam).Format("060102"), p.config.AppID, id.Short(12))

	form := map[string]string{
		"app_id":      p.config.AppID,
		"m_refund_id": mRefundID,
		"zp_trans_id": req.TransactionID,
		"amount":      amountStr,
		"timestamp":   timestamp,
		"description": description,
	}
	form["mac"] = provider.HMACSHA256Hex(p.config.Key1, strings.Join([]string{
		p.config.AppID, req.TransactionID, amountStr, description, timestamp,
	}, "|"))

	var out refundResponse
	if err := p.postForm(ctx, pathRefund, form, &out); err != nil {
		return nil, &domain.ProviderError{Provider: domain.ProviderZaloPay, Op: "refund", Message: "request failed", Err: err}
	}

	var status domain.RefundStatus
	switch out.ReturnCode {
	case returnSuccess:
		status = domain.RefundProcessed
	case returnProcessing:
		status = domain.RefundApproved
	default:
		return nil, &domain.ProviderError{Provider: domain.ProviderZaloPay, Op: "refund", Message: joinMessages(out.ReturnMessage, out.SubReturnMessage)}
	}

	return &provider.RefundResult{
		RefundID: mRefundID,
		Amount:   decimal.NewFromInt(amount),
		Currency: currencyVND,
		Status:   status,
		Raw:      provider.ToMap(out),
	}, nil
}

func (p *Provider) postForm(ctx context.Context, path string, form map[string]string, out interface{}) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(out).
		SetError(out).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("zalopay returned status %d", resp.StatusCode())
	}
	return nil
}

func joinMessages(msg, sub string) string {
	if sub == "" {
		return msg
	}
	return msg + " (" + sub + ")"
}
