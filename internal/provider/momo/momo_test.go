package momo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(endpoint string) config.MoMoConfig {
	return config.MoMoConfig{
		Enabled:     true,
		PartnerCode: "MOMOTEST",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		Endpoint:    endpoint,
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewMoMoProvider(testConfig(srv.URL), zap.NewNop())
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func signedIPN(t *testing.T, cfg config.MoMoConfig, n ipnPayload) []byte {
	t.Helper()
	n.PartnerCode = cfg.PartnerCode
	n.Signature = ipnSignature(cfg.AccessKey, cfg.SecretKey, &n)
	body, err := json.Marshal(n)
	require.NoError(t, err)
	return body
}

func TestCreatePaymentIntent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCreate, r.URL.Path)

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(250000), req.Amount)
		assert.Equal(t, "ptx_1", req.OrderID)
		assert.Equal(t, "MOMOTEST1700000000000", req.RequestID)
		assert.Equal(t, createSignature("K951B6PE1waDMi640xX08PD3vg6EkVlz", &req), req.Signature)

		_ = json.NewEncoder(w).Encode(createResponse{OrderID: req.OrderID, ResultCode: 0, PayURL: "https://pay/momo", QRCodeURL: "qr"})
	})

	res, err := p.CreatePaymentIntent(context.Background(), &provider.IntentRequest{
		Amount:    decimal.NewFromInt(250000),
		Currency:  "VND",
		Reference: "ptx_1",
		NotifyURL: "https://api/notify",
		ReturnURL: "https://api/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "ptx_1", res.PaymentID)
	assert.Equal(t, "https://pay/momo", res.RedirectURL)
	assert.Equal(t, "qr", res.QRCode)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, time.UnixMilli(1700000000000).Add(15*time.Minute), *res.ExpiresAt)
}

func TestCreatePaymentIntent_RejectsNonVND(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})

	_, err := p.CreatePaymentIntent(context.Background(), &provider.IntentRequest{
		Amount: decimal.NewFromInt(10), Currency: "USD", Reference: "x", NotifyURL: "n", ReturnURL: "r",
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}

func TestCreatePaymentIntent_GatewayRejection(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(createResponse{ResultCode: 22, Message: "amount out of range"})
	})

	_, err := p.CreatePaymentIntent(context.Background(), &provider.IntentRequest{
		Amount: decimal.NewFromInt(1), Currency: "VND", Reference: "x", NotifyURL: "n", ReturnURL: "r",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "amount out of range")
}

func TestHandleWebhook_PaymentSucceeded(t *testing.T) {
	p := newTestProvider(t, nil)
	body := signedIPN(t, p.config, ipnPayload{
		OrderID: "ptx_1", RequestID: "r1", Amount: 250000, OrderInfo: "info", OrderType: "momo_wallet",
		TransID: 4088878653, ResultCode: 0, Message: "Successful.", PayType: "qr", ResponseTime: 1700000001000,
		ExtraData: extraData,
	})

	req := &provider.WebhookRequest{Body: body}
	assert.True(t, p.VerifyWebhookSignature(context.Background(), req))

	ev, err := p.HandleWebhook(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "ptx_1", ev.PaymentID)
	assert.Equal(t, "4088878653", ev.TransactionID)
}

func TestHandleWebhook_TamperedBodyRejected(t *testing.T) {
	p := newTestProvider(t, nil)
	body := signedIPN(t, p.config, ipnPayload{OrderID: "ptx_1", Amount: 1000, ResultCode: 0, TransID: 1})
	tampered := strings.Replace(string(body), `"amount":1000`, `"amount":9000000`, 1)

	_, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: []byte(tampered)})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestHandleWebhook_RefundOrder(t *testing.T) {
	p := newTestProvider(t, nil)
	body := signedIPN(t, p.config, ipnPayload{
		OrderID: "ptx_1-refund-1700000000000", Amount: 50000, TransID: 99, ResultCode: 0,
	})

	ev, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: body})
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentRefunded, ev.Type)
	assert.Equal(t, "ptx_1", ev.PaymentID)
	assert.Equal(t, "ptx_1-refund-1700000000000", ev.RefundID)
	require.NotNil(t, ev.RefundAmount)
	assert.True(t, ev.RefundAmount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, "VND", ev.RefundCurrency)
}

func TestHandleWebhook_CancelledByUser(t *testing.T) {
	p := newTestProvider(t, nil)
	body := signedIPN(t, p.config, ipnPayload{OrderID: "ptx_2", Amount: 1000, ResultCode: resultRejectedByUser})

	ev, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: body})
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentCancelled, ev.Type)
}

func TestStatusFromResultCode(t *testing.T) {
	cases := map[int]domain.PaymentStatus{
		0:    domain.PaymentCompleted,
		1000: domain.PaymentPending,
		1001: domain.PaymentPending,
		9000: domain.PaymentProcessing,
		1006: domain.PaymentCancelled,
		1005: domain.PaymentFailed,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFromResultCode(code), code)
	}
}

func TestRefundPayment(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathRefund, r.URL.Path)
		var req refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(4088878653), req.TransID)
		assert.Equal(t, int64(50000), req.Amount)
		assert.Equal(t, "ptx_1-refund-1700000000000", req.OrderID)
		_ = json.NewEncoder(w).Encode(refundResponse{OrderID: req.OrderID, Amount: req.Amount, ResultCode: 0})
	})

	res, err := p.RefundPayment(context.Background(), &provider.RefundRequest{
		PaymentID:     "ptx_1",
		TransactionID: "4088878653",
		Amount:        decimal.NewFromInt(50000),
		Currency:      "VND",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundProcessed, res.Status)
	assert.Equal(t, "ptx_1-refund-1700000000000", res.RefundID)
}

func TestRefundPayment_RequiresTransID(t *testing.T) {
	p := newTestProvider(t, nil)

	_, err := p.RefundPayment(context.Background(), &provider.RefundRequest{PaymentID: "ptx_1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetPaymentStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathQuery, r.URL.Path)
		_ = json.NewEncoder(w).Encode(queryResponse{OrderID: "ptx_1", ResultCode: 1000})
	})

	status, err := p.GetPaymentStatus(context.Background(), "ptx_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, status)
}
