package zalopay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
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

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewZaloPayProvider(config.ZaloPayConfig{
		AppID:    "2553",
		Key1:     "PcY4iZIKFCIdgZvA6ueMcMHHUbRLYjPL",
		Key2:     "kLtgPl8HHhfvMuDHPwKfgfsY4Ydm9eIz",
		Endpoint: srv.URL,
	}, zap.NewNop())
	p.now = func() time.Time { return time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC) }
	return p
}

func callbackBody(t *testing.T, key2 string, data callbackData) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(callbackEnvelope{
		Data: string(raw),
		Mac:  provider.HMACSHA256Hex(key2, string(raw)),
		Type: 1,
	})
	require.NoError(t, err)
	return body
}

func TestCreatePaymentIntent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCreate, r.URL.Path)
		require.NoError(t, r.ParseForm())

		mac := provider.HMACSHA256Hex("PcY4iZIKFCIdgZvA6ueMcMHHUbRLYjPL", strings.Join([]string{
			r.PostForm.Get("app_id"), r.PostForm.Get("app_trans_id"), r.PostForm.Get("app_user"),
			r.PostForm.Get("amount"), r.PostForm.Get("app_time"), r.PostForm.Get("embed_data"), r.PostForm.Get("item"),
		}, "|"))
		assert.Equal(t, mac, r.PostForm.Get("mac"))
		assert.Equal(t, "240000", r.PostForm.Get("amount"))
		assert.Contains(t, r.PostForm.Get("item"), `"itemid":"ptx_9"`)

		_, _ = w.Write([]byte(`{"return_code":1,"return_message":"ok","order_url":"https://sb/pay"}`))
	})

	res, err := p.CreatePaymentIntent(context.Background(), &provider.IntentRequest{
		Amount:    decimal.NewFromInt(240000),
		Currency:  "VND",
		Reference: "ptx_9",
		UserID:    "u1",
		NotifyURL: "https://api/cb",
		ReturnURL: "https://api/ret",
	})
	require.NoError(t, err)
	// 20:00 UTC is already the next day in Vietnam.
	assert.True(t, strings.HasPrefix(res.PaymentID, "240310_"), res.PaymentID)
	assert.Equal(t, "https://sb/pay", res.RedirectURL)
}

func TestCreatePaymentIntent_Rejected(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"return_code":2,"return_message":"fail","sub_return_message":"invalid mac"}`))
	})

	_, err := p.CreatePaymentIntent(context.Background(), &provider.IntentRequest{
		Amount: decimal.NewFromInt(1000), Currency: "VND", Reference: "x", NotifyURL: "n", ReturnURL: "r",
	})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "invalid mac")
}

func TestHandleWebhook(t *testing.T) {
	p := newTestProvider(t, nil)
	body := callbackBody(t, p.config.Key2, callbackData{
		AppID:      2553,
		AppTransID: "240310_abc",
		Amount:     240000,
		Item:       `[{"itemid":"ptx_9","itemname":"x","itemprice":240000,"itemquantity":1}]`,
		ZPTransID:  240310000123,
	})

	ev, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: body})
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "240310_abc", ev.PaymentID)
	assert.Equal(t, "240310000123", ev.TransactionID)
	assert.Equal(t, "ptx_9", ev.Data["reference"])
}

func TestHandleWebhook_FormEncoded(t *testing.T) {
	p := newTestProvider(t, nil)
	data := `{"app_trans_id":"240310_x","zp_trans_id":0}`
	form := url.Values{"data": {data}, "mac": {provider.HMACSHA256Hex(p.config.Key2, data)}}

	ev, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: []byte(form.Encode())})
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentFailed, ev.Type)
}

func TestHandleWebhook_BadMac(t *testing.T) {
	p := newTestProvider(t, nil)
	body := callbackBody(t, "wrong-key", callbackData{AppTransID: "x", ZPTransID: 1})

	assert.False(t, p.VerifyWebhookSignature(context.Background(), &provider.WebhookRequest{Body: body}))
	_, err := p.HandleWebhook(context.Background(), &provider.WebhookRequest{Body: body})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestConfirmPayment(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathQuery, r.URL.Path)
		require.NoError(t, r.ParseForm())
		key1 := "PcY4iZIKFCIdgZvA6ueMcMHHUbRLYjPL"
		assert.Equal(t, provider.HMACSHA256Hex(key1, "2553|240310_abc|"+key1), r.PostForm.Get("mac"))
		_, _ = w.Write([]byte(`{"return_code":1,"amount":240000,"zp_trans_id":777}`))
	})

	res, err := p.ConfirmPayment(context.Background(), "240310_abc", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, res.Status)
	assert.Equal(t, "777", res.TransactionID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(240000)))
}

func TestStatusFromReturnCode(t *testing.T) {
	assert.Equal(t, domain.PaymentCompleted, StatusFromReturnCode(1, false))
	assert.Equal(t, domain.PaymentFailed, StatusFromReturnCode(2, false))
	assert.Equal(t, domain.PaymentProcessing, StatusFromReturnCode(3, false))
	assert.Equal(t, domain.PaymentProcessing, StatusFromReturnCode(2, true))
	assert.Equal(t, domain.PaymentPending, StatusFromReturnCode(0, false))
}

func TestRefundPayment(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathRefund, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "777", r.PostForm.Get("zp_trans_id"))
		assert.True(t, strings.HasPrefix(r.PostForm.Get("m_refund_id"), "240310_2553_"))
		_, _ = w.Write([]byte(`{"return_code":3,"return_message":"processing","refund_id":1}`))
	})

	res, err := p.RefundPayment(context.Background(), &provider.RefundRequest{
		PaymentID:     "240310_abc",
		TransactionID: "777",
		Amount:        decimal.NewFromInt(1000),
		TotalAmount:   decimal.NewFromInt(240000),
		Currency:      "VND",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundApproved, res.Status)
}

func TestRefundPayment_ExceedsPayment(t *testing.T) {
	p := newTestProvider(t, nil)

	_, err := p.RefundPayment(context.Background(), &provider.RefundRequest{
		PaymentID: "x", TransactionID: "1", Amount: decimal.NewFromInt(5), TotalAmount: decimal.NewFromInt(4),
	})
	assert.ErrorIs(t, err, domain.ErrRefundExceedsPayment)
}
