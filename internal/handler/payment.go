package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Settlement is the part of the settlement orchestrator the payment routes use.
type Settlement interface {
	InitiateTopUp(ctx context.Context, req *domain.TopUpRequest) (*domain.TopUpResult, error)
	ConfirmPayment(ctx context.Context, kind domain.ProviderKind, providerPaymentID string, data map[string]string) (*domain.PaymentTransaction, error)
	GetPaymentStatus(ctx context.Context, kind domain.ProviderKind, providerPaymentID string) (domain.PaymentStatus, error)
	HandleWebhook(ctx context.Context, kind domain.ProviderKind, req *provider.WebhookRequest) error
	AvailableProviders() []provider.Info
	ProvidersByCriteria(currency string, method domain.PaymentMethod, region string) []provider.Info
}

type PaymentHandler struct {
	settlement  Settlement
	frontendURL string
	logger      *zap.Logger
}

func NewPaymentHandler(settlement Settlement, frontendURL string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		settlement:  settlement,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

func providerParam(r *http.Request) (domain.ProviderKind, error) {
	return domain.ParseProviderKind(chi.URLParam(r, "provider"))
}

// HandleWebhook verifies and applies a gateway notification, then answers in
// the shape the gateway expects.
func (h *PaymentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	kind, err := providerParam(r)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Unknown payment provider", err)
		return
	}

	h.logger.Info("received payment webhook",
		zap.String("provider", kind.String()),
		zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook payload",
			zap.String("provider", kind.String()),
			zap.Error(err))
		h.sendWebhookAck(w, kind, http.StatusBadRequest, "Failed to read payload")
		return
	}

	err = h.settlement.HandleWebhook(r.Context(), kind, &provider.WebhookRequest{Body: payload, Header: r.Header.Clone()})
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected", zap.String("provider", kind.String()))
		h.sendWebhookAck(w, kind, http.StatusBadRequest, "Invalid signature")
		return
	case err != nil:
		h.logger.Error("webhook rejected", zap.String("provider", kind.String()), zap.Error(err))
		h.sendWebhookAck(w, kind, statusFor(err), err.Error())
		return
	}

	h.sendWebhookAck(w, kind, http.StatusOK, "")
}

func (h *PaymentHandler) sendWebhookAck(w http.ResponseWriter, kind domain.ProviderKind, status int, failure string) {
	ok := status == http.StatusOK
	var body interface{}
	switch kind {
	case domain.ProviderMoMo:
		if ok {
			body = map[string]interface{}{"resultCode": 0, "message": "Success"}
		} else {
			body = map[string]interface{}{"resultCode": 10, "message": failure}
		}
	case domain.ProviderZaloPay:
		if ok {
			body = map[string]interface{}{"return_code": 1, "return_message": "Success"}
		} else {
			body = map[string]interface{}{"return_code": -1, "return_message": failure}
		}
	default:
		if ok {
			body = map[string]interface{}{"received": true}
		} else {
			body = map[string]interface{}{"error": failure}
		}
	}
	response.Raw(w, status, body)
}

// returnParams names the query parameters each gateway appends when it
// redirects the payer back.
func returnParams(kind domain.ProviderKind, q url.Values) (string, map[string]string) {
	switch kind {
	case domain.ProviderMoMo:
		return q.Get("orderId"), map[string]string{"resultCode": q.Get("resultCode"), "transId": q.Get("transId")}
	case domain.ProviderZaloPay:
		return q.Get("app_trans_id"), map[string]string{"app_trans_id": q.Get("app_trans_id"), "status": q.Get("status")}
	case domain.ProviderStripe:
		return q.Get("session_id"), map[string]string{"session_id": q.Get("session_id")}
	case domain.ProviderPayPal:
		return q.Get("token"), map[string]string{"token": q.Get("token"), "PayerID": q.Get("PayerID")}
	}
	return "", nil
}

// HandleReturn confirms the payment the payer came back from and redirects to
// the frontend with the outcome.
func (h *PaymentHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	kind, err := providerParam(r)
	if err != nil {
		h.redirectFailure(w, r, "", err)
		return
	}
	q := r.URL.Query()
	paymentID, data := returnParams(kind, q)
	if paymentID == "" {
		h.redirectFailure(w, r, kind, errors.New("missing payment reference"))
		return
	}

	var status domain.PaymentStatus
	var txID string
	if q.Get("cancelled") == "true" {
		status, err = h.settlement.GetPaymentStatus(r.Context(), kind, paymentID)
	} else {
		var payment *domain.PaymentTransaction
		payment, err = h.settlement.ConfirmPayment(r.Context(), kind, paymentID, data)
		if payment != nil {
			status, txID = payment.Status, payment.ID
		}
	}
	if err != nil {
		h.logger.Error("payment return processing failed",
			zap.String("provider", kind.String()),
			zap.String("payment_id", paymentID),
			zap.Error(err))
		h.redirectFailure(w, r, kind, err)
		return
	}

	v := url.Values{}
	v.Set("provider", kind.String())
	v.Set("orderId", paymentID)
	v.Set("status", string(status))
	if txID != "" {
		v.Set("paymentId", txID)
	}
	if rc := q.Get("resultCode"); rc != "" {
		v.Set("resultCode", rc)
	}
	http.Redirect(w, r, h.frontendURL+"/wallet/top-up/return?"+v.Encode(), http.StatusFound)
}

func (h *PaymentHandler) redirectFailure(w http.ResponseWriter, r *http.Request, kind domain.ProviderKind, cause error) {
	v := url.Values{}
	if kind != "" {
		v.Set("provider", kind.String())
	}
	v.Set("status", "failed")
	v.Set("error", cause.Error())
	http.Redirect(w, r, h.frontendURL+"/wallet/top-up/return?"+v.Encode(), http.StatusFound)
}

// GetStatus accepts the gateway's own parameter name or a generic paymentId.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := providerParam(r)
	if err != nil {
		writeError(w, h.logger, "Unknown payment provider", err)
		return
	}
	q := r.URL.Query()
	paymentID := q.Get("paymentId")
	if paymentID == "" {
		paymentID, _ = returnParams(kind, q)
	}
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "paymentId is required", nil)
		return
	}

	status, err := h.settlement.GetPaymentStatus(r.Context(), kind, paymentID)
	if err != nil {
		writeError(w, h.logger, "Failed to get payment status", err)
		return
	}
	response.JSON(w, http.StatusOK, "Payment status retrieved", map[string]interface{}{
		"paymentId": paymentID,
		"status":    status,
		"provider":  kind,
	})
}

func (h *PaymentHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	currency, method, region := q.Get("currency"), q.Get("method"), q.Get("region")

	providers := h.settlement.AvailableProviders()
	if currency != "" || method != "" || region != "" {
		providers = h.settlement.ProvidersByCriteria(currency, domain.PaymentMethod(method), region)
	}
	response.JSON(w, http.StatusOK, "Payment providers retrieved", providers)
}

// TopUp starts a wallet top-up for the caller.
func (h *PaymentHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.TopUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	req.UserID = userID

	result, err := h.settlement.InitiateTopUp(r.Context(), &req)
	if err != nil {
		writeError(w, h.logger, "Failed to initiate top-up", err)
		return
	}
	response.JSON(w, http.StatusCreated, "Top-up initiated", result)
}
