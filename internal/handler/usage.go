package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Biller interface {
	Check(ctx context.Context, userID, actionCode string) (*usecase.BalanceCheck, error)
	Enqueue(ctx context.Context, userID, actionCode string, usage domain.UsageContext) (*domain.UsageCharge, error)
}

type UsageHandler struct {
	biller Biller
	logger *zap.Logger
}

func NewUsageHandler(biller Biller, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{biller: biller, logger: logger}
}

// ActionCode reads the billable action from the route; the balance guard
// middleware uses it too.
func ActionCode(r *http.Request) string {
	return chi.URLParam(r, "code")
}

func (h *UsageHandler) CheckAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	check, err := h.biller.Check(r.Context(), userID, ActionCode(r))
	if err != nil {
		writeError(w, h.logger, "Failed to check balance", err)
		return
	}
	response.JSON(w, http.StatusOK, "Balance checked", map[string]interface{}{
		"actionCode": check.Action.ActionCode,
		"required":   check.Required,
		"available":  check.Wallet.Balance,
		"currency":   check.Wallet.Currency,
		"sufficient": check.Sufficient,
	})
}

// ChargeAction queues the deduction; the guard in front of it has already
// checked the balance.
func (h *UsageHandler) ChargeAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var usage domain.UsageContext
	if err := decodeJSON(w, r, &usage); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	if usage.RequestID == "" {
		usage.RequestID = r.Header.Get("Idempotency-Key")
	}

	charge, err := h.biller.Enqueue(r.Context(), userID, ActionCode(r), usage)
	if err != nil {
		writeError(w, h.logger, "Failed to queue charge", err)
		return
	}
	response.JSON(w, http.StatusAccepted, "Charge queued", charge)
}
