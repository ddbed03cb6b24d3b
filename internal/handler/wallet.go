package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/notifier"
	"settlement-service/pkg/response"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Ledger interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Wallet, error)
	Balance(ctx context.Context, userID string) (*domain.Wallet, error)
	Transactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, *domain.Wallet, error)
}

type RefundRequester interface {
	RequestRefund(ctx context.Context, userID string, req *domain.CreateRefundRequest) (*domain.Refund, error)
	ListRefunds(ctx context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error)
}

type WalletHandler struct {
	ledger   Ledger
	refunds  RefundRequester
	notifier *notifier.Notifier
	logger   *zap.Logger
}

func NewWalletHandler(ledger Ledger, refunds RefundRequester, n *notifier.Notifier, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		ledger:   ledger,
		refunds:  refunds,
		notifier: n,
		logger:   logger,
	}
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	wallet, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, "Failed to get wallet", err)
		return
	}
	response.JSON(w, http.StatusOK, "Wallet retrieved", wallet)
}

func transactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	f := domain.TransactionFilter{
		Type:   domain.TransactionType(r.URL.Query().Get("type")),
		Status: domain.TransactionStatus(r.URL.Query().Get("status")),
	}
	f.Page, f.Limit = paging(r)
	var err error
	if f.StartDate, err = queryTime(r, "startDate"); err != nil {
		return f, err
	}
	f.EndDate, err = queryTime(r, "endDate")
	return f, err
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}

	txs, total, wallet, err := h.ledger.Transactions(r.Context(), userID, filter)
	if err != nil {
		writeError(w, h.logger, "Failed to list transactions", err)
		return
	}
	response.JSON(w, http.StatusOK, "Transactions retrieved", map[string]interface{}{
		"transactions":   txs,
		"total":          total,
		"page":           filter.Page,
		"limit":          filter.Limit,
		"currentBalance": wallet.Balance,
		"currency":       wallet.Currency,
	})
}

func (h *WalletHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.CreateRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	req.AdminNotes = ""

	refund, err := h.refunds.RequestRefund(r.Context(), userID, &req)
	if err != nil {
		writeError(w, h.logger, "Failed to request refund", err)
		return
	}
	response.JSON(w, http.StatusCreated, "Refund requested", refund)
}

func (h *WalletHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	filter := domain.RefundFilter{UserID: userID, Status: domain.RefundStatus(r.URL.Query().Get("status"))}
	filter.Page, filter.Limit = paging(r)

	refunds, total, err := h.refunds.ListRefunds(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to list refunds", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refunds retrieved", page{Items: refunds, Total: total, Page: filter.Page, Limit: filter.Limit})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WalletWS streams balance changes for the caller.
func (h *WalletHandler) WalletWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	h.notifier.RegisterConnection(userID, conn)
	defer h.notifier.UnregisterConnection(userID, conn)

	ctx := context.Background()
	h.sendInitial(ctx, userID)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("wallet socket closed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var req struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(msg, &req); err == nil && req.Action == "get_balance" {
			h.sendInitial(ctx, userID)
		}
	}
}

func (h *WalletHandler) sendInitial(ctx context.Context, userID string) {
	wallet, err := h.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to load wallet for socket", zap.String("user_id", userID), zap.Error(err))
		return
	}
	h.notifier.NotifyInitial(userID, wallet)
}
