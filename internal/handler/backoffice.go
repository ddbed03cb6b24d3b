package handler

import (
	"context"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/middleware"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WalletAdmin interface {
	ListWallets(ctx context.Context, filter domain.WalletFilter) ([]*domain.Wallet, int64, error)
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	AdjustBalance(ctx context.Context, req *domain.AdjustRequest, adminID string) (*domain.WalletTransaction, error)
	Transactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]*domain.WalletTransaction, int64, *domain.Wallet, error)
	UsageHistory(ctx context.Context, userID string, filter domain.UsageFilter) (*usecase.UsageHistory, error)
}

type RefundAdmin interface {
	GetRefund(ctx context.Context, refundID string) (*domain.Refund, error)
	ListRefunds(ctx context.Context, filter domain.RefundFilter) ([]*domain.Refund, int64, error)
	Statistics(ctx context.Context, filter domain.RefundFilter) (*domain.RefundStatistics, error)
	CreateRefund(ctx context.Context, req *domain.CreateRefundRequest, adminID string) (*domain.Refund, error)
	ProcessRefund(ctx context.Context, refundID, adminNotes, adminID string) (*domain.Refund, error)
	RejectRefund(ctx context.Context, refundID, reason, adminID string) (*domain.Refund, error)
}

type CatalogAdmin interface {
	List(ctx context.Context, filter domain.ActionFilter) ([]*domain.BillableAction, int64, error)
	Get(ctx context.Context, actionID string) (*domain.BillableAction, error)
	Create(ctx context.Context, in *domain.BillableActionInput) (*domain.BillableAction, error)
	Update(ctx context.Context, actionID string, upd *domain.BillableActionUpdate) (*domain.BillableAction, error)
	SetStatus(ctx context.Context, actionID string, active bool) (*domain.BillableAction, error)
	SetPrice(ctx context.Context, actionID string, cost decimal.Decimal, currency string) (*domain.BillableAction, error)
	Delete(ctx context.Context, actionID string) error
}

type BackofficeHandler struct {
	wallets WalletAdmin
	refunds RefundAdmin
	catalog CatalogAdmin
	logger  *zap.Logger
}

func NewBackofficeHandler(wallets WalletAdmin, refunds RefundAdmin, catalog CatalogAdmin, logger *zap.Logger) *BackofficeHandler {
	return &BackofficeHandler{
		wallets: wallets,
		refunds: refunds,
		catalog: catalog,
		logger:  logger,
	}
}

func adminID(r *http.Request) string {
	id, _ := middleware.GetUserID(r.Context())
	return id
}

// ============================================
// WALLETS
// ============================================

func (h *BackofficeHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	filter := domain.WalletFilter{UserID: r.URL.Query().Get("userId")}
	filter.Page, filter.Limit = paging(r)
	var err error
	if filter.MinBalance, err = queryDecimal(r, "minBalance"); err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}
	if filter.MaxBalance, err = queryDecimal(r, "maxBalance"); err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}

	wallets, total, err := h.wallets.ListWallets(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to list wallets", err)
		return
	}
	response.JSON(w, http.StatusOK, "Wallets retrieved", page{Items: wallets, Total: total, Page: filter.Page, Limit: filter.Limit})
}

func (h *BackofficeHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.wallets.GetWallet(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, h.logger, "Failed to get wallet", err)
		return
	}
	response.JSON(w, http.StatusOK, "Wallet retrieved", wallet)
}

func (h *BackofficeHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	req.UserID = chi.URLParam(r, "userId")

	tx, err := h.wallets.AdjustBalance(r.Context(), &req, adminID(r))
	if err != nil {
		writeError(w, h.logger, "Failed to adjust balance", err)
		return
	}
	h.logger.Info("wallet balance adjusted",
		zap.String("user_id", req.UserID),
		zap.String("admin_id", adminID(r)),
		zap.String("amount", req.Amount.String()))
	response.JSON(w, http.StatusOK, "Balance adjusted", tx)
}

func (h *BackofficeHandler) WalletTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}
	txs, total, wallet, err := h.wallets.Transactions(r.Context(), chi.URLParam(r, "userId"), filter)
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

func (h *BackofficeHandler) WalletUsage(w http.ResponseWriter, r *http.Request) {
	filter := domain.UsageFilter{ActionCode: r.URL.Query().Get("actionCode")}
	filter.Page, filter.Limit = paging(r)
	var err error
	if filter.StartDate, err = queryTime(r, "startDate"); err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}
	if filter.EndDate, err = queryTime(r, "endDate"); err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}

	history, err := h.wallets.UsageHistory(r.Context(), chi.URLParam(r, "userId"), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to get usage history", err)
		return
	}
	response.JSON(w, http.StatusOK, "Usage history retrieved", map[string]interface{}{
		"entries":    history.Entries,
		"total":      history.Total,
		"totalSpent": history.TotalSpent,
		"currency":   history.Wallet.Currency,
		"page":       filter.Page,
		"limit":      filter.Limit,
	})
}

// ============================================
// REFUNDS
// ============================================

func refundFilter(r *http.Request) (domain.RefundFilter, error) {
	q := r.URL.Query()
	f := domain.RefundFilter{
		Status:               domain.RefundStatus(q.Get("status")),
		UserID:               q.Get("userId"),
		PaymentTransactionID: q.Get("paymentTransactionId"),
	}
	f.Page, f.Limit = paging(r)
	var err error
	if f.StartDate, err = queryTime(r, "startDate"); err != nil {
		return f, err
	}
	f.EndDate, err = queryTime(r, "endDate")
	return f, err
}

func (h *BackofficeHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	filter, err := refundFilter(r)
	if err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}
	refunds, total, err := h.refunds.ListRefunds(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to list refunds", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refunds retrieved", page{Items: refunds, Total: total, Page: filter.Page, Limit: filter.Limit})
}

func (h *BackofficeHandler) RefundStatistics(w http.ResponseWriter, r *http.Request) {
	filter, err := refundFilter(r)
	if err != nil {
		writeError(w, h.logger, "Invalid filter", err)
		return
	}
	stats, err := h.refunds.Statistics(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to get refund statistics", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refund statistics retrieved", stats)
}

func (h *BackofficeHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.refunds.GetRefund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "Failed to get refund", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refund retrieved", refund)
}

func (h *BackofficeHandler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	refund, err := h.refunds.CreateRefund(r.Context(), &req, adminID(r))
	if err != nil {
		writeError(w, h.logger, "Failed to create refund", err)
		return
	}
	response.JSON(w, http.StatusCreated, "Refund created", refund)
}

type refundDecision struct {
	AdminNotes string `json:"adminNotes"`
	Reason     string `json:"reason"`
}

func (h *BackofficeHandler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var body refundDecision
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, h.logger, "Invalid request body", err)
			return
		}
	}
	refund, err := h.refunds.ProcessRefund(r.Context(), chi.URLParam(r, "id"), body.AdminNotes, adminID(r))
	if err != nil {
		writeError(w, h.logger, "Failed to process refund", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refund processed", refund)
}

func (h *BackofficeHandler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	var body refundDecision
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = body.AdminNotes
	}
	refund, err := h.refunds.RejectRefund(r.Context(), chi.URLParam(r, "id"), reason, adminID(r))
	if err != nil {
		writeError(w, h.logger, "Failed to reject refund", err)
		return
	}
	response.JSON(w, http.StatusOK, "Refund rejected", refund)
}

// ============================================
// BILLABLE ACTIONS
// ============================================

func (h *BackofficeHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ActionFilter{
		Category: q.Get("category"),
		IsActive: queryBool(r, "isActive"),
		Search:   q.Get("search"),
	}
	filter.Page, filter.Limit = paging(r)

	actions, total, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "Failed to list billable actions", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable actions retrieved", page{Items: actions, Total: total, Page: filter.Page, Limit: filter.Limit})
}

func (h *BackofficeHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "Failed to get billable action", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable action retrieved", action)
}

func (h *BackofficeHandler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var in domain.BillableActionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	action, err := h.catalog.Create(r.Context(), &in)
	if err != nil {
		writeError(w, h.logger, "Failed to create billable action", err)
		return
	}
	response.JSON(w, http.StatusCreated, "Billable action created", action)
}

func (h *BackofficeHandler) UpdateAction(w http.ResponseWriter, r *http.Request) {
	var upd domain.BillableActionUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, h.logger, "Invalid request body", err)
		return
	}
	action, err := h.catalog.Update(r.Context(), chi.URLParam(r, "id"), &upd)
	if err != nil {
		writeError(w, h.logger, "Failed to update billable action", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable action updated", action)
}

func (h *BackofficeHandler) SetActionStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.IsActive == nil {
		writeError(w, h.logger, "isActive is required", domain.ErrInvalidRequest)
		return
	}
	action, err := h.catalog.SetStatus(r.Context(), chi.URLParam(r, "id"), *body.IsActive)
	if err != nil {
		writeError(w, h.logger, "Failed to update billable action status", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable action status updated", action)
}

func (h *BackofficeHandler) SetActionPrice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cost     *decimal.Decimal `json:"cost"`
		Currency string           `json:"currency"`
	}
	if err := decodeJSON(w, r, &body); err != nil || body.Cost == nil {
		writeError(w, h.logger, "cost is required", domain.ErrInvalidRequest)
		return
	}
	action, err := h.catalog.SetPrice(r.Context(), chi.URLParam(r, "id"), *body.Cost, body.Currency)
	if err != nil {
		writeError(w, h.logger, "Failed to update billable action price", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable action price updated", action)
}

func (h *BackofficeHandler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, "Failed to delete billable action", err)
		return
	}
	response.JSON(w, http.StatusOK, "Billable action deleted", nil)
}
