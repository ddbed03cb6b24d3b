package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundApproved  RefundStatus = "approved"
	RefundRejected  RefundStatus = "rejected"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
	RefundReversed  RefundStatus = "reversed"
)

// Open reports whether the refund still blocks another refund on the same payment.
func (s RefundStatus) Open() bool {
	return s == RefundPending || s == RefundApproved
}

func (s RefundStatus) Valid() bool {
	switch s {
	case RefundPending, RefundApproved, RefundRejected, RefundProcessed, RefundFailed, RefundReversed:
		return true
	}
	return false
}

type Refund struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"user_id"`
	WalletID             string                 `json:"wallet_id"`
	PaymentTransactionID string                 `json:"payment_transaction_id"`
	Provider             ProviderKind           `json:"provider"`
	Amount               decimal.Decimal        `json:"amount"`
	Currency             string                 `json:"currency"`
	Status               RefundStatus           `json:"status"`
	Reason               string                 `json:"reason"`
	AdminNotes           *string                `json:"admin_notes,omitempty"`
	ProcessedBy          *string                `json:"processed_by,omitempty"`
	ProviderRefundID     *string                `json:"provider_refund_id,omitempty"`
	FailureReason        *string                `json:"failure_reason,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	ProcessedAt          *time.Time             `json:"processed_at,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

type RefundUpdate struct {
	Status           RefundStatus
	AdminNotes       *string
	ProcessedBy      *string
	ProviderRefundID *string
	FailureReason    *string
	Metadata         map[string]interface{}
}

type CreateRefundRequest struct {
	PaymentTransactionID string          `json:"paymentTransactionId"`
	Amount               decimal.Decimal `json:"amount"`
	Reason               string          `json:"reason"`
	AdminNotes           string          `json:"adminNotes,omitempty"`
}

func (r *CreateRefundRequest) Validate() error {
	if r.PaymentTransactionID == "" || r.Reason == "" {
		return ErrInvalidRequest
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

type RefundFilter struct {
	Status               RefundStatus
	UserID               string
	PaymentTransactionID string
	StartDate            *time.Time
	EndDate              *time.Time
	Page                 int
	Limit                int
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

type RefundStatistics struct {
	TotalRefunds int64                  `json:"total_refunds"`
	TotalAmount  decimal.Decimal        `json:"total_amount"`
	ByStatus     map[RefundStatus]int64 `json:"by_status"`
	TopReasons   []ReasonCount          `json:"top_reasons"`
}
