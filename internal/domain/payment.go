package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentTypeTopUp      PaymentType = "top_up"
	PaymentTypeRefund     PaymentType = "refund"
	PaymentTypeAdjustment PaymentType = "adjustment"
)

// PaymentTransaction is one attempt to move external money into a wallet.
type PaymentTransaction struct {
	ID                    string                 `json:"id"`
	WalletID              string                 `json:"wallet_id"`
	UserID                string                 `json:"user_id"`
	Provider              ProviderKind           `json:"provider"`
	ProviderPaymentID     string                 `json:"provider_payment_id"`
	ProviderTransactionID *string                `json:"provider_transaction_id,omitempty"`
	Amount                decimal.Decimal        `json:"amount"`
	Currency              string                 `json:"currency"`
	RequestedAmount       decimal.Decimal        `json:"requested_amount"`
	RequestedCurrency     string                 `json:"requested_currency"`
	Status                PaymentStatus          `json:"status"`
	Type                  PaymentType            `json:"type"`
	PaymentMethod         PaymentMethod          `json:"payment_method"`
	Description           string                 `json:"description"`
	FailureReason         *string                `json:"failure_reason,omitempty"`
	GatewayResponse       map[string]interface{} `json:"gateway_response,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty"`
	FailedAt              *time.Time             `json:"failed_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// PaymentUpdate carries the status-transition fields a payment row may change.
type PaymentUpdate struct {
	Status                PaymentStatus
	ProviderPaymentID     *string
	ProviderTransactionID *string
	FailureReason         *string
	GatewayResponse       map[string]interface{}
	Metadata              map[string]interface{}
}

type TopUpRequest struct {
	UserID        string          `json:"-"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Description   string          `json:"description,omitempty"`
}

func (r *TopUpRequest) Validate() error {
	if r.UserID == "" {
		return ErrInvalidRequest
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if len(r.Currency) != 3 {
		return ErrUnsupportedCurrency
	}
	if !r.PaymentMethod.Valid() {
		return ErrUnsupportedMethod
	}
	return nil
}

type TopUpResult struct {
	TransactionID     string          `json:"transactionId"`
	ProviderPaymentID string          `json:"paymentId"`
	Provider          ProviderKind    `json:"provider"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	RedirectURL       string          `json:"redirectUrl,omitempty"`
	PaymentURL        string          `json:"paymentUrl,omitempty"`
	ClientSecret      string          `json:"clientSecret,omitempty"`
	QRCode            string          `json:"qrCode,omitempty"`
	ExpiresAt         *time.Time      `json:"expiresAt,omitempty"`
}

// WebhookEventType is the normalized vocabulary every gateway maps onto.
type WebhookEventType string

const (
	EventPaymentSucceeded WebhookEventType = "payment.succeeded"
	EventPaymentFailed    WebhookEventType = "payment.failed"
	EventPaymentCancelled WebhookEventType = "payment.cancelled"
	EventPaymentRefunded  WebhookEventType = "payment.refunded"
	EventPaymentUpdated   WebhookEventType = "payment.updated"
	EventPaymentUnknown   WebhookEventType = "payment.unknown"
)

type WebhookEvent struct {
	Type          WebhookEventType
	PaymentID     string
	TransactionID string
	Status        PaymentStatus

	// Refund events only.
	RefundID       string
	RefundAmount   *decimal.Decimal
	RefundCurrency string

	Message string
	Data    map[string]interface{}
}
