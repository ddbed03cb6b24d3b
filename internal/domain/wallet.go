package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultWalletCurrency = "USD"

type Wallet struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	Balance            decimal.Decimal  `json:"credit_balance"`
	Currency           string           `json:"currency"`
	AutoTopUpEnabled   bool             `json:"auto_top_up_enabled"`
	AutoTopUpThreshold *decimal.Decimal `json:"auto_top_up_threshold,omitempty"`
	AutoTopUpAmount    *decimal.Decimal `json:"auto_top_up_amount,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type TransactionType string

const (
	TxCredit     TransactionType = "credit"
	TxDebit      TransactionType = "debit"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusPending   TransactionStatus = "pending"
	TxStatusFailed    TransactionStatus = "failed"
)

// WalletTransaction is an immutable record of one balance mutation.
// Amount is always positive; Direction says which way it moved the balance.
type WalletTransaction struct {
	ID                   string                 `json:"id"`
	WalletID             string                 `json:"wallet_id"`
	Type                 TransactionType        `json:"type"`
	Direction            Direction              `json:"direction"`
	Amount               decimal.Decimal        `json:"amount"`
	Currency             string                 `json:"currency"`
	BalanceBefore        decimal.Decimal        `json:"balance_before"`
	BalanceAfter         decimal.Decimal        `json:"balance_after"`
	Status               TransactionStatus      `json:"status"`
	Description          string                 `json:"description"`
	PaymentTransactionID *string                `json:"payment_transaction_id,omitempty"`
	UsageLedgerID        *string                `json:"usage_ledger_id,omitempty"`
	RefundID             *string                `json:"refund_id,omitempty"`
	IdempotencyKey       *string                `json:"-"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Mutation is a single balance change applied under the wallet row lock.
type Mutation struct {
	WalletID       string
	Type           TransactionType
	Direction      Direction
	Amount         decimal.Decimal
	Description    string
	Metadata       map[string]interface{}
	AllowNegative  bool
	IdempotencyKey string

	PaymentTransactionID string
	RefundID             string

	// Usage, when set, is written in the same database transaction and linked
	// to the resulting WalletTransaction.
	Usage *UsageEntry
}

func (m *Mutation) Validate() error {
	if m.WalletID == "" {
		return ErrInvalidRequest
	}
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if m.Direction != DirectionIn && m.Direction != DirectionOut {
		return ErrInvalidRequest
	}
	return nil
}

// Apply returns the balance after the mutation, enforcing the non-negative rule.
func (m *Mutation) Apply(before decimal.Decimal, currency string) (decimal.Decimal, error) {
	if m.Direction == DirectionIn {
		return before.Add(m.Amount), nil
	}
	if !m.AllowNegative && before.LessThan(m.Amount) {
		return before, NewInsufficientBalanceError(m.Amount, before, currency)
	}
	return before.Sub(m.Amount), nil
}

type WalletFilter struct {
	UserID     string
	MinBalance *decimal.Decimal
	MaxBalance *decimal.Decimal
	Page       int
	Limit      int
}

type TransactionFilter struct {
	WalletID  string
	Type      TransactionType
	Status    TransactionStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

// Normalize clamps paging to sane values.
func Normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

type AdjustRequest struct {
	UserID        string          `json:"-"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	AllowNegative bool            `json:"allow_negative"`
}

func (r *AdjustRequest) Validate() error {
	if r.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if r.Reason == "" {
		return ErrInvalidRequest
	}
	return nil
}
