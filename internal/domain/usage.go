package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillableAction is a priced API operation.
type BillableAction struct {
	ID          string                 `json:"id"`
	ActionCode  string                 `json:"action_code"`
	ActionName  string                 `json:"action_name"`
	Description string                 `json:"description,omitempty"`
	Category    string                 `json:"category"`
	Cost        decimal.Decimal        `json:"cost"`
	Currency    string                 `json:"currency"`
	IsActive    bool                   `json:"is_active"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

type BillableActionInput struct {
	ActionCode  string                 `json:"actionCode"`
	ActionName  string                 `json:"actionName"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Cost        decimal.Decimal        `json:"cost"`
	Currency    string                 `json:"currency"`
	IsActive    *bool                  `json:"isActive"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (in *BillableActionInput) Validate() error {
	in.ActionCode = strings.TrimSpace(in.ActionCode)
	if in.ActionCode == "" || strings.TrimSpace(in.ActionName) == "" {
		return ErrInvalidRequest
	}
	if in.Cost.IsNegative() {
		return ErrInvalidAmount
	}
	if in.Currency == "" {
		in.Currency = DefaultWalletCurrency
	}
	in.Currency = strings.ToUpper(in.Currency)
	if in.Category == "" {
		in.Category = "general"
	}
	return nil
}

type BillableActionUpdate struct {
	ActionName  *string                `json:"actionName"`
	Description *string                `json:"description"`
	Category    *string                `json:"category"`
	Cost        *decimal.Decimal       `json:"cost"`
	Currency    *string                `json:"currency"`
	IsActive    *bool                  `json:"isActive"`
	Metadata    map[string]interface{} `json:"metadata"`
}

type ActionFilter struct {
	Category string
	IsActive *bool
	Search   string
	Page     int
	Limit    int
}

// UsageContext links a charge back to whatever the billed call touched.
type UsageContext struct {
	RequestID         string                 `json:"requestId"`
	ProfileID         string                 `json:"profileId,omitempty"`
	OrganizationID    string                 `json:"organizationId,omitempty"`
	RelatedEntityType string                 `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string                 `json:"relatedEntityId,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// UsageEntry is an immutable record of a deduction for a billable action.
type UsageEntry struct {
	ID             string          `json:"id"`
	WalletID       string          `json:"wallet_id"`
	UserID         string          `json:"user_id"`
	ActionID       string          `json:"action_id"`
	ActionCode     string          `json:"action_code"`
	AmountDeducted decimal.Decimal `json:"amount_deducted"`
	BalanceBefore  decimal.Decimal `json:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Context        UsageContext    `json:"context"`
	CreatedAt      time.Time       `json:"created_at"`
}

type UsageFilter struct {
	WalletID   string
	ActionCode string
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	Limit      int
}

type DeductResult struct {
	Success    bool             `json:"success"`
	NewBalance *decimal.Decimal `json:"newBalance,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type ChargeStatus string

const (
	ChargeQueued    ChargeStatus = "queued"
	ChargeCompleted ChargeStatus = "completed"
	ChargeDead      ChargeStatus = "dead"
)

// UsageCharge is a durable queue row for a post-hoc deduction, unique per
// (user, action, request).
type UsageCharge struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	ActionCode    string       `json:"action_code"`
	RequestID     string       `json:"request_id"`
	Context       UsageContext `json:"context"`
	Status        ChargeStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     *string      `json:"last_error,omitempty"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}
