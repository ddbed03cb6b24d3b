package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrUnsupportedMethod    = errors.New("unsupported payment method")
	ErrUnsupportedRegion    = errors.New("unsupported region")
	ErrUnsupportedProvider  = errors.New("unsupported payment provider")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrRateUnavailable      = errors.New("exchange rate unavailable")
	ErrDuplicateRefund      = errors.New("a refund is already in progress for this payment")
	ErrTransactionNotFound  = errors.New("payment transaction not found")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUserNotFound         = errors.New("user not found")
	ErrActionNotFound       = errors.New("billable action not found")
	ErrActionInactive       = errors.New("billable action is inactive")
	ErrDuplicateActionCode  = errors.New("billable action code already exists")
	ErrRefundExceedsPayment = errors.New("refund amount exceeds refundable amount")
)

// InsufficientBalanceError carries the amounts shown to the caller on a 403.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

func NewInsufficientBalanceError(required, available decimal.Decimal, currency string) *InsufficientBalanceError {
	return &InsufficientBalanceError{Required: required, Available: available, Currency: currency}
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s %s, available %s",
		e.Required.StringFixed(2), e.Currency, e.Available.StringFixed(2))
}

// Shortfall is never negative.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	s := e.Required.Sub(e.Available)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// ProviderError wraps a gateway failure so callers can match ErrProviderUnavailable
// while keeping the gateway's message for the owning record.
type ProviderError struct {
	Provider ProviderKind
	Op       string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrProviderUnavailable
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}
