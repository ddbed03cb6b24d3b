package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/fx"
	"settlement-service/internal/provider"

	"github.com/shopspring/decimal"
)

// ProviderDirectory is the part of the provider registry the orchestrators use.
type ProviderDirectory interface {
	Get(kind domain.ProviderKind) (provider.PaymentProvider, error)
	Lookup(code string) (provider.PaymentProvider, error)
	Available() []provider.PaymentProvider
	ByCriteria(currency string, method domain.PaymentMethod, region string) []provider.PaymentProvider
	ValidateCurrency(kind domain.ProviderKind, currency string) error
	ValidateMethod(kind domain.ProviderKind, method domain.PaymentMethod) error
}

type Converter interface {
	Quote(ctx context.Context, amount decimal.Decimal, from, to string) (*fx.Quote, error)
}

// Locker serializes work on a name across service instances.
type Locker interface {
	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (release func(), ok bool, err error)
}

var errSettlementBusy = errors.New("settlement already in progress")

// convertInto converts amount into the target currency. meta is nil when no
// conversion was needed.
func convertInto(ctx context.Context, conv Converter, amount decimal.Decimal, from, to string) (decimal.Decimal, map[string]interface{}, error) {
	if from == to {
		return amount, nil, nil
	}
	quote, err := conv.Quote(ctx, amount, from, to)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("convert %s %s to %s: %w", amount.String(), from, to, err)
	}
	return quote.Converted, quote.Metadata(), nil
}

func merge(dst map[string]interface{}, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func dataString(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
