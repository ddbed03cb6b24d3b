package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultTTL     = time.Hour
	DefaultTimeout = 5 * time.Second
)

type Source string

const (
	SourceIdentity Source = "identity"
	SourceCache    Source = "cache"
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Quote is the result of one conversion, kept so callers can record the rate used.
type Quote struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
	Converted decimal.Decimal `json:"converted"`
	Source    Source          `json:"source"`
}

// Metadata renders the quote for storage on ledger rows.
func (q *Quote) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"originalAmount":   q.Amount.String(),
		"originalCurrency": q.From,
		"convertedAmount":  q.Converted.String(),
		"walletCurrency":   q.To,
		"exchangeRate":     q.Rate.String(),
		"rateSource":       string(q.Source),
	}
}

type RateCache interface {
	Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type Converter struct {
	cache    RateCache
	source   RateSource
	fallback map[string]decimal.Decimal
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Converter)

func WithTTL(ttl time.Duration) Option { return func(c *Converter) { c.ttl = ttl } }

func WithTimeout(d time.Duration) Option { return func(c *Converter) { c.timeout = d } }

// WithFallbackRate adds or overrides a static rate.
func WithFallbackRate(from, to string, rate decimal.Decimal) Option {
	return func(c *Converter) { c.fallback[pairKey(from, to)] = rate }
}

// NewConverter builds a converter that owns its cache. A nil source means
// only the cache and the static table are consulted.
func NewConverter(cache RateCache, source RateSource, logger *zap.Logger, opts ...Option) *Converter {
	if cache == nil {
		cache = NewMemoryRateCache()
	}
	c := &Converter{
		cache:    cache,
		source:   source,
		fallback: defaultFallbackRates(),
		ttl:      DefaultTTL,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultFallbackRates() map[string]decimal.Decimal {
	vndPerUSD := decimal.NewFromInt(24000)
	return map[string]decimal.Decimal{
		pairKey("USD", "VND"): vndPerUSD,
		pairKey("VND", "USD"): decimal.NewFromInt(1).DivRound(vndPerUSD, 12),
	}
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "_" + strings.ToUpper(to)
}

func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	q, err := c.Quote(ctx, amount, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Converted, nil
}

func (c *Converter) Quote(ctx context.Context, amount decimal.Decimal, from, to string) (*Quote, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: empty currency code", domain.ErrUnsupportedCurrency)
	}

	if from == to {
		return &Quote{From: from, To: to, Rate: decimal.NewFromInt(1), Amount: amount, Converted: amount, Source: SourceIdentity}, nil
	}

	rate, source, err := c.rate(ctx, from, to)
	if err != nil {
		return nil, err
	}

	return &Quote{
		From:      from,
		To:        to,
		Rate:      rate,
		Amount:    amount,
		Converted: Round(amount.Mul(rate), to),
		Source:    source,
	}, nil
}

func (c *Converter) rate(ctx context.Context, from, to string) (decimal.Decimal, Source, error) {
	if rate, ok, err := c.cache.Get(ctx, from, to); err != nil {
		c.logger.Warn("rate cache read failed", zap.String("pair", pairKey(from, to)), zap.Error(err))
	} else if ok {
		return rate, SourceCache, nil
	}

	if c.source != nil {
		liveCtx, cancel := context.WithTimeout(ctx, c.timeout)
		rate, err := c.source.Rate(liveCtx, from, to)
		cancel()
		if err == nil && rate.IsPositive() {
			if err := c.cache.Set(ctx, from, to, rate, c.ttl); err != nil {
				c.logger.Warn("rate cache write failed", zap.String("pair", pairKey(from, to)), zap.Error(err))
			}
			return rate, SourceLive, nil
		}
		c.logger.Warn("live exchange rate lookup failed, trying static table",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
	}

	if rate, ok := c.fallback[pairKey(from, to)]; ok {
		return rate, SourceFallback, nil
	}

	return decimal.Zero, "", fmt.Errorf("%w: %s to %s", domain.ErrRateUnavailable, from, to)
}

// Invalidate drops every rate this converter has cached.
func (c *Converter) Invalidate(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

var zeroDecimalCurrencies = map[string]bool{"VND": true, "JPY": true, "KRW": true}

// Round rounds half away from zero to the currency's minor unit.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0)
	}
	return amount.Round(2)
}

func IsZeroDecimal(currency string) bool {
	return zeroDecimalCurrencies[strings.ToUpper(currency)]
}
