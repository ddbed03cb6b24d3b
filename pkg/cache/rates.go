package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateCache stores exchange rates under a namespace so that each converter
// instance owns, and can clear, only its own entries.
type RateCache struct {
	svc       *CacheService
	namespace string
}

func (c *CacheService) RateCache(namespace string) *RateCache {
	if namespace == "" {
		namespace = "default"
	}
	return &RateCache{svc: c, namespace: namespace}
}

func (r *RateCache) key(from, to string) string {
	return fmt.Sprintf("fx:v1:%s:%s_%s", r.namespace, strings.ToUpper(from), strings.ToUpper(to))
}

func (r *RateCache) Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	raw, err := r.svc.client.Get(ctx, r.key(from, to)).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("cache get: %w", err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("cached rate %q: %w", raw, err)
	}
	return rate, true, nil
}

func (r *RateCache) Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	return r.svc.client.Set(ctx, r.key(from, to), rate.String(), ttl).Err()
}

func (r *RateCache) Clear(ctx context.Context) error {
	n, err := r.svc.deleteByPattern(ctx, fmt.Sprintf("fx:v1:%s:*", r.namespace))
	if err != nil {
		return err
	}
	r.svc.logger.Info("exchange rate cache cleared",
		zap.String("namespace", r.namespace),
		zap.Int("keys", n))
	return nil
}
