package fx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Rate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestConvert_SameCurrencyIsIdentity(t *testing.T) {
	src := &stubSource{err: errors.New("should not be called")}
	c := NewConverter(nil, src, zap.NewNop())

	for _, cur := range []string{"USD", "VND", "EUR"} {
		out, err := c.Convert(context.Background(), d("123.456"), cur, cur)
		require.NoError(t, err)
		assert.True(t, out.Equal(d("123.456")), cur)
	}
	assert.Equal(t, 0, src.calls)
}

func TestConvert_LiveRateIsCached(t *testing.T) {
	src := &stubSource{rate: d("0.92")}
	c := NewConverter(NewMemoryRateCache(), src, zap.NewNop())

	q, err := c.Quote(context.Background(), d("100"), "usd", "eur")
	require.NoError(t, err)
	assert.Equal(t, SourceLive, q.Source)
	assert.True(t, q.Converted.Equal(d("92")))

	q, err = c.Quote(context.Background(), d("10"), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, q.Source)
	assert.True(t, q.Converted.Equal(d("9.2")))
	assert.Equal(t, 1, src.calls)
}

func TestConvert_FallbackIsNotCached(t *testing.T) {
	src := &stubSource{err: errors.New("timeout")}
	c := NewConverter(NewMemoryRateCache(), src, zap.NewNop())

	q, err := c.Quote(context.Background(), d("50000"), "VND", "USD")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, q.Source)
	assert.True(t, q.Converted.Equal(d("2.08")), q.Converted.String())

	_, err = c.Quote(context.Background(), d("50000"), "VND", "USD")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestConvert_RateUnavailable(t *testing.T) {
	c := NewConverter(nil, &stubSource{err: errors.New("down")}, zap.NewNop())

	_, err := c.Convert(context.Background(), d("1"), "EUR", "GBP")
	assert.ErrorIs(t, err, domain.ErrRateUnavailable)
}

func TestConvert_RoundTripWithinTolerance(t *testing.T) {
	c := NewConverter(nil, nil, zap.NewNop())
	ctx := context.Background()

	for _, amt := range []string{"0.01", "1", "12.34", "99.99", "1000"} {
		vnd, err := c.Convert(ctx, d(amt), "USD", "VND")
		require.NoError(t, err)
		back, err := c.Convert(ctx, vnd, "VND", "USD")
		require.NoError(t, err)
		assert.True(t, back.Sub(d(amt)).Abs().LessThanOrEqual(d("0.01")), "%s -> %s -> %s", amt, vnd, back)
	}
}

func TestConvert_VNDRoundsToWholeUnits(t *testing.T) {
	c := NewConverter(nil, nil, zap.NewNop())

	out, err := c.Convert(context.Background(), d("10.005"), "USD", "VND")
	require.NoError(t, err)
	assert.True(t, out.Equal(d("240120")), out.String())
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	src := &stubSource{rate: d("1.5")}
	c := NewConverter(nil, src, zap.NewNop())
	ctx := context.Background()

	_, err := c.Convert(ctx, d("1"), "GBP", "USD")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Convert(ctx, d("1"), "GBP", "USD")
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestConverters_DoNotShareCache(t *testing.T) {
	srcA := &stubSource{rate: d("2")}
	srcB := &stubSource{rate: d("3")}
	a := NewConverter(nil, srcA, zap.NewNop())
	b := NewConverter(nil, srcB, zap.NewNop())

	outA, err := a.Convert(context.Background(), d("1"), "AUD", "CAD")
	require.NoError(t, err)
	outB, err := b.Convert(context.Background(), d("1"), "AUD", "CAD")
	require.NoError(t, err)

	assert.True(t, outA.Equal(d("2")))
	assert.True(t, outB.Equal(d("3")))
}

func TestMemoryRateCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryRateCache()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(context.Background(), "USD", "EUR", d("0.9"), time.Hour))
	_, ok, _ := cache.Get(context.Background(), "usd", "eur")
	assert.True(t, ok)

	now = now.Add(time.Hour)
	_, ok, _ = cache.Get(context.Background(), "USD", "EUR")
	assert.False(t, ok)
}

func TestHTTPRateSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/USD", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"VND":25100.5,"EUR":0.91}}`))
	}))
	defer srv.Close()

	src := NewHTTPRateSource(srv.URL, time.Second)

	rate, err := src.Rate(context.Background(), "USD", "VND")
	require.NoError(t, err)
	assert.True(t, rate.Equal(d("25100.5")))

	_, err = src.Rate(context.Background(), "USD", "GBP")
	assert.Error(t, err)
}
