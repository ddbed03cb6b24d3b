package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_ProvidersEnabledOnlyWithCredentials(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("MOMO_PARTNER_CODE", "MOMO")
	t.Setenv("MOMO_ACCESS_KEY", "ak")
	t.Setenv("ZALOPAY_APP_ID", "2553")
	t.Setenv("PAYPAL_CLIENT_ID", "cid")
	t.Setenv("PAYPAL_CLIENT_SECRET", "csecret")
	t.Setenv("PAYPAL_MODE", "live")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.True(t, cfg.Stripe.Enabled)
	assert.False(t, cfg.MoMo.Enabled, "secret key missing")
	assert.False(t, cfg.ZaloPay.Enabled, "keys missing")
	assert.True(t, cfg.PayPal.Enabled)
	assert.Equal(t, "https://api-m.paypal.com", cfg.PayPal.BaseURL)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load(zap.NewNop())
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("FX_CACHE_TTL", "30m")
	t.Setenv("API_BASE_URL", "https://api.example.com/")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.FX.TTL)
	assert.Equal(t, 5*time.Second, cfg.FX.Timeout)
	assert.Equal(t, "https://api.example.com", cfg.Server.APIBaseURL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "db", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", d.DSN())
}
