package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	FX       FXConfig
	Identity IdentityConfig
	Usage    UsageConfig

	Stripe  StripeConfig
	MoMo    MoMoConfig
	ZaloPay ZaloPayConfig
	PayPal  PayPalConfig
}

type ServerConfig struct {
	Port string
	Env  string
	// APIBaseURL is our public address; gateways call back into it.
	APIBaseURL  string
	FrontendURL string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.DBName,
		d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	AdminRole string
}

type FXConfig struct {
	APIURL  string
	Timeout time.Duration
	TTL     time.Duration
}

type IdentityConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type UsageConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
	BatchSize     int
}

type StripeConfig struct {
	Enabled       bool
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type MoMoConfig struct {
	Enabled     bool
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
}

type ZaloPayConfig struct {
	Enabled  bool
	AppID    string
	Key1     string
	Key2     string
	Endpoint string
}

type PayPalConfig struct {
	Enabled      bool
	Mode         string
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
}

func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8040"),
			Env:         getEnv("ENVIRONMENT", "development"),
			APIBaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8040"), "/"),
			FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "settlement"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 50)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 10)),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_WALLET_TOPIC", "wallet.events"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
			AdminRole: getEnv("ADMIN_ROLE", "admin"),
		},
		FX: FXConfig{
			APIURL:  getEnv("FX_API_URL", "https://api.exchangerate-api.com/v4/latest"),
			Timeout: getEnvDuration("FX_API_TIMEOUT", 5*time.Second),
			TTL:     getEnvDuration("FX_CACHE_TTL", time.Hour),
		},
		Identity: IdentityConfig{
			BaseURL: getEnv("IDENTITY_BASE_URL", ""),
			APIKey:  getEnv("IDENTITY_API_KEY", ""),
			Timeout: getEnvDuration("IDENTITY_TIMEOUT", 5*time.Second),
		},
		Usage: UsageConfig{
			RetryInterval: getEnvDuration("USAGE_RETRY_INTERVAL", 30*time.Second),
			MaxAttempts:   getEnvInt("USAGE_MAX_ATTEMPTS", 8),
			BatchSize:     getEnvInt("USAGE_RETRY_BATCH", 50),
		},
	}
	cfg.Redis.Enabled = cfg.Redis.Host != ""

	cfg.loadProviders(logger)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// loadProviders reads each gateway's prefixed block. A gateway is enabled
// only when its credentials are present.
func (c *Config) loadProviders(logger *zap.Logger) {
	prefix := providerPrefix("stripe")
	c.Stripe = StripeConfig{
		SecretKey:     getEnv(prefix+"SECRET_KEY", ""),
		WebhookSecret: getEnv(prefix+"WEBHOOK_SECRET", ""),
		BaseURL:       getEnv(prefix+"BASE_URL", "https://api.stripe.com"),
	}
	c.Stripe.Enabled = getEnvBool(prefix+"ENABLED", true) && c.Stripe.SecretKey != ""

	prefix = providerPrefix("momo")
	c.MoMo = MoMoConfig{
		PartnerCode: getEnv(prefix+"PARTNER_CODE", ""),
		AccessKey:   getEnv(prefix+"ACCESS_KEY", ""),
		SecretKey:   getEnv(prefix+"SECRET_KEY", ""),
		Endpoint:    getEnv(prefix+"ENDPOINT", "https://test-payment.momo.vn"),
	}
	c.MoMo.Enabled = getEnvBool(prefix+"ENABLED", true) &&
		c.MoMo.PartnerCode != "" && c.MoMo.AccessKey != "" && c.MoMo.SecretKey != ""

	prefix = providerPrefix("zalopay")
	c.ZaloPay = ZaloPayConfig{
		AppID:    getEnv(prefix+"APP_ID", ""),
		Key1:     getEnv(prefix+"KEY1", ""),
		Key2:     getEnv(prefix+"KEY2", ""),
		Endpoint: getEnv(prefix+"ENDPOINT", "https://sb-openapi.zalopay.vn"),
	}
	c.ZaloPay.Enabled = getEnvBool(prefix+"ENABLED", true) &&
		c.ZaloPay.AppID != "" && c.ZaloPay.Key1 != "" && c.ZaloPay.Key2 != ""

	prefix = providerPrefix("paypal")
	c.PayPal = PayPalConfig{
		Mode:         getEnv(prefix+"MODE", "sandbox"),
		ClientID:     getEnv(prefix+"CLIENT_ID", ""),
		ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
		WebhookID:    getEnv(prefix+"WEBHOOK_ID", ""),
	}
	defaultPayPalURL := "https://api-m.sandbox.paypal.com"
	if c.PayPal.Mode == "live" || c.PayPal.Mode == "production" {
		defaultPayPalURL = "https://api-m.paypal.com"
	}
	c.PayPal.BaseURL = getEnv(prefix+"BASE_URL", defaultPayPalURL)
	c.PayPal.Enabled = getEnvBool(prefix+"ENABLED", true) &&
		c.PayPal.ClientID != "" && c.PayPal.ClientSecret != ""

	logger.Info("payment providers configured",
		zap.Bool("stripe", c.Stripe.Enabled),
		zap.Bool("momo", c.MoMo.Enabled),
		zap.Bool("zalopay", c.ZaloPay.Enabled),
		zap.Bool("paypal", c.PayPal.Enabled))
}

func providerPrefix(name string) string {
	return fmt.Sprintf("%s_", strings.ToUpper(name))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return b
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return d
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
