// Package app wires the service's dependencies for the server and the CLI.
package app

import (
	"context"
	"fmt"

	"settlement-service/config"
	"settlement-service/internal/fx"
	"settlement-service/internal/identity"
	"settlement-service/internal/notifier"
	"settlement-service/internal/provider"
	"settlement-service/internal/provider/momo"
	"settlement-service/internal/provider/paypal"
	"settlement-service/internal/provider/stripe"
	"settlement-service/internal/provider/zalopay"
	"settlement-service/internal/repository"
	"settlement-service/internal/usecase"
	"settlement-service/pkg/cache"
	"settlement-service/pkg/events"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type App struct {
	Config *config.Config
	DB     *pgxpool.Pool
	// Cache is nil when redis is not configured.
	Cache     *cache.CacheService
	Events    events.Publisher
	Notifier  *notifier.Notifier
	Converter *fx.Converter
	Providers *provider.Registry

	Ledger     *usecase.WalletLedger
	Settlement *usecase.SettlementOrchestrator
	Refunds    *usecase.RefundOrchestrator
	Biller     *usecase.UsageBiller
	Catalog    *usecase.CatalogUsecase
	Backoffice *usecase.BackofficeUsecase

	logger *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := config.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a := &App{Config: cfg, DB: db, logger: logger}

	if cfg.Redis.Enabled {
		c, err := cache.NewCacheService(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process rate cache and no settlement locks", zap.Error(err))
		} else {
			a.Cache = c
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.Events = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	} else {
		logger.Info("kafka not configured, wallet events are not published")
		a.Events = events.Noop{}
	}

	var rates fx.RateCache = fx.NewMemoryRateCache()
	if a.Cache != nil {
		rates = a.Cache.RateCache("fx")
	}
	a.Converter = fx.NewConverter(rates, fx.NewHTTPRateSource(cfg.FX.APIURL, cfg.FX.Timeout), logger,
		fx.WithTTL(cfg.FX.TTL),
		fx.WithTimeout(cfg.FX.Timeout))

	a.Providers = buildRegistry(cfg, logger)
	a.Notifier = notifier.NewNotifier(logger)

	wallets := repository.NewWalletRepository(db)
	payments := repository.NewPaymentRepository(db)
	refunds := repository.NewRefundRepository(db)
	catalog := repository.NewCatalogRepository(db)

	a.Ledger = usecase.NewWalletLedger(wallets, a.Events, a.Notifier, logger)
	a.Refunds = usecase.NewRefundOrchestrator(a.Providers, payments, refunds, a.Ledger, a.Converter, a.Events, logger)
	a.Settlement = usecase.NewSettlementOrchestrator(
		a.Providers,
		payments,
		refunds,
		a.Refunds,
		a.Ledger,
		a.Converter,
		identity.NewResolver(cfg.Identity, logger),
		a.Events,
		a.Notifier,
		usecase.SettlementConfig{APIBaseURL: cfg.Server.APIBaseURL},
		logger,
	)
	if a.Cache != nil {
		a.Settlement.WithLocker(a.Cache)
	}
	a.Biller = usecase.NewUsageBiller(catalog, repository.NewChargeRepository(db), a.Ledger, a.Converter, a.Events, usecase.UsageConfig{
		RetryInterval: cfg.Usage.RetryInterval,
		MaxAttempts:   cfg.Usage.MaxAttempts,
		BatchSize:     cfg.Usage.BatchSize,
	}, logger)
	a.Catalog = usecase.NewCatalogUsecase(catalog, logger)
	a.Backoffice = usecase.NewBackofficeUsecase(wallets, repository.NewUsageRepository(db), a.Ledger, logger)

	return a, nil
}

// buildRegistry registers every gateway whose credentials are configured.
func buildRegistry(cfg *config.Config, logger *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	if cfg.Stripe.Enabled {
		registry.Register(stripe.NewStripeProvider(cfg.Stripe, logger))
	}
	if cfg.MoMo.Enabled {
		registry.Register(momo.NewMoMoProvider(cfg.MoMo, logger))
	}
	if cfg.ZaloPay.Enabled {
		registry.Register(zalopay.NewZaloPayProvider(cfg.ZaloPay, logger))
	}
	if cfg.PayPal.Enabled {
		registry.Register(paypal.NewPayPalProvider(cfg.PayPal, logger))
	}
	if len(registry.Available()) == 0 {
		logger.Warn("no payment providers configured; top-ups will be rejected")
	}
	return registry
}

func (a *App) Ping(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

func (a *App) Close() {
	if err := a.Events.Close(); err != nil {
		a.logger.Warn("failed to close event publisher", zap.Error(err))
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	a.DB.Close()
}
