// Package metrics holds the prometheus collectors for settlement, refunds,
// usage billing and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_webhooks_total",
			Help: "Webhook deliveries by provider, normalized event and outcome",
		},
		[]string{"provider", "event", "outcome"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payments_total",
			Help: "Payment transactions reaching a status, by provider",
		},
		[]string{"provider", "status"},
	)

	TopUpsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_topups_initiated_total",
			Help: "Top-up intents by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	Refunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_refunds_total",
			Help: "Refund status transitions",
		},
		[]string{"provider", "status"},
	)

	WalletMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_wallet_mutations_total",
			Help: "Wallet balance mutations by type and result",
		},
		[]string{"type", "result"},
	)

	UsageCharges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_usage_charges_total",
			Help: "Usage charge attempts by outcome",
		},
		[]string{"outcome"},
	)

	RateLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fx_lookups_total",
			Help: "Exchange rate lookups by source",
		},
		[]string{"source"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_provider_call_duration_seconds",
			Help:    "Gateway call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "op"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_event_publish_errors_total",
			Help: "Wallet events that failed to reach Kafka",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
