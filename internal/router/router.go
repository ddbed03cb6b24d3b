// internal/router/router.go
package router

import (
	"context"
	"net/http"
	"time"

	"settlement-service/internal/handler"
	"settlement-service/internal/middleware"
	"settlement-service/pkg/response"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Payments   *handler.PaymentHandler
	Wallet     *handler.WalletHandler
	Usage      *handler.UsageHandler
	Backoffice *handler.BackofficeHandler
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

func SetupRoutes(
	h Handlers,
	auth *middleware.Authenticator,
	guard middleware.BalanceGuard,
	health HealthCheck,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "Stripe-Signature", "Paypal-Transmission-Id", "Paypal-Transmission-Sig"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Websocket upgrades must not sit behind the request timeout.
	r.With(auth.Middleware).Get("/api/v1/wallet/ws", h.Wallet.WalletWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))

		// ============================================
		// GATEWAY CALLBACKS (public, signature checked)
		// ============================================
		r.Post("/payments/{provider}/webhook", h.Payments.HandleWebhook)
		r.Get("/payments/{provider}/return", h.Payments.HandleReturn)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Get("/payments/providers", h.Payments.ListProviders)
			r.Get("/payments/{provider}/status", h.Payments.GetStatus)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/balance", h.Wallet.GetBalance)
				r.Post("/top-up", h.Payments.TopUp)
				r.Get("/transactions", h.Wallet.ListTransactions)
				r.Get("/refunds", h.Wallet.ListRefunds)
				r.Post("/refunds", h.Wallet.RequestRefund)
			})

			r.Route("/usage/actions/{code}", func(r chi.Router) {
				r.Get("/check", h.Usage.CheckAction)
				r.With(middleware.RequireBalance(guard, handler.ActionCode, logger)).Post("/", h.Usage.ChargeAction)
			})

			// ============================================
			// BACKOFFICE
			// ============================================
			r.Route("/backoffice", func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Route("/wallets", func(r chi.Router) {
					r.Get("/", h.Backoffice.ListWallets)
					r.Get("/{userId}", h.Backoffice.GetWallet)
					r.Post("/{userId}/adjust", h.Backoffice.AdjustBalance)
					r.Get("/{userId}/transactions", h.Backoffice.WalletTransactions)
					r.Get("/{userId}/usage", h.Backoffice.WalletUsage)
				})

				r.Route("/refunds", func(r chi.Router) {
					r.Get("/", h.Backoffice.ListRefunds)
					r.Get("/statistics", h.Backoffice.RefundStatistics)
					r.Get("/{id}", h.Backoffice.GetRefund)
					r.Post("/", h.Backoffice.CreateRefund)
					r.Post("/{id}/process", h.Backoffice.ProcessRefund)
					r.Post("/{id}/reject", h.Backoffice.RejectRefund)
				})

				r.Route("/billable-actions", func(r chi.Router) {
					r.Get("/", h.Backoffice.ListActions)
					r.Get("/{id}", h.Backoffice.GetAction)
					r.Post("/", h.Backoffice.CreateAction)
					r.Put("/{id}", h.Backoffice.UpdateAction)
					r.Patch("/{id}/status", h.Backoffice.SetActionStatus)
					r.Patch("/{id}/price", h.Backoffice.SetActionPrice)
					r.Delete("/{id}", h.Backoffice.DeleteAction)
				})
			})
		})
	})

	return r
}
