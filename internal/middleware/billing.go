package middleware

import (
	"context"
	"errors"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

// BalanceGuard reports how far a user is from affording an action; nil means
// the balance covers it.
type BalanceGuard interface {
	Shortfall(ctx context.Context, userID, actionCode string) (*domain.InsufficientBalanceError, error)
}

type ShortfallBody struct {
	ActionCode string `json:"actionCode"`
	Required   string `json:"required"`
	Available  string `json:"available"`
	Shortfall  string `json:"shortfall"`
	Currency   string `json:"currency"`
}

// RequireBalance refuses the request with 403 when the caller's wallet cannot
// pay for the action named by actionCode(r).
func RequireBalance(guard BalanceGuard, actionCode func(*http.Request) string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			code := actionCode(r)

			short, err := guard.Shortfall(r.Context(), userID, code)
			switch {
			case errors.Is(err, domain.ErrActionNotFound):
				response.Error(w, http.StatusNotFound, "Billable action not found", err)
				return
			case errors.Is(err, domain.ErrActionInactive):
				response.Error(w, http.StatusBadRequest, "Billable action is inactive", err)
				return
			case errors.Is(err, domain.ErrRateUnavailable):
				response.Error(w, http.StatusServiceUnavailable, "Exchange rate unavailable", err)
				return
			case err != nil:
				logger.Error("balance check failed",
					zap.String("user_id", userID),
					zap.String("action_code", code),
					zap.Error(err))
				response.Error(w, http.StatusInternalServerError, "Balance check failed", nil)
				return
			}

			if short != nil {
				response.Raw(w, http.StatusForbidden, response.APIResponse{
					Success: false,
					Message: "Insufficient balance",
					Error:   short.Error(),
					Data: ShortfallBody{
						ActionCode: code,
						Required:   short.Required.StringFixed(2),
						Available:  short.Available.StringFixed(2),
						Shortfall:  short.Shortfall().StringFixed(2),
						Currency:   short.Currency,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
