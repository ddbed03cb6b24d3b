package handler

import (
	"errors"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/middleware"
	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrUnsupportedMethod),
		errors.Is(err, domain.ErrUnsupportedRegion),
		errors.Is(err, domain.ErrUnsupportedProvider),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrRefundExceedsPayment),
		errors.Is(err, domain.ErrActionInactive):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRefund),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateActionCode):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		response.Error(w, status, msg, nil)
		return
	}

	var short *domain.InsufficientBalanceError
	if errors.As(err, &short) {
		response.Raw(w, status, response.APIResponse{
			Success: false,
			Message: "Insufficient balance",
			Error:   short.Error(),
			Data: middleware.ShortfallBody{
				Required:  short.Required.StringFixed(2),
				Available: short.Available.StringFixed(2),
				Shortfall: short.Shortfall().StringFixed(2),
				Currency:  short.Currency,
			},
		})
		return
	}
	response.Error(w, status, msg, err)
}
