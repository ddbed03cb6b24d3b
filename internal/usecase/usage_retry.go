package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/metrics"
	"settlement-service/pkg/events"

	"go.uber.org/zap"
)

const maxRetryBackoff = time.Hour

// Attempt runs one deduction for a queued charge and records the outcome on
// the queue row. The returned error is informational; the row already says
// what happens next.
func (uc *UsageBiller) Attempt(ctx context.Context, charge *domain.UsageCharge) error {
	_, err := uc.deduct(ctx, charge.UserID, charge.ActionCode, charge.Context)
	if err == nil {
		metrics.UsageCharges.WithLabelValues("charged").Inc()
		if merr := uc.charges.MarkCompleted(ctx, charge.ID); merr != nil {
			return fmt.Errorf("charge applied but not marked completed: %w", merr)
		}
		return nil
	}

	now := uc.now()
	if terminal(err) || charge.Attempts >= uc.cfg.MaxAttempts {
		uc.bury(ctx, charge, err)
		return err
	}

	next := now.Add(uc.backoff(charge.Attempts))
	metrics.UsageCharges.WithLabelValues("retry").Inc()
	if merr := uc.charges.MarkFailed(ctx, charge.ID, err.Error(), next, false); merr != nil {
		uc.logger.Error("failed to reschedule usage charge", zap.String("charge_id", charge.ID), zap.Error(merr))
	}
	return err
}

// ProcessDue claims a batch of due charges and attempts each. It returns how
// many were claimed.
func (uc *UsageBiller) ProcessDue(ctx context.Context) (int, error) {
	lease := uc.cfg.RetryInterval * 2
	charges, err := uc.charges.ClaimDue(ctx, uc.now(), uc.cfg.BatchSize, lease)
	if err != nil {
		return 0, err
	}
	for _, c := range charges {
		if ctx.Err() != nil {
			break
		}
		_ = uc.Attempt(ctx, c)
	}
	return len(charges), nil
}

// ListDead returns charges that need manual reconciliation.
func (uc *UsageBiller) ListDead(ctx context.Context, limit int) ([]*domain.UsageCharge, error) {
	if limit <= 0 {
		limit = 100
	}
	return uc.charges.ListDead(ctx, limit)
}

// backoff doubles from the retry interval, capped at an hour.
func (uc *UsageBiller) backoff(attempts int) time.Duration {
	d := uc.cfg.RetryInterval
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// terminal errors will not go away by retrying.
func terminal(err error) bool {
	return errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrActionNotFound) ||
		errors.Is(err, domain.ErrActionInactive) ||
		errors.Is(err, domain.ErrInvalidAmount)
}

func (uc *UsageBiller) bury(ctx context.Context, charge *domain.UsageCharge, cause error) {
	metrics.UsageCharges.WithLabelValues("dead").Inc()

	fields := []zap.Field{
		zap.String("charge_id", charge.ID),
		zap.String("user_id", charge.UserID),
		zap.String("action_code", charge.ActionCode),
		zap.String("request_id", charge.RequestID),
		zap.Int("attempts", charge.Attempts),
		zap.Error(cause),
	}
	var insufficient *domain.InsufficientBalanceError
	if errors.As(cause, &insufficient) {
		fields = append(fields,
			zap.String("required", insufficient.Required.String()),
			zap.String("available", insufficient.Available.String()),
			zap.String("currency", insufficient.Currency))
	}
	uc.logger.Error("usage charge abandoned, needs manual reconciliation", fields...)

	if err := uc.charges.MarkFailed(ctx, charge.ID, cause.Error(), uc.now(), true); err != nil {
		uc.logger.Error("failed to mark usage charge dead", zap.String("charge_id", charge.ID), zap.Error(err))
	}

	attrs := map[string]interface{}{
		"action_code": charge.ActionCode,
		"reason":      cause.Error(),
	}
	evt := events.Event{
		Type:       events.UsageChargeDead,
		UserID:     charge.UserID,
		Reference:  charge.RequestID,
		Attributes: attrs,
		OccurredAt: uc.now().UTC(),
	}
	if insufficient != nil {
		evt.Amount = insufficient.Required
		evt.Currency = insufficient.Currency
	}
	uc.events.Publish(ctx, evt)
}
