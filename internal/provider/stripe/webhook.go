package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Sign produces a Stripe-Signature header value for payload at t.
func Sign(secret string, payload []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + provider.HMACSHA256Hex(secret, ts+"."+string(payload))
}

// VerifyWebhookSignature checks the signed header: HMAC-SHA256 over
// "<t>.<payload>" with the endpoint secret, within the allowed clock skew.
func (p *Provider) VerifyWebhookSignature(_ context.Context, req *provider.WebhookRequest) bool {
	if p.config.WebhookSecret == "" || req.Header == nil {
		return false
	}
	header := req.Header.Get(signatureHeader)
	if header == "" {
		return false
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := p.now().Sub(time.Unix(ts, 0))
	if age > signatureMaxAge || age < -signatureMaxAge {
		return false
	}

	expected := provider.HMACSHA256Hex(p.config.WebhookSecret, timestamp+"."+string(req.Body))
	for _, sig := range signatures {
		if provider.EqualSignature(expected, sig) {
			return true
		}
	}
	return false
}

func (p *Provider) HandleWebhook(ctx context.Context, req *provider.WebhookRequest) (*domain.WebhookEvent, error) {
	if !p.VerifyWebhookSignature(ctx, req) {
		return nil, domain.ErrInvalidSignature
	}

	var evt event
	if err := json.Unmarshal(req.Body, &evt); err != nil {
		return nil, fmt.Errorf("%w: stripe event: %v", domain.ErrInvalidRequest, err)
	}

	out := &domain.WebhookEvent{Type: domain.EventPaymentUnknown, Data: map[string]interface{}{"eventId": evt.ID, "eventType": evt.Type}}

	switch {
	case strings.HasPrefix(evt.Type, "checkout.session."):
		var s checkoutSession
		if err := json.Unmarshal(evt.Data.Object, &s); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", domain.ErrInvalidRequest, err)
		}
		out.PaymentID = s.ID
		out.TransactionID = s.PaymentIntent
		out.Data["reference"] = s.Metadata["paymentTransactionId"]
		out.Data["object"] = provider.ToMap(s)

		switch evt.Type {
		case "checkout.session.completed":
			if s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required" {
				out.Type, out.Status = domain.EventPaymentSucceeded, domain.PaymentCompleted
			} else {
				out.Type, out.Status = domain.EventPaymentUpdated, domain.PaymentProcessing
			}
		case "checkout.session.async_payment_succeeded":
			out.Type, out.Status = domain.EventPaymentSucceeded, domain.PaymentCompleted
		case "checkout.session.async_payment_failed":
			out.Type, out.Status = domain.EventPaymentFailed, domain.PaymentFailed
		case "checkout.session.expired":
			out.Type, out.Status = domain.EventPaymentCancelled, domain.PaymentCancelled
			out.Message = "checkout session expired"
		}

	case strings.HasPrefix(evt.Type, "payment_intent."):
		var pi paymentIntent
		if err := json.Unmarshal(evt.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("%w: payment intent: %v", domain.ErrInvalidRequest, err)
		}
		out.TransactionID = pi.ID
		out.Data["reference"] = pi.Metadata["paymentTransactionId"]
		out.Data["chargeId"] = pi.LatestCharge
		out.Data["object"] = provider.ToMap(pi)

		switch evt.Type {
		case "payment_intent.succeeded":
			out.Type, out.Status = domain.EventPaymentSucceeded, domain.PaymentCompleted
		case "payment_intent.payment_failed":
			out.Type, out.Status = domain.EventPaymentFailed, domain.PaymentFailed
			out.Message = "payment failed"
		case "payment_intent.canceled":
			out.Type, out.Status = domain.EventPaymentCancelled, domain.PaymentCancelled
		case "payment_intent.processing":
			out.Type, out.Status = domain.EventPaymentUpdated, domain.PaymentProcessing
		}

	case evt.Type == "charge.refunded":
		var c charge
		if err := json.Unmarshal(evt.Data.Object, &c); err != nil {
			return nil, fmt.Errorf("%w: charge: %v", domain.ErrInvalidRequest, err)
		}
		out.Type, out.Status = domain.EventPaymentRefunded, domain.PaymentRefunded
		out.TransactionID = c.PaymentIntent
		out.Data["chargeId"] = c.ID
		out.RefundCurrency = strings.ToUpper(c.Currency)

		// The newest refund comes first; fall back to the cumulative amount
		// keyed by charge when the list is not expanded.
		if len(c.Refunds.Data) > 0 {
			r := c.Refunds.Data[0]
			amount := fromMinor(r.Amount, r.Currency)
			out.RefundID = r.ID
			out.RefundAmount = &amount
		} else {
			amount := fromMinor(c.AmountRefunded, c.Currency)
			out.RefundID = c.ID + ":" + strconv.FormatInt(c.AmountRefunded, 10)
			out.RefundAmount = &amount
		}

	case evt.Type == "charge.refund.updated":
		var r refund
		if err := json.Unmarshal(evt.Data.Object, &r); err != nil {
			return nil, fmt.Errorf("%w: refund: %v", domain.ErrInvalidRequest, err)
		}
		out.TransactionID = r.PaymentIntent
		out.Data["chargeId"] = r.Charge
		if r.Status == "succeeded" {
			amount := fromMinor(r.Amount, r.Currency)
			out.Type, out.Status = domain.EventPaymentRefunded, domain.PaymentRefunded
			out.RefundID = r.ID
			out.RefundAmount = &amount
			out.RefundCurrency = strings.ToUpper(r.Currency)
		} else {
			out.Type = domain.EventPaymentUpdated
			out.Message = "refund " + r.Status
		}

	default:
		p.logger.Debug("unhandled stripe event type", zap.String("type", evt.Type))
	}

	return out, nil
}
