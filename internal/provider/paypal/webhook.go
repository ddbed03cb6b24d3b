package paypal

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"
	"net/url"
	"strconv"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	headerTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	headerTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	headerTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	headerCertURL          = "PAYPAL-CERT-URL"
	headerAuthAlgo         = "PAYPAL-AUTH-ALGO"
)

type certFetcher func(ctx context.Context, certURL string) ([]byte, error)

type cachedCert struct {
	key      *rsa.PublicKey
	notAfter time.Time
}

func httpCertFetcher(client *resty.Client) certFetcher {
	return func(ctx context.Context, certURL string) ([]byte, error) {
		resp, err := client.R().SetContext(ctx).Get(certURL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("cert fetch returned status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	}
}

// trustedCertURL accepts only https certificates served by PayPal.
func trustedCertURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "paypal.com" || strings.HasSuffix(host, ".paypal.com")
}

func (p *Provider) publicKey(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	p.certMu.RLock()
	cached, ok := p.certs[certURL]
	p.certMu.RUnlock()
	if ok && p.now().Before(cached.notAfter) {
		return cached.key, nil
	}

	raw, err := p.fetchCert(ctx, certURL)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, errors.New("certificate is not valid at this time")
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate does not hold an RSA key")
	}

	p.certMu.Lock()
	p.certs[certURL] = &cachedCert{key: key, notAfter: cert.NotAfter}
	p.certMu.Unlock()
	return key, nil
}

// expectedMessage is the string PayPal signs for a webhook delivery.
func expectedMessage(transmissionID, transmissionTime, webhookID string, body []byte) string {
	return strings.Join([]string{
		transmissionID,
		transmissionTime,
		webhookID,
		strconv.FormatUint(uint64(crc32.ChecksumIEEE(body)), 10),
	}, "|")
}

func (p *Provider) VerifyWebhookSignature(ctx context.Context, req *provider.WebhookRequest) bool {
	if p.config.WebhookID == "" || req.Header == nil {
		return false
	}
	transmissionID := req.Header.Get(headerTransmissionID)
	transmissionTime := req.Header.Get(headerTransmissionTime)
	sig := req.Header.Get(headerTransmissionSig)
	certURL := req.Header.Get(headerCertURL)
	if transmissionID == "" || transmissionTime == "" || sig == "" || certURL == "" {
		return false
	}
	if algo := req.Header.Get(headerAuthAlgo); algo != "" && algo != "SHA256withRSA" {
		p.logger.Warn("unsupported paypal auth algorithm", zap.String("algo", algo))
		return false
	}
	if !trustedCertURL(certURL) {
		p.logger.Warn("untrusted paypal cert url", zap.String("cert_url", certURL))
		return false
	}

	signature, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	key, err := p.publicKey(ctx, certURL)
	if err != nil {
		p.logger.Warn("paypal certificate unavailable", zap.String("cert_url", certURL), zap.Error(err))
		return false
	}

	digest := sha256.Sum256([]byte(expectedMessage(transmissionID, transmissionTime, p.config.WebhookID, req.Body)))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature) == nil
}

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// captureIDFromLinks finds the capture a refund resource points "up" to.
func captureIDFromLinks(links []link) string {
	for _, l := range links {
		if l.Rel != "up" {
			continue
		}
		if i := strings.Index(l.Href, "/captures/"); i >= 0 {
			return strings.Trim(l.Href[i+len("/captures/"):], "/")
		}
	}
	return ""
}

func (p *Provider) HandleWebhook(ctx context.Context, req *provider.WebhookRequest) (*domain.WebhookEvent, error) {
	if !p.VerifyWebhookSignature(ctx, req) {
		return nil, domain.ErrInvalidSignature
	}

	var evt webhookEvent
	if err := json.Unmarshal(req.Body, &evt); err != nil {
		return nil, fmt.Errorf("%w: paypal event: %v", domain.ErrInvalidRequest, err)
	}

	out := &domain.WebhookEvent{Type: domain.EventPaymentUnknown, Data: map[string]interface{}{"eventId": evt.ID, "eventType": evt.EventType}}

	switch evt.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		var o order
		if err := json.Unmarshal(evt.Resource, &o); err != nil {
			return nil, fmt.Errorf("%w: order: %v", domain.ErrInvalidRequest, err)
		}
		// approved, not yet captured: no transaction id, so settlement
		// captures through ConfirmPayment before crediting
		out.Type, out.Status = domain.EventPaymentSucceeded, domain.PaymentProcessing
		out.PaymentID = o.ID
		out.Data["reference"] = o.reference()

	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.PENDING":
		var c capture
		if err := json.Unmarshal(evt.Resource, &c); err != nil {
			return nil, fmt.Errorf("%w: capture: %v", domain.ErrInvalidRequest, err)
		}
		out.PaymentID = c.SupplementaryData.RelatedIDs.OrderID
		out.TransactionID = c.ID
		out.Data["reference"] = c.CustomID
		out.Data["object"] = provider.ToMap(c)

		switch evt.EventType {
		case "PAYMENT.CAPTURE.COMPLETED":
			out.Type, out.Status = domain.EventPaymentSucceeded, domain.PaymentCompleted
		case "PAYMENT.CAPTURE.DENIED":
			out.Type, out.Status = domain.EventPaymentFailed, domain.PaymentFailed
			out.Message = "capture denied"
		default:
			out.Type, out.Status = domain.EventPaymentUpdated, domain.PaymentProcessing
		}

	case "PAYMENT.CAPTURE.REFUNDED":
		var r refundResponse
		if err := json.Unmarshal(evt.Resource, &r); err != nil {
			return nil, fmt.Errorf("%w: refund: %v", domain.ErrInvalidRequest, err)
		}
		amount := r.Amount.decimal()
		out.Type, out.Status = domain.EventPaymentRefunded, domain.PaymentRefunded
		out.TransactionID = captureIDFromLinks(r.Links)
		out.RefundID = r.ID
		out.RefundAmount = &amount
		out.RefundCurrency = r.Amount.CurrencyCode

	default:
		p.logger.Debug("unhandled paypal event type", zap.String("type", evt.EventType))
	}

	return out, nil
}
