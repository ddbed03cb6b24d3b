package provider

import (
	"context"
	"net/http"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

// PaymentProvider is implemented once per gateway. Providers talk to the
// gateway only; they never touch wallets or stored transactions.
type PaymentProvider interface {
	Kind() domain.ProviderKind
	Name() string
	SupportedMethods() []domain.PaymentMethod
	SupportedCurrencies() []string
	// SupportedRegions returns nil when the provider serves every region.
	SupportedRegions() []string
	// PinnedCurrency is the only currency the gateway settles in, or "".
	PinnedCurrency() string

	CreatePaymentIntent(ctx context.Context, req *IntentRequest) (*IntentResult, error)
	ConfirmPayment(ctx context.Context, paymentID string, data map[string]string) (*PaymentResult, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error)
	VerifyWebhookSignature(ctx context.Context, req *WebhookRequest) bool
	HandleWebhook(ctx context.Context, req *WebhookRequest) (*domain.WebhookEvent, error)
	RefundPayment(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}

type IntentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Method      domain.PaymentMethod
	Description string
	// Reference is our PaymentTransaction id.
	Reference string
	UserID    string
	WalletID  string
	Email     string
	NotifyURL string
	ReturnURL string
	CancelURL string
	Metadata  map[string]string
}

type IntentResult struct {
	PaymentID    string
	RedirectURL  string
	PaymentURL   string
	ClientSecret string
	QRCode       string
	ExpiresAt    *time.Time
	Raw          map[string]interface{}
}

type PaymentResult struct {
	Status domain.PaymentStatus
	// TransactionID is the gateway's settlement id (charge, transId,
	// zp_trans_id, capture id), stable enough to look refunds up by.
	TransactionID   string
	Amount          decimal.Decimal
	Currency        string
	GatewayResponse map[string]interface{}
}

// WebhookRequest is what the HTTP layer hands over: raw bytes plus headers.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

type RefundRequest struct {
	PaymentID     string
	TransactionID string
	Amount        decimal.Decimal
	// TotalAmount is the original payment amount, for gateways that require it.
	TotalAmount decimal.Decimal
	Currency    string
	Reason      string
}

type RefundResult struct {
	RefundID string
	Amount   decimal.Decimal
	Currency string
	Status   domain.RefundStatus
	Raw      map[string]interface{}
}
