package fx

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const DefaultRateAPIURL = "https://api.exchangerate-api.com/v4/latest"

type latestRatesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// HTTPRateSource reads rates from an exchangerate-api compatible endpoint:
// GET {baseURL}/{FROM} -> {"base":"FROM","rates":{"TO":1.23}}.
type HTTPRateSource struct {
	client *resty.Client
}

func NewHTTPRateSource(baseURL string, timeout time.Duration) *HTTPRateSource {
	if baseURL == "" {
		baseURL = DefaultRateAPIURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPRateSource{client: client}
}

func (s *HTTPRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	var out latestRatesResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		SetPathParam("from", strings.ToUpper(from)).
		Get("/{from}")
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate api request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate api returned status %d", resp.StatusCode())
	}
	rate, ok := out.Rates[strings.ToUpper(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate api has no %s rate for %s", to, from)
	}
	return rate, nil
}
