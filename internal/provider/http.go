package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultHTTPTimeout = 30 * time.Second

// NewRestClient returns the resty client every gateway adapter starts from.
func NewRestClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(DefaultHTTPTimeout).
		SetHeader("Accept", "application/json")
}

// ToMap flattens a typed gateway response into a JSON-shaped map for storage.
func ToMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
