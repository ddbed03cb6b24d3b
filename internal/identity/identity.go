// Package identity resolves user ids against the account service.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"settlement-service/config"
	"settlement-service/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	ProfileID string `json:"profileId,omitempty"`
}

type Resolver interface {
	Resolve(ctx context.Context, userID string) (*User, error)
}

type Client struct {
	client *resty.Client
	logger *zap.Logger
}

// NewResolver returns an HTTP client when a base URL is configured and a
// passthrough otherwise; bearer tokens already vouch for the user.
func NewResolver(cfg config.IdentityConfig, logger *zap.Logger) Resolver {
	if cfg.BaseURL == "" {
		logger.Info("identity service not configured, trusting token subjects")
		return Passthrough{}
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &Client{client: c, logger: logger}
}

type userEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    User   `json:"data"`
}

func (c *Client) Resolve(ctx context.Context, userID string) (*User, error) {
	var env userEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetPathParam("id", userID).
		SetResult(&env).
		ForceContentType("application/json").
		Get("/api/v1/users/{id}")
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, domain.ErrUserNotFound
	case resp.IsError():
		return nil, fmt.Errorf("identity lookup returned status %d", resp.StatusCode())
	}

	if env.Data.ID == "" {
		env.Data.ID = userID
	}
	return &env.Data, nil
}

type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, domain.ErrUserNotFound
	}
	return &User{ID: userID}, nil
}
