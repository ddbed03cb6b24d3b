package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"settlement-service/config"
	"settlement-service/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey string

const (
	ContextUserID contextKey = "userID"
	ContextRoles  contextKey = "roles"
	ContextToken  contextKey = "token"
)

type Claims struct {
	UserID string   `json:"uid"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity falls back to the registered sub claim.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

func (c *Claims) allRoles() []string {
	roles := append([]string(nil), c.Roles...)
	if c.Role != "" {
		roles = append(roles, c.Role)
	}
	return roles
}

type Authenticator struct {
	secret    []byte
	parser    *jwt.Parser
	adminRole string
	logger    *zap.Logger
}

func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	adminRole := cfg.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	return &Authenticator{
		secret:    []byte(cfg.JWTSecret),
		parser:    jwt.NewParser(opts...),
		adminRole: adminRole,
		logger:    logger,
	}
}

func (a *Authenticator) ParseAndValidate(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := a.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid || claims.Identity() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware requires a bearer token. Websocket clients may pass it as ?token=.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			response.Error(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		claims, err := a.ParseAndValidate(tokenStr)
		if err != nil {
			a.logger.Debug("rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			response.Error(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ContextUserID, claims.Identity())
		ctx = context.WithValue(ctx, ContextRoles, claims.allRoles())
		ctx = context.WithValue(ctx, ContextToken, tokenStr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after Middleware.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !HasRole(r.Context(), a.adminRole) {
			response.Error(w, http.StatusForbidden, "Admin access required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok && val != ""
}

func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(ContextRoles).([]string)
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// WithUserID is used by tests and internal callers that already trust the id.
func WithUserID(ctx context.Context, userID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, ContextUserID, userID)
	return context.WithValue(ctx, ContextRoles, roles)
}
