package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		switch r.URL.Path {
		case "/api/v1/users/u-1":
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"u-1","email":"a@b.c","profileId":"p-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := NewResolver(config.IdentityConfig{BaseURL: srv.URL, APIKey: "key-1", Timeout: time.Second}, zap.NewNop())

	u, err := r.Resolve(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.Email)
	assert.Equal(t, "p-1", u.ProfileID)

	_, err = r.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestPassthrough(t *testing.T) {
	r := NewResolver(config.IdentityConfig{}, zap.NewNop())
	u, err := r.Resolve(context.Background(), "u-9")
	require.NoError(t, err)
	assert.Equal(t, "u-9", u.ID)

	_, err = r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
