package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newIdentityFor(t *testing.T, url string) *IdentityFunction {
	t.Helper()
	cfg := testConfig()
	cfg.TokenURL = url
	f, err := NewIdentity(cfg, nil)
	require.NoError(t, err)
	return f
}

func TestExchangeCredentials(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)

	tok, err := newIdentityFor(t, srv.URL).ExchangeCredentials(context.Background(), "id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)
}

func TestExchangeCredentialsRejected(t *testing.T) {
	srv := newTokenServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`)

	_, err := newIdentityFor(t, srv.URL).ExchangeCredentials(context.Background(), "id", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestExchangeCredentialsMissingToken(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK, `{"token_type":"bearer"}`)

	_, err := newIdentityFor(t, srv.URL).ExchangeCredentials(context.Background(), "id", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestExchangeCredentialsValidation(t *testing.T) {
	f := newIdentityFor(t, "http://identity.invalid/token")

	_, err := f.ExchangeCredentials(context.Background(), "", "secret")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.ExchangeCredentials(context.Background(), "id", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewIdentityRequiresTokenURL(t *testing.T) {
	cfg := testConfig()
	cfg.TokenURL = ""
	_, err := NewIdentity(cfg, nil)
	assert.Error(t, err)
}

func TestExchangeCredentialsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokenURL := srv.URL
	srv.Close()

	_, err := newIdentityFor(t, tokenURL).ExchangeCredentials(context.Background(), "id", "secret")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrAuth)
}

func TestExchangeCredentialsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig()
	cfg.TokenURL = srv.URL
	cfg.CallTimeout = 50 * time.Millisecond
	f, err := NewIdentity(cfg, nil)
	require.NoError(t, err)

	_, err = f.ExchangeCredentials(context.Background(), "id", "secret")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrAuth)
}
