package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// IdentityFunction exchanges client credentials for an access token.
// Every call is a fresh exchange; tokens are neither cached nor refreshed.
type IdentityFunction struct {
	tokenURL   string
	httpClient *http.Client
	opts       options
}

type credentials struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
}

// NewIdentity returns an IdentityFunction posting to the configured token endpoint.
// A nil httpClient gets one bounded by the external call timeout.
func NewIdentity(cfg *config.Config, httpClient *http.Client, opts ...Option) (*IdentityFunction, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewIdentity: config must not be nil")
	}
	if err := cfg.Require(config.FieldTokenURL); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.CallTimeout}
	}
	return &IdentityFunction{tokenURL: cfg.TokenURL, httpClient: httpClient, opts: buildOptions(opts)}, nil
}

// ExchangeCredentials performs one client-credentials grant and returns the access token.
func (f *IdentityFunction) ExchangeCredentials(ctx context.Context, clientID, clientSecret string) (string, error) {
	if err := validate.Struct(credentials{ClientID: clientID, ClientSecret: clientSecret}); err != nil {
		return "", fmt.Errorf("%w: %s", ErrValidation, describeValidation(err))
	}
	logCtx := f.opts.logger.With("clientId", clientID)

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     f.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, f.httpClient))
	if err != nil {
		return "", f.classify(logCtx, err)
	}

	logCtx.Info("Token issued.")
	return tok.AccessToken, nil
}

// classify separates a rejection by the identity provider from a failure to reach it.
// Only the former means the credentials are bad.
func (f *IdentityFunction) classify(logCtx *slog.Logger, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		logCtx.Warn("Token endpoint rejected the exchange.", "status", rerr.Response.StatusCode)
		return fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, rerr.Response.StatusCode)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		logCtx.Error("Token endpoint unreachable", "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	// A 2xx answer without a usable token.
	logCtx.Warn("Token endpoint returned no token.", "error", err)
	return fmt.Errorf("%w: %w", ErrAuth, err)
}
