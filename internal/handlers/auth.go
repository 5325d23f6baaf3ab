package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/tenantocrflow/internal/models"
)

// TokenExchanger trades client credentials for an access token.
type TokenExchanger interface {
	ExchangeCredentials(ctx context.Context, clientID, clientSecret string) (string, error)
}

// ExchangeToken handles POST /auth/token.
func ExchangeToken(svc TokenExchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Could not decode request body", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}

		token, err := svc.ExchangeCredentials(r.Context(), req.ClientID, req.ClientSecret)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, models.TokenResponse{Token: token})
	}
}
