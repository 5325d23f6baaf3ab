package main

import (
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/handlers"
	"github.com/Lllllllleong/tenantocrflow/internal/services"
)

var (
	tokenHandler http.HandlerFunc
	once         sync.Once
	initErr      error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("ExchangeToken", exchangeToken)
}

func main() {}

// exchangeToken is the HTTP entry point for POST /auth/token.
func exchangeToken(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		var identity *services.IdentityFunction
		identity, initErr = services.NewIdentity(cfg, nil)
		if initErr == nil {
			tokenHandler = handlers.ExchangeToken(identity)
		}
	})
	if initErr != nil {
		slog.Error("Critical: Identity gateway initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	tokenHandler(w, r)
}
