package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/accounts"
	"noirvrs/internal/backend"
	"noirvrs/internal/middleware"
)

// Ledger is the credit bookkeeping the case endpoint needs.
type Ledger interface {
	Begin(ctx context.Context, userID, key string) (accounts.Account, error)
	Commit(ctx context.Context, userID, key, caseID string) (accounts.Account, error)
	Abandon(ctx context.Context, key string) error
}

type App struct {
	Ledger  Ledger
	Adapter backend.Adapter
	Logger  zerolog.Logger
	// Timeout bounds one generation including every panel.
	Timeout time.Duration
	// Ping checks the ledger database for /v1/healthz. Optional.
	Ping func(ctx context.Context) error
}

func NewApp(ledger Ledger, adapter backend.Adapter, logger zerolog.Logger, timeout time.Duration) *App {
	if timeout <= 0 {
		timeout = backend.DefaultTimeout
	}
	return &App{Ledger: ledger, Adapter: adapter, Logger: logger, Timeout: timeout}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, class, message string) {
	middleware.WriteError(w, code, class, message)
}
