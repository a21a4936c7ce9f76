package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports liveness, and ledger reachability when Ping is set.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ping == nil {
		a.json(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: ledger unreachable")
		a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": "unreachable"})
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok", "ledger": "ok"})
}
