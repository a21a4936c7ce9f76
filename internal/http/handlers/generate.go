package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"noirvrs/internal/backend"
	"noirvrs/internal/domain"
	"noirvrs/internal/middleware"
)

const maxRequestBody = 4 << 10

// GenerateCase serves POST /api/generateCase. The nonce doubles as the
// idempotency key; a credit is consumed only once the case is complete.
func (a *App) GenerateCase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, string(domain.FailureAuthRequired), "missing citizen")
		return
	}

	var body backend.GenerateCaseRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body")
		return
	}
	nonce := strings.TrimSpace(body.Nonce)
	header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	switch {
	case nonce == "" && header == "":
		a.error(w, http.StatusBadRequest, "BAD_REQUEST", "nonce is required")
		return
	case nonce == "":
		nonce = header
	case header != "" && header != nonce:
		a.error(w, http.StatusBadRequest, "BAD_REQUEST", "nonce does not match Idempotency-Key")
		return
	}

	logger := zerolog.Ctx(r.Context()).With().Str("user_id", userID).Str("nonce", nonce).Logger()
	if logger.GetLevel() == zerolog.Disabled {
		logger = a.Logger.With().Str("user_id", userID).Str("nonce", nonce).Logger()
	}

	if _, err := a.Ledger.Begin(r.Context(), userID, nonce); err != nil {
		switch {
		case errors.Is(err, domain.ErrNoCredits):
			a.error(w, http.StatusPaymentRequired, string(domain.FailureNoCredits), domain.FailureNoCredits.Message())
		case errors.Is(err, domain.ErrConflict):
			a.error(w, http.StatusConflict, string(domain.FailureRequestConflict), domain.FailureRequestConflict.Message())
		default:
			logger.Error().Err(err).Msg("handlers: begin case request")
			a.error(w, http.StatusInternalServerError, string(domain.FailureServerError), "ledger unavailable")
		}
		return
	}

	ctx, cancel := context.WithTimeoutCause(r.Context(), a.Timeout, domain.ErrTimeout)
	defer cancel()
	payload, err := backend.Collect(ctx, a.Adapter, backend.Request{
		Nonce:        nonce,
		ResumeCaseID: strings.TrimSpace(body.ResumeCaseID),
		Locale:       middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		if aerr := a.Ledger.Abandon(context.WithoutCancel(r.Context()), nonce); aerr != nil {
			logger.Error().Err(aerr).Msg("handlers: abandon case request")
		}
		class := domain.Classify(err)
		logger.Warn().Err(err).Str("class", string(class)).Msg("handlers: case generation failed")
		a.error(w, failureStatus(class), string(class), class.Message())
		return
	}

	acct, err := a.Ledger.Commit(context.WithoutCancel(r.Context()), userID, nonce, payload.CaseID)
	if err != nil {
		logger.Error().Err(err).Str("case_id", payload.CaseID).Msg("handlers: commit case request")
		a.error(w, http.StatusInternalServerError, string(domain.FailureServerError), "ledger unavailable")
		return
	}
	logger.Info().Str("case_id", payload.CaseID).Int("credits", acct.Credits).Msg("handlers: case served")
	a.json(w, http.StatusOK, backend.NewResponse(payload, acct.Credits, acct.ResetAt))
}

func failureStatus(class domain.FailureClass) int {
	switch class {
	case domain.FailureRateLimited:
		return http.StatusTooManyRequests
	case domain.FailureTimeout:
		return http.StatusGatewayTimeout
	case domain.FailureAborted:
		// nginx's "client closed request".
		return 499
	default:
		return http.StatusInternalServerError
	}
}
