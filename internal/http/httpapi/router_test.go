package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"noirvrs/internal/accounts"
	"noirvrs/internal/backend"
	"noirvrs/internal/http/handlers"
	"noirvrs/internal/middleware"
)

type memLedger struct {
	credits int
}

func (m *memLedger) Begin(_ context.Context, userID, _ string) (accounts.Account, error) {
	return accounts.Account{UserID: userID, Credits: m.credits}, nil
}

func (m *memLedger) Commit(_ context.Context, userID, _, _ string) (accounts.Account, error) {
	m.credits--
	return accounts.Account{UserID: userID, Credits: m.credits, ResetAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (m *memLedger) Abandon(context.Context, string) error { return nil }

type localeAdapter struct {
	backend.Adapter
	seen *string
}

func (a localeAdapter) Generate(ctx context.Context, req backend.Request, resolve backend.ImageResolver) (*backend.Payload, error) {
	*a.seen = req.Locale
	return a.Adapter.Generate(ctx, req, resolve)
}

const testSecret = "router-secret"

func newTestRouter(seen *string) http.Handler {
	app := handlers.NewApp(&memLedger{credits: 4}, localeAdapter{Adapter: backend.NewMockAdapter(backend.MockOptions{}), seen: seen}, zerolog.Nop(), time.Second)
	return NewRouter(app, Options{
		JWTSecret:       testSecret,
		AllowedOrigins:  []string{"https://noirvrs.app"},
		RateLimitPerMin: 100,
		DefaultLocale:   "en",
		Logger:          zerolog.Nop(),
	})
}

func TestRouterHealth(t *testing.T) {
	var seen string
	rec := httptest.NewRecorder()
	newTestRouter(&seen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestRouterGenerateRequiresToken(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodPost, "/api/generateCase", strings.NewReader(`{"nonce":"n-1"}`))
	rec := httptest.NewRecorder()
	newTestRouter(&seen).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRouterGenerateCase(t *testing.T) {
	var seen string
	token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{Sub: "citizen-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/generateCase", strings.NewReader(`{"nonce":"n-1"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "id-ID,id;q=0.9")
	rec := httptest.NewRecorder()
	newTestRouter(&seen).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp backend.GenerateCaseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CreditsRemaining != 3 || len(resp.StoryPages) != 5 {
		t.Fatalf("response = %+v", resp)
	}
	if seen != "id" {
		t.Fatalf("adapter locale = %q, want id", seen)
	}
	if rec.Header().Get("Content-Language") != "id" {
		t.Fatalf("Content-Language = %q", rec.Header().Get("Content-Language"))
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	var seen string
	rec := httptest.NewRecorder()
	newTestRouter(&seen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
