package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifyJWT(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	valid, _ := SignJWT("secret", TokenClaims{Sub: "citizen-1", Exp: now.Add(time.Hour).Unix()})
	expired, _ := SignJWT("secret", TokenClaims{Sub: "citizen-1", Exp: now.Add(-time.Hour).Unix()})
	noSub, _ := SignJWT("secret", TokenClaims{})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "valid", token: valid},
		{name: "wrong secret", token: valid[:len(valid)-2] + "xx", want: ErrTokenSignature},
		{name: "expired", token: expired, want: ErrTokenExpired},
		{name: "missing subject", token: noSub, want: ErrTokenMalformed},
		{name: "two segments", token: "a.b", want: ErrTokenMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := VerifyJWT("secret", tc.token, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("VerifyJWT() error = %v, want %v", err, tc.want)
			}
			if tc.want == nil && claims.Sub != "citizen-1" {
				t.Fatalf("Sub = %q", claims.Sub)
			}
		})
	}
}

func TestAuthJWT(t *testing.T) {
	token, _ := SignJWT("secret", TokenClaims{Sub: "citizen-9", Locale: "id"})
	var gotUser, gotLocale string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/generateCase", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotUser != "citizen-9" || gotLocale != "id" {
		t.Fatalf("code=%d user=%q locale=%q", rec.Code, gotUser, gotLocale)
	}

	for _, header := range []string{"", "Basic abc", "Bearer not-a-token"} {
		req := httptest.NewRequest(http.MethodPost, "/api/generateCase", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Authorization %q: code = %d, want 401", header, rec.Code)
		}
	}
}
