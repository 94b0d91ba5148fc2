package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/handler"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func userToken(t *testing.T, userID string) string {
	return signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func TestTokenVerifier(t *testing.T) {
	verifier := handler.NewTokenVerifier(testJWTSecret)

	userID, err := verifier.UserID(userToken(t, "42"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
}

func TestTokenVerifierRejects(t *testing.T) {
	verifier := handler.NewTokenVerifier(testJWTSecret)

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signToken(t, "ffffffffffffffffffffffffffffffff", jwt.MapClaims{"sub": "1"})},
		{"expired", signToken(t, testJWTSecret, jwt.MapClaims{
			"sub": "1", "exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing subject", signToken(t, testJWTSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{"non-numeric subject", signToken(t, testJWTSecret, jwt.MapClaims{"sub": "alice"})},
		{"non-positive subject", signToken(t, testJWTSecret, jwt.MapClaims{"sub": "0"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := verifier.UserID(tc.token); err == nil {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	verifier := handler.NewTokenVerifier(testJWTSecret)
	var sawUserID int64
	protected := handler.RequireAuth(verifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUserID = handler.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No credentials.
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session/current", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", w.Code)
	}

	// Bearer header.
	req := httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "7"))
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", w.Code)
	}
	if sawUserID != 7 {
		t.Fatalf("expected user 7 in context, got %d", sawUserID)
	}

	// Cookie fallback.
	req = httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: userToken(t, "9")})
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with cookie, got %d", w.Code)
	}
	if sawUserID != 9 {
		t.Fatalf("expected user 9 in context, got %d", sawUserID)
	}

	// Tampered token.
	req = httptest.NewRequest(http.MethodGet, "/api/session/current", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "7")+"x")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := handler.SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected DENY, got %q", got)
	}
}
