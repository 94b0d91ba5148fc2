package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/domain"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// UserIDFromContext extracts the authenticated user id from the request
// context. Returns 0 when the request is unauthenticated.
func UserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDContextKey).(int64)
	return id
}

// TokenVerifier validates JWTs minted by the upstream auth service. This
// engine never issues tokens itself; it only checks the shared-secret
// signature and reads the subject claim.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for HMAC-signed tokens.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// UserID parses and validates a token string, returning the user id carried
// in the sub claim.
func (v *TokenVerifier) UserID(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return 0, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, domain.ErrUnauthorized
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return 0, domain.ErrUnauthorized
	}

	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return 0, domain.ErrUnauthorized
	}

	return userID, nil
}

// RequireAuth is middleware that protects routes requiring an authenticated
// caller. It accepts the token from the auth_token cookie or an
// Authorization bearer header and injects the user id into the request
// context. Returns 401 for unauthenticated requests.
func RequireAuth(verifier *TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			if cookie, err := r.Cookie("auth_token"); err == nil {
				tokenString = cookie.Value
			}
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}

		userID, err := verifier.UserID(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// SecurityHeaders sets baseline security headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
