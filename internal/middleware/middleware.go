// Package middleware provides HTTP middleware functions
package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/findosh/mingle/internal/services/auth"
)

type contextKey string

const (
	PlayerContextKey contextKey = "player"
)

// Logger logs all HTTP requests
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// SecurityHeaders adds security headers to all responses
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:; img-src 'self' data:;")
		next.ServeHTTP(w, r)
	})
}

// Recover handles panics gracefully
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TokenValidator verifies player reconnect tokens
type TokenValidator interface {
	ValidatePlayerToken(token string) (*auth.PlayerClaims, error)
}

// Auth middleware for player routes
type Auth struct {
	tokens TokenValidator
}

// NewAuth creates a new auth middleware
func NewAuth(tokens TokenValidator) *Auth {
	return &Auth{tokens: tokens}
}

// RequirePlayer ensures the request carries a valid player token
func (m *Auth) RequirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := m.claimsFromRequest(r)
		if claims == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}

		ctx := context.WithValue(r.Context(), PlayerContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Auth) claimsFromRequest(r *http.Request) *auth.PlayerClaims {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := m.tokens.ValidatePlayerToken(token)
		if err == nil {
			return claims
		}
	}
	return nil
}

// GetPlayer retrieves the player claims from the request context
func GetPlayer(r *http.Request) *auth.PlayerClaims {
	claims, ok := r.Context().Value(PlayerContextKey).(*auth.PlayerClaims)
	if !ok {
		return nil
	}
	return claims
}

// Chain applies middleware in order
func Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
