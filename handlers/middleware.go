package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"tunnel-chat/services"
)

type contextKey string

const usernameKey contextKey = "username"

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

// NewAuthMiddleware validates the bearer token and stashes the identity
// in the request context for the handler.
func NewAuthMiddleware(auth *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respondWithError(w, "Unauthorized", "Authorization header missing", http.StatusUnauthorized)
				return
			}

			info := auth.ValidateToken(token)
			if !info.Valid {
				respondWithError(w, "Unauthorized", info.Error, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), usernameKey, info.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestUser(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey).(string)
	return username
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Sec-WebSocket-Protocol, Sec-WebSocket-Extensions, Sec-WebSocket-Key, Sec-WebSocket-Version, Upgrade, Connection")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging adds request logging.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s in %v", r.Method, r.URL.Path, time.Since(start))
	})
}
