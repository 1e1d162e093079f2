package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"gwi.com/chat-ledger/internal/apperr"
	"gwi.com/chat-ledger/internal/auth"
)

type ctxKey int

const userIDKey ctxKey = iota

// SessionAuthMiddleware resolves the bearer session token to a user id.
func (h *APIHandler) SessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := h.chatService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidCredentials) {
				http.Error(w, "Invalid or expired session", http.StatusUnauthorized)
				return
			}
			logrus.WithError(err).Error("Session validation failed")
			http.Error(w, "Failed to process session", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

// clientMeta reads the caller address set by middleware.RealIP.
func clientMeta(r *http.Request) auth.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.ClientMeta{IP: ip, UserAgent: r.UserAgent()}
}
