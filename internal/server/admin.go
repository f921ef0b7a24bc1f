package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
// Admin endpoints are disabled when no key is configured.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			logger.Get().Warn().Str("path", r.URL.Path).Msg("ADMIN_API_KEY not set; admin endpoint disabled")
			writeError(w, http.StatusInternalServerError, "Admin API not configured")
			return
		}
		if !s.authorized(w, r, false) {
			return
		}
		logger.Get().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin request authorized")
		next(w, r)
	}
}

// apiKeyMiddleware protects the model endpoints when an admin key is
// configured. Gemini clients may also send the key as ?key=.
func (s *Server) apiKeyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey != "" && !s.authorized(w, r, true) {
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request, allowQuery bool) bool {
	var providedToken string
	authHeader := r.Header.Get("Authorization")

	switch {
	case authHeader != "":
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			logger.Get().Warn().Str("method", r.Method).Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).
				Msg("Invalid Authorization header format")
			writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
			return false
		}
		providedToken = parts[1]
	case r.Header.Get("X-API-Key") != "":
		providedToken = r.Header.Get("X-API-Key")
	case r.Header.Get("X-Goog-Api-Key") != "":
		providedToken = r.Header.Get("X-Goog-Api-Key")
	case allowQuery && r.URL.Query().Get("key") != "":
		providedToken = r.URL.Query().Get("key")
	}

	if providedToken == "" || subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.adminKey)) != 1 {
		logger.Get().Warn().Str("method", r.Method).Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).
			Msg("Missing or invalid API key")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}
