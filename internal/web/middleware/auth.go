package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
)

// APIKeyAuth checks the X-API-Key header, or a bearer token, against the
// configured keys. The bearer form lets another instance call the backend
// contract with its BACKEND_TOKEN.
// If RequireAPIKey is false, all requests pass through.
func APIKeyAuth(cfg config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			logger := logging.WithFields(r.Context(), "method", r.Method, "path", r.URL.Path, "ip", ClientIP(r))

			key := requestKey(r)
			switch {
			case key == "":
				logger.Warn("auth: missing API key")
				writeError(w, http.StatusUnauthorized, "An API key is required", "Send the X-API-Key header", "AUTH001")
				return
			case !isValidAPIKey(key, cfg.APIKeys):
				logger.Warn("auth: invalid API key")
				writeError(w, http.StatusForbidden, "The API key is not valid", "Check the configured key", "AUTH002")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// isValidAPIKey compares against every key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
