package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loliloopp/PassDesk-sub001/internal/backend"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// withSession tags the request context with the import session from the
// URL, or from the header a remote pipeline sends, so every log line of the
// request carries session_id.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		if id == "" {
			id = r.Header.Get(backend.SessionHeader)
		}
		if id != "" {
			r = r.WithContext(core.ContextWithSessionID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
