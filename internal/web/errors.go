package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error and calls respondError(w, r, err)
//  2. statusFor picks the HTTP status from the error chain
//  3. core.MapError turns the error text into a user message with a code
//  4. The technical error is logged with the request and session IDs
//  5. The user message is rendered as JSON for /api, as a page otherwise

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"github.com/loliloopp/PassDesk-sub001/internal/backend"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/lock"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
	"github.com/loliloopp/PassDesk-sub001/internal/spreadsheet"
	"github.com/loliloopp/PassDesk-sub001/internal/store"
	"github.com/loliloopp/PassDesk-sub001/internal/web/views"
)

// errBadRequest marks request bodies and forms that could not be read.
var errBadRequest = errors.New("invalid request")

// ErrorResponse is the JSON body of every API error. The backend client
// decodes the same shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the user-facing message with the status
// statusFor picks.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	if wantsJSON(r) {
		writeJSON(w, status, ErrorResponse{
			Error:   userMsg.Message,
			Message: userMsg.Message,
			Action:  userMsg.Action,
			Code:    userMsg.Code,
		})
		return
	}
	templ.Handler(views.Layout("Error", views.ErrorPage(userMsg)), templ.WithStatus(status)).ServeHTTP(w, r)
}

// statusFor maps an error chain to an HTTP status.
func statusFor(err error) int {
	var transition *core.TransitionError
	var apiErr *backend.APIError

	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrUnknownConflict),
		errors.Is(err, store.ErrOwnerNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrExecutionInProgress),
		errors.Is(err, lock.ErrLocked),
		errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports),
		errors.Is(err, core.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, spreadsheet.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidResolution),
		errors.Is(err, core.ErrOwnerRequired),
		errors.Is(err, core.ErrNoRows),
		errors.Is(err, spreadsheet.ErrUnsupportedType),
		errors.Is(err, spreadsheet.ErrHeaderNotFound):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return apiErr.StatusCode
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
