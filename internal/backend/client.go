// Package backend is an HTTP JSON client for a remote import backend.
// It implements core.Backend against the /api/import/* endpoints served by
// internal/web, so a session can run against another deployment.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// ErrBackendUnavailable wraps transport failures and 5xx responses.
var ErrBackendUnavailable = errors.New("backend unavailable")

// SessionHeader carries the import session ID to the backend for log correlation.
const SessionHeader = "X-Import-Session"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Action     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.StatusCode >= http.StatusInternalServerError {
		msg = ErrBackendUnavailable.Error() + ": " + msg
	}
	return msg
}

// remoteSentinels maps backend error codes to the local errors they stand for.
var remoteSentinels = map[string]error{
	"IMP005":  core.ErrInvalidResolution,
	"RATE002": core.ErrTooManyImports,
}

// Unwrap exposes the local sentinel for known codes, and ErrBackendUnavailable for 5xx.
func (e *APIError) Unwrap() error {
	if err, ok := remoteSentinels[e.Code]; ok {
		return err
	}
	if e.StatusCode >= http.StatusInternalServerError {
		return ErrBackendUnavailable
	}
	return nil
}

// Client calls a remote import backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// New creates a client. An empty token sends no Authorization header.
// The timeout applies per request; stage deadlines come from the caller's context.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger.With("component", "backend_client"),
	}
}

// ValidateImport posts records to /api/import/validate.
func (c *Client) ValidateImport(ctx context.Context, req core.ValidateRequest) (core.ValidateResponse, error) {
	var resp core.ValidateResponse
	if err := c.post(ctx, "/api/import/validate", req, &resp); err != nil {
		return core.ValidateResponse{}, fmt.Errorf("validate import: %w", err)
	}
	return resp, nil
}

// ExecuteImport posts records and resolutions to /api/import/execute.
func (c *Client) ExecuteImport(ctx context.Context, req core.ExecuteRequest) (core.ImportOutcome, error) {
	var resp core.ImportOutcome
	if err := c.post(ctx, "/api/import/execute", req, &resp); err != nil {
		return core.ImportOutcome{}, fmt.Errorf("execute import: %w", err)
	}
	if resp.Errors == nil {
		resp.Errors = []core.RowError{}
	}
	return resp, nil
}

// Ping checks the backend's readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := core.SessionIDFromContext(ctx); id != "" {
		req.Header.Set(SessionHeader, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError reads the {message, action, code} body the web layer writes,
// falling back to the raw body text.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Message string `json:"message"`
		Action  string `json:"action"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Message, apiErr.Action, apiErr.Code = body.Message, body.Action, body.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
