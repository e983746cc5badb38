package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

func TestClient_ValidateImport(t *testing.T) {
	var gotPath, gotAuth, gotSession string
	var gotReq core.ValidateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get(SessionHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(core.ValidateResponse{
			ConflictingInns: []string{"500100732259"},
			HasConflicts:    true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", time.Second, nil)
	ctx := core.ContextWithSessionID(context.Background(), "sess-1")

	resp, err := c.ValidateImport(ctx, core.ValidateRequest{
		OwnerID: "cp-own",
		Records: []core.ImportRecord{{RowIndex: 2, LastName: "Иванов", TaxID: "500100732259"}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasConflicts)
	require.Equal(t, []string{"500100732259"}, resp.ConflictingInns)

	require.Equal(t, "/api/import/validate", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "sess-1", gotSession)
	require.Equal(t, "cp-own", gotReq.OwnerID)
	require.Equal(t, "Иванов", gotReq.Records[0].LastName)
}

func TestClient_ExecuteImport(t *testing.T) {
	var gotReq core.ExecuteRequest
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"created":2,"updated":1,"skipped":0,"errors":null}`))
	}))
	defer srv.Close()

	outcome, err := New(srv.URL, "", time.Second, nil).ExecuteImport(context.Background(), core.ExecuteRequest{
		OwnerID:     "cp-own",
		Resolutions: core.Resolutions{"500100732259": core.ResolutionUpdate},
	})
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Created)
	require.Equal(t, 1, outcome.Updated)
	require.NotNil(t, outcome.Errors)
	require.Equal(t, core.ResolutionUpdate, gotReq.Resolutions["500100732259"])
	require.Equal(t, "/api/import/execute", gotPath)
	require.Empty(t, gotAuth)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantIs   error
		wantCode string
	}{
		{"mapped code", http.StatusBadRequest, `{"message":"Resolution must be update or skip","code":"IMP005"}`, core.ErrInvalidResolution, "IMP005"},
		{"rate limited", http.StatusTooManyRequests, `{"message":"Too many imports","code":"RATE002"}`, core.ErrTooManyImports, "RATE002"},
		{"server error", http.StatusBadGateway, `upstream down`, ErrBackendUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", time.Second, nil).ExecuteImport(context.Background(), core.ExecuteRequest{})
			require.ErrorIs(t, err, tt.wantIs)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestClient_ServerErrorMapsToUserMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second, nil).ValidateImport(context.Background(), core.ValidateRequest{})
	require.Equal(t, "BCK001", core.MapError(err).Code)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", time.Second, nil).ValidateImport(context.Background(), core.ValidateRequest{})
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, "", 0, nil).ValidateImport(ctx, core.ValidateRequest{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/readyz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, "", time.Second, nil).Ping(context.Background()))
}
