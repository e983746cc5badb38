package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/loliloopp/PassDesk-sub001/internal/backend"
	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/lock"
	"github.com/loliloopp/PassDesk-sub001/internal/spreadsheet"
	"github.com/loliloopp/PassDesk-sub001/internal/store"
)

const conflictINN = "500100732259"

// stubBackend echoes records as valid and reports conflictINN as a conflict.
type stubBackend struct {
	mu          sync.Mutex
	validateErr error
	executeErr  error
	executed    []core.ExecuteRequest
}

func (b *stubBackend) ValidateImport(ctx context.Context, req core.ValidateRequest) (core.ValidateResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.validateErr != nil {
		return core.ValidateResponse{}, b.validateErr
	}
	resp := core.ValidateResponse{ValidEmployees: req.Records, ValidationErrors: []core.ValidationError{}}
	for _, rec := range req.Records {
		if rec.NormalizedTaxID() == conflictINN {
			resp.ConflictingInns = append(resp.ConflictingInns, conflictINN)
			resp.Conflicts = append(resp.Conflicts, core.ConflictRecord{
				TaxID:    conflictINN,
				Incoming: rec,
				Existing: core.PersistedEmployee{ID: "emp-1", LastName: rec.LastName, FirstName: "Пётр", TaxID: conflictINN},
				Fields:   []string{"firstName"},
			})
		}
	}
	resp.HasConflicts = len(resp.Conflicts) > 0
	return resp, nil
}

func (b *stubBackend) ExecuteImport(ctx context.Context, req core.ExecuteRequest) (core.ImportOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executed = append(b.executed, req)
	if b.executeErr != nil {
		return core.ImportOutcome{}, b.executeErr
	}
	return core.ImportOutcome{Created: len(req.Records) - 1, Updated: 1, Errors: []core.RowError{}}, nil
}

func (b *stubBackend) executions() []core.ExecuteRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.ExecuteRequest(nil), b.executed...)
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: time.Minute},
		Import:   config.ImportConfig{MaxFileSize: 1 << 20},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, b core.Backend, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := core.NewService(b, core.ServiceConfig{}, core.WithLogger(logger))
	return NewServer(svc, cfg, opts...)
}

const staffCSV = "Фамилия,Имя,ИНН,ИНН организации\n" +
	"Иванов,Иван,7707083893,7701234567\n" +
	"Петров,Олег," + conflictINN + ",7701234567\n"

func uploadRequest(t *testing.T, method, url, owner, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if owner != "" {
		require.NoError(t, mw.WriteField("ownerId", owner))
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) core.SessionView {
	t.Helper()
	var v core.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestSessionLifecycle(t *testing.T) {
	stub := &stubBackend{}
	s := newTestServer(t, stub, nil)

	rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Equal(t, core.StagePreview, view.Stage)
	require.NotNil(t, view.Preview)
	assert.Equal(t, 2, view.Preview.TotalRows)
	id := view.ID
	base := "/api/sessions/" + id

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/validate", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decodeView(t, rec)
	assert.Equal(t, core.StageConflicts, view.Stage)
	require.Len(t, view.Conflicts, 1)
	assert.False(t, view.Conflicts[0].Decided)

	rec = serve(s, jsonRequest(http.MethodPut, base+"/resolutions/"+conflictINN, `{"resolution":"merge"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP005", errorCode(t, rec))

	rec = serve(s, jsonRequest(http.MethodPut, base+"/resolutions/7707083893", `{"resolution":"update"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP004", errorCode(t, rec))

	rec = serve(s, jsonRequest(http.MethodPut, base+"/resolutions/"+conflictINN, `{"resolution":"update"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view = decodeView(t, rec)
	assert.True(t, view.Conflicts[0].Decided)
	assert.Equal(t, core.ResolutionUpdate, view.Conflicts[0].Resolution)

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/proceed", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.StageReady, decodeView(t, rec).Stage)

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/execute", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := serve(s, httptest.NewRequest(http.MethodGet, base, nil))
		var v core.SessionView
		return json.Unmarshal(rec.Body.Bytes(), &v) == nil && v.Stage == core.StageReported
	}, 2*time.Second, 10*time.Millisecond)

	execs := stub.executions()
	require.Len(t, execs, 1)
	assert.Equal(t, "cp-own", execs[0].OwnerID)
	assert.Equal(t, core.ResolutionUpdate, execs[0].Resolutions[conflictINN])

	rec = serve(s, httptest.NewRequest(http.MethodGet, base, nil))
	view = decodeView(t, rec)
	require.NotNil(t, view.Outcome)
	assert.Equal(t, 1, view.Outcome.Created)
	assert.Equal(t, 1, view.Outcome.Updated)

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/execute", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP002", errorCode(t, rec))

	rec = serve(s, httptest.NewRequest(http.MethodGet, base+"/report.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, f.GetSheetList(), "Summary")
	require.NoError(t, f.Close())

	rec = serve(s, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SES001", errorCode(t, rec))
}

func TestBackAndReplaceFile(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)

	rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	base := "/api/sessions/" + decodeView(t, rec).ID

	rec = serve(s, uploadRequest(t, http.MethodPut, base+"/file", "", "other.csv", staffCSV))
	assert.Equal(t, http.StatusConflict, rec.Code, "a loaded session must go back first")

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/back", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.StageUpload, decodeView(t, rec).Stage)

	rec = serve(s, uploadRequest(t, http.MethodPut, base+"/file", "", "other.csv", staffCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Equal(t, core.StagePreview, view.Stage)
	assert.Equal(t, "other.csv", view.Preview.FileName)

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.StageUpload, decodeView(t, rec).Stage)
}

func TestCreateSession_Errors(t *testing.T) {
	small := testConfig()
	small.Import.MaxFileSize = 64

	tests := []struct {
		name     string
		cfg      *config.Config
		owner    string
		file     string
		content  string
		wantCode int
		wantErr  string
	}{
		{"no file", nil, "cp-own", "", "", http.StatusBadRequest, "REQ001"},
		{"unsupported type", nil, "cp-own", "staff.txt", staffCSV, http.StatusBadRequest, "FILE002"},
		{"missing owner", nil, "", "staff.csv", staffCSV, http.StatusBadRequest, "IMP007"},
		{"header only", nil, "cp-own", "staff.csv", "Фамилия,ИНН\n", http.StatusBadRequest, "FILE003"},
		{"too large", small, "cp-own", "staff.csv", staffCSV, http.StatusRequestEntityTooLarge, "FILE001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &stubBackend{}, tt.cfg)
			rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", tt.owner, tt.file, tt.content))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
			assert.Empty(t, s.service.Sessions(""), "failed uploads leave no session behind")
		})
	}
}

func TestValidate_BackendUnavailable(t *testing.T) {
	stub := &stubBackend{validateErr: fmt.Errorf("%w: connection refused", backend.ErrBackendUnavailable)}
	s := newTestServer(t, stub, nil)

	rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	require.Equal(t, http.StatusCreated, rec.Code)
	base := "/api/sessions/" + decodeView(t, rec).ID

	rec = serve(s, httptest.NewRequest(http.MethodPost, base+"/validate", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "BCK001", errorCode(t, rec))

	rec = serve(s, httptest.NewRequest(http.MethodGet, base, nil))
	view := decodeView(t, rec)
	assert.Equal(t, core.StagePreview, view.Stage)
	assert.NotEmpty(t, view.Error)
}

func TestListSessions(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)
	for _, owner := range []string{"cp-a", "cp-b", "cp-a"} {
		rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", owner, "staff.csv", staffCSV))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var all, mine []core.SessionView
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions?ownerId=cp-a", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))

	assert.Len(t, all, 3)
	assert.Len(t, mine, 2)
}

func TestContract_RoundTripThroughClient(t *testing.T) {
	stub := &stubBackend{}
	s := newTestServer(t, &stubBackend{}, nil, WithContract(stub))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	client := backend.New(ts.URL, "", 5*time.Second, nil)
	records := []core.ImportRecord{
		{RowIndex: 2, LastName: "Иванов", FirstName: "Иван", TaxID: "7707083893", OrgTaxID: "7701234567"},
		{RowIndex: 3, LastName: "Петров", FirstName: "Олег", TaxID: conflictINN, OrgTaxID: "7701234567"},
	}

	resp, err := client.ValidateImport(context.Background(), core.ValidateRequest{OwnerID: "cp-own", Records: records})
	require.NoError(t, err)
	assert.Len(t, resp.ValidEmployees, 2)
	assert.Equal(t, []string{conflictINN}, resp.ConflictingInns)
	assert.True(t, resp.HasConflicts)

	outcome, err := client.ExecuteImport(context.Background(), core.ExecuteRequest{
		OwnerID:     "cp-own",
		Records:     records,
		Resolutions: core.Resolutions{conflictINN: core.ResolutionUpdate},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Created)
	assert.Equal(t, 1, outcome.Updated)
	require.Len(t, stub.executions(), 1)
	assert.Equal(t, core.ResolutionUpdate, stub.executions()[0].Resolutions[conflictINN])

	stub.mu.Lock()
	stub.validateErr = fmt.Errorf("load counterparty scope: %w", store.ErrOwnerNotFound)
	stub.mu.Unlock()

	_, err = client.ValidateImport(context.Background(), core.ValidateRequest{OwnerID: "cp-none"})
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "IMP007", apiErr.Code)
}

func TestContract_NotServedWithoutBackend(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)
	rec := serve(s, jsonRequest(http.MethodPost, "/api/import/validate", `{"ownerId":"cp-own"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContract_BadBody(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil, WithContract(&stubBackend{}))
	rec := serve(s, jsonRequest(http.MethodPost, "/api/import/execute", `{"records":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", errorCode(t, rec))
}

func TestHealthAndReady(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	s := newTestServer(t, &stubBackend{}, nil, WithReadinessCheck("database", healthy))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	s = newTestServer(t, &stubBackend{}, nil,
		WithReadinessCheck("database", healthy),
		WithReadinessCheck("redis", down),
	)
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)
	serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "employee_import_http_requests_total")
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	s := newTestServer(t, &stubBackend{}, cfg)

	assert.Equal(t, http.StatusUnauthorized, serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, serve(s, req).Code)
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	s := newTestServer(t, &stubBackend{}, cfg)

	rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/api/sessions", nil)).Code)
}

func TestPages(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)
	rec := serve(s, uploadRequest(t, http.MethodPost, "/api/sessions", "cp-own", "staff.csv", staffCSV))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, rec).ID

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "staff.csv")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "SES001")
}

func TestTemplateDownload(t *testing.T) {
	s := newTestServer(t, &stubBackend{}, nil)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/import/template.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "employees-template.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0], "ИНН")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", core.ErrSessionNotFound), http.StatusNotFound},
		{&core.TransitionError{From: core.StageUpload, To: core.StageReady}, http.StatusConflict},
		{core.ErrExecutionInProgress, http.StatusConflict},
		{fmt.Errorf("execute import: %w", lock.ErrLocked), http.StatusConflict},
		{core.ErrTooManyImports, http.StatusTooManyRequests},
		{core.ErrTooManySessions, http.StatusTooManyRequests},
		{spreadsheet.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrNoRows, http.StatusBadRequest},
		{fmt.Errorf("validate import: %w", backend.ErrBackendUnavailable), http.StatusBadGateway},
		{&backend.APIError{StatusCode: http.StatusNotFound, Message: "owner counterparty not found"}, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
