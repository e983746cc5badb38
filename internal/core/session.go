package core

// session.go is the pipeline controller for one import.
//
// A Session owns everything one import produces: the raw rows, the mapped
// records, the validation response, the resolution store and the outcome.
// Only one stage is active at a time. The two network stages mark the session
// busy by entering the transient validated/executing stages before the call and
// leave them when it returns, so a concurrent request sees a TransitionError
// (or ErrExecutionInProgress) instead of queuing a second call.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

var (
	// ErrExecutionInProgress is returned by Execute while the batch is running.
	ErrExecutionInProgress = errors.New("import is already executing")

	// ErrNoRows is returned when a file has no data rows.
	ErrNoRows = errors.New("no data rows found after header")
)

// Locker serializes executions across processes. Implementations return an
// unlock function that must be called once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Backend Backend
	Mapper  *Mapper
	Limiter *ExecLimiter   // optional
	Locker  Locker         // optional
	Cache   *EmployeeCache // optional, lookups of this session only
	Now     func() time.Time
	Logger  *slog.Logger
}

// StageChange records one transition.
type StageChange struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
}

// Progress tracks rows processed during execution.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Session is the state machine of one import.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	opts   SessionOptions
	logger *slog.Logger

	mu           sync.Mutex
	stage        Stage
	lastActive   time.Time
	fileName     string
	headers      []string
	rows         []RawRow
	records      []ImportRecord
	headerReport HeaderReport
	validation   *ValidateResponse
	resolutions  *ResolutionStore
	outcome      *ImportOutcome
	progress     Progress
	lastErr      error
	history      []StageChange
	cancelExec   context.CancelFunc
}

// NewSession creates a session in the upload stage.
func NewSession(id, ownerID string, opts SessionOptions) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mapper == nil {
		opts.Mapper = NewMapper()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	now := opts.Now()
	return &Session{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  now,
		opts:       opts,
		logger:     opts.Logger.With("session_id", id, "owner_id", ownerID),
		stage:      StageUpload,
		lastActive: now,
	}
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// LastActive returns when the session was last touched.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// moveLocked performs a checked transition. Caller holds mu.
func (s *Session) moveLocked(to Stage) error {
	if err := checkTransition(s.stage, to); err != nil {
		return err
	}
	from := s.stage
	s.stage = to
	s.lastActive = s.opts.Now()
	s.history = append(s.history, StageChange{From: from, To: to, At: s.lastActive})
	metrics.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Debug("stage changed", "from", from, "to", to)
	return nil
}

// Load takes the parsed spreadsheet and moves upload -> preview.
// No validation happens yet.
func (s *Session) Load(fileName string, headers []string, rows []RawRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkTransition(s.stage, StagePreview); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNoRows
	}

	s.fileName = fileName
	s.headers = headers
	s.rows = rows
	s.records = s.opts.Mapper.MapRows(rows)
	s.headerReport = s.opts.Mapper.Inspect(headers)
	s.lastErr = nil
	return s.moveLocked(StagePreview)
}

// Validate runs validation and conflict detection through the backend and
// moves preview -> validated -> conflicts|ready. On failure the session
// returns to preview and the error is kept for display.
func (s *Session) Validate(ctx context.Context) error {
	s.mu.Lock()
	if err := s.moveLocked(StageValidated); err != nil {
		s.mu.Unlock()
		return err
	}
	req := ValidateRequest{OwnerID: s.OwnerID, Records: s.records}
	s.mu.Unlock()

	if s.opts.Cache != nil {
		ctx = ContextWithLookupCache(ctx, s.opts.Cache)
	}
	resp, err := s.opts.Backend.ValidateImport(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = fmt.Errorf("validate import: %w", err)
		s.logger.Warn("validation failed", "error", err)
		_ = s.moveLocked(StagePreview)
		return s.lastErr
	}

	s.validation = &resp
	s.resolutions = NewResolutionStore(resp.Conflicts)
	s.lastErr = nil
	return s.moveLocked(StageAfterValidation(resp.ValidationErrors, resp.Conflicts))
}

// SetResolution records the decision for one conflict.
func (s *Session) SetResolution(taxID string, r Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageConflicts {
		return &TransitionError{From: s.stage, To: StageConflicts, Code: CodeInvalidTransition}
	}
	s.lastActive = s.opts.Now()
	return s.resolutions.Set(taxID, r)
}

// ResolveAll applies one decision to every conflict.
func (s *Session) ResolveAll(r Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageConflicts {
		return &TransitionError{From: s.stage, To: StageConflicts, Code: CodeInvalidTransition}
	}
	s.lastActive = s.opts.Now()
	return s.resolutions.SetAll(r)
}

// Proceed moves conflicts -> ready. Undecided conflicts stay at skip.
func (s *Session) Proceed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(StageReady)
}

// Back moves one step towards the start.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case StagePreview:
		if err := s.moveLocked(StageUpload); err != nil {
			return err
		}
		s.fileName, s.headers, s.rows, s.records = "", nil, nil, nil
		s.headerReport = HeaderReport{}
		s.purgeCache()
		return nil
	case StageConflicts:
		if err := s.moveLocked(StagePreview); err != nil {
			return err
		}
		s.validation, s.resolutions = nil, nil
		s.purgeCache()
		return nil
	case StageReady:
		if s.validation != nil && (s.validation.HasErrors || s.validation.HasConflicts) {
			return s.moveLocked(StageConflicts)
		}
		if err := s.moveLocked(StagePreview); err != nil {
			return err
		}
		s.validation, s.resolutions = nil, nil
		s.purgeCache()
		return nil
	default:
		return transitionError(s.stage, StagePreview)
	}
}

// Execute runs the batch exactly once and moves ready -> executing -> reported.
// A call while executing returns ErrExecutionInProgress without side effects.
// On failure the session returns to ready so the operator can resubmit.
func (s *Session) Execute(ctx context.Context) (ImportOutcome, error) {
	ctx, req, err := s.beginExecution(ctx)
	if err != nil {
		return ImportOutcome{}, err
	}
	return s.finishExecution(ctx, req)
}

// ExecuteAsync enters the executing stage synchronously, runs the batch in a
// goroutine and calls done with the result.
func (s *Session) ExecuteAsync(ctx context.Context, done func(ImportOutcome, error)) error {
	ctx, req, err := s.beginExecution(ctx)
	if err != nil {
		return err
	}
	go func() {
		outcome, err := s.finishExecution(ctx, req)
		if done != nil {
			done(outcome, err)
		}
	}()
	return nil
}

func (s *Session) beginExecution(ctx context.Context) (context.Context, ExecuteRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == StageExecuting {
		return ctx, ExecuteRequest{}, ErrExecutionInProgress
	}
	if err := s.moveLocked(StageExecuting); err != nil {
		return ctx, ExecuteRequest{}, err
	}
	req := ExecuteRequest{
		OwnerID:     s.OwnerID,
		Records:     s.validation.ValidEmployees,
		Resolutions: s.resolutions.Snapshot(),
	}
	ctx, s.cancelExec = context.WithCancel(ctx)
	s.progress = Progress{Total: len(req.Records)}
	return ctx, req, nil
}

func (s *Session) finishExecution(ctx context.Context, req ExecuteRequest) (ImportOutcome, error) {
	start := time.Now()
	outcome, err := s.runExecution(ctx, req)
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelExec != nil {
		s.cancelExec()
		s.cancelExec = nil
	}

	if err != nil {
		result := "failed"
		if errors.Is(err, ErrTooManyImports) {
			result = "rejected"
		}
		metrics.Executions.WithLabelValues(result).Inc()
		s.lastErr = fmt.Errorf("execute import: %w", err)
		s.logger.Warn("execution failed", "error", err)
		_ = s.moveLocked(StageReady)
		return ImportOutcome{}, s.lastErr
	}

	metrics.Executions.WithLabelValues("ok").Inc()
	s.outcome = &outcome
	s.lastErr = nil
	s.logger.Info("import executed",
		"created", outcome.Created,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped,
		"errors", len(outcome.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, s.moveLocked(StageReported)
}

func (s *Session) runExecution(ctx context.Context, req ExecuteRequest) (ImportOutcome, error) {
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Acquire(ctx); err != nil {
			return ImportOutcome{}, err
		}
		defer s.opts.Limiter.Release()
	}
	if s.opts.Locker != nil {
		unlock, err := s.opts.Locker.Lock(ctx, "employee-import:"+s.OwnerID)
		if err != nil {
			return ImportOutcome{}, err
		}
		defer unlock()
	}

	ctx = ContextWithSessionID(ctx, s.ID)
	ctx = ContextWithProgress(ctx, s.setProgress)
	return s.opts.Backend.ExecuteImport(ctx, req)
}

func (s *Session) setProgress(done, total int) {
	s.mu.Lock()
	s.progress = Progress{Done: done, Total: total}
	s.mu.Unlock()
}

// purgeCache drops cached lookups so the next validation reads the store.
func (s *Session) purgeCache() {
	if s.opts.Cache != nil {
		s.opts.Cache.Purge()
	}
}

// Cancel aborts a running execution. It is a no-op otherwise.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelExec
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Reset discards all state and returns to upload. Not allowed while executing.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == StageExecuting {
		return ErrExecutionInProgress
	}
	if s.stage == StageValidated {
		return &TransitionError{From: s.stage, To: StageUpload, Code: CodeInvalidTransition}
	}

	from := s.stage
	s.stage = StageUpload
	s.lastActive = s.opts.Now()
	s.fileName, s.headers, s.rows, s.records = "", nil, nil, nil
	s.headerReport = HeaderReport{}
	s.validation, s.resolutions, s.outcome = nil, nil, nil
	s.progress = Progress{}
	s.lastErr = nil
	s.purgeCache()
	s.history = []StageChange{{From: from, To: StageUpload, At: s.lastActive}}
	metrics.StageTransitions.WithLabelValues(string(from), string(StageUpload)).Inc()
	return nil
}
