package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

var (
	// ErrSessionNotFound is returned for an unknown or expired session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions sessions are open.
	ErrTooManySessions = errors.New("too many sessions are open")

	// ErrOwnerRequired is returned when a session is created without an owner.
	ErrOwnerRequired = errors.New("owner counterparty ID is required")
)

// Service defaults.
const (
	DefaultSessionTTL      = 2 * time.Hour
	DefaultValidateTimeout = 2 * time.Minute
	DefaultExecuteTimeout  = 10 * time.Minute
	DefaultMaxSessions     = 1000
)

// ServiceConfig holds the timeouts and limits of a Service.
// Zero values take the defaults above.
type ServiceConfig struct {
	SessionTTL      time.Duration
	ValidateTimeout time.Duration
	ExecuteTimeout  time.Duration
	MaxSessions     int
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithLimiter caps concurrent executions across sessions.
func WithLimiter(l *ExecLimiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithLocker serializes executions per owner across processes.
func WithLocker(l Locker) ServiceOption {
	return func(s *Service) { s.locker = l }
}

// WithRecorder stores an audit row for every execution.
func WithRecorder(r RunRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithLookupCache gives every session its own employee lookup cache of the
// given size and TTL. Sessions never share cached lookups.
func WithLookupCache(size int, ttl time.Duration) ServiceOption {
	return func(s *Service) { s.cacheSize, s.cacheTTL = size, ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// Service is the registry of import sessions. It creates sessions, applies
// timeouts to the network stages and expires idle sessions.
type Service struct {
	backend  Backend
	cfg      ServiceConfig
	mapper   *Mapper
	limiter  *ExecLimiter
	locker   Locker
	recorder RunRecorder
	now      func() time.Time
	logger   *slog.Logger

	cacheSize int
	cacheTTL  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	running sync.WaitGroup
}

// NewService creates a Service that runs the network stages through backend.
func NewService(backend Backend, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultValidateTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = DefaultExecuteTimeout
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	s := &Service{
		backend:  backend,
		cfg:      cfg,
		mapper:   NewMapper(),
		now:      time.Now,
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "import_service")
	return s
}

// CreateSession opens a new session in the upload stage.
func (s *Service) CreateSession(ownerID string) (*Session, error) {
	if ownerID == "" {
		return nil, ErrOwnerRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	var cache *EmployeeCache
	if s.cacheSize > 0 {
		c, err := NewEmployeeCache(s.cacheSize, s.cacheTTL, s.now)
		if err != nil {
			return nil, fmt.Errorf("create session cache: %w", err)
		}
		cache = c
	}

	id := uuid.New().String()
	sess := NewSession(id, ownerID, SessionOptions{
		Backend: s.backend,
		Mapper:  s.mapper,
		Limiter: s.limiter,
		Locker:  s.locker,
		Cache:   cache,
		Now:     s.now,
		Logger:  s.logger,
	})
	s.sessions[id] = sess
	metrics.SessionsActive.Set(float64(len(s.sessions)))

	s.logger.Info("session created", "session_id", id, "owner_id", ownerID)
	return sess, nil
}

// Session returns the session with the given ID.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Sessions lists the sessions of one owner, newest first. An empty owner lists all.
func (s *Service) Sessions(ownerID string) []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if ownerID == "" || sess.OwnerID == ownerID {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// DeleteSession cancels any running execution and discards the session.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	metrics.SessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Cancel()
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// ResetSession discards everything the session holds and returns it to upload.
func (s *Service) ResetSession(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	return sess.Reset()
}

// Validate runs the validation stage of a session with the validate timeout.
func (s *Service) Validate(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.Session(id)
	if err != nil {
		return SessionView{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ValidateTimeout)
	defer cancel()

	if err := sess.Validate(ContextWithSessionID(ctx, id)); err != nil {
		return sess.View(), err
	}
	return sess.View(), nil
}

// Execute runs the execution stage synchronously with the execute timeout.
func (s *Service) Execute(ctx context.Context, id string) (ImportOutcome, error) {
	sess, err := s.Session(id)
	if err != nil {
		return ImportOutcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecuteTimeout)
	defer cancel()

	start := s.now()
	outcome, err := sess.Execute(ctx)
	if errors.Is(err, ErrExecutionInProgress) || isTransitionError(err) {
		return outcome, err
	}
	s.recordRun(sess, outcome, s.now().Sub(start), err)
	return outcome, err
}

// StartExecute enters the executing stage and runs the batch in the
// background, detached from the caller's context. Poll the session view for
// progress and the outcome.
func (s *Service) StartExecute(id string) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ExecuteTimeout)
	start := s.now()

	s.running.Add(1)
	err = sess.ExecuteAsync(ctx, func(outcome ImportOutcome, err error) {
		defer s.running.Done()
		defer cancel()
		s.recordRun(sess, outcome, s.now().Sub(start), err)
	})
	if err != nil {
		s.running.Done()
		cancel()
		return err
	}
	return nil
}

// recordRun writes the audit row of one execution. Failures are logged only.
func (s *Service) recordRun(sess *Session, outcome ImportOutcome, d time.Duration, execErr error) {
	if s.recorder == nil {
		return
	}
	run := ImportRun{
		SessionID: sess.ID,
		OwnerID:   sess.OwnerID,
		FileName:  sess.FileName(),
		Outcome:   outcome,
		Duration:  d,
		Status:    runStatus(outcome, execErr),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.recorder.RecordRun(ctx, run); err != nil {
		s.logger.Warn("record import run failed", "session_id", sess.ID, "error", err)
	}
}

// Run statuses stored in the audit trail.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

func runStatus(outcome ImportOutcome, err error) string {
	switch {
	case err != nil:
		return RunStatusFailed
	case outcome.Failed() > 0:
		return RunStatusPartial
	default:
		return RunStatusSucceeded
	}
}

func isTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// SweepIdle removes sessions idle for longer than the session TTL.
// Executing sessions are never removed. Returns the number removed.
func (s *Service) SweepIdle() int {
	cutoff := s.now().Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.Stage() == StageExecuting {
			continue
		}
		if sess.LastActive().Before(cutoff) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	metrics.SessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// WaitForExecutions blocks until background executions finish or ctx is done.
func (s *Service) WaitForExecutions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServiceStatus is a point-in-time summary for health endpoints.
type ServiceStatus struct {
	Sessions  int            `json:"sessions"`
	Executing int            `json:"executing"`
	Limiter   *LimiterStatus `json:"limiter,omitempty"`
}

// Status reports open sessions and running executions.
func (s *Service) Status() ServiceStatus {
	s.mu.RLock()
	st := ServiceStatus{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		if sess.Stage() == StageExecuting {
			st.Executing++
		}
	}
	s.mu.RUnlock()

	if s.limiter != nil {
		ls := s.limiter.Status()
		st.Limiter = &ls
	}
	return st
}
