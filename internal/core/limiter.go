package core

// limiter.go caps how many batches execute at once across all sessions.
//
// Executions are long-running and hold a database transaction open, so the
// limiter uses a semaphore sized by IMPORT_MAX_CONCURRENT. Sessions never queue:
// an execution that cannot get a slot within maxWait fails with
// ErrTooManyImports and the operator resubmits.
//
// WaitForDrain lets graceful shutdown block until running batches finish.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

// ErrTooManyImports is returned when every execution slot is taken.
var ErrTooManyImports = errors.New("too many imports are executing, please try again later")

// DefaultMaxConcurrentExecutions is the default number of parallel executions.
const DefaultMaxConcurrentExecutions = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 5 * time.Second

// ExecLimiter bounds concurrent batch executions with a semaphore.
type ExecLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewExecLimiter allows at most maxConcurrent executions; callers wait up to maxWait.
func NewExecLimiter(maxConcurrent int, maxWait time.Duration) *ExecLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentExecutions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ExecLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait.
// The caller must call Release when the execution ends.
func (l *ExecLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.acquired()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot without waiting.
func (l *ExecLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.acquired()
		return true
	default:
		return false
	}
}

func (l *ExecLimiter) acquired() {
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
	metrics.ExecutionsActive.Inc()
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ExecLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	metrics.ExecutionsActive.Dec()

	<-l.semaphore
}

// ActiveCount returns the number of running executions.
func (l *ExecLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *ExecLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no execution is running or ctx is done.
func (l *ExecLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *ExecLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
