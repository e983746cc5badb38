package core

// executor.go writes a working set of records as one partial-failure tolerant batch.
//
// Each row runs two steps:
//  1. The core identity write: an idempotent upsert keyed by tax ID. A failure
//     here is a row error; the row is neither created nor updated.
//  2. The auxiliary organization link. A failure here is a warning; the row
//     still counts as created or updated.
//
// The BatchRunner isolates each write (a savepoint per call in the Postgres
// store), so a failing row never affects its siblings. Only a failure of the
// batch as a whole (begin, commit, cancellation) is returned as an error.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

// ContextCheckInterval is how often (in rows) execution checks for cancellation.
const ContextCheckInterval = 100

// ExecuteRequest is the input of one batch execution.
type ExecuteRequest struct {
	OwnerID     string         `json:"ownerId"`
	Records     []ImportRecord `json:"records"`
	Resolutions Resolutions    `json:"conflictResolutions"`
}

// RowResult is the outcome of one executed row.
type RowResult struct {
	Record  ImportRecord
	Result  UpsertResult
	Skipped bool
	Err     error // core write failed
	Warning error // auxiliary write failed
}

// ProgressFunc receives the number of processed rows after each row.
type ProgressFunc func(done, total int)

// BatchExecutor applies ExecuteRequests through a BatchRunner.
type BatchExecutor struct {
	runner    BatchRunner
	directory CounterpartyDirectory
	logger    *slog.Logger
}

// NewBatchExecutor creates an executor.
func NewBatchExecutor(runner BatchRunner, directory CounterpartyDirectory, logger *slog.Logger) *BatchExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchExecutor{
		runner:    runner,
		directory: directory,
		logger:    logger.With("component", "batch_executor"),
	}
}

// Execute runs every record of req. Records whose tax ID resolves to skip are
// counted without a write.
func (e *BatchExecutor) Execute(ctx context.Context, req ExecuteRequest, progress ProgressFunc) (ImportOutcome, error) {
	start := time.Now()

	scope, err := e.directory.LoadScope(ctx, req.OwnerID)
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("load counterparty scope: %w", err)
	}

	var results []RowResult
	err = e.runner.RunBatch(ctx, func(w EmployeeWriter) error {
		results = make([]RowResult, 0, len(req.Records))
		for i, rec := range req.Records {
			if i%ContextCheckInterval == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			results = append(results, e.executeRow(ctx, w, rec, req.Resolutions, scope))
			if progress != nil {
				progress(i+1, len(req.Records))
			}
		}
		return nil
	})
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("execute batch: %w", err)
	}

	outcome := FoldResults(results)
	e.logger.Info("batch executed",
		"owner_id", req.OwnerID,
		"rows", len(req.Records),
		"created", outcome.Created,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped,
		"failed", outcome.Failed(),
		"warnings", outcome.Warnings(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

func (e *BatchExecutor) executeRow(ctx context.Context, w EmployeeWriter, rec ImportRecord, resolutions Resolutions, scope OrgScope) RowResult {
	res := RowResult{Record: rec}

	if r, ok := resolutions[rec.NormalizedTaxID()]; ok && r == ResolutionSkip {
		res.Skipped = true
		return res
	}

	employeeID, upsert, err := w.UpsertEmployee(ctx, rec)
	if err != nil {
		e.logger.Warn("employee write failed", "row", rec.RowIndex, "inn", rec.NormalizedTaxID(), "error", err)
		res.Err = err
		return res
	}
	res.Result = upsert

	cp, err := scope.Resolve(rec.OrgKey())
	if err != nil {
		res.Warning = fmt.Errorf("organization link: %w", err)
		return res
	}
	if err := w.LinkCounterparty(ctx, employeeID, cp.ID); err != nil {
		e.logger.Warn("organization link failed", "row", rec.RowIndex, "counterparty_id", cp.ID, "error", err)
		res.Warning = fmt.Errorf("organization link: %w", err)
	}
	return res
}

// FoldResults turns row results into an ImportOutcome.
// Unchanged rows count as skipped; warnings never retract a create or update.
func FoldResults(results []RowResult) ImportOutcome {
	out := ImportOutcome{Errors: []RowError{}}

	for _, r := range results {
		switch {
		case r.Skipped:
			out.Skipped++
			metrics.RowOutcomes.WithLabelValues("skipped").Inc()
			continue
		case r.Err != nil:
			out.Errors = append(out.Errors, rowError(r.Record, r.Err, SeverityError))
			metrics.RowOutcomes.WithLabelValues("failed").Inc()
			continue
		}

		switch r.Result {
		case UpsertCreated:
			out.Created++
			metrics.RowOutcomes.WithLabelValues("created").Inc()
		case UpsertUpdated:
			out.Updated++
			metrics.RowOutcomes.WithLabelValues("updated").Inc()
		default:
			out.Skipped++
			metrics.RowOutcomes.WithLabelValues("skipped").Inc()
		}

		if r.Warning != nil {
			out.Errors = append(out.Errors, rowError(r.Record, r.Warning, SeverityWarning))
			metrics.RowOutcomes.WithLabelValues("warned").Inc()
		}
	}
	return out
}

func rowError(rec ImportRecord, err error, sev Severity) RowError {
	return RowError{
		RowIndex: rec.RowIndex,
		LastName: rec.LastName,
		TaxID:    rec.NormalizedTaxID(),
		Error:    err.Error(),
		Severity: sev,
	}
}
