package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loliloopp/PassDesk-sub001/internal/metrics"
)

// ValidateRequest is the input of Backend.ValidateImport.
type ValidateRequest struct {
	OwnerID string         `json:"ownerId"`
	Records []ImportRecord `json:"records"`
}

// ValidateResponse is the result of batched validation and conflict detection.
type ValidateResponse struct {
	ValidEmployees   []ImportRecord    `json:"validEmployees"`
	ValidationErrors []ValidationError `json:"validationErrors"`
	ConflictingInns  []string          `json:"conflictingInns"`
	Conflicts        []ConflictRecord  `json:"conflicts"`
	Clean            []CleanRecord     `json:"clean"`
	HasErrors        bool              `json:"hasErrors"`
	HasConflicts     bool              `json:"hasConflicts"`
}

// Backend is the contract the pipeline consumes for the two network stages.
// Engine implements it in-process; backend.Client implements it over HTTP.
type Backend interface {
	ValidateImport(ctx context.Context, req ValidateRequest) (ValidateResponse, error)
	ExecuteImport(ctx context.Context, req ExecuteRequest) (ImportOutcome, error)
}

// EngineDeps wires an Engine.
type EngineDeps struct {
	Directory CounterpartyDirectory
	Finder    EmployeeFinder
	Runner    BatchRunner
	Validator *Validator   // optional, defaults to NewValidator()
	Logger    *slog.Logger // optional
}

// Engine runs validation, conflict detection and execution against a store.
// It keeps no lookup state between calls: the only cache it uses is the one
// a session attaches to the validation context.
type Engine struct {
	directory CounterpartyDirectory
	finder    EmployeeFinder
	validator *Validator
	executor  *BatchExecutor
	base      *slog.Logger
	logger    *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	val := deps.Validator
	if val == nil {
		val = NewValidator()
	}
	return &Engine{
		directory: deps.Directory,
		finder:    deps.Finder,
		validator: val,
		executor:  NewBatchExecutor(deps.Runner, deps.Directory, logger),
		base:      logger,
		logger:    logger.With("component", "engine"),
	}
}

// ValidateImport validates records and detects conflicts for the valid ones.
// Lookups go through the session cache on ctx, if any.
func (e *Engine) ValidateImport(ctx context.Context, req ValidateRequest) (ValidateResponse, error) {
	scope, err := e.directory.LoadScope(ctx, req.OwnerID)
	if err != nil {
		return ValidateResponse{}, fmt.Errorf("load counterparty scope: %w", err)
	}

	verrs := e.validator.Validate(req.Records, scope)
	valid := withoutInvalid(req.Records, verrs)

	det, err := NewConflictDetector(e.finder, lookupCacheFromContext(ctx), e.base).Detect(ctx, valid)
	if err != nil {
		return ValidateResponse{}, err
	}

	metrics.ValidationRows.WithLabelValues("invalid").Add(float64(len(verrs)))
	metrics.ValidationRows.WithLabelValues("conflict").Add(float64(len(det.Conflicts)))
	metrics.ValidationRows.WithLabelValues("valid").Add(float64(len(det.Clean)))

	if verrs == nil {
		verrs = []ValidationError{}
	}
	return ValidateResponse{
		ValidEmployees:   valid,
		ValidationErrors: verrs,
		ConflictingInns:  det.ConflictingTaxIDs(),
		Conflicts:        det.Conflicts,
		Clean:            det.Clean,
		HasErrors:        len(verrs) > 0,
		HasConflicts:     len(det.Conflicts) > 0,
	}, nil
}

// ExecuteImport writes the records. Records are re-validated: invalid ones
// become row errors. Conflicts are detected again against the store, never a
// cache, and those without an explicit resolution resolve to skip.
func (e *Engine) ExecuteImport(ctx context.Context, req ExecuteRequest) (ImportOutcome, error) {
	scope, err := e.directory.LoadScope(ctx, req.OwnerID)
	if err != nil {
		return ImportOutcome{}, fmt.Errorf("load counterparty scope: %w", err)
	}

	verrs := e.validator.Validate(req.Records, scope)
	valid := withoutInvalid(req.Records, verrs)

	det, err := NewConflictDetector(e.finder, nil, e.base).Detect(ctx, valid)
	if err != nil {
		return ImportOutcome{}, err
	}

	resolutions := make(Resolutions, len(req.Resolutions))
	for id, r := range req.Resolutions {
		if !r.Valid() {
			return ImportOutcome{}, fmt.Errorf("%w: %q for %s", ErrInvalidResolution, r, id)
		}
		resolutions[DigitsOnly(id)] = r
	}
	for _, c := range det.Conflicts {
		if _, ok := resolutions[c.TaxID]; !ok {
			resolutions[c.TaxID] = ResolutionSkip
		}
	}

	outcome, err := e.executor.Execute(ctx, ExecuteRequest{
		OwnerID:     req.OwnerID,
		Records:     valid,
		Resolutions: resolutions,
	}, progressFromContext(ctx))
	if err != nil {
		return ImportOutcome{}, err
	}

	for _, ve := range verrs {
		outcome.Errors = append(outcome.Errors, RowError{
			RowIndex: ve.RowIndex,
			LastName: ve.LastName,
			Error:    "failed validation: " + ve.Error(),
			Severity: SeverityError,
		})
	}
	return outcome, nil
}

// withoutInvalid returns the records that have no ValidationError.
func withoutInvalid(records []ImportRecord, verrs []ValidationError) []ImportRecord {
	invalid := make(map[int]bool, len(verrs))
	for _, ve := range verrs {
		invalid[ve.RowIndex] = true
	}
	valid := make([]ImportRecord, 0, len(records)-len(invalid))
	for _, rec := range records {
		if !invalid[rec.RowIndex] {
			valid = append(valid, rec)
		}
	}
	return valid
}
