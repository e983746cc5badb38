package core

// pipeline.go defines the import stages and the legal moves between them.
//
//	upload -> preview -> validated -> conflicts -> ready -> executing -> reported
//	                              \-----------------/
//
// validated is transient: the pipeline moves on immediately to conflicts or
// ready, chosen by StageAfterValidation. Failures of the two network stages
// fall back to the last stable stage (validated -> preview,
// executing -> ready). reported is terminal; only a reset leaves it.

import "fmt"

// Stage is one step of the import pipeline.
type Stage string

const (
	StageUpload    Stage = "upload"
	StagePreview   Stage = "preview"
	StageValidated Stage = "validated"
	StageConflicts Stage = "conflicts"
	StageReady     Stage = "ready"
	StageExecuting Stage = "executing"
	StageReported  Stage = "reported"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageUpload, StagePreview, StageValidated, StageConflicts, StageReady, StageExecuting, StageReported}

// Step is the operator-facing step number (1-5) of a stage.
func (s Stage) Step() int {
	switch s {
	case StageUpload:
		return 1
	case StagePreview, StageValidated:
		return 2
	case StageConflicts:
		return 3
	case StageReady, StageExecuting:
		return 4
	case StageReported:
		return 5
	default:
		return 0
	}
}

// validTransitions is the complete transition matrix.
var validTransitions = map[Stage]map[Stage]bool{
	StageUpload: {
		StagePreview: true,
	},
	StagePreview: {
		StageValidated: true,
		StageUpload:    true,
	},
	StageValidated: {
		StageConflicts: true,
		StageReady:     true,
		StagePreview:   true, // validation call failed
	},
	StageConflicts: {
		StageReady:   true,
		StagePreview: true,
	},
	StageReady: {
		StageExecuting: true,
		StageConflicts: true,
		StagePreview:   true,
	},
	StageExecuting: {
		StageReported: true,
		StageReady:    true, // execution call failed
	},
	StageReported: {},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Stage) bool {
	return validTransitions[from][to]
}

// StageAfterValidation picks the stage that follows validation.
// The Conflicts step is shown iff there is anything for the operator to review.
func StageAfterValidation(validationErrors []ValidationError, conflicts []ConflictRecord) Stage {
	if len(validationErrors) > 0 || len(conflicts) > 0 {
		return StageConflicts
	}
	return StageReady
}

// Transition error codes.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTerminalStage     = "TERMINAL_STAGE"
	CodeInProgress        = "EXECUTION_IN_PROGRESS"
)

// TransitionError is returned for a move the pipeline does not allow.
type TransitionError struct {
	From Stage
	To   Stage
	Code string
}

func (e *TransitionError) Error() string {
	switch e.Code {
	case CodeTerminalStage:
		return fmt.Sprintf("stage %s is final, start a new import", e.From)
	case CodeInProgress:
		return "the import is already executing"
	default:
		return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
	}
}

// checkTransition returns a *TransitionError if from -> to is illegal.
func checkTransition(from, to Stage) error {
	if CanTransition(from, to) {
		return nil
	}
	return transitionError(from, to)
}

func transitionError(from, to Stage) *TransitionError {
	code := CodeInvalidTransition
	switch from {
	case StageReported:
		code = CodeTerminalStage
	case StageExecuting:
		code = CodeInProgress
	}
	return &TransitionError{From: from, To: to, Code: code}
}
