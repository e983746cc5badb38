package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "transition error",
			err:      &TransitionError{From: StageUpload, To: StageReady, Code: CodeInvalidTransition},
			wantCode: "IMP001",
		},
		{
			name:     "terminal stage",
			err:      &TransitionError{From: StageReported, To: StagePreview, Code: CodeTerminalStage},
			wantCode: "IMP002",
		},
		{
			name:     "execution in progress",
			err:      ErrExecutionInProgress,
			wantCode: "IMP003",
		},
		{
			name:     "unknown conflict",
			err:      fmt.Errorf("%w: 500100732259", ErrUnknownConflict),
			wantCode: "IMP004",
		},
		{
			name:     "invalid resolution",
			err:      fmt.Errorf("%w: %q", ErrInvalidResolution, "merge"),
			wantCode: "IMP005",
		},
		{
			name:     "out of scope organization",
			err:      errors.New("organization 7701234567 is neither yours nor a registered sub-contractor"),
			wantCode: "IMP006",
		},
		{
			name:     "missing owner",
			err:      ErrOwnerRequired,
			wantCode: "IMP007",
		},
		{
			name:     "bad request body",
			err:      errors.New("invalid request: unexpected EOF"),
			wantCode: "REQ001",
		},
		{
			name:     "no data rows",
			err:      ErrNoRows,
			wantCode: "FILE003",
		},
		{
			name:     "duplicate key",
			err:      errors.New("ERROR: duplicate key value violates unique constraint \"employees_inn_key\""),
			wantCode: "DB001",
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			wantCode: "DB003",
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("execute batch: %w", errors.New("context deadline exceeded")),
			wantCode: "DB004",
		},
		{
			name:     "limiter full",
			err:      ErrTooManyImports,
			wantCode: "RATE002",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DUPLICATE KEY value violates"),
			wantCode: "DB001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates")
	result := FormatUserError(err)

	expected := "Another employee already uses this tax ID (Code: DB001). Validate the file again to refresh conflicts"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  ErrNoRows,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
