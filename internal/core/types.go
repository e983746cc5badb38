// Package core provides the business logic for employee spreadsheet imports.
// This package has no UI or storage dependencies and can be used by any frontend.
package core

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for Date values.
const DateLayout = "2006-01-02"

// Date is a calendar date without time-of-day or zone.
type Date struct {
	time.Time
}

// NewDate truncates t to a UTC calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM-DD" or a full RFC 3339 timestamp.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		*d = DateOf(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*d = DateOf(t)
	return nil
}

// sameDate compares two optional dates.
func sameDate(a, b *Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b.Time)
}

// RawCell is one spreadsheet cell together with the header of its column.
// Cells under unlabeled columns have an empty Header.
type RawCell struct {
	Header string
	Value  string
}

// RawRow is one data row as read from the spreadsheet, cells in column order.
type RawRow struct {
	Index int // 1-based spreadsheet row number
	Cells []RawCell
}

// ImportRecord is one normalized employee row.
// Records are values: stages derive new records instead of patching them.
type ImportRecord struct {
	RowIndex         int    `json:"rowIndex"`
	LastName         string `json:"lastName" validate:"required"`
	FirstName        string `json:"firstName" validate:"required"`
	MiddleName       string `json:"middleName,omitempty"`
	TaxID            string `json:"inn" validate:"required,taxid"`
	InsuranceID      string `json:"snils,omitempty" validate:"omitempty,snils"`
	WorkerCardID     string `json:"kig,omitempty"`
	WorkerCardExpiry *Date  `json:"kigEndDate,omitempty"`
	Citizenship      string `json:"citizenship,omitempty"`
	BirthDate        *Date  `json:"birthDate,omitempty"`
	Position         string `json:"position,omitempty"`
	OrgName          string `json:"counterpartyName,omitempty"`
	OrgTaxID         string `json:"counterpartyInn" validate:"required"`
	OrgSubCode       string `json:"counterpartyKpp,omitempty"`
}

// NormalizedTaxID returns the tax ID with every non-digit removed.
func (r ImportRecord) NormalizedTaxID() string {
	return DigitsOnly(r.TaxID)
}

// OrgKey identifies the counterparty the record belongs to.
func (r ImportRecord) OrgKey() OrgKey {
	return OrgKey{TaxID: DigitsOnly(r.OrgTaxID), SubCode: DigitsOnly(r.OrgSubCode)}
}

// FullName joins the name parts for display.
func (r ImportRecord) FullName() string {
	return strings.Join(strings.Fields(r.LastName+" "+r.FirstName+" "+r.MiddleName), " ")
}

// FieldError is a single failed rule on a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed rule of one record.
type ValidationError struct {
	RowIndex    int          `json:"rowIndex"`
	LastName    string       `json:"lastName,omitempty"`
	FieldErrors []FieldError `json:"fieldErrors"`
}

func (e ValidationError) Error() string {
	parts := make([]string, len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "row " + strconv.Itoa(e.RowIndex) + ": " + strings.Join(parts, "; ")
}

// PersistedEmployee is the stored version of an employee, keyed by tax ID.
type PersistedEmployee struct {
	ID               string `json:"id"`
	LastName         string `json:"lastName"`
	FirstName        string `json:"firstName"`
	MiddleName       string `json:"middleName,omitempty"`
	TaxID            string `json:"inn"`
	InsuranceID      string `json:"snils,omitempty"`
	WorkerCardID     string `json:"kig,omitempty"`
	WorkerCardExpiry *Date  `json:"kigEndDate,omitempty"`
	Citizenship      string `json:"citizenship,omitempty"`
	BirthDate        *Date  `json:"birthDate,omitempty"`
	Position         string `json:"position,omitempty"`
}

// ConflictRecord pairs an incoming record with the stored employee it collides with.
type ConflictRecord struct {
	TaxID    string            `json:"inn"`
	Incoming ImportRecord      `json:"incoming"`
	Existing PersistedEmployee `json:"existing"`
	Fields   []string          `json:"fields"` // identity fields that differ
}

// Resolution is the operator's decision for one conflict.
type Resolution string

const (
	ResolutionUpdate Resolution = "update"
	ResolutionSkip   Resolution = "skip"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == ResolutionUpdate || r == ResolutionSkip
}

// Resolutions maps tax IDs to decisions.
type Resolutions map[string]Resolution

// Severity distinguishes failed rows from rows written with a warning.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RowError is a row-level execution problem.
type RowError struct {
	RowIndex int      `json:"rowIndex"`
	LastName string   `json:"lastName"`
	TaxID    string   `json:"inn,omitempty"`
	Error    string   `json:"error"`
	Severity Severity `json:"severity"`
}

// ImportOutcome is the final accounting of one execution.
type ImportOutcome struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

// Failed counts rows that were not written at all.
func (o ImportOutcome) Failed() int {
	n := 0
	for _, e := range o.Errors {
		if e.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Warnings counts rows written with a warning.
func (o ImportOutcome) Warnings() int {
	return len(o.Errors) - o.Failed()
}

// Total is created + updated + skipped + failed.
func (o ImportOutcome) Total() int {
	return o.Created + o.Updated + o.Skipped + o.Failed()
}

// OrgKey identifies a counterparty by tax ID and optional sub-code.
type OrgKey struct {
	TaxID   string `json:"inn"`
	SubCode string `json:"kpp,omitempty"`
}

// Counterparty is an organization an employee can be attached to.
type Counterparty struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	TaxID   string `json:"inn"`
	SubCode string `json:"kpp,omitempty"`
}

// EmployeeFinder looks up stored employees by tax ID in one round trip.
type EmployeeFinder interface {
	FindByTaxIDs(ctx context.Context, taxIDs []string) (map[string]PersistedEmployee, error)
}

// CounterpartyDirectory loads the organizations an owner may import employees into.
type CounterpartyDirectory interface {
	LoadScope(ctx context.Context, ownerID string) (OrgScope, error)
}

// UpsertResult tells whether an upsert created, changed or left a row as is.
type UpsertResult int

const (
	UpsertCreated UpsertResult = iota
	UpsertUpdated
	UpsertUnchanged
)

// EmployeeWriter performs the writes of one batch. Each call must be isolated so
// a failed call leaves earlier and later calls unaffected.
type EmployeeWriter interface {
	UpsertEmployee(ctx context.Context, rec ImportRecord) (employeeID string, res UpsertResult, err error)
	LinkCounterparty(ctx context.Context, employeeID, counterpartyID string) error
}

// BatchRunner opens a write batch, runs fn, and commits when fn returns nil.
type BatchRunner interface {
	RunBatch(ctx context.Context, fn func(w EmployeeWriter) error) error
}

// ImportRun is the audit record of one execution.
type ImportRun struct {
	SessionID string
	OwnerID   string
	FileName  string
	Outcome   ImportOutcome
	Duration  time.Duration
	Status    string
}

// RunRecorder stores audit records of executions.
type RunRecorder interface {
	RecordRun(ctx context.Context, run ImportRun) error
}
