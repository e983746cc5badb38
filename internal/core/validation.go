package core

// validation.go applies business rules to mapped ImportRecords.
//
// Validation happens at two levels:
//  1. Record rules: required fields and identifier formats (struct tags checked
//     by go-playground/validator), organization membership, age range
//  2. File rules: a tax ID may appear only once per file
//
// Validate is pure and total. It never returns an error: every problem becomes a
// FieldError on the offending row, and rows with no problems produce nothing.
// The organization scope is fetched by the caller beforehand, so a lookup
// failure is a stage failure rather than a row error.

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Age limits for employees, inclusive.
const (
	DefaultMinAge = 16
	DefaultMaxAge = 80
)

// Validator checks ImportRecords against business rules.
type Validator struct {
	v      *validator.Validate
	now    func() time.Time
	minAge int
	maxAge int
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock sets the clock used for age checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithAgeRange overrides the allowed age range.
func WithAgeRange(minAge, maxAge int) ValidatorOption {
	return func(v *Validator) {
		v.minAge = minAge
		v.maxAge = maxAge
	}
}

// NewValidator creates a validator with the default age range and the system clock.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("taxid", validTaxID)
	_ = v.RegisterValidation("snils", validInsuranceID)

	val := &Validator{
		v:      v,
		now:    time.Now,
		minAge: DefaultMinAge,
		maxAge: DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(val)
	}
	return val
}

// Validate checks every record and returns one ValidationError per invalid record,
// ordered by row index.
func (val *Validator) Validate(records []ImportRecord, scope OrgScope) []ValidationError {
	today := val.now()
	dups := duplicateTaxIDs(records)

	var out []ValidationError
	for _, rec := range records {
		fieldErrs := val.ValidateRecord(rec, scope, today)

		if rows, ok := dups[rec.NormalizedTaxID()]; ok {
			fieldErrs = append(fieldErrs, FieldError{
				Field:   string(FieldTaxID),
				Message: fmt.Sprintf("tax ID %s appears more than once in the file (rows %s)", rec.NormalizedTaxID(), joinInts(rows)),
			})
		}

		if len(fieldErrs) > 0 {
			out = append(out, ValidationError{
				RowIndex:    rec.RowIndex,
				LastName:    rec.LastName,
				FieldErrors: fieldErrs,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out
}

// ValidateRecord applies the per-record rules only.
func (val *Validator) ValidateRecord(rec ImportRecord, scope OrgScope, today time.Time) []FieldError {
	var errs []FieldError

	if err := val.v.Struct(rec); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, FieldError{Field: fe.Field(), Message: tagMessage(fe)})
			}
		} else {
			errs = append(errs, FieldError{Field: "record", Message: err.Error()})
		}
	}

	if rec.OrgTaxID != "" {
		if _, err := scope.Resolve(rec.OrgKey()); err != nil {
			errs = append(errs, FieldError{Field: string(FieldOrgTaxID), Message: err.Error()})
		}
	}

	if rec.BirthDate != nil {
		age := Age(*rec.BirthDate, today)
		if age < val.minAge || age > val.maxAge {
			errs = append(errs, FieldError{
				Field:   string(FieldBirthDate),
				Message: fmt.Sprintf("age %d is outside the allowed range %d-%d", age, val.minAge, val.maxAge),
			})
		}
	}

	if rec.BirthDate != nil && rec.WorkerCardExpiry != nil && rec.WorkerCardExpiry.Before(rec.BirthDate.Time) {
		errs = append(errs, FieldError{
			Field:   string(FieldWorkerCardExpiry),
			Message: "expiry date is before the birth date",
		})
	}

	return errs
}

// duplicateTaxIDs returns the rows of every tax ID that occurs more than once.
func duplicateTaxIDs(records []ImportRecord) map[string][]int {
	seen := make(map[string][]int)
	for _, rec := range records {
		id := rec.NormalizedTaxID()
		if id == "" {
			continue
		}
		seen[id] = append(seen[id], rec.RowIndex)
	}
	for id, rows := range seen {
		if len(rows) < 2 {
			delete(seen, id)
		}
	}
	return seen
}

func validTaxID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	digits := DigitsOnly(s)
	if len(digits) != 10 && len(digits) != 12 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && !strings.ContainsRune(" -./", r) {
			return false
		}
	}
	return true
}

func validInsuranceID(fl validator.FieldLevel) bool {
	return len(DigitsOnly(fl.Field().String())) == 11
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is empty"
	case "taxid":
		return "must be 10 or 12 digits"
	case "snils":
		return "must be 11 digits"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
