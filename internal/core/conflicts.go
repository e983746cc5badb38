package core

// conflicts.go classifies validated records against stored employees.
//
// Every record is looked up by tax ID (cache first, then one batched store call
// for the misses) and lands in exactly one bucket:
//   - no stored employee: clean, planned as a create
//   - stored employee with equal identity fields: clean, planned as an update
//     when other fields changed, otherwise as unchanged
//   - stored employee with any differing identity field: a ConflictRecord that
//     needs an operator decision
//
// Identity fields are last/first/middle name, birth date and insurance ID.

import (
	"context"
	"fmt"
	"log/slog"
)

// Action is what execution will do with one record.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
	ActionSkip      Action = "skip"
)

// IdentityFields are compared to decide whether a tax ID match is a conflict.
var IdentityFields = []Field{FieldLastName, FieldFirstName, FieldMiddleName, FieldBirthDate, FieldInsuranceID}

// CleanRecord is a record that needs no operator decision.
type CleanRecord struct {
	Record     ImportRecord `json:"record"`
	Action     Action       `json:"action"`
	ExistingID string       `json:"existingId,omitempty"`
}

// Detection is the result of conflict detection.
type Detection struct {
	Clean     []CleanRecord    `json:"clean"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// ConflictingTaxIDs lists the tax IDs of all conflicts in order.
func (d Detection) ConflictingTaxIDs() []string {
	ids := make([]string, len(d.Conflicts))
	for i, c := range d.Conflicts {
		ids[i] = c.TaxID
	}
	return ids
}

// Count returns how many clean records carry action a.
func (d Detection) Count(a Action) int {
	n := 0
	for _, c := range d.Clean {
		if c.Action == a {
			n++
		}
	}
	return n
}

// ConflictDetector finds tax ID collisions with stored employees.
type ConflictDetector struct {
	finder    EmployeeFinder
	cache     *EmployeeCache
	batchSize int
	logger    *slog.Logger
}

// lookupBatchSize bounds the number of tax IDs per store call.
const lookupBatchSize = 1000

// NewConflictDetector creates a detector. cache may be nil to disable caching.
func NewConflictDetector(finder EmployeeFinder, cache *EmployeeCache, logger *slog.Logger) *ConflictDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictDetector{
		finder:    finder,
		cache:     cache,
		batchSize: lookupBatchSize,
		logger:    logger.With("component", "conflict_detector"),
	}
}

// Detect classifies records. Records must already be valid; a tax ID seen
// twice only counts once (the first occurrence).
func (d *ConflictDetector) Detect(ctx context.Context, records []ImportRecord) (Detection, error) {
	existing, err := d.lookup(ctx, records)
	if err != nil {
		return Detection{}, err
	}

	det := Detection{Clean: []CleanRecord{}, Conflicts: []ConflictRecord{}}
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		id := rec.NormalizedTaxID()
		if seen[id] {
			d.logger.Warn("duplicate tax ID reached conflict detection", "row", rec.RowIndex, "inn", id)
			continue
		}
		seen[id] = true

		emp, found := existing[id]
		if !found {
			det.Clean = append(det.Clean, CleanRecord{Record: rec, Action: ActionCreate})
			continue
		}

		if diff := IdentityDiff(rec, emp); len(diff) > 0 {
			det.Conflicts = append(det.Conflicts, ConflictRecord{
				TaxID:    id,
				Incoming: rec,
				Existing: emp,
				Fields:   diff,
			})
			continue
		}

		action := ActionUnchanged
		if len(DetailDiff(rec, emp)) > 0 {
			action = ActionUpdate
		}
		det.Clean = append(det.Clean, CleanRecord{Record: rec, Action: action, ExistingID: emp.ID})
	}

	d.logger.Debug("conflict detection complete",
		"records", len(records),
		"clean", len(det.Clean),
		"conflicts", len(det.Conflicts),
	)
	return det, nil
}

// lookup resolves every tax ID, serving what it can from the cache.
func (d *ConflictDetector) lookup(ctx context.Context, records []ImportRecord) (map[string]PersistedEmployee, error) {
	found := make(map[string]PersistedEmployee)
	var misses []string
	queued := make(map[string]bool)

	for _, rec := range records {
		id := rec.NormalizedTaxID()
		if id == "" || queued[id] {
			continue
		}
		queued[id] = true

		if d.cache != nil {
			if emp, ok, hit := d.cache.Get(id); hit {
				if ok {
					found[id] = emp
				}
				continue
			}
		}
		misses = append(misses, id)
	}

	for start := 0; start < len(misses); start += d.batchSize {
		end := min(start+d.batchSize, len(misses))
		batch := misses[start:end]

		result, err := d.finder.FindByTaxIDs(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("find employees by tax ID: %w", err)
		}

		for _, id := range batch {
			emp, ok := result[id]
			if ok {
				found[id] = emp
			}
			if d.cache != nil {
				if ok {
					d.cache.Put(id, &emp)
				} else {
					d.cache.Put(id, nil)
				}
			}
		}
	}

	return found, nil
}

// IdentityDiff lists the identity fields in which rec and emp differ.
func IdentityDiff(rec ImportRecord, emp PersistedEmployee) []string {
	var diff []string
	if CleanString(rec.LastName) != CleanString(emp.LastName) {
		diff = append(diff, string(FieldLastName))
	}
	if CleanString(rec.FirstName) != CleanString(emp.FirstName) {
		diff = append(diff, string(FieldFirstName))
	}
	if CleanString(rec.MiddleName) != CleanString(emp.MiddleName) {
		diff = append(diff, string(FieldMiddleName))
	}
	if !sameDate(rec.BirthDate, emp.BirthDate) {
		diff = append(diff, string(FieldBirthDate))
	}
	if DigitsOnly(rec.InsuranceID) != DigitsOnly(emp.InsuranceID) {
		diff = append(diff, string(FieldInsuranceID))
	}
	return diff
}

// DetailDiff lists the non-identity fields in which rec and emp differ.
// Empty incoming values never count as a change.
func DetailDiff(rec ImportRecord, emp PersistedEmployee) []string {
	var diff []string
	if rec.WorkerCardID != "" && rec.WorkerCardID != emp.WorkerCardID {
		diff = append(diff, string(FieldWorkerCardID))
	}
	if rec.WorkerCardExpiry != nil && !sameDate(rec.WorkerCardExpiry, emp.WorkerCardExpiry) {
		diff = append(diff, string(FieldWorkerCardExpiry))
	}
	if rec.Citizenship != "" && rec.Citizenship != emp.Citizenship {
		diff = append(diff, string(FieldCitizenship))
	}
	if rec.Position != "" && rec.Position != emp.Position {
		diff = append(diff, string(FieldPosition))
	}
	return diff
}
