package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fixedNow is the clock used throughout the core tests.
var fixedNow = time.Date(2026, time.January, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func datePtr(y int, m time.Month, d int) *Date {
	v := NewDate(y, m, d)
	return &v
}

// testScope has the owner, one plain sub-contractor and two branches sharing a tax ID.
func testScope() OrgScope {
	return OrgScope{
		Own: Counterparty{ID: "cp-own", Name: "ООО Генподряд", TaxID: "7701234567", SubCode: "770101001"},
		Subcontractors: []Counterparty{
			{ID: "cp-sub", Name: "ООО Субподряд", TaxID: "5001234567"},
			{ID: "cp-branch-1", Name: "АО Филиал 1", TaxID: "7707654321", SubCode: "770701001"},
			{ID: "cp-branch-2", Name: "АО Филиал 2", TaxID: "7707654321", SubCode: "770702001"},
		},
	}
}

// testRecord builds a valid record for row with tax ID inn.
func testRecord(row int, inn, lastName string) ImportRecord {
	return ImportRecord{
		RowIndex:   row,
		LastName:   lastName,
		FirstName:  "Иван",
		MiddleName: "Петрович",
		TaxID:      inn,
		BirthDate:  datePtr(1990, time.March, 15),
		Position:   "Монтажник",
		OrgTaxID:   "7701234567",
	}
}

// persisted returns the stored twin of rec.
func persisted(id string, rec ImportRecord) PersistedEmployee {
	return PersistedEmployee{
		ID:               id,
		LastName:         rec.LastName,
		FirstName:        rec.FirstName,
		MiddleName:       rec.MiddleName,
		TaxID:            rec.NormalizedTaxID(),
		InsuranceID:      rec.InsuranceID,
		WorkerCardID:     rec.WorkerCardID,
		WorkerCardExpiry: rec.WorkerCardExpiry,
		Citizenship:      rec.Citizenship,
		BirthDate:        rec.BirthDate,
		Position:         rec.Position,
	}
}

// innFor returns a distinct valid 12-digit tax ID.
func innFor(i int) string {
	return fmt.Sprintf("5001%08d", i)
}

type fakeDirectory struct {
	scope OrgScope
	err   error
	calls int
}

func (d *fakeDirectory) LoadScope(_ context.Context, _ string) (OrgScope, error) {
	d.calls++
	return d.scope, d.err
}

type fakeFinder struct {
	mu        sync.Mutex
	employees map[string]PersistedEmployee
	err       error
	calls     [][]string
}

func (f *fakeFinder) FindByTaxIDs(_ context.Context, ids []string) (map[string]PersistedEmployee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]PersistedEmployee)
	for _, id := range ids {
		if emp, ok := f.employees[id]; ok {
			out[id] = emp
		}
	}
	return out, nil
}

// fakeStore is an in-memory EmployeeWriter, BatchRunner and EmployeeFinder.
type fakeStore struct {
	mu         sync.Mutex
	employees  map[string]PersistedEmployee
	links      map[string]string // employee ID -> counterparty ID
	failUpsert map[string]error  // by tax ID
	failLink   map[string]error  // by employee ID
	commitErr  error
	batches    int
	nextID     int
	onUpsert   func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		employees:  make(map[string]PersistedEmployee),
		links:      make(map[string]string),
		failUpsert: make(map[string]error),
		failLink:   make(map[string]error),
	}
}

func (s *fakeStore) FindByTaxIDs(_ context.Context, ids []string) (map[string]PersistedEmployee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PersistedEmployee)
	for _, id := range ids {
		if emp, ok := s.employees[id]; ok {
			out[id] = emp
		}
	}
	return out, nil
}

func (s *fakeStore) RunBatch(_ context.Context, fn func(w EmployeeWriter) error) error {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	if err := fn(s); err != nil {
		return err
	}
	return s.commitErr
}

func (s *fakeStore) UpsertEmployee(_ context.Context, rec ImportRecord) (string, UpsertResult, error) {
	if s.onUpsert != nil {
		s.onUpsert()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.NormalizedTaxID()
	if err := s.failUpsert[id]; err != nil {
		return "", 0, err
	}
	existing, ok := s.employees[id]
	if !ok {
		s.nextID++
		emp := persisted(fmt.Sprintf("emp-%d", s.nextID), rec)
		s.employees[id] = emp
		return emp.ID, UpsertCreated, nil
	}
	if len(IdentityDiff(rec, existing)) == 0 && len(DetailDiff(rec, existing)) == 0 {
		return existing.ID, UpsertUnchanged, nil
	}
	emp := persisted(existing.ID, rec)
	s.employees[id] = emp
	return emp.ID, UpsertUpdated, nil
}

func (s *fakeStore) LinkCounterparty(_ context.Context, employeeID, counterpartyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLink[employeeID]; err != nil {
		return err
	}
	s.links[employeeID] = counterpartyID
	return nil
}

// fakeBackend scripts Backend responses for session tests.
type fakeBackend struct {
	mu           sync.Mutex
	validate     func(ValidateRequest) (ValidateResponse, error)
	execute      func(context.Context, ExecuteRequest) (ImportOutcome, error)
	validateReqs []ValidateRequest
	executeReqs  []ExecuteRequest
}

func (b *fakeBackend) ValidateImport(_ context.Context, req ValidateRequest) (ValidateResponse, error) {
	b.mu.Lock()
	b.validateReqs = append(b.validateReqs, req)
	b.mu.Unlock()
	return b.validate(req)
}

func (b *fakeBackend) ExecuteImport(ctx context.Context, req ExecuteRequest) (ImportOutcome, error) {
	b.mu.Lock()
	b.executeReqs = append(b.executeReqs, req)
	b.mu.Unlock()
	return b.execute(ctx, req)
}

func (b *fakeBackend) executeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.executeReqs)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []ImportRun
	err  error
}

func (r *fakeRecorder) RecordRun(_ context.Context, run ImportRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func (r *fakeRecorder) recorded() []ImportRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ImportRun(nil), r.runs...)
}
