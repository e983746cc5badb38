package core

import "time"

// PlanSummary is what execution will do, computed before anything is written.
type PlanSummary struct {
	Create    int `json:"create"`
	Update    int `json:"update"`
	Unchanged int `json:"unchanged"`
	Skip      int `json:"skip"`
	Invalid   int `json:"invalid"`
}

// PreviewSummary describes the uploaded file before validation.
type PreviewSummary struct {
	FileName  string         `json:"fileName"`
	TotalRows int            `json:"totalRows"`
	Headers   HeaderReport   `json:"headers"`
	Samples   []ImportRecord `json:"samples"`
}

// ConflictView is a conflict together with its current decision.
type ConflictView struct {
	ConflictRecord
	Resolution Resolution `json:"resolution"`
	Decided    bool       `json:"decided"`
}

// SessionView is a consistent snapshot of a session for display.
type SessionView struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"ownerId"`
	Stage            Stage             `json:"stage"`
	Step             int               `json:"step"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastActive       time.Time         `json:"lastActive"`
	Preview          *PreviewSummary   `json:"preview,omitempty"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
	Conflicts        []ConflictView    `json:"conflicts,omitempty"`
	Plan             *PlanSummary      `json:"plan,omitempty"`
	Progress         *Progress         `json:"progress,omitempty"`
	Outcome          *ImportOutcome    `json:"outcome,omitempty"`
	Error            string            `json:"error,omitempty"`
	History          []StageChange     `json:"history"`
}

// previewSampleSize is how many mapped records the preview shows.
const previewSampleSize = 20

// View returns a snapshot of the session.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{
		ID:         s.ID,
		OwnerID:    s.OwnerID,
		Stage:      s.stage,
		Step:       s.stage.Step(),
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
		History:    append([]StageChange(nil), s.history...),
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}

	if s.records != nil {
		n := min(len(s.records), previewSampleSize)
		v.Preview = &PreviewSummary{
			FileName:  s.fileName,
			TotalRows: len(s.records),
			Headers:   s.headerReport,
			Samples:   append([]ImportRecord(nil), s.records[:n]...),
		}
	}

	if s.validation != nil {
		v.ValidationErrors = s.validation.ValidationErrors
		for _, c := range s.validation.Conflicts {
			v.Conflicts = append(v.Conflicts, ConflictView{
				ConflictRecord: c,
				Resolution:     s.resolutions.Get(c.TaxID),
				Decided:        s.resolutions.Decided(c.TaxID),
			})
		}
		plan := s.planLocked()
		v.Plan = &plan
	}

	if s.stage == StageExecuting {
		p := s.progress
		v.Progress = &p
	}
	if s.outcome != nil {
		o := *s.outcome
		v.Outcome = &o
	}
	return v
}

// Plan returns the planned counts, or a zero plan before validation.
func (s *Session) Plan() PlanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validation == nil {
		return PlanSummary{}
	}
	return s.planLocked()
}

func (s *Session) planLocked() PlanSummary {
	p := PlanSummary{Invalid: len(s.validation.ValidationErrors)}
	for _, c := range s.validation.Clean {
		switch c.Action {
		case ActionCreate:
			p.Create++
		case ActionUpdate:
			p.Update++
		default:
			p.Unchanged++
		}
	}
	for _, c := range s.validation.Conflicts {
		if s.resolutions.Get(c.TaxID) == ResolutionUpdate {
			p.Update++
		} else {
			p.Skip++
		}
	}
	return p
}

// FileName returns the uploaded file name.
func (s *Session) FileName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileName
}

// Outcome returns the execution outcome once reported.
func (s *Session) Outcome() (ImportOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return ImportOutcome{}, false
	}
	return *s.outcome, true
}

// ValidationErrors returns the errors of the last validation.
func (s *Session) ValidationErrors() []ValidationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validation == nil {
		return nil
	}
	return append([]ValidationError(nil), s.validation.ValidationErrors...)
}
