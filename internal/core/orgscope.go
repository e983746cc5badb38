package core

import "fmt"

// OrgScope is the set of counterparties an owner may import employees into:
// the owner's own organization and its registered sub-contractors.
type OrgScope struct {
	Own            Counterparty   `json:"own"`
	Subcontractors []Counterparty `json:"subcontractors"`
}

// All returns the owner first, then sub-contractors.
func (s OrgScope) All() []Counterparty {
	out := make([]Counterparty, 0, len(s.Subcontractors)+1)
	if s.Own.ID != "" {
		out = append(out, s.Own)
	}
	return append(out, s.Subcontractors...)
}

// Resolve finds the counterparty identified by key.
// With a sub-code both must match; without one the tax ID must be unambiguous.
func (s OrgScope) Resolve(key OrgKey) (Counterparty, error) {
	if key.TaxID == "" {
		return Counterparty{}, fmt.Errorf("organization tax ID is empty")
	}

	var matches []Counterparty
	for _, c := range s.All() {
		if DigitsOnly(c.TaxID) != key.TaxID {
			continue
		}
		if key.SubCode != "" && DigitsOnly(c.SubCode) != key.SubCode {
			continue
		}
		matches = append(matches, c)
	}

	switch len(matches) {
	case 0:
		if key.SubCode != "" {
			return Counterparty{}, fmt.Errorf("organization %s/%s is neither yours nor a registered sub-contractor", key.TaxID, key.SubCode)
		}
		return Counterparty{}, fmt.Errorf("organization %s is neither yours nor a registered sub-contractor", key.TaxID)
	case 1:
		return matches[0], nil
	default:
		return Counterparty{}, fmt.Errorf("organization %s matches %d counterparties, specify the sub-code", key.TaxID, len(matches))
	}
}
