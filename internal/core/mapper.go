package core

// mapper.go turns raw spreadsheet rows into ImportRecords.
//
// Spreadsheets arrive in several historical layouts. For each logical field the
// mapper tries the canonical header, then the legacy aliases. Names may also
// arrive as one "full name" header followed by two unlabeled columns holding the
// given name and patronymic. Mapping never fails: a cell that cannot be read
// leaves the field empty and the Validator decides whether that matters.

import (
	"sort"
	"strings"
)

// Field identifies a logical ImportRecord field.
type Field string

const (
	FieldLastName         Field = "lastName"
	FieldFirstName        Field = "firstName"
	FieldMiddleName       Field = "middleName"
	FieldFullName         Field = "fullName"
	FieldTaxID            Field = "inn"
	FieldInsuranceID      Field = "snils"
	FieldWorkerCardID     Field = "kig"
	FieldWorkerCardExpiry Field = "kigEndDate"
	FieldCitizenship      Field = "citizenship"
	FieldBirthDate        Field = "birthDate"
	FieldPosition         Field = "position"
	FieldOrgName          Field = "counterpartyName"
	FieldOrgTaxID         Field = "counterpartyInn"
	FieldOrgSubCode       Field = "counterpartyKpp"
)

// HeaderAliases lists accepted headers per field, canonical name first.
// Matching is case-sensitive after trimming.
var HeaderAliases = map[Field][]string{
	FieldLastName:         {"Фамилия", "lastName", "Фамилия сотрудника"},
	FieldFirstName:        {"Имя", "firstName", "Имя сотрудника"},
	FieldMiddleName:       {"Отчество", "middleName", "Отчество сотрудника"},
	FieldFullName:         {"ФИО", "Ф.И.О.", "fullName"},
	FieldTaxID:            {"ИНН", "inn", "ИНН сотрудника"},
	FieldInsuranceID:      {"СНИЛС", "snils"},
	FieldWorkerCardID:     {"КИГ", "kig", "Номер КИГ"},
	FieldWorkerCardExpiry: {"Срок действия КИГ", "kigEndDate", "Дата окончания КИГ"},
	FieldCitizenship:      {"Гражданство", "citizenship"},
	FieldBirthDate:        {"Дата рождения", "birthDate", "Дата рожд."},
	FieldPosition:         {"Должность", "position"},
	FieldOrgName:          {"Организация", "counterpartyName", "Контрагент"},
	FieldOrgTaxID:         {"ИНН организации", "counterpartyInn", "ИНН контрагента"},
	FieldOrgSubCode:       {"КПП организации", "counterpartyKpp", "КПП", "КПП контрагента"},
}

// RequiredColumns must be recognisable in the header row for an import to make sense.
// Names are satisfied either by separate columns or by a full-name column.
var RequiredColumns = []Field{FieldTaxID, FieldOrgTaxID}

// Mapper maps raw rows to ImportRecords. The zero value is not usable; call NewMapper.
type Mapper struct {
	lookup map[string]Field
}

// NewMapper builds a mapper over HeaderAliases.
func NewMapper() *Mapper {
	lookup := make(map[string]Field)
	for field, aliases := range HeaderAliases {
		for _, a := range aliases {
			lookup[a] = field
		}
	}
	return &Mapper{lookup: lookup}
}

// FieldFor returns the logical field a header maps to.
func (m *Mapper) FieldFor(header string) (Field, bool) {
	f, ok := m.lookup[strings.TrimSpace(header)]
	return f, ok
}

// Map converts one raw row. It is pure: mapping the same row twice yields equal records.
func (m *Mapper) Map(row RawRow) ImportRecord {
	values := make(map[Field]string)
	rank := make(map[Field]int)
	fullNameAt := -1

	for i, cell := range row.Cells {
		header := strings.TrimSpace(cell.Header)
		field, ok := m.lookup[header]
		if !ok {
			continue
		}
		if field == FieldFullName {
			if fullNameAt < 0 {
				fullNameAt = i
			}
			continue
		}
		if strings.TrimSpace(cell.Value) == "" {
			continue
		}
		// Canonical header wins over aliases, earlier column wins a tie
		r := aliasRank(field, header)
		if prev, seen := rank[field]; seen && prev <= r {
			continue
		}
		values[field] = cell.Value
		rank[field] = r
	}

	rec := ImportRecord{
		RowIndex:         row.Index,
		LastName:         CleanString(values[FieldLastName]),
		FirstName:        CleanString(values[FieldFirstName]),
		MiddleName:       CleanString(values[FieldMiddleName]),
		TaxID:            CleanString(values[FieldTaxID]),
		InsuranceID:      CleanString(values[FieldInsuranceID]),
		WorkerCardID:     CleanString(values[FieldWorkerCardID]),
		WorkerCardExpiry: ParseDate(values[FieldWorkerCardExpiry]),
		Citizenship:      CleanString(values[FieldCitizenship]),
		BirthDate:        ParseDate(values[FieldBirthDate]),
		Position:         CleanString(values[FieldPosition]),
		OrgName:          CleanString(values[FieldOrgName]),
		OrgTaxID:         CleanString(values[FieldOrgTaxID]),
		OrgSubCode:       CleanString(values[FieldOrgSubCode]),
	}

	if fullNameAt >= 0 && rec.LastName == "" && rec.FirstName == "" {
		rec.LastName, rec.FirstName, rec.MiddleName = splitFullName(row.Cells, fullNameAt, rec.MiddleName)
	}

	return rec
}

// MapRows maps every row, keeping row indices.
func (m *Mapper) MapRows(rows []RawRow) []ImportRecord {
	out := make([]ImportRecord, len(rows))
	for i, row := range rows {
		out[i] = m.Map(row)
	}
	return out
}

// splitFullName reads surname, given name and patronymic from the full-name
// column and the two unlabeled cells after it. A labelled neighbour, known or
// not, is never part of the name. Without a given name from the neighbours
// the full-name cell itself is split on whitespace.
func splitFullName(cells []RawCell, at int, middle string) (last, first, mid string) {
	neighbour := func(offset int) string {
		i := at + offset
		if i >= len(cells) {
			return ""
		}
		if strings.TrimSpace(cells[i].Header) != "" {
			return ""
		}
		return CleanString(cells[i].Value)
	}

	last = CleanString(cells[at].Value)
	first = neighbour(1)
	mid = neighbour(2)
	if mid == "" {
		mid = middle
	}

	if first == "" {
		parts := strings.Fields(last)
		switch {
		case len(parts) >= 3:
			last, first, mid = parts[0], parts[1], strings.Join(parts[2:], " ")
		case len(parts) == 2:
			last, first = parts[0], parts[1]
		}
	}
	return last, first, mid
}

func aliasRank(field Field, header string) int {
	for i, a := range HeaderAliases[field] {
		if a == header {
			return i
		}
	}
	return len(HeaderAliases[field])
}

// HeaderReport describes how a header row maps onto logical fields.
type HeaderReport struct {
	Recognized     map[string]Field `json:"recognized"`
	Unrecognized   []string         `json:"unrecognized"`
	MissingColumns []Field          `json:"missingColumns"`
	UsesFullName   bool             `json:"usesFullName"`
}

// Inspect reports which headers are understood and which required columns are absent.
func (m *Mapper) Inspect(headers []string) HeaderReport {
	report := HeaderReport{Recognized: make(map[string]Field)}
	present := make(map[Field]bool)

	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		f, ok := m.lookup[h]
		if !ok {
			report.Unrecognized = append(report.Unrecognized, h)
			continue
		}
		report.Recognized[h] = f
		present[f] = true
	}

	report.UsesFullName = present[FieldFullName]
	required := append([]Field{}, RequiredColumns...)
	if !report.UsesFullName {
		required = append(required, FieldLastName, FieldFirstName)
	}
	for _, f := range required {
		if !present[f] {
			report.MissingColumns = append(report.MissingColumns, f)
		}
	}
	sort.Slice(report.MissingColumns, func(i, j int) bool {
		return report.MissingColumns[i] < report.MissingColumns[j]
	})
	return report
}
