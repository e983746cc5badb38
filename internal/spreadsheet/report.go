package spreadsheet

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

const (
	summarySheet    = "Summary"
	validationSheet = "Validation errors"
	executionSheet  = "Execution errors"
	conflictSheet   = "Conflicts"
	templateSheet   = "Employees"
)

// Report is the content of a downloadable error report.
type Report struct {
	FileName         string
	TotalRows        int
	ValidationErrors []core.ValidationError
	Conflicts        []core.ConflictView
	Plan             *core.PlanSummary
	Outcome          *core.ImportOutcome
	GeneratedAt      time.Time
}

// ReportFromView builds a report from a session snapshot.
func ReportFromView(v core.SessionView) Report {
	r := Report{
		ValidationErrors: v.ValidationErrors,
		Conflicts:        v.Conflicts,
		Plan:             v.Plan,
		Outcome:          v.Outcome,
		GeneratedAt:      v.LastActive,
	}
	if v.Preview != nil {
		r.FileName = v.Preview.FileName
		r.TotalRows = v.Preview.TotalRows
	}
	return r
}

// WriteReport writes r as an xlsx workbook with a summary sheet followed by
// one sheet per error kind that has entries.
func WriteReport(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFE6E6"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeSummary(f, r, bold); err != nil {
		return err
	}

	if len(r.ValidationErrors) > 0 {
		rows := make([][]any, 0, len(r.ValidationErrors))
		for _, ve := range r.ValidationErrors {
			for _, fe := range ve.FieldErrors {
				rows = append(rows, []any{ve.RowIndex, ve.LastName, fe.Field, fe.Message})
			}
		}
		err := writeTable(f, validationSheet, header,
			[]string{"Row", "Last name", "Field", "Message"}, rows,
			[]float64{8, 24, 20, 60})
		if err != nil {
			return err
		}
	}

	if len(r.Conflicts) > 0 {
		rows := make([][]any, 0, len(r.Conflicts))
		for _, c := range r.Conflicts {
			resolution := string(c.Resolution)
			if !c.Decided {
				resolution += " (default)"
			}
			existing := strings.Join(strings.Fields(c.Existing.LastName+" "+c.Existing.FirstName+" "+c.Existing.MiddleName), " ")
			rows = append(rows, []any{c.Incoming.RowIndex, c.TaxID, c.Incoming.FullName(), existing, strings.Join(c.Fields, ", "), resolution})
		}
		err := writeTable(f, conflictSheet, header,
			[]string{"Row", "INN", "In file", "Stored", "Differs in", "Resolution"}, rows,
			[]float64{8, 16, 36, 36, 30, 16})
		if err != nil {
			return err
		}
	}

	if r.Outcome != nil && len(r.Outcome.Errors) > 0 {
		rows := make([][]any, 0, len(r.Outcome.Errors))
		for _, e := range r.Outcome.Errors {
			rows = append(rows, []any{e.RowIndex, e.LastName, e.TaxID, string(e.Severity), e.Error})
		}
		err := writeTable(f, executionSheet, header,
			[]string{"Row", "Last name", "INN", "Severity", "Error"}, rows,
			[]float64{8, 24, 16, 10, 70})
		if err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, r Report, bold int) error {
	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	lines := [][]any{
		{"Import report"},
		{"File", r.FileName},
		{"Generated", generated.Format("2006-01-02 15:04")},
		{"Rows in file", r.TotalRows},
		{"Rows with validation errors", len(r.ValidationErrors)},
		{"Conflicts", len(r.Conflicts)},
	}
	if r.Plan != nil {
		lines = append(lines,
			[]any{"Planned creates", r.Plan.Create},
			[]any{"Planned updates", r.Plan.Update},
			[]any{"Unchanged", r.Plan.Unchanged},
			[]any{"Planned skips", r.Plan.Skip},
		)
	}
	if r.Outcome != nil {
		lines = append(lines,
			[]any{"Created", r.Outcome.Created},
			[]any{"Updated", r.Outcome.Updated},
			[]any{"Skipped", r.Outcome.Skipped},
			[]any{"Failed", r.Outcome.Failed()},
			[]any{"Warnings", r.Outcome.Warnings()},
		)
	}

	for i, line := range lines {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &line); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 30)
}

func writeTable(f *excelize.File, sheet string, headerStyle int, headers []string, rows [][]any, widths []float64) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %q: %w", sheet, err)
	}

	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", strings.ToLower(sheet), i+2, err)
		}
	}

	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("set width: %w", err)
		}
	}
	return nil
}

// TemplateFields is the column order of a blank import template.
var TemplateFields = []core.Field{
	core.FieldLastName,
	core.FieldFirstName,
	core.FieldMiddleName,
	core.FieldTaxID,
	core.FieldInsuranceID,
	core.FieldBirthDate,
	core.FieldCitizenship,
	core.FieldWorkerCardID,
	core.FieldWorkerCardExpiry,
	core.FieldPosition,
	core.FieldOrgName,
	core.FieldOrgTaxID,
	core.FieldOrgSubCode,
}

// WriteTemplate writes an empty workbook with the canonical headers.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := make([]string, len(TemplateFields))
	for i, field := range TemplateFields {
		headers[i] = core.HeaderAliases[field][0]
	}
	if err := f.SetSheetRow(templateSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	// Tax IDs and insurance numbers keep their leading zeros as text.
	text, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	for _, field := range []core.Field{core.FieldTaxID, core.FieldInsuranceID, core.FieldOrgTaxID, core.FieldOrgSubCode} {
		col := columnOf(field)
		if err := f.SetColStyle(templateSheet, col, text); err != nil {
			return fmt.Errorf("style column %s: %w", col, err)
		}
	}
	if err := f.SetColWidth(templateSheet, "A", "M", 18); err != nil {
		return fmt.Errorf("set width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

func columnOf(field core.Field) string {
	for i, f := range TemplateFields {
		if f == field {
			name, _ := excelize.ColumnNumberToName(i + 1)
			return name
		}
	}
	return ""
}
