package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/spreadsheet"
)

// summary is the single JSON line a command prints on stdout.
type summary struct {
	Session   string              `json:"session,omitempty"`
	File      string              `json:"file"`
	Stage     core.Stage          `json:"stage"`
	Rows      int                 `json:"rows"`
	Invalid   int                 `json:"invalid"`
	Conflicts int                 `json:"conflicts"`
	Plan      *core.PlanSummary   `json:"plan,omitempty"`
	Outcome   *core.ImportOutcome `json:"outcome,omitempty"`
	Applied   bool                `json:"applied"`
	Error     string              `json:"error,omitempty"`
}

func summarize(v core.SessionView) summary {
	s := summary{
		Session:   v.ID,
		Stage:     v.Stage,
		Invalid:   len(v.ValidationErrors),
		Conflicts: len(v.Conflicts),
		Plan:      v.Plan,
		Outcome:   v.Outcome,
		Applied:   v.Outcome != nil,
		Error:     v.Error,
	}
	if v.Preview != nil {
		s.File = v.Preview.FileName
		s.Rows = v.Preview.TotalRows
	}
	return s
}

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// readSheet opens a local xlsx or csv file.
func readSheet(path string) (spreadsheet.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return spreadsheet.Sheet{}, withCode(exitUsage, err)
	}
	defer f.Close()

	sheet, err := spreadsheet.Read(f, filepath.Base(path), 0)
	if err != nil {
		return spreadsheet.Sheet{}, withCode(exitUsage, fmt.Errorf("%s: %w", path, err))
	}
	return sheet, nil
}

// writeReportFile writes the xlsx report when path is set.
func writeReportFile(path string, v core.SessionView) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	if err := spreadsheet.WriteReport(f, spreadsheet.ReportFromView(v)); err != nil {
		f.Close()
		return withCode(exitUsage, fmt.Errorf("write report: %w", err))
	}
	return f.Close()
}
