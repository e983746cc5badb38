package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// previewResult is what preview prints: the header mapping and sample records.
type previewResult struct {
	File    string              `json:"file"`
	Rows    int                 `json:"rows"`
	Headers core.HeaderReport   `json:"headers"`
	Samples []core.ImportRecord `json:"samples"`
}

func newPreviewCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show how a file maps onto employee fields without contacting the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return withCode(exitUsage, fmt.Errorf("--file is required"))
			}
			return runPreview(cmd, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Spreadsheet to read (.xlsx or .csv)")
	return cmd
}

func runPreview(cmd *cobra.Command, file string) error {
	sheet, err := readSheet(file)
	if err != nil {
		return err
	}

	sess := core.NewSession("preview", "", core.SessionOptions{})
	if err := sess.Load(filepath.Base(file), sheet.Headers, sheet.Rows); err != nil {
		return withCode(exitValidation, err)
	}

	p := sess.View().Preview
	if err := writeJSONLine(cmd.OutOrStdout(), previewResult{
		File:    p.FileName,
		Rows:    p.TotalRows,
		Headers: p.Headers,
		Samples: p.Samples,
	}); err != nil {
		return err
	}

	if missing := p.Headers.MissingColumns; len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		return withCode(exitValidation, fmt.Errorf("missing required columns: %s", strings.Join(names, ", ")))
	}
	return nil
}
