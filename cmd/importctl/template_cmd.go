package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loliloopp/PassDesk-sub001/internal/spreadsheet"
)

func newTemplateCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an empty import workbook with the canonical headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(out) == "" {
				return withCode(exitUsage, fmt.Errorf("--out is required"))
			}
			f, err := os.Create(out)
			if err != nil {
				return withCode(exitUsage, err)
			}
			if err := spreadsheet.WriteTemplate(f); err != nil {
				f.Close()
				return fmt.Errorf("write template: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "template written to", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output path (.xlsx)")
	return cmd
}
