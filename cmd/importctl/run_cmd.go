package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

type runOptions struct {
	file         string
	owner        string
	resolve      string
	apply        bool
	allowInvalid bool
	report       string
}

func (o runOptions) check() error {
	if strings.TrimSpace(o.file) == "" {
		return withCode(exitUsage, fmt.Errorf("--file is required"))
	}
	if strings.TrimSpace(o.owner) == "" {
		return withCode(exitUsage, fmt.Errorf("--owner is required"))
	}
	if !core.Resolution(o.resolve).Valid() {
		return withCode(exitUsage, fmt.Errorf("invalid --resolve %q: must be update or skip", o.resolve))
	}
	return nil
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	opts := runOptions{resolve: string(core.ResolutionSkip)}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a file and list conflicts without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.check(); err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(svc *core.Service) error {
				return validateImport(cmd.Context(), svc, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "Spreadsheet to import (.xlsx or .csv)")
	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner counterparty ID")
	cmd.Flags().StringVar(&opts.report, "report", "", "Write an xlsx report of errors and conflicts to this path")
	return cmd
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := runOptions{resolve: string(core.ResolutionSkip)}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate, resolve conflicts and execute an import",
		Long: "Validate, resolve conflicts and execute an import.\n\n" +
			"Without --apply the plan is printed and nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.check(); err != nil {
				return err
			}
			return withService(cmd.Context(), g, func(svc *core.Service) error {
				return runImport(cmd.Context(), svc, opts, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "Spreadsheet to import (.xlsx or .csv)")
	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner counterparty ID")
	cmd.Flags().StringVar(&opts.resolve, "resolve", opts.resolve, "Decision for every conflict: update or skip")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Execute the import")
	cmd.Flags().BoolVar(&opts.allowInvalid, "allow-invalid", false, "Import the valid rows even if some rows failed validation")
	cmd.Flags().StringVar(&opts.report, "report", "", "Write an xlsx report to this path")
	return cmd
}

func withService(ctx context.Context, g *globalOptions, fn func(*core.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.NewService())
}

// loadAndValidate runs the first two stages. The session is discarded by
// the caller.
func loadAndValidate(ctx context.Context, svc *core.Service, opts runOptions) (*core.Session, error) {
	sheet, err := readSheet(opts.file)
	if err != nil {
		return nil, err
	}

	sess, err := svc.CreateSession(opts.owner)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	if err := sess.Load(filepath.Base(opts.file), sheet.Headers, sheet.Rows); err != nil {
		return sess, withCode(exitValidation, err)
	}
	if _, err := svc.Validate(ctx, sess.ID); err != nil {
		return sess, withCode(exitBackend, err)
	}
	return sess, nil
}

func validateImport(ctx context.Context, svc *core.Service, opts runOptions, out io.Writer) error {
	sess, err := loadAndValidate(ctx, svc, opts)
	if sess != nil {
		defer svc.DeleteSession(sess.ID)
	}
	if err != nil {
		return err
	}

	view := sess.View()
	if err := writeReportFile(opts.report, view); err != nil {
		return err
	}
	if err := writeJSONLine(out, summarize(view)); err != nil {
		return err
	}
	if n, c := len(view.ValidationErrors), len(view.Conflicts); n > 0 || c > 0 {
		return withCode(exitValidation, fmt.Errorf("%d rows failed validation, %d conflicts", n, c))
	}
	return nil
}

func runImport(ctx context.Context, svc *core.Service, opts runOptions, out io.Writer) error {
	sess, err := loadAndValidate(ctx, svc, opts)
	if sess != nil {
		defer svc.DeleteSession(sess.ID)
	}
	if err != nil {
		return err
	}

	if sess.Stage() == core.StageConflicts {
		view := sess.View()
		if len(view.ValidationErrors) > 0 && !opts.allowInvalid {
			if err := finish(out, opts.report, view); err != nil {
				return err
			}
			return withCode(exitValidation, fmt.Errorf("%d rows failed validation; fix them or pass --allow-invalid", len(view.ValidationErrors)))
		}
		if len(view.Conflicts) > 0 {
			if err := sess.ResolveAll(core.Resolution(opts.resolve)); err != nil {
				return withCode(exitUsage, err)
			}
		}
		if err := sess.Proceed(); err != nil {
			return err
		}
	}

	if !opts.apply {
		return finish(out, opts.report, sess.View())
	}

	outcome, execErr := svc.Execute(ctx, sess.ID)
	if err := finish(out, opts.report, sess.View()); err != nil {
		return err
	}
	if execErr != nil {
		return withCode(exitBackend, execErr)
	}
	if failed := outcome.Failed(); failed > 0 {
		return withCode(exitRowErrors, fmt.Errorf("%d of %d rows failed", failed, outcome.Total()))
	}
	return nil
}

func finish(out io.Writer, report string, view core.SessionView) error {
	if err := writeReportFile(report, view); err != nil {
		return err
	}
	return writeJSONLine(out, summarize(view))
}
