package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loliloopp/PassDesk-sub001/internal/app"
	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
)

type globalOptions struct {
	envFile    string
	logLevel   string
	backendURL string
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Preview, validate and run bulk employee imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file to load if present")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level on stderr: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&g.backendURL, "backend", "", "Remote backend URL (overrides BACKEND_URL)")

	cmd.AddCommand(newPreviewCmd())
	cmd.AddCommand(newValidateCmd(&g))
	cmd.AddCommand(newRunCmd(&g))
	cmd.AddCommand(newTemplateCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

// loadApp reads the environment and connects the backend the server would use.
func loadApp(ctx context.Context, g *globalOptions) (*app.App, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, withCode(exitUsage, fmt.Errorf("load %s: %w", g.envFile, err))
		}
	}
	if g.backendURL != "" {
		if err := os.Setenv("BACKEND_URL", g.backendURL); err != nil {
			return nil, withCode(exitUsage, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	logger := logging.New(os.Stderr, g.logLevel, cfg.Logging.Format)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, withCode(exitBackend, err)
	}
	return a, nil
}
