package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node/builtin"
)

// Exit codes.
const (
	exitError   = 1
	exitFailed  = 2
	exitStalled = 3
)

var (
	cfgPath   string
	logLevel  string
	logFormat string
	traceTo   string

	stopTracing = func(context.Context) error { return nil }

	rootCmd = &cobra.Command{
		Use:           "nodeflow",
		Short:         "Run dataflow graphs of typed nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(os.Stderr, logLevel, logFormat); err != nil {
				return err
			}
			stop, err := setupTracing(traceTo)
			if err != nil {
				return err
			}
			stopTracing = stop
			return nil
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "configs/design.yaml", "Path to the design YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "Log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&traceTo, "trace", "none", "Export node execution spans (none, stdout)")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newValidateCmd())

	err := rootCmd.Execute()
	if serr := stopTracing(context.Background()); serr != nil {
		slog.Warn("trace shutdown failed", "err", serr)
	}
	if err != nil {
		slog.Error("command failed", "err", err)
		code := exitError
		var ce *codeError
		if errors.As(err, &ce) {
			code = ce.code
		}
		os.Exit(code)
	}
}

// codeError carries a process exit code.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string { return e.err.Error() }
func (e *codeError) Unwrap() error { return e.err }

// newRegistry returns a registry holding every bundled node package.
func newRegistry() *node.Registry {
	reg := node.NewRegistry()
	builtin.Register(reg)
	return reg
}

// loadConfig reads and validates the config file.
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}
