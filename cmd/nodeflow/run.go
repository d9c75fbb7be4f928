package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
)

func newRunCmd() *cobra.Command {
	var (
		nodes   []string
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the design once and print the final node states",
		Long: `Loads the design, requests every node that is not marked executed
plus any node named with --node, and waits until the engine is idle.

Exit codes: 0 when every node executed, 2 when a node failed,
3 when pending nodes can make no progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), nodes, timeout, asJSON)
		},
	}
	cmd.Flags().StringSliceVar(&nodes, "node", nil, "Node to (re-)execute, may be repeated")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait for the graph to settle")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print node states as JSON")
	return cmd
}

func run(parent context.Context, out io.Writer, nodes []string, timeout time.Duration, asJSON bool) error {
	_, cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eng := engine.New(context.Background(), newRegistry(), cfg.Engine)
	defer eng.Shutdown()

	if err := eng.LoadDesign(&cfg.Design); err != nil {
		return err
	}
	for _, id := range nodes {
		if err := eng.RequestExecution(id); err != nil {
			return err
		}
	}

	start := time.Now()
	waitErr := eng.Wait(ctx)
	slog.Debug("run finished", "duration_ms", time.Since(start).Milliseconds(), "err", waitErr)

	snaps, err := eng.Snapshot()
	if err != nil {
		return err
	}
	if err := printSnapshots(out, snaps, asJSON); err != nil {
		return err
	}

	var stall *engine.StallError
	switch {
	case errors.As(waitErr, &stall):
		return &codeError{code: exitStalled, err: waitErr}
	case waitErr != nil:
		return waitErr
	}
	for _, s := range snaps {
		if s.State == engine.Failed {
			return &codeError{code: exitFailed, err: fmt.Errorf("node %s failed: %s", s.ID, s.Status.Message)}
		}
	}
	return nil
}

func printSnapshots(out io.Writer, snaps []engine.NodeSnapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tTYPE\tSTATE\tSTATUS")
	for _, s := range snaps {
		status := s.Status.Message
		if s.Status.Severity != "" {
			status = fmt.Sprintf("[%s] %s", s.Status.Severity, status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Type, s.State, status)
	}
	return tw.Flush()
}
