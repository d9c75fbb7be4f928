package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/nodeflow/internal/graph"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and build the design graph without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			g, err := graph.Build(&cfg.Design, newRegistry(), graph.WithAcyclic(!cfg.Engine.AllowCycles))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d links)\n", cfgPath, g.NodeCount(), g.LinkCount())
			return nil
		},
	}
}
