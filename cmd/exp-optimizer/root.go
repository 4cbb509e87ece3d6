package main

import (
	"github.com/spf13/cobra"

	"github.com/determined-ai/expoptimizer/version"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "exp-optimizer",
		Short:         "keep an experiment cluster on its cost goal until the experiment finishes",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newCompletionCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())

	return cmd
}
