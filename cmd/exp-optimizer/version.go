package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/determined-ai/expoptimizer/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exp-optimizer %s (built with %s)\n",
				version.Version, runtime.Version())
		},
	}
}
