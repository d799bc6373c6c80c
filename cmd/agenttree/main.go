// Command agenttree runs and inspects trajectory searches from the terminal:
// "run" drives a search described by a YAML config, "query" inspects the JSON
// checkpoints a run leaves behind.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agenttree",
		Short:         "Trajectory search for autonomous coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd(), newQueryCmd())
	return cmd
}
