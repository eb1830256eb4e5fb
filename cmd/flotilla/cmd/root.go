package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flotilla",
		Short: "flotilla dispatches and tracks ensemble simulation jobs on batch backends",
	}

	cmd.PersistentFlags().String("config", "", "Fully qualified path to additional application configuration files")

	cmd.AddCommand(
		runCmd(),
		optionsCmd(),
	)

	return cmd
}
