package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flotillaproject/flotilla/internal/driver"
)

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options [backend]",
		Short: "List the option keys recognized by a queue backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := driver.ParseKind(args[0])
			if err != nil {
				return err
			}
			for _, key := range driver.New(kind).ListOptions() {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}
