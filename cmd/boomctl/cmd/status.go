package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robotsgofarming/abls/internal/console"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a module's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newClient().Query()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderStatus(p))
			return nil
		},
	}
}
