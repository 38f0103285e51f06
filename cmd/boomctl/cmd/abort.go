package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robotsgofarming/abls/internal/console"
)

func newAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the running update at the next safe point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newClient().Abort()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderStatus(p))
			return nil
		},
	}
}

func newRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore the module's backup firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := newClient().Rollback()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderStatus(p))
			return nil
		},
	}
}
