package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robotsgofarming/abls/internal/console"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

func newUpdateCommand() *cobra.Command {
	var (
		url        string
		sha256Hex  string
		size       uint32
		versionStr string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Start a firmware update on a module",
		Long:  "Start a firmware update. The module downloads the image itself, so --url must be reachable from the module, not from this console.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := fw.Parse(versionStr)
			if err != nil {
				return fmt.Errorf("invalid --fw-version: %w", err)
			}

			p, err := newClient().StartUpdate(url, sha256Hex, size, v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderStatus(p))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Download URL of the firmware image.")
	cmd.Flags().StringVar(&sha256Hex, "sha256", "", "Hex SHA-256 of the image.")
	cmd.Flags().Uint32Var(&size, "size", 0, "Image size in bytes.")
	cmd.Flags().StringVar(&versionStr, "fw-version", "", "Firmware version being installed (e.g. 2.1.3).")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("sha256")
	cmd.MarkFlagRequired("size")
	cmd.MarkFlagRequired("fw-version")
	return cmd
}
