package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/robotsgofarming/abls/internal/console"
	"github.com/robotsgofarming/abls/pkg/options"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

func newPushCommand() *cobra.Command {
	var (
		s3Opts     = options.NewS3Options()
		expiry     time.Duration
		versionStr string
		start      bool
	)

	cmd := &cobra.Command{
		Use:   "push IMAGE",
		Short: "Stage a firmware image in the artifact store",
		Long:  "Upload a firmware image to the S3-compatible artifact store and print the presigned URL, hash and size to hand to 'boomctl update'. With --start the update is sent to --module immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := s3Opts.Validate(); len(errs) > 0 {
				return errors.Join(errs...)
			}

			pusher, err := console.NewPusher(s3Opts)
			if err != nil {
				return err
			}
			art, err := pusher.Push(cmd.Context(), args[0], expiry)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "URL:    %s\n", art.URL)
			fmt.Fprintf(out, "SHA256: %s\n", art.SHA256)
			fmt.Fprintf(out, "SIZE:   %d\n", art.Size)

			if !start {
				return nil
			}
			v, err := fw.Parse(versionStr)
			if err != nil {
				return fmt.Errorf("invalid --fw-version: %w", err)
			}
			p, err := newClient().StartUpdate(art.URL, art.SHA256, art.Size, v)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, console.RenderStatus(p))
			return nil
		},
	}

	s3Opts.AddFlags(cmd.Flags())
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "Validity of the presigned download URL.")
	cmd.Flags().BoolVar(&start, "start", false, "Start the update on --module right after staging.")
	cmd.Flags().StringVar(&versionStr, "fw-version", "", "Firmware version being installed; required with --start.")
	return cmd
}
