// Package cmd implements the boomctl operator console commands.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/robotsgofarming/abls/internal/console"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
	"github.com/robotsgofarming/abls/pkg/version"
)

var (
	moduleAddr   string
	commandPort  int
	statusPort   int
	replyTimeout time.Duration
)

func newClient() *console.Client {
	return &console.Client{
		ModuleAddr:  moduleAddr,
		CommandPort: commandPort,
		StatusPort:  statusPort,
		Timeout:     replyTimeout,
	}
}

// NewRootCommand builds the boomctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "boomctl",
		Short:        "Operator console for boom-leveling modules",
		Long:         "boomctl manages firmware on boom height-control modules: query status, stage images, start, abort and roll back updates.",
		Version:      version.Current().String(),
		SilenceUsage: true,
	}

	defaults := options.NewUdpOptions()
	root.PersistentFlags().StringVar(&moduleAddr, "module", "", "IP address of the target module.")
	root.PersistentFlags().IntVar(&commandPort, "command-port", defaults.CommandPort, "Module command port.")
	root.PersistentFlags().IntVar(&statusPort, "status-port", defaults.StatusPort, "Local port status replies arrive on.")
	root.PersistentFlags().DurationVar(&replyTimeout, "timeout", 5*time.Second, "How long to wait for a status reply.")

	root.AddCommand(
		newStatusCommand(),
		newUpdateCommand(),
		newAbortCommand(),
		newRollbackCommand(),
		newPushCommand(),
	)
	return root
}

func init() {
	log.Init(log.NewOptions())
}
