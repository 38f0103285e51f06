package app

import (
	"fmt"

	"github.com/robotsgofarming/abls/cmd/abls-module/app/options"
	"github.com/robotsgofarming/abls/pkg/app"
	"github.com/robotsgofarming/abls/pkg/log"
)

const (
	commandName = "abls-module"
	commandDesc = `The ABLS boom module agent manages one height-control module of the
boom-leveling system: it answers operator commands over UDP, performs
safety-gated firmware updates against the dual-bank flash, and publishes
status telemetry.`
)

func NewApp() *app.App {
	opts := options.NewModuleOptions()
	application := app.NewApp(
		commandName,
		"Run a boom module update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ModuleOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := app.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
