// Package app is the shared scaffolding for the project's binaries: a cobra
// command wired to an options aggregate, with viper layering a config file
// and environment variables under the flags.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// CliOptions is the options aggregate a command is built from.
type CliOptions interface {
	// AddFlags binds every option to the command's flag set.
	AddFlags(fs *pflag.FlagSet)

	// Validate returns all problems with the final option values.
	Validate() []error
}

// RunFunc is the command's body, invoked after options are loaded and valid.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// WithDescription sets the long help text.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions attaches the options aggregate.
func WithOptions(opts CliOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the command body.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) { a.noArgs = true }
}

// App is one runnable binary.
type App struct {
	name        string
	short       string
	description string
	options     CliOptions
	run         RunFunc
	noArgs      bool
	configFile  string

	cmd *cobra.Command
}

// NewApp builds the command tree for a binary.
func NewApp(name, short string, opts ...Option) *App {
	a := &App{name: name, short: short}
	for _, o := range opts {
		o(a)
	}
	a.cmd = a.buildCommand()
	return a
}

// Command exposes the underlying cobra command so callers can attach
// subcommands.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command, exiting non-zero on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.short,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runCommand,
	}
	if a.noArgs {
		cmd.Args = cobra.NoArgs
	}
	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "",
		"Path to the configuration file.")
	if a.options != nil {
		a.options.AddFlags(cmd.Flags())
	}
	return cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if err := a.loadConfig(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if errs := a.options.Validate(); len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	if a.run == nil {
		return cmd.Help()
	}
	return a.run()
}

// loadConfig layers the config file and environment variables under the
// flags. Precedence, highest first: explicit flags, environment, file,
// flag defaults.
func (a *App) loadConfig(fs *pflag.FlagSet) error {
	v := viper.New()
	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	v.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(a.name), "-", "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	return v.Unmarshal(a.options)
}

// SetupSignalContext returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		<-ch
		os.Exit(1) // second signal: force exit
	}()
	return ctx
}
