package log

import (
	"github.com/spf13/pflag"
)

// Options contains configuration settings for the logger.
type Options struct {
	// Name is an optional name for the logger, added as a field to each entry.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is the minimum log level: 'debug', 'info', 'warn', 'error'.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format specifies the log output format: 'json' or 'console'.
	Format string `json:"format,omitempty" mapstructure:"format"`

	// EnableColor enables colorized output for console format.
	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	// DisableCaller stops annotating logs with file name and line number.
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip increases the number of callers skipped by caller annotation.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths is a list of paths to write logs to. "stdout" and "stderr"
	// are understood as the console streams.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions creates an Options object with default values.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  2, // correct for direct usage of the package-level helpers
		OutputPaths: []string{"stdout"},
	}
}

// Validate validates the options.
func (o *Options) Validate() []error {
	return nil
}

// AddFlags binds command-line flags to the Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "An optional name for the logger.")
	fs.StringVar(&o.Level, "log.level", o.Level, "The minimum log level to output ('debug', 'info', 'warn', 'error').")
	fs.StringVar(&o.Format, "log.format", o.Format, "The log output format ('json' or 'console').")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Enable colorized output for the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Disable the caller field in logs.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "The number of caller frames to skip.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "A list of log output paths (e.g., 'stdout', '/var/log/abls.log').")
}
