package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the diagnostics HTTP server (metrics, health,
// status mirror).
type HttpOptions struct {
	// Addr is the server bind address.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds read and write on server connections.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewHttpOptions creates HttpOptions with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Addr:    "0.0.0.0:8080",
		Timeout: 30 * time.Second,
	}
}

func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func (o *HttpOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address for the diagnostics HTTP server.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Timeout for diagnostics HTTP connections.")
}
