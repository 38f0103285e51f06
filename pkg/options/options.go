package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option struct: validation plus flag
// registration. Option structs also carry mapstructure tags so a whole
// aggregate can be loaded from a viper config file.
type IOptions interface {
	// Validate checks the option values and returns all problems found.
	Validate() []error

	// AddFlags binds the options to the given flag set.
	AddFlags(fs *pflag.FlagSet)
}

// ValidateAddress checks that addr is a valid host:port string.
func ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}
