package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SafetyOptions)(nil)

// SafetyOptions holds the thresholds the update safety gate evaluates before
// and during any destructive flash operation.
type SafetyOptions struct {
	// StationarySpeedThreshold is the GPS ground speed (m/s) below which the
	// machine counts as stationary.
	StationarySpeedThreshold float64 `json:"stationary-speed-threshold" mapstructure:"stationary-speed-threshold"`

	// HydraulicIdleTimeout is how long the hydraulics must have been inactive.
	HydraulicIdleTimeout time.Duration `json:"hydraulic-idle-timeout" mapstructure:"hydraulic-idle-timeout"`

	// MinimumVoltage is the lowest supply voltage at which flashing is allowed.
	MinimumVoltage float64 `json:"minimum-voltage" mapstructure:"minimum-voltage"`

	// CheckInterval is the cadence of the continuous safety monitor while an
	// update is active.
	CheckInterval time.Duration `json:"check-interval" mapstructure:"check-interval"`
}

func NewSafetyOptions() *SafetyOptions {
	return &SafetyOptions{
		StationarySpeedThreshold: 0.1,
		HydraulicIdleTimeout:     5 * time.Second,
		MinimumVoltage:           11.5,
		CheckInterval:            time.Second,
	}
}

func (o *SafetyOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.StationarySpeedThreshold < 0 {
		errs = append(errs, fmt.Errorf("stationary speed threshold must not be negative"))
	}
	if o.MinimumVoltage <= 0 {
		errs = append(errs, fmt.Errorf("minimum voltage must be positive"))
	}
	if o.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("safety check interval must be positive"))
	}

	return errs
}

func (o *SafetyOptions) AddFlags(fs *pflag.FlagSet) {
	fs.Float64Var(&o.StationarySpeedThreshold, "safety.stationary-speed-threshold", o.StationarySpeedThreshold, "Ground speed (m/s) below which the machine is stationary.")
	fs.DurationVar(&o.HydraulicIdleTimeout, "safety.hydraulic-idle-timeout", o.HydraulicIdleTimeout, "Required hydraulic idle time before flashing.")
	fs.Float64Var(&o.MinimumVoltage, "safety.minimum-voltage", o.MinimumVoltage, "Minimum supply voltage (V) for a safe update.")
	fs.DurationVar(&o.CheckInterval, "safety.check-interval", o.CheckInterval, "Cadence of the continuous safety monitor during updates.")
}
