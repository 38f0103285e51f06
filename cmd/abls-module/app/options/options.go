package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/robotsgofarming/abls/internal/module/agent"
	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/pkg/app"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
)

// ModuleOptions aggregates everything the module binary is configured with.
type ModuleOptions struct {
	// Role is this module's position on the boom: left, centre or right.
	Role string `json:"role" mapstructure:"role"`

	// SenderID identifies this module in packet headers.
	SenderID uint8 `json:"sender-id" mapstructure:"sender-id"`

	UdpOptions    *options.UdpOptions    `json:"udp" mapstructure:"udp"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	SafetyOptions *options.SafetyOptions `json:"safety" mapstructure:"safety"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.CliOptions = (*ModuleOptions)(nil)

func NewModuleOptions() *ModuleOptions {
	return &ModuleOptions{
		Role:          string(hal.RoleCentre),
		SenderID:      1,
		UdpOptions:    options.NewUdpOptions(),
		HttpOptions:   options.NewHttpOptions(),
		MqttOptions:   options.NewMqttOptions(),
		SafetyOptions: options.NewSafetyOptions(),
		Log:           log.NewOptions(),
	}
}

func (o *ModuleOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Role, "role", o.Role, "Boom position of this module (left, centre, right).")
	fs.Uint8Var(&o.SenderID, "sender-id", o.SenderID, "Module identifier used in packet headers.")
	o.UdpOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.MqttOptions.AddFlags(fs)
	o.SafetyOptions.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *ModuleOptions) Validate() []error {
	var errs []error
	if _, err := hal.ParseRole(o.Role); err != nil {
		errs = append(errs, err)
	}
	if o.SenderID == 0 {
		errs = append(errs, fmt.Errorf("sender-id must be non-zero"))
	}
	errs = append(errs, o.UdpOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.SafetyOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errs
}

// Config turns the validated options into the agent's runtime configuration.
func (o *ModuleOptions) Config() (*agent.Config, error) {
	role, err := hal.ParseRole(o.Role)
	if err != nil {
		return nil, err
	}
	return &agent.Config{
		Role:          role,
		SenderID:      o.SenderID,
		UdpOptions:    o.UdpOptions,
		HttpOptions:   o.HttpOptions,
		MqttOptions:   o.MqttOptions,
		SafetyOptions: o.SafetyOptions,
	}, nil
}
