package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*UdpOptions)(nil)

// UdpOptions configures the fixed-layout UDP control protocol: the command
// socket the module listens on and the operator console the status packets
// are sent back to.
type UdpOptions struct {
	// CommandPort is the UDP port for incoming update command packets.
	CommandPort int `json:"command-port" mapstructure:"command-port"`

	// StatusPort is the UDP port on the operator console that status
	// packets are sent to.
	StatusPort int `json:"status-port" mapstructure:"status-port"`

	// OperatorAddr is the IP address of the operator console.
	OperatorAddr string `json:"operator-addr" mapstructure:"operator-addr"`
}

// NewUdpOptions creates UdpOptions with the ABLS default port assignment.
// Ports 8001-8003 belong to the sensor, hydraulic and RTCM sockets owned by
// the collaborator subsystems.
func NewUdpOptions() *UdpOptions {
	return &UdpOptions{
		CommandPort:  8004,
		StatusPort:   8005,
		OperatorAddr: "10.0.0.100",
	}
}

func (o *UdpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	for _, port := range []int{o.CommandPort, o.StatusPort} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("invalid UDP port %d", port))
		}
	}

	if o.OperatorAddr == "" {
		errs = append(errs, fmt.Errorf("operator address must not be empty"))
	}

	return errs
}

func (o *UdpOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.CommandPort, "udp.command-port", o.CommandPort, "UDP port to listen on for update command packets.")
	fs.IntVar(&o.StatusPort, "udp.status-port", o.StatusPort, "UDP port on the operator console for status packets.")
	fs.StringVar(&o.OperatorAddr, "udp.operator-addr", o.OperatorAddr, "IP address of the operator console.")
}
