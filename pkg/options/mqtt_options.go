package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the optional MQTT telemetry publisher. When Broker
// is empty, telemetry is disabled and diagnostics go to the log only.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// InsecureSkipVerify disables TLS certificate verification. Test rigs only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every telemetry topic: {TopicRoot}/{module}/{...}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates MqttOptions with default values. Telemetry is off
// by default; field installations opt in with --mqtt.broker.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		TopicRoot:      "abls/v1",
	}
}

func (o *MqttOptions) Validate() []error {
	return nil
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "URL of the MQTT broker; empty disables telemetry.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "Username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "Password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit client ID (optional, usually generated).")
	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT keep alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic prefix for telemetry publishes.")
}
