// Package mqtt is a thin publisher over paho with automatic reconnect, used
// for the module's optional telemetry feed. The module never subscribes:
// commands arrive over the UDP protocol, telemetry leaves over MQTT.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/robotsgofarming/abls/pkg/log"
)

// Config describes the broker connection.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default 60.
	KeepAlive uint16

	// ConnectTimeout for the initial connection. Default 5s.
	ConnectTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification for field
	// deployments running self-signed broker certs.
	InsecureSkipVerify bool

	// WillTopic, when set, is published with WillPayload (retained) by the
	// broker if the module drops off the network.
	WillTopic   string
	WillPayload []byte
}

func (c *Config) validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}
}

// Publisher is the connection-managed publishing side of an MQTT client.
type Publisher interface {
	Start(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
	IsConnected() bool
	Disconnect(ctx context.Context)
}

type pahoPublisher struct {
	cfg Config
	cm  *autopaho.ConnectionManager
}

// NewPublisher builds an unconnected publisher; Start opens the connection.
func NewPublisher(cfg Config) (Publisher, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}
	return &pahoPublisher{cfg: cfg}, nil
}

func (p *pahoPublisher) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(p.cfg.BrokerURL)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:       []*url.URL{brokerURL},
		KeepAlive:        p.cfg.KeepAlive,
		ReconnectBackoff: autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:   p.cfg.ConnectTimeout,
		ConnectUsername:  p.cfg.Username,
		ConnectPassword:  []byte(p.cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: p.cfg.InsecureSkipVerify,
		},
		WillMessage: p.willMessage(),
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			log.Info("Telemetry broker connected", "broker", p.cfg.BrokerURL)
		},
		OnConnectError: func(err error) {
			log.Warn("Telemetry broker connection failed", "broker", p.cfg.BrokerURL, "err", err)
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return err
	}
	p.cm = cm
	return nil
}

func (p *pahoPublisher) willMessage() *paho.WillMessage {
	if p.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   p.cfg.WillTopic,
		QoS:     1,
		Retain:  true,
		Payload: p.cfg.WillPayload,
	}
}

func (p *pahoPublisher) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if p.cm == nil {
		return errors.New("publisher not started")
	}
	_, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (p *pahoPublisher) IsConnected() bool {
	if p.cm == nil {
		return false
	}
	select {
	case <-p.cm.Done():
		return false
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	return p.cm.AwaitConnection(ctx) == nil
}

func (p *pahoPublisher) Disconnect(ctx context.Context) {
	if p.cm != nil {
		_ = p.cm.Disconnect(ctx)
		log.Info("Telemetry broker disconnected")
	}
}
