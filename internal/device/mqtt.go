package device

import (
	"context"
	"fmt"
	"net/http"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/errs"
)

// Publisher sends a single MQTT message.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTRelay switches the plug by publishing "on"/"off" to its command topic.
type MQTTRelay struct {
	pub   Publisher
	topic string
}

// NewMQTTRelay creates a relay that publishes to topic.
func NewMQTTRelay(pub Publisher, topic string) *MQTTRelay {
	return &MQTTRelay{pub: pub, topic: topic}
}

// SetRelay reports http.StatusOK once the broker acknowledged the command.
func (r *MQTTRelay) SetRelay(ctx context.Context, mode Mode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.KindDeviceUnavailable, "relay command cancelled", err)
	}
	if err := r.pub.Publish(r.topic, []byte(mode)); err != nil {
		return 0, errs.Wrap(errs.KindDeviceUnavailable, "relay command not delivered", err)
	}
	return http.StatusOK, nil
}

// PahoPublisher publishes to a real MQTT broker.
type PahoPublisher struct {
	client  paho.Client
	timeout time.Duration
}

// NewPahoPublisher connects to the broker configured for the relay.
func NewPahoPublisher(cfg config.RelayConfig, timeout time.Duration) (*PahoPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &PahoPublisher{client: client, timeout: timeout}, nil
}

// Publish sends payload with QoS 1, not retained.
func (p *PahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *PahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
