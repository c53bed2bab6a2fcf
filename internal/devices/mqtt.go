package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// Publisher forwards applied commands to real hardware.
type Publisher interface {
	Publish(ctx context.Context, cmd Command) error
}

// MQTTPublisher publishes commands as JSON to <prefix>/<deviceId>/set.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

// NewMQTTPublisher connects to broker and returns a publisher. The client
// reconnects on its own after the initial connection.
func NewMQTTPublisher(broker, clientID, prefix string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	log.Printf("mqtt: connected to %s", broker)

	return NewMQTTPublisherWithClient(c, prefix), nil
}

func NewMQTTPublisherWithClient(c mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: c, prefix: strings.TrimSuffix(prefix, "/")}
}

func (p *MQTTPublisher) Topic(deviceID string) string {
	return p.prefix + "/" + deviceID + "/set"
}

func (p *MQTTPublisher) Publish(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	token := p.client.Publish(p.Topic(cmd.DeviceID), 1, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", cmd.DeviceID)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
