// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package conn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DevicePlaceholder in an MQTT topic is replaced by the tracked device id.
const DevicePlaceholder = "{device_id}"

// MQTTDialer subscribes to push frames relayed through an MQTT broker.
// Paho's own reconnect is disabled; the Manager owns retries.
type MQTTDialer struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string // a random suffix is appended per connection
	Topic    string // may contain {device_id}
	QoS      byte
}

func (d *MQTTDialer) Dial(ctx context.Context, deviceID string) (Channel, error) {
	ch := &mqttChannel{
		frames: make(chan []byte, 256),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(d.Broker).
		SetClientID(d.ClientID + "-" + uuid.NewString()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			ch.fail(fmt.Errorf("mqtt connection lost: %w", err))
		})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", d.Broker, err)
	}
	ch.client = client

	topic := strings.ReplaceAll(d.Topic, DevicePlaceholder, deviceID)
	if err := waitToken(ctx, client.Subscribe(topic, d.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		ch.deliver(msg.Payload())
	})); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}

	return ch, nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttChannel struct {
	client    mqtt.Client
	frames    chan []byte
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

func (c *mqttChannel) deliver(payload []byte) {
	frame := make([]byte, len(payload))
	copy(frame, payload)

	select {
	case c.frames <- frame:
	case <-c.done:
	}
}

func (c *mqttChannel) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *mqttChannel) ReadFrame() ([]byte, error) {
	// Drain queued frames before reporting a failure.
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-c.frames:
		return frame, nil
	case err := <-c.errs:
		return nil, err
	case <-c.done:
		return nil, ErrChannelClosed
	}
}

func (c *mqttChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.client != nil {
			c.client.Disconnect(250)
		}
	})
	return nil
}
