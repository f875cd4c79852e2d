// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/session"
)

// MQTT publishes retained state snapshots, one topic per device.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// ConnectMQTT connects to broker and returns a publisher for topic. The
// topic may contain {device_id}; otherwise the device id is appended.
func ConnectMQTT(ctx context.Context, broker, clientID, topic string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	log.Infof("publish: connected to MQTT broker at %s", broker)
	return &MQTT{client: client, topic: topic}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Publish(ctx context.Context, state session.State) error {
	payload, err := Encode(state)
	if err != nil {
		return err
	}

	topic := StateTopic(m.topic, state.DeviceID)
	token := m.client.Publish(topic, 0, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// StateTopic resolves the per-device state topic.
func StateTopic(base, deviceID string) string {
	if strings.Contains(base, conn.DevicePlaceholder) {
		return strings.ReplaceAll(base, conn.DevicePlaceholder, deviceID)
	}
	return strings.TrimRight(base, "/") + "/" + deviceID
}
