// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/telemetry"
)

// frameRelay republishes stored samples as gps_update frames on
// TOPIC_GPS_UPDATES, for trackers that use the MQTT push transport.
type frameRelay struct {
	client mqtt.Client
	topic  string
}

// newFrameRelay returns nil when the push transport is not MQTT.
func newFrameRelay(cfg *config.Config, role string) (*frameRelay, error) {
	if cfg.PushTransport != config.TransportMQTT {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("livetrack-" + role + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Infof("%s: relaying frames to MQTT broker at %s", role, cfg.MQTTBroker)
	return &frameRelay{client: client, topic: cfg.TopicGPSUpdates}, nil
}

// Relay publishes the sample the backend stored last for deviceID, so a
// tracker that later pulls the same sample sees it as already merged.
func (r *frameRelay) Relay(ctx context.Context, src latestSource, deviceID string) error {
	frame, ok, err := storedFrame(ctx, src, deviceID)
	if err != nil || !ok {
		return err
	}
	topic := strings.ReplaceAll(r.topic, conn.DevicePlaceholder, deviceID)
	token := r.client.Publish(topic, 0, false, frame)
	token.Wait()
	return token.Error()
}

func (r *frameRelay) Close() {
	r.client.Disconnect(250)
}

type latestSource interface {
	Latest(ctx context.Context, deviceID string) ([]byte, error)
}

// storedFrame wraps the backend's latest document for deviceID in a
// gps_update frame. ok is false when the backend has nothing stored.
func storedFrame(ctx context.Context, src latestSource, deviceID string) ([]byte, bool, error) {
	raw, err := src.Latest(ctx, deviceID)
	if err != nil {
		return nil, false, fmt.Errorf("fetch stored sample: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	frame, err := telemetry.NewGPSUpdateFrame(json.RawMessage(raw))
	if err != nil {
		return nil, false, fmt.Errorf("%w: stored sample: %v", telemetry.ErrMalformed, err)
	}
	return frame, true, nil
}
