// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/livetrack/internal/session"
)

// ConnectRedis returns nil when addr is empty.
func ConnectRedis(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// Redis publishes each snapshot on tracker:<device>:state and keeps the
// last one under tracker:<device>:latest for late readers.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, state session.State) error {
	payload, err := Encode(state)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, LatestKey(state.DeviceID), payload, 0)
	pipe.Publish(ctx, StateChannel(state.DeviceID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", state.DeviceID, err)
	}
	return nil
}

func StateChannel(deviceID string) string {
	return "tracker:" + deviceID + ":state"
}

func LatestKey(deviceID string) string {
	return "tracker:" + deviceID + ":latest"
}

// DeviceFromChannel extracts the device id from a state channel name.
func DeviceFromChannel(ch string) string {
	// tracker:{device}:state
	const prefix = "tracker:"
	const suffix = ":state"
	if !strings.HasPrefix(ch, prefix) || !strings.HasSuffix(ch, suffix) || len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
