// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/publish"
	"github.com/relabs-tech/livetrack/internal/telemetry"
	"github.com/relabs-tech/livetrack/internal/tracker"
)

// pushKeepAlive pings the websocket push channel so silent drops are seen.
const pushKeepAlive = 20 * time.Second

// newDialer picks the push transport from the config.
func newDialer(cfg *config.Config) (conn.Dialer, error) {
	switch cfg.PushTransport {
	case config.TransportWebsocket:
		return &conn.WebsocketDialer{URL: cfg.PushURL, Token: cfg.AuthToken, KeepAlive: pushKeepAlive}, nil
	case config.TransportMQTT:
		return &conn.MQTTDialer{Broker: cfg.MQTTBroker, ClientID: cfg.MQTTClientIDTracker, Topic: cfg.TopicGPSUpdates}, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.PushTransport)
	}
}

// newEngine builds a tracker wired to the backend described by cfg.
func newEngine(cfg *config.Config) (*tracker.Tracker, *backend.Client, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, nil, err
	}

	delay, maxDelay := cfg.ReconnectDelay(), cfg.ReconnectMaxDelay()
	manager := conn.NewManager(dialer, func() backoff.BackOff {
		return conn.NewReconnectBackOff(delay, maxDelay)
	})

	classifier := telemetry.NewClassifier(cfg.OverspeedKmh, cfg.MovingKmh)
	ingress := telemetry.NewIngress(classifier, cfg.ClockSkew())
	client := backend.NewClient(cfg.BackendURL, cfg.AuthToken, cfg.RequestTimeout())

	tr := tracker.New(manager, client, ingress, tracker.Options{
		HistorySize:  cfg.HistorySize,
		HistoryLimit: cfg.HistoryLimit,
		PollInterval: cfg.PollInterval(),
		InitialFetch: true,
	})
	log.Infof("engine: push via %s, backend %s", cfg.PushTransport, cfg.BackendURL)
	return tr, client, nil
}

// startSinks mirrors state changes to Redis and MQTT when they are
// reachable. The returned func stops forwarding and releases connections.
func startSinks(ctx context.Context, cfg *config.Config, tr *tracker.Tracker) func() {
	var (
		sinks   []publish.Sink
		closers []func()
	)

	if rdb := publish.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword); rdb != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warnf("engine: redis %s unreachable, state not mirrored: %v", cfg.RedisAddr, err)
			_ = rdb.Close()
		} else {
			log.Infof("engine: mirroring state to redis %s", cfg.RedisAddr)
			sinks = append(sinks, publish.NewRedis(rdb))
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	if cfg.MQTTBroker != "" && cfg.TopicState != "" {
		connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		m, err := publish.ConnectMQTT(connCtx, cfg.MQTTBroker, cfg.MQTTClientIDTracker+"-state", cfg.TopicState)
		cancel()
		if err != nil {
			log.Warnf("engine: MQTT state publishing disabled: %v", err)
		} else {
			sinks = append(sinks, m)
			closers = append(closers, m.Close)
		}
	}

	if len(sinks) == 0 {
		return func() {}
	}

	fwdCtx, stop := context.WithCancel(ctx)
	sub := tr.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		publish.Forward(fwdCtx, sub, sinks...)
	}()

	return func() {
		stop()
		<-done
		sub.Unsubscribe()
		for _, c := range closers {
			c()
		}
	}
}
