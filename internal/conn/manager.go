// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package conn owns the push channel lifecycle: dialing, forwarding frames,
// detecting drops and scheduling reconnects.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// ErrChannelClosed is returned by Channel.ReadFrame after Close.
var ErrChannelClosed = errors.New("push channel closed")

// Channel is one open push subscription. ReadFrame blocks until a frame
// arrives or the channel fails; Close must unblock a pending ReadFrame.
type Channel interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer opens a push subscription for a device.
type Dialer interface {
	Dial(ctx context.Context, deviceID string) (Channel, error)
}

// Handlers receive the manager's output. Both run on the manager goroutine,
// so frames arrive one at a time in arrival order.
type Handlers struct {
	OnFrame func(frame []byte)
	OnState func(state ConnectivityState)
}

// Manager keeps exactly one logical push subscription alive.
type Manager struct {
	dialer     Dialer
	newBackOff func() backoff.BackOff

	mu       sync.Mutex
	deviceID string
	cancel   context.CancelFunc
	done     chan struct{}

	stateMu sync.RWMutex
	state   ConnectivityState
}

// NewManager creates a manager. newBackOff is called once per Start so each
// session gets a fresh policy; nil means the constant reference delay.
func NewManager(dialer Dialer, newBackOff func() backoff.BackOff) *Manager {
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff { return NewReconnectBackOff(DefaultReconnectDelay, 0) }
	}
	return &Manager{dialer: dialer, newBackOff: newBackOff}
}

// Start subscribes to deviceID. Calling it again for the same device is a
// no-op; for another device the old subscription is torn down first.
func (m *Manager) Start(deviceID string, h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		if m.deviceID == deviceID {
			return
		}
		log.Infof("conn: switching push subscription %s -> %s", m.deviceID, deviceID)
		m.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.deviceID = deviceID
	m.cancel = cancel
	m.done = done

	go m.run(ctx, deviceID, h, done)
}

// Stop closes the channel, cancels any pending reconnect and waits for the
// loop to exit. No handler runs after Stop returns. Safe from any state.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	m.cancel = nil
	m.done = nil
	m.deviceID = ""

	m.stateMu.Lock()
	m.state = Disconnected
	m.stateMu.Unlock()
}

// State reports the current connectivity.
func (m *Manager) State() ConnectivityState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// DeviceID is the device currently subscribed, or "" when stopped.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

func (m *Manager) run(ctx context.Context, deviceID string, h Handlers, done chan struct{}) {
	defer close(done)

	policy := m.newBackOff()

	for {
		m.setState(ctx, h, Connecting)

		ch, err := m.dialer.Dial(ctx, deviceID)
		if err == nil {
			log.Infof("conn: push channel open for %s", deviceID)
			m.setState(ctx, h, Connected)
			policy.Reset()
			err = m.pump(ctx, ch, h)
		}

		if ctx.Err() != nil {
			return
		}

		m.setState(ctx, h, Disconnected)

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			delay = DefaultReconnectDelay
		}
		log.Warnf("conn: push channel for %s down (%v), retrying in %s", deviceID, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pump forwards frames until the channel fails or ctx is cancelled.
func (m *Manager) pump(ctx context.Context, ch Channel, h Handlers) error {
	stopClose := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer func() {
		if stopClose() {
			_ = ch.Close()
		}
	}()

	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if h.OnFrame != nil {
			h.OnFrame(frame)
		}
	}
}

func (m *Manager) setState(ctx context.Context, h Handlers, state ConnectivityState) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if h.OnState != nil {
		h.OnState(state)
	}
}
