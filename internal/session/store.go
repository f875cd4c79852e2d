// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session holds the single source of truth for a tracked device:
// the current sample, the recent history window and push connectivity.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/telemetry"
)

var (
	// ErrStaleSample means the sample is not newer than the current one.
	// It is expected during normal operation and only counted.
	ErrStaleSample = errors.New("stale sample")

	// ErrDeviceMismatch means the sample belongs to another device.
	ErrDeviceMismatch = errors.New("sample belongs to another device")

	// ErrSessionClosed is returned once the session has ended.
	ErrSessionClosed = errors.New("session closed")
)

// Counters are merge outcomes kept for diagnostics.
type Counters struct {
	Accepted   int `json:"accepted"`
	Stale      int `json:"stale"`
	Mismatched int `json:"mismatched"`
}

// Store is the only writer of a session's State. Every mutation happens
// under one mutex, and the change notification is emitted before the lock
// is released so observers see changes in merge order.
type Store struct {
	mu          sync.Mutex
	state       State
	historySize int
	notify      func(State)
	counters    Counters
	closed      bool
	now         func() time.Time
}

// NewStore starts a session for deviceID with no current sample, an empty
// history and Connecting connectivity. notify may be nil.
func NewStore(deviceID string, historySize int, notify func(State)) *Store {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	now := time.Now
	return &Store{
		state: State{
			SessionID:    uuid.NewString(),
			DeviceID:     deviceID,
			History:      []telemetry.LocationSample{},
			Connectivity: conn.Connecting,
			UpdatedAt:    now().UTC(),
		},
		historySize: historySize,
		notify:      notify,
		now:         now,
	}
}

// Merge applies sample if it is strictly newer than the current one. It is
// all-or-nothing: on any error the state is untouched and nobody is notified.
func (s *Store) Merge(sample telemetry.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if sample.DeviceID != s.state.DeviceID {
		s.counters.Mismatched++
		return fmt.Errorf("%w: got %q, tracking %q", ErrDeviceMismatch, sample.DeviceID, s.state.DeviceID)
	}
	if cur := s.state.Current; cur != nil && !sample.Timestamp.After(cur.Timestamp) {
		s.counters.Stale++
		return fmt.Errorf("%w: %s is not after %s", ErrStaleSample,
			sample.Timestamp.Format(time.RFC3339Nano), cur.Timestamp.Format(time.RFC3339Nano))
	}

	accepted := sample.Clone()

	keep := len(s.state.History)
	if keep > s.historySize-1 {
		keep = s.historySize - 1
	}
	history := make([]telemetry.LocationSample, 0, keep+1)
	history = append(history, accepted.Clone())
	history = append(history, s.state.History[:keep]...)

	s.state.Trip = s.state.Trip.add(s.state.Current, accepted)
	s.state.Current = &accepted
	s.state.History = history
	s.state.UpdatedAt = s.now().UTC()
	s.counters.Accepted++

	s.emit()
	return nil
}

// SetConnectivity records a push channel transition. It never touches the
// current sample or the history.
func (s *Store) SetConnectivity(state conn.ConnectivityState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state.Connectivity == state {
		return
	}
	s.state.Connectivity = state
	s.state.UpdatedAt = s.now().UTC()
	s.emit()
}

func (s *Store) emit() {
	if s.notify != nil {
		s.notify(s.state.clone())
	}
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Current returns a copy of the latest accepted sample, or nil.
func (s *Store) Current() *telemetry.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Current == nil {
		return nil
	}
	c := s.state.Current.Clone()
	return &c
}

func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Store) DeviceID() string {
	return s.state.DeviceID
}

func (s *Store) SessionID() string {
	return s.state.SessionID
}

// Close ends the session. Later merges fail with ErrSessionClosed and
// connectivity changes are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
