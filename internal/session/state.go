// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"time"

	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/telemetry"
)

// DefaultHistorySize is the number of samples kept in the history window.
const DefaultHistorySize = 10

// TripStats summarises the accepted samples of one session.
type TripStats struct {
	Samples        int     `json:"samples"`
	DistanceKm     float64 `json:"distance_km"`
	MaxSpeedKmh    float64 `json:"max_speed_kmh"`
	AvgSpeedKmh    float64 `json:"avg_speed_kmh"`
	OverspeedCount int     `json:"overspeed_count"`
}

// State is a point-in-time view of one tracked device.
type State struct {
	SessionID    string                     `json:"session_id"`
	DeviceID     string                     `json:"device_id"`
	Current      *telemetry.LocationSample  `json:"current"`
	History      []telemetry.LocationSample `json:"history"` // newest first
	Connectivity conn.ConnectivityState     `json:"connectivity"`
	Trip         TripStats                  `json:"trip"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// Status is the current movement status, Unknown before the first sample.
func (s State) Status() telemetry.MovementStatus {
	if s.Current == nil {
		return telemetry.Unknown
	}
	return s.Current.Status
}

// clone deep-copies s so callers can never reach the store's internals.
func (s State) clone() State {
	out := s
	if s.Current != nil {
		c := s.Current.Clone()
		out.Current = &c
	}
	out.History = make([]telemetry.LocationSample, len(s.History))
	for i, h := range s.History {
		out.History[i] = h.Clone()
	}
	return out
}
