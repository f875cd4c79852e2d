// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry turns raw backend payloads into canonical location
// samples and derives their movement status.
package telemetry

import (
	"time"
)

// Source tells which channel a sample arrived on. It is informational only.
type Source string

const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// LocationSample is a single validated telemetry reading.
type LocationSample struct {
	DeviceID   string         `json:"device_id"`
	Latitude   float64        `json:"latitude"`  // decimal degrees
	Longitude  float64        `json:"longitude"` // decimal degrees
	SpeedKmh   float64        `json:"speed"`
	Altitude   *float64       `json:"altitude,omitempty"` // metres
	HeadingDeg *float64       `json:"heading,omitempty"`  // [0, 360)
	Timestamp  time.Time      `json:"timestamp"`
	Address    string         `json:"address,omitempty"`
	Status     MovementStatus `json:"status"`
	Source     Source         `json:"source"`
}

// Clone returns a copy that shares no pointers with s.
func (s LocationSample) Clone() LocationSample {
	out := s
	if s.Altitude != nil {
		v := *s.Altitude
		out.Altitude = &v
	}
	if s.HeadingDeg != nil {
		v := *s.HeadingDeg
		out.HeadingDeg = &v
	}
	return out
}

// rawSample mirrors the backend's GPS document. Pointers mark required
// fields so a missing value can be told apart from a zero one.
type rawSample struct {
	DeviceID  string   `json:"device_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed"`
	Altitude  *float64 `json:"altitude"`
	Heading   *float64 `json:"heading"`
	Timestamp string   `json:"timestamp"`
	Address   string   `json:"address"`
}

// Timestamp layouts accepted on the wire. The backend emits zone-less ISO
// timestamps in UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
