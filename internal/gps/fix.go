// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gps turns NMEA output of a serial GPS receiver into position
// fixes that can be submitted to the backend.
package gps

import (
	"time"

	"github.com/relabs-tech/livetrack/internal/backend"
)

// KnotsToKmh converts NMEA speed over ground to km/h.
const KnotsToKmh = 1.852

// Fix is one combined GPS fix. RMC provides position, speed and course; the
// most recent GGA contributes altitude.
type Fix struct {
	Time        time.Time `json:"time"`
	Latitude    float64   `json:"lat"`        // decimal degrees
	Longitude   float64   `json:"lon"`        // decimal degrees
	SpeedKmh    float64   `json:"speed_kmh"`  // speed over ground
	CourseDeg   float64   `json:"course_deg"` // course over ground
	AltitudeM   float64   `json:"altitude_m"` // from GGA, 0 until seen
	Satellites  int64     `json:"satellites"` // from GGA
	HasAltitude bool      `json:"has_altitude"`
}

// Submission builds the backend payload for this fix.
func (f Fix) Submission(deviceID string) backend.Submission {
	s := backend.Submission{
		DeviceID:  deviceID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Speed:     f.SpeedKmh,
		Heading:   normalizeCourse(f.CourseDeg),
	}
	if f.HasAltitude {
		alt := f.AltitudeM
		s.Altitude = &alt
	}
	return s
}

// normalizeCourse maps a course into [0, 360).
func normalizeCourse(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}
