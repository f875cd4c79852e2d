// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "fmt"

// MovementStatus is the movement state derived from a sample's speed.
type MovementStatus int

const (
	// Unknown is the status before any valid sample has been seen.
	Unknown MovementStatus = iota
	Stationary
	Moving
	Overspeed
)

// Reference thresholds.
const (
	DefaultOverspeedKmh = 80.0
	DefaultMovingKmh    = 1.0
)

var statusNames = map[MovementStatus]string{
	Unknown:    "unknown",
	Stationary: "stationary",
	Moving:     "moving",
	Overspeed:  "overspeed",
}

func (s MovementStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("MovementStatus(%d)", int(s))
}

func (s MovementStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MovementStatus) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown movement status %q", string(text))
}

// Classifier maps a sample to a MovementStatus using speed thresholds.
// The zero value is not useful; use NewClassifier or DefaultClassifier.
type Classifier struct {
	OverspeedKmh float64
	MovingKmh    float64
}

func NewClassifier(overspeedKmh, movingKmh float64) Classifier {
	return Classifier{OverspeedKmh: overspeedKmh, MovingKmh: movingKmh}
}

func DefaultClassifier() Classifier {
	return NewClassifier(DefaultOverspeedKmh, DefaultMovingKmh)
}

// Classify checks overspeed first, then moving, else stationary.
// previous is accepted for trend-based refinements; the current rules only
// look at the sample's own speed.
func (c Classifier) Classify(sample LocationSample, previous *LocationSample) MovementStatus {
	switch {
	case sample.SpeedKmh > c.OverspeedKmh:
		return Overspeed
	case sample.SpeedKmh > c.MovingKmh:
		return Moving
	default:
		return Stationary
	}
}

// Classify uses the reference thresholds.
func Classify(sample LocationSample, previous *LocationSample) MovementStatus {
	return DefaultClassifier().Classify(sample, previous)
}
