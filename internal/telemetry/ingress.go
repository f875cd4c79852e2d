// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed is returned for payloads that fail decoding or validation.
var ErrMalformed = errors.New("malformed sample")

// DefaultClockSkew is how far in the future a timestamp may be before the
// sample is rejected.
const DefaultClockSkew = 5 * time.Second

// Ingress is the single funnel from raw payloads to LocationSample values.
// It keeps no state between calls.
type Ingress struct {
	classifier Classifier
	clockSkew  time.Duration
	now        func() time.Time
}

// NewIngress builds an Ingress with the given classifier and skew tolerance.
func NewIngress(classifier Classifier, clockSkew time.Duration) *Ingress {
	return &Ingress{
		classifier: classifier,
		clockSkew:  clockSkew,
		now:        time.Now,
	}
}

// WithClock replaces the wall clock used for the future-timestamp check.
func (in *Ingress) WithClock(now func() time.Time) *Ingress {
	in.now = now
	return in
}

// Ingest decodes and validates raw, then stamps the movement status using
// previous (the device's last accepted sample, or nil).
func (in *Ingress) Ingest(raw []byte, source Source, previous *LocationSample) (LocationSample, error) {
	sample, err := in.Decode(raw, source)
	if err != nil {
		return LocationSample{}, err
	}
	return in.Stamp(sample, previous), nil
}

// Stamp sets sample.Status from the classifier.
func (in *Ingress) Stamp(sample LocationSample, previous *LocationSample) LocationSample {
	sample.Status = in.classifier.Classify(sample, previous)
	return sample
}

// Decode parses and validates raw without classifying it. The returned
// sample has Status Unknown.
func (in *Ingress) Decode(raw []byte, source Source) (LocationSample, error) {
	var r rawSample
	if err := json.Unmarshal(raw, &r); err != nil {
		return LocationSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in.validate(r, source)
}

func (in *Ingress) validate(r rawSample, source Source) (LocationSample, error) {
	if r.DeviceID == "" {
		return LocationSample{}, fmt.Errorf("%w: device_id is required", ErrMalformed)
	}
	if r.Latitude == nil || r.Longitude == nil {
		return LocationSample{}, fmt.Errorf("%w: latitude and longitude are required", ErrMalformed)
	}
	lat, lon := *r.Latitude, *r.Longitude
	if !finite(lat) || lat < -90 || lat > 90 {
		return LocationSample{}, fmt.Errorf("%w: latitude %v out of range", ErrMalformed, lat)
	}
	if !finite(lon) || lon < -180 || lon > 180 {
		return LocationSample{}, fmt.Errorf("%w: longitude %v out of range", ErrMalformed, lon)
	}

	speed := 0.0
	if r.Speed != nil {
		speed = *r.Speed
	}
	if !finite(speed) || speed < 0 {
		return LocationSample{}, fmt.Errorf("%w: speed %v must be >= 0", ErrMalformed, speed)
	}

	if r.Heading != nil && (!finite(*r.Heading) || *r.Heading < 0 || *r.Heading >= 360) {
		return LocationSample{}, fmt.Errorf("%w: heading %v out of range", ErrMalformed, *r.Heading)
	}
	if r.Altitude != nil && !finite(*r.Altitude) {
		return LocationSample{}, fmt.Errorf("%w: altitude is not finite", ErrMalformed)
	}

	if r.Timestamp == "" {
		return LocationSample{}, fmt.Errorf("%w: timestamp is required", ErrMalformed)
	}
	ts, ok := parseTimestamp(r.Timestamp)
	if !ok {
		return LocationSample{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, r.Timestamp)
	}
	if limit := in.now().Add(in.clockSkew); ts.After(limit) {
		return LocationSample{}, fmt.Errorf("%w: timestamp %s is in the future", ErrMalformed, ts.Format(time.RFC3339))
	}

	return LocationSample{
		DeviceID:   r.DeviceID,
		Latitude:   lat,
		Longitude:  lon,
		SpeedKmh:   speed,
		Altitude:   r.Altitude,
		HeadingDeg: r.Heading,
		Timestamp:  ts,
		Address:    r.Address,
		Status:     Unknown,
		Source:     source,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
