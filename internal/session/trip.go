// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"github.com/relabs-tech/livetrack/internal/geo"
	"github.com/relabs-tech/livetrack/internal/telemetry"
)

// add folds one accepted sample into the stats. prev is the sample it
// replaces as current, nil for the first one.
func (t TripStats) add(prev *telemetry.LocationSample, s telemetry.LocationSample) TripStats {
	if prev != nil {
		t.DistanceKm += geo.HaversineKm(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
	}

	t.AvgSpeedKmh = (t.AvgSpeedKmh*float64(t.Samples) + s.SpeedKmh) / float64(t.Samples+1)
	t.Samples++

	if s.SpeedKmh > t.MaxSpeedKmh {
		t.MaxSpeedKmh = s.SpeedKmh
	}
	if s.Status == telemetry.Overspeed {
		t.OverspeedCount++
	}
	return t
}
