// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: -6.2088, lng1: 106.8456,
			lat2: -6.2088, lng2: 106.8456,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "Monas to Bundaran HI (~2.3km)",
			lat1: -6.1754, lng1: 106.8272,
			lat2: -6.1950, lng2: 106.8230,
			wantKm:    2.2,
			tolerance: 0.3,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := HaversineKm(-6.0, 106.0, -7.0, 107.0)
	d2 := HaversineKm(-7.0, 107.0, -6.0, 106.0)
	assert.InDelta(t, d1, d2, 0.0001)
}
