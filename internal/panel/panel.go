// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package panel renders the tracked state as a small monochrome text panel,
// sized for a 128x64 OLED.
package panel

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/livetrack/internal/session"
)

const (
	Width  = 128
	Height = 64

	lineHeight = 13
	maxChars   = Width / 7 // basicfont glyphs are 7 px wide
)

// Lines is the text shown on the panel, at most four lines.
func Lines(state session.State, ok bool) []string {
	if !ok {
		return []string{"livetrack", "", "not tracking"}
	}

	lines := []string{fmt.Sprintf("%s %s", state.DeviceID, state.Connectivity)}
	if state.Current == nil {
		return append(lines, "", "waiting for fix")
	}

	cur := state.Current
	lines = append(lines,
		fmt.Sprintf("%s %.1f", state.Status(), cur.SpeedKmh),
		fmt.Sprintf("%.4f %.4f", cur.Latitude, cur.Longitude),
		fmt.Sprintf("%s %.1fkm", cur.Timestamp.UTC().Format("15:04:05"), state.Trip.DistanceKm),
	)
	return lines
}

// Render draws the panel, white text on black.
func Render(state session.State, ok bool) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, Width, Height))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}

	for i, line := range Lines(state, ok) {
		if len(line) > maxChars {
			line = line[:maxChars]
		}
		drawer.Dot = fixed.P(0, lineHeight*(i+1))
		drawer.DrawString(line)
	}
	return img
}

// WritePNG encodes the rendered panel to w.
func WritePNG(w io.Writer, state session.State, ok bool) error {
	return png.Encode(w, Render(state, ok))
}
