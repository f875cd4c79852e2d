// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameTypeGPSUpdate is the only push frame type carrying a sample.
const FrameTypeGPSUpdate = "gps_update"

// ErrUnsupportedFrame is returned for well-formed frames of another type.
var ErrUnsupportedFrame = errors.New("unsupported frame type")

// Frame is the push channel envelope.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewGPSUpdateFrame wraps a sample payload in a gps_update envelope.
func NewGPSUpdateFrame(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: FrameTypeGPSUpdate, Data: raw})
}

// IngestFrame unwraps a push frame and ingests its data as a push sample.
func (in *Ingress) IngestFrame(frame []byte, previous *LocationSample) (LocationSample, error) {
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return LocationSample{}, fmt.Errorf("%w: bad frame: %v", ErrMalformed, err)
	}
	if f.Type != FrameTypeGPSUpdate {
		return LocationSample{}, fmt.Errorf("%w: %q", ErrUnsupportedFrame, f.Type)
	}
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return LocationSample{}, fmt.Errorf("%w: frame has no data", ErrMalformed)
	}
	return in.Ingest(f.Data, SourcePush, previous)
}
