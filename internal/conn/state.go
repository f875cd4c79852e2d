// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package conn

import "fmt"

// ConnectivityState is the coarse health of the push channel.
type ConnectivityState int

const (
	// Uninitialized only exists before Start is first called.
	Uninitialized ConnectivityState = iota
	Connecting
	Connected
	Disconnected
)

var stateNames = map[ConnectivityState]string{
	Uninitialized: "uninitialized",
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnected:  "disconnected",
}

func (s ConnectivityState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectivityState(%d)", int(s))
}

func (s ConnectivityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectivityState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connectivity state %q", string(text))
}
