// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package conn

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultReconnectDelay is the reference constant wait between attempts.
const DefaultReconnectDelay = 3 * time.Second

// NewReconnectBackOff returns a constant policy when maxDelay <= delay and a
// bounded exponential policy (doubling, no jitter, never giving up) otherwise.
func NewReconnectBackOff(delay, maxDelay time.Duration) backoff.BackOff {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if maxDelay <= delay {
		return backoff.NewConstantBackOff(delay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
