// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package publish mirrors session state snapshots to external systems.
package publish

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/session"
)

// Sink receives every state change of the tracked session.
type Sink interface {
	Publish(ctx context.Context, state session.State) error
	Name() string
}

// Encode is the wire form shared by every sink.
func Encode(state session.State) ([]byte, error) {
	return json.Marshal(state)
}

// Forward copies states from sub to every sink until ctx is done or the
// subscription is closed. A failing sink is logged and does not stop the
// others.
func Forward(ctx context.Context, sub *session.Subscription, sinks ...Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-sub.C:
			if !ok {
				return
			}
			for _, s := range sinks {
				if err := s.Publish(ctx, state); err != nil {
					log.Warnf("publish: %s: %v", s.Name(), err)
				}
			}
		}
	}
}
