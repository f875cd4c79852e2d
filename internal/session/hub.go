// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"sync"
)

// Subscription receives state snapshots on C until Unsubscribe.
type Subscription struct {
	C <-chan State

	ch  chan State
	hub *Hub
}

// Unsubscribe detaches the subscription and closes C.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s)
}

// Hub fans state changes out to subscribers. Publishing never blocks: a
// subscriber whose queue is full loses its oldest pending state.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped int
}

func NewHub() *Hub {
	return &Hub{subs: map[*Subscription]struct{}{}}
}

// Subscribe registers a subscriber with a queue of the given size (min 1).
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish sends a copy of state to every subscriber.
func (h *Hub) Publish(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		snapshot := state.clone()
		select {
		case sub.ch <- snapshot:
			continue
		default:
		}

		// Queue full: drop the oldest so the newest state lands.
		select {
		case <-sub.ch:
			h.dropped++
		default:
		}
		select {
		case sub.ch <- snapshot:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts states discarded because a subscriber fell behind.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
