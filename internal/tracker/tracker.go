// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker wires the push channel, pull queries, ingress and the
// session store into one engine per tracked device.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/session"
	"github.com/relabs-tech/livetrack/internal/telemetry"
)

var (
	// ErrNotStarted is returned by pull operations before the first Start.
	ErrNotStarted = errors.New("tracker not started")

	// ErrStopped is returned by pull operations after Stop, including one
	// whose response arrived after Stop.
	ErrStopped = errors.New("tracker stopped")

	// ErrEmptyDevice is returned by Start without a device id.
	ErrEmptyDevice = errors.New("empty device id")

	// ErrNoPullSource is returned by pull operations on a push-only tracker.
	ErrNoPullSource = errors.New("no pull source configured")
)

// PullSource answers on-demand queries with raw backend payloads.
// *backend.Client satisfies it.
type PullSource interface {
	Latest(ctx context.Context, deviceID string) ([]byte, error)
	History(ctx context.Context, deviceID string, q backend.HistoryQuery) ([]json.RawMessage, error)
}

// Options tune a Tracker. Zero values fall back to defaults.
type Options struct {
	HistorySize  int           // samples kept in the session history
	HistoryLimit int           // entries requested per history refresh
	PollInterval time.Duration // 0 disables periodic latest-sample polling
	InitialFetch bool          // pull latest and history right after Start
}

// Tracker is safe for concurrent use.
type Tracker struct {
	manager *conn.Manager
	pull    PullSource
	ingress *telemetry.Ingress
	hub     *session.Hub
	opts    Options

	mu       sync.Mutex
	store    *session.Store
	ctx      context.Context
	cancel   context.CancelFunc
	pollDone chan struct{}
	running  bool
}

// New builds an idle tracker. pull may be nil, in which case only the push
// channel feeds the session.
func New(manager *conn.Manager, pull PullSource, ingress *telemetry.Ingress, opts Options) *Tracker {
	if opts.HistorySize < 1 {
		opts.HistorySize = session.DefaultHistorySize
	}
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = opts.HistorySize
	}
	return &Tracker{
		manager: manager,
		pull:    pull,
		ingress: ingress,
		hub:     session.NewHub(),
		opts:    opts,
	}
}

// Start begins tracking deviceID with a fresh session. Calling it for the
// device already being tracked is a no-op; for another device the running
// session is stopped first.
func (t *Tracker) Start(deviceID string) error {
	if deviceID == "" {
		return ErrEmptyDevice
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		if t.store.DeviceID() == deviceID {
			return nil
		}
		log.Infof("tracker: switching %s -> %s", t.store.DeviceID(), deviceID)
		t.stopLocked()
	}

	store := session.NewStore(deviceID, t.opts.HistorySize, t.hub.Publish)
	ctx, cancel := context.WithCancel(context.Background())

	t.store = store
	t.ctx = ctx
	t.cancel = cancel
	t.running = true

	log.Infof("tracker: session %s started for %s", store.SessionID(), deviceID)

	t.manager.Start(deviceID, conn.Handlers{
		OnFrame: func(frame []byte) { t.onFrame(store, frame) },
		OnState: store.SetConnectivity,
	})

	if t.pull != nil && (t.opts.InitialFetch || t.opts.PollInterval > 0) {
		t.pollDone = make(chan struct{})
		go t.poll(ctx, store, t.pollDone)
	}
	return nil
}

// Stop ends the session: the push channel is closed, reconnects and polling
// stop, in-flight pull queries are cancelled and late results are dropped.
// Safe to call in any state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	if !t.running {
		return
	}
	t.cancel()
	t.manager.Stop()
	if t.pollDone != nil {
		<-t.pollDone
		t.pollDone = nil
	}

	t.store.SetConnectivity(conn.Disconnected)
	t.store.Close()
	t.running = false

	c := t.store.Counters()
	log.Infof("tracker: session %s stopped (accepted=%d stale=%d mismatched=%d)",
		t.store.SessionID(), c.Accepted, c.Stale, c.Mismatched)
}

// Close stops the session and detaches every subscriber.
func (t *Tracker) Close() {
	t.Stop()
	t.hub.Close()
}

// Subscribe returns state notifications for whichever session is active.
// The subscription survives device switches.
func (t *Tracker) Subscribe(buffer int) *session.Subscription {
	return t.hub.Subscribe(buffer)
}

// Snapshot returns the latest session state; false before the first Start.
func (t *Tracker) Snapshot() (session.State, bool) {
	t.mu.Lock()
	store := t.store
	t.mu.Unlock()

	if store == nil {
		return session.State{}, false
	}
	return store.Snapshot(), true
}

// Connectivity is Uninitialized until the first Start.
func (t *Tracker) Connectivity() conn.ConnectivityState {
	st, ok := t.Snapshot()
	if !ok {
		return conn.Uninitialized
	}
	return st.Connectivity
}

// DeviceID is the device of the running session, or "".
func (t *Tracker) DeviceID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return ""
	}
	return t.store.DeviceID()
}

// Counters returns merge outcomes of the current or last session.
func (t *Tracker) Counters() session.Counters {
	t.mu.Lock()
	store := t.store
	t.mu.Unlock()

	if store == nil {
		return session.Counters{}
	}
	return store.Counters()
}

// RequestHistoryRefresh pulls recent history and merges it oldest first.
// It returns how many samples were actually applied.
func (t *Tracker) RequestHistoryRefresh(ctx context.Context) (int, error) {
	store, sctx, err := t.active()
	if err != nil {
		return 0, err
	}
	return t.refreshHistory(ctx, sctx, store)
}

// FetchLatest pulls the latest sample and merges it. It reports whether the
// sample was applied.
func (t *Tracker) FetchLatest(ctx context.Context) (bool, error) {
	store, sctx, err := t.active()
	if err != nil {
		return false, err
	}
	return t.fetchLatest(ctx, sctx, store)
}

func (t *Tracker) active() (*session.Store, context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.store == nil:
		return nil, nil, ErrNotStarted
	case !t.running:
		return nil, nil, ErrStopped
	case t.pull == nil:
		return nil, nil, ErrNoPullSource
	}
	return t.store, t.ctx, nil
}

// queryContext is cancelled by either the caller or the end of the session.
func queryContext(ctx, sctx context.Context) (context.Context, context.CancelFunc) {
	qctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sctx, cancel)
	return qctx, func() {
		stop()
		cancel()
	}
}

func (t *Tracker) refreshHistory(ctx, sctx context.Context, store *session.Store) (int, error) {
	qctx, cancel := queryContext(ctx, sctx)
	defer cancel()

	entries, err := t.pull.History(qctx, store.DeviceID(), backend.HistoryQuery{Limit: t.opts.HistoryLimit})
	if sctx.Err() != nil {
		return 0, ErrStopped
	}
	if err != nil {
		return 0, err
	}

	samples := make([]telemetry.LocationSample, 0, len(entries))
	for i, raw := range entries {
		s, err := t.ingress.Decode(raw, telemetry.SourcePull)
		if err != nil {
			log.Warnf("tracker: history entry %d dropped: %v", i, err)
			continue
		}
		samples = append(samples, s)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	applied := 0
	for _, s := range samples {
		err := store.Merge(t.ingress.Stamp(s, store.Current()))
		switch {
		case err == nil:
			applied++
		case errors.Is(err, session.ErrSessionClosed):
			return applied, ErrStopped
		default:
			log.Debugf("tracker: history sample skipped: %v", err)
		}
	}
	log.Debugf("tracker: history refresh applied %d of %d", applied, len(entries))
	return applied, nil
}

func (t *Tracker) fetchLatest(ctx, sctx context.Context, store *session.Store) (bool, error) {
	qctx, cancel := queryContext(ctx, sctx)
	defer cancel()

	raw, err := t.pull.Latest(qctx, store.DeviceID())
	if sctx.Err() != nil {
		return false, ErrStopped
	}
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	sample, err := t.ingress.Ingest(raw, telemetry.SourcePull, store.Current())
	if err != nil {
		log.Warnf("tracker: latest sample dropped: %v", err)
		return false, nil
	}

	err = store.Merge(sample)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, session.ErrSessionClosed):
		return false, ErrStopped
	case errors.Is(err, session.ErrStaleSample):
		log.Debugf("tracker: latest sample not newer: %v", err)
		return false, nil
	default:
		return false, err
	}
}

// onFrame runs on the manager goroutine for each push frame.
func (t *Tracker) onFrame(store *session.Store, frame []byte) {
	sample, err := t.ingress.IngestFrame(frame, store.Current())
	if err != nil {
		if errors.Is(err, telemetry.ErrUnsupportedFrame) {
			log.Debugf("tracker: %v", err)
		} else {
			log.Warnf("tracker: push frame dropped: %v", err)
		}
		return
	}

	if err := store.Merge(sample); err != nil {
		log.Debugf("tracker: push sample ignored: %v", err)
	}
}

// poll does the initial fetch and then periodic latest-sample queries
// until the session ends.
func (t *Tracker) poll(ctx context.Context, store *session.Store, done chan struct{}) {
	defer close(done)

	if t.opts.InitialFetch {
		if n, err := t.refreshHistory(ctx, ctx, store); err != nil && ctx.Err() == nil {
			log.Warnf("tracker: initial history fetch failed: %v", err)
		} else if err == nil {
			log.Infof("tracker: initial history applied %d samples", n)
		}
		if _, err := t.fetchLatest(ctx, ctx, store); err != nil && ctx.Err() == nil {
			log.Warnf("tracker: initial latest fetch failed: %v", err)
		}
	}

	if t.opts.PollInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.fetchLatest(ctx, ctx, store); err != nil && ctx.Err() == nil {
				log.Warnf("tracker: poll failed: %v", err)
			}
		}
	}
}
