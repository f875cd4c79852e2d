// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/conn"
	"github.com/relabs-tech/livetrack/internal/session"
	"github.com/relabs-tech/livetrack/internal/telemetry"
	"github.com/relabs-tech/livetrack/internal/tracker"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeEngine struct {
	mu         sync.Mutex
	hub        *session.Hub
	state      *session.State
	started    []string
	refreshErr error
	applied    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{hub: session.NewHub()}
}

func (f *fakeEngine) Start(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, deviceID)
	f.state = &session.State{DeviceID: deviceID, Connectivity: conn.Connecting}
	return nil
}

func (f *fakeEngine) Snapshot() (session.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return session.State{}, false
	}
	return *f.state, true
}

func (f *fakeEngine) Counters() session.Counters { return session.Counters{Accepted: 3} }

func (f *fakeEngine) Subscribe(buffer int) *session.Subscription { return f.hub.Subscribe(buffer) }

func (f *fakeEngine) RequestHistoryRefresh(ctx context.Context) (int, error) {
	return f.applied, f.refreshErr
}

func TestRouter_StateBeforeTracking(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newFakeEngine(), ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["tracking"])
	assert.NotContains(t, body, "state")
}

func TestRouter_TrackThenState(t *testing.T) {
	eng := newFakeEngine()
	srv := httptest.NewServer(NewRouter(eng, ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/track/GPS42", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"GPS42"}, eng.started)

	resp, err = http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Tracking bool             `json:"tracking"`
		State    session.State    `json:"state"`
		Counters session.Counters `json:"counters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Tracking)
	assert.Equal(t, "GPS42", body.State.DeviceID)
	assert.Equal(t, conn.Connecting, body.State.Connectivity)
	assert.Equal(t, 3, body.Counters.Accepted)
}

func TestRouter_HistoryRefreshErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not started", tracker.ErrNotStarted, http.StatusConflict},
		{"backend down", &backend.QueryError{Op: "history", StatusCode: 503, Err: errors.New("down")}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"push only", tracker.ErrNoPullSource, http.StatusNotImplemented},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.refreshErr = tt.err
			eng.applied = 4
			srv := httptest.NewServer(NewRouter(eng, ""))
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/history/refresh", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.err == nil {
				var body map[string]int
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, 4, body["applied"])
			}
		})
	}
}

func TestRouter_Panel(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newFakeEngine(), ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/panel.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	head := make([]byte, 4)
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(head))
}

func TestRouter_StateStream(t *testing.T) {
	eng := newFakeEngine()
	require.NoError(t, eng.Start("SIM001"))
	srv := httptest.NewServer(NewRouter(eng, ""))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var first session.State
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "SIM001", first.DeviceID)

	require.Eventually(t, func() bool { return eng.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	eng.hub.Publish(session.State{DeviceID: "SIM001", Connectivity: conn.Connected})

	var next session.State
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, ws.ReadJSON(&next))
	assert.Equal(t, conn.Connected, next.Connectivity)

	ws.Close()
	require.Eventually(t, func() bool { return eng.hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFormatState(t *testing.T) {
	st := session.State{DeviceID: "SIM001", Connectivity: conn.Connecting}
	assert.Contains(t, formatState(st), "no fix yet")

	cur := telemetry.LocationSample{
		DeviceID:  "SIM001",
		Latitude:  -6.2088,
		Longitude: 106.8456,
		SpeedKmh:  95,
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Address:   "Jakarta, Indonesia",
		Status:    telemetry.Overspeed,
		Source:    telemetry.SourcePush,
	}
	st.Current = &cur
	st.History = []telemetry.LocationSample{cur}
	line := formatState(st)
	assert.Contains(t, line, "overspeed")
	assert.Contains(t, line, "lat=-6.208800")
	assert.Contains(t, line, "time=09:30:00")
	assert.Contains(t, line, "@ Jakarta, Indonesia")
}

func TestWalker_StaysAroundJakarta(t *testing.T) {
	w := newWalker("SIM001", rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 5000; i++ {
		s := w.step(30 * time.Second)
		require.Equal(t, "SIM001", s.DeviceID)
		require.LessOrEqual(t, math.Abs(s.Latitude-simBaseLat), simRadius+1e-9)
		require.LessOrEqual(t, math.Abs(s.Longitude-simBaseLon), simRadius+1e-9)
		require.GreaterOrEqual(t, s.Speed, 0.0)
		require.LessOrEqual(t, s.Speed, simMaxKmh)
		require.GreaterOrEqual(t, s.Heading, 0.0)
		require.Less(t, s.Heading, 360.0)
	}
}

// storingBackend stamps submissions with its own clock, like the real backend.
type storingBackend struct {
	mu   sync.Mutex
	docs []map[string]any
}

func newStoringBackend(t *testing.T) (*storingBackend, *backend.Client) {
	t.Helper()
	sb := &storingBackend{}

	r := mux.NewRouter()
	r.HandleFunc("/api/gps", func(w http.ResponseWriter, req *http.Request) {
		var doc map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&doc))
		doc["timestamp"] = time.Now().UTC().Format("2006-01-02T15:04:05.000000")
		doc["_id"] = uuid.NewString()
		sb.mu.Lock()
		sb.docs = append(sb.docs, doc)
		sb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok", "id": doc["_id"].(string), "status": "moving"})
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/gps/latest/{id}", func(w http.ResponseWriter, req *http.Request) {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		if len(sb.docs) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(sb.docs[len(sb.docs)-1])
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/gps/history/{id}", func(w http.ResponseWriter, req *http.Request) {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		out := make([]map[string]any, 0, len(sb.docs))
		for i := len(sb.docs) - 1; i >= 0; i-- {
			out = append(out, sb.docs[i])
		}
		_ = json.NewEncoder(w).Encode(out)
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return sb, backend.NewClient(srv.URL, "tok", time.Second)
}

type frameChannel struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *frameChannel) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, conn.ErrChannelClosed
	}
}

func (c *frameChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type frameDialer struct{ ch *frameChannel }

func (d *frameDialer) Dial(ctx context.Context, deviceID string) (conn.Channel, error) {
	return d.ch, nil
}

func TestStoredFrame_NoSampleYet(t *testing.T) {
	_, client := newStoringBackend(t)
	frame, ok, err := storedFrame(context.Background(), client, "SIM001")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestStoredFrame_PullOfRelayedSampleIsNotDuplicated(t *testing.T) {
	_, client := newStoringBackend(t)
	ctx := context.Background()

	w := newWalker("SIM001", rand.New(rand.NewPCG(3, 4)))
	_, err := client.Submit(ctx, w.step(30*time.Second))
	require.NoError(t, err)

	frame, ok, err := storedFrame(ctx, client, "SIM001")
	require.NoError(t, err)
	require.True(t, ok)

	ch := &frameChannel{frames: make(chan []byte, 1), closed: make(chan struct{})}
	ingress := telemetry.NewIngress(telemetry.DefaultClassifier(), telemetry.DefaultClockSkew)
	tr := tracker.New(conn.NewManager(&frameDialer{ch: ch}, nil), client, ingress, tracker.Options{HistorySize: 10})
	defer tr.Close()
	require.NoError(t, tr.Start("SIM001"))

	ch.frames <- frame
	require.Eventually(t, func() bool {
		st, ok := tr.Snapshot()
		return ok && len(st.History) == 1
	}, time.Second, 5*time.Millisecond)

	applied, err := tr.FetchLatest(ctx)
	require.NoError(t, err)
	assert.False(t, applied)

	n, err := tr.RequestHistoryRefresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, _ := tr.Snapshot()
	assert.Len(t, st.History, 1)
	assert.Equal(t, 1, st.Trip.Samples)
	assert.Equal(t, telemetry.SourcePush, st.Current.Source)
}

func TestNewDialer(t *testing.T) {
	cfg := config.Default()
	d, err := newDialer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &conn.WebsocketDialer{}, d)

	cfg.PushTransport = config.TransportMQTT
	d, err = newDialer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &conn.MQTTDialer{}, d)

	cfg.PushTransport = "carrier-pigeon"
	_, err = newDialer(cfg)
	assert.Error(t, err)
}
