// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// broadcastServer accepts websocket clients and hands each connection to
// the test through conns.
func broadcastServer(t *testing.T, wantToken string) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func TestWebsocketDialer_ReadsFrames(t *testing.T) {
	srv, conns := broadcastServer(t, "secret")
	d := &WebsocketDialer{URL: wsURL(srv), Token: "secret"}

	ch, err := d.Dial(context.Background(), "SIM001")
	require.NoError(t, err)
	defer ch.Close()

	server := <-conns
	defer server.Close()
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"gps_update"}`)))

	frame, err := ch.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"gps_update"}`, string(frame))
}

func TestWebsocketDialer_HandshakeRejected(t *testing.T) {
	srv, _ := broadcastServer(t, "secret")
	d := &WebsocketDialer{URL: wsURL(srv), Token: "wrong"}

	_, err := d.Dial(context.Background(), "SIM001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWebsocketChannel_ServerCloseIsAnError(t *testing.T) {
	srv, conns := broadcastServer(t, "")
	ch, err := (&WebsocketDialer{URL: wsURL(srv)}).Dial(context.Background(), "SIM001")
	require.NoError(t, err)
	defer ch.Close()

	server := <-conns
	require.NoError(t, server.Close())

	_, err = ch.ReadFrame()
	assert.Error(t, err)
}

func TestWebsocketChannel_CloseUnblocksRead(t *testing.T) {
	srv, conns := broadcastServer(t, "")
	ch, err := (&WebsocketDialer{URL: wsURL(srv)}).Dial(context.Background(), "SIM001")
	require.NoError(t, err)
	server := <-conns
	defer server.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := ch.ReadFrame()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadFrame still blocked after Close")
	}
	assert.NoError(t, ch.Close(), "second Close is a no-op")
}

func TestWebsocketChannel_KeepAliveDetectsSilentDrop(t *testing.T) {
	// The server never reads, so pings are never answered with pongs.
	srv, conns := broadcastServer(t, "")
	ch, err := (&WebsocketDialer{URL: wsURL(srv), KeepAlive: 20 * time.Millisecond}).Dial(context.Background(), "SIM001")
	require.NoError(t, err)
	defer ch.Close()
	server := <-conns
	defer server.Close()

	errs := make(chan error, 1)
	go func() {
		_, err := ch.ReadFrame()
		errs <- err
	}()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("silent connection was never detected")
	}
}

func TestManager_OverWebsocket_ReconnectsAfterServerDrop(t *testing.T) {
	srv, conns := broadcastServer(t, "")
	m := NewManager(&WebsocketDialer{URL: wsURL(srv)}, fastBackOff)
	rec := &recorder{}

	m.Start("SIM001", rec.handlers())
	defer m.Stop()

	first := <-conns
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("one")))
	require.Eventually(t, func() bool { _, f := rec.snapshot(); return len(f) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())

	second := <-conns
	defer second.Close()
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("two")))

	require.Eventually(t, func() bool { _, f := rec.snapshot(); return len(f) == 2 }, time.Second, 5*time.Millisecond)
	states, frames := rec.snapshot()
	assert.Equal(t, []string{"one", "two"}, frames)
	assert.Equal(t, []ConnectivityState{Connecting, Connected, Disconnected, Connecting, Connected}, states)
}
