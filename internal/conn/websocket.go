// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package conn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer subscribes to the backend's websocket broadcast endpoint.
type WebsocketDialer struct {
	URL   string // e.g. ws://localhost:8001/api/ws
	Token string // sent as a bearer token when set

	// KeepAlive > 0 pings the server at that interval and treats a missing
	// pong (or any frame) within two intervals as a dropped connection.
	KeepAlive time.Duration

	Dialer *websocket.Dialer // nil uses websocket.DefaultDialer
}

func (d *WebsocketDialer) Dial(ctx context.Context, deviceID string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake %s for %s: %s: %w", d.URL, deviceID, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s for %s: %w", d.URL, deviceID, err)
	}

	return newWSChannel(conn, d.KeepAlive), nil
}

type wsChannel struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, keepAlive time.Duration) *wsChannel {
	c := &wsChannel{conn: conn, keepAlive: keepAlive, done: make(chan struct{})}
	if keepAlive > 0 {
		c.extendDeadline()
		conn.SetPongHandler(func(string) error {
			c.extendDeadline()
			return nil
		})
		go c.pingLoop()
	}
	return c
}

func (c *wsChannel) extendDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
}

func (c *wsChannel) pingLoop() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with ReadMessage.
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.keepAlive)); err != nil {
				return
			}
		}
	}
}

func (c *wsChannel) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return nil, ErrChannelClosed
		default:
		}
		return nil, err
	}
	if c.keepAlive > 0 {
		c.extendDeadline()
	}
	return data, nil
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}
