// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/panel"
	"github.com/relabs-tech/livetrack/internal/session"
	"github.com/relabs-tech/livetrack/internal/tracker"
)

// Engine is the part of the tracker the dashboard drives.
type Engine interface {
	Start(deviceID string) error
	Snapshot() (session.State, bool)
	Counters() session.Counters
	Subscribe(buffer int) *session.Subscription
	RequestHistoryRefresh(ctx context.Context) (int, error)
}

type stateResponse struct {
	Tracking bool             `json:"tracking"`
	State    *session.State   `json:"state,omitempty"`
	Counters session.Counters `json:"counters"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the dashboard API on top of engine. Static files are
// served from staticDir when it is not empty.
func NewRouter(engine Engine, staticDir string) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		st, ok := engine.Snapshot()
		resp := stateResponse{Tracking: ok, Counters: engine.Counters()}
		if ok {
			resp.State = &st
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)

	api.HandleFunc("/history/refresh", func(w http.ResponseWriter, r *http.Request) {
		applied, err := engine.RequestHistoryRefresh(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
	}).Methods(http.MethodPost)

	api.HandleFunc("/track/{deviceID}", func(w http.ResponseWriter, r *http.Request) {
		deviceID := mux.Vars(r)["deviceID"]
		if err := engine.Start(deviceID); err != nil {
			writeError(w, err)
			return
		}
		log.Infof("web: tracking %s", deviceID)
		writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID})
	}).Methods(http.MethodPost)

	api.HandleFunc("/panel.png", func(w http.ResponseWriter, r *http.Request) {
		st, ok := engine.Snapshot()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		if err := panel.WritePNG(w, st, ok); err != nil {
			log.Warnf("web: panel encode error: %v", err)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveStateStream(engine, w, r)
	})

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

// serveStateStream sends the current state, then every change, until the
// client goes away.
func serveStateStream(engine Engine, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("web: websocket upgrade error: %v", err)
		return
	}
	defer ws.Close()

	sub := engine.Subscribe(16)
	defer sub.Unsubscribe()

	// The reader only exists to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if st, ok := engine.Snapshot(); ok {
		if err := ws.WriteJSON(st); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case st, ok := <-sub.C:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := ws.WriteJSON(st); err != nil {
				log.Debugf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("web: json encode error: %v", err)
	}
}

// writeError maps engine errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var qe *backend.QueryError
	switch {
	case errors.Is(err, tracker.ErrNotStarted), errors.Is(err, tracker.ErrStopped):
		status = http.StatusConflict
	case errors.As(err, &qe):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, tracker.ErrEmptyDevice):
		status = http.StatusBadRequest
	case errors.Is(err, tracker.ErrNoPullSource):
		status = http.StatusNotImplemented
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// RunWeb tracks the configured device and serves the dashboard until
// SIGINT or SIGTERM.
func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	tr, _, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopSinks := startSinks(ctx, cfg, tr)
	defer stopSinks()

	if cfg.DeviceID != "" {
		if err := tr.Start(cfg.DeviceID); err != nil {
			return err
		}
	} else {
		log.Info("web: DEVICE_ID not set, waiting for POST /api/track/{deviceID}")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewRouter(tr, "web"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("web: server listening on %s", srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("web: shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	}
}
