// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/session"
)

// formatState renders one console line per state change.
func formatState(st session.State) string {
	if st.Current == nil {
		return fmt.Sprintf("[%-6s] %-12s no fix yet", st.DeviceID, st.Connectivity)
	}
	c := st.Current
	line := fmt.Sprintf(
		"[%-6s] %-12s %-10s lat=%.6f lon=%.6f speed=%6.1fkm/h time=%s src=%s hist=%d dist=%.2fkm",
		st.DeviceID, st.Connectivity, st.Status(), c.Latitude, c.Longitude, c.SpeedKmh,
		c.Timestamp.UTC().Format("15:04:05"), c.Source, len(st.History), st.Trip.DistanceKm,
	)
	if c.Address != "" {
		line += " @ " + c.Address
	}
	return line
}

// RunConsole tracks the configured device in-process and prints every state
// change until Ctrl+C.
func RunConsole() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	if cfg.DeviceID == "" {
		return errors.New("DEVICE_ID is required for the console")
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

	sub := tr.Subscribe(32)
	if err := tr.Start(cfg.DeviceID); err != nil {
		return err
	}
	log.Infof("console: tracking %s", cfg.DeviceID)

	for {
		select {
		case <-ctx.Done():
			log.Info("console: shutting down")
			return nil
		case st, ok := <-sub.C:
			if !ok {
				return nil
			}
			fmt.Println(formatState(st))
		}
	}
}
