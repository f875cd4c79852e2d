// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/gps"
)

// RunGPSProducer reads NMEA from the GPS serial port and reports every valid
// fix for DEVICE_ID to the backend (and as a push frame over MQTT when that
// is the push transport).
func RunGPSProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	if cfg.DeviceID == "" {
		return errors.New("DEVICE_ID is required for the GPS producer")
	}

	client := backend.NewClient(cfg.BackendURL, cfg.AuthToken, cfg.RequestTimeout())
	relay, err := newFrameRelay(cfg, "gps-producer")
	if err != nil {
		return err
	}
	if relay != nil {
		defer relay.Close()
	}

	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("open GPS serial port %s: %w", cfg.GPSSerialPort, err)
	}
	defer port.Close()
	log.Infof("gps: serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	reader := gps.NewReader(port)

	for {
		fix, err := reader.Next()
		if err != nil {
			return fmt.Errorf("gps read: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		res, err := client.Submit(ctx, fix.Submission(cfg.DeviceID))
		if err != nil {
			log.Warnf("gps: submit failed: %v", err)
		} else {
			log.Debugf("gps: fix stored as %s (%s)", res.ID, res.Status)
			if relay != nil {
				if err := relay.Relay(ctx, client, cfg.DeviceID); err != nil {
					log.Warnf("gps: relay publish error: %v", err)
				}
			}
		}
		cancel()
	}
}
