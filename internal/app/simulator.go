// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/backend"
	"github.com/relabs-tech/livetrack/internal/config"
)

// backendSimDevice is the device the backend's simulate endpoint reports as.
const backendSimDevice = "SIM001"

// Jakarta, where the backend's own simulator places its samples.
const (
	simBaseLat = -6.2088
	simBaseLon = 106.8456
	simRadius  = 0.05 // degrees around the base the walk stays within
	simMaxKmh  = 120.0
	kmPerDeg   = 111.32
)

// walker produces a plausible random drive around the base point.
type walker struct {
	deviceID string
	lat, lon float64
	heading  float64
	speed    float64
	rng      *rand.Rand
}

func newWalker(deviceID string, rng *rand.Rand) *walker {
	return &walker{
		deviceID: deviceID,
		lat:      simBaseLat,
		lon:      simBaseLon,
		heading:  rng.Float64() * 360,
		speed:    rng.Float64() * 60,
		rng:      rng,
	}
}

// step advances the walk by dt and returns the new position report.
func (w *walker) step(dt time.Duration) backend.Submission {
	w.speed = math.Max(0, math.Min(simMaxKmh, w.speed+(w.rng.Float64()-0.5)*30))
	w.heading = math.Mod(w.heading+(w.rng.Float64()-0.5)*60+360, 360)

	km := w.speed * dt.Hours()
	rad := w.heading * math.Pi / 180
	w.lat += km * math.Cos(rad) / kmPerDeg
	w.lon += km * math.Sin(rad) / (kmPerDeg * math.Cos(w.lat*math.Pi/180))

	// Turn back towards the base once outside the area.
	if math.Abs(w.lat-simBaseLat) > simRadius || math.Abs(w.lon-simBaseLon) > simRadius {
		w.lat = math.Max(simBaseLat-simRadius, math.Min(simBaseLat+simRadius, w.lat))
		w.lon = math.Max(simBaseLon-simRadius, math.Min(simBaseLon+simRadius, w.lon))
		w.heading = math.Mod(w.heading+180, 360)
	}

	alt := w.rng.Float64() * 100
	return backend.Submission{
		DeviceID:  w.deviceID,
		Latitude:  w.lat,
		Longitude: w.lon,
		Speed:     w.speed,
		Altitude:  &alt,
		Heading:   w.heading,
	}
}

// simulateOnce stores one sample and returns the device it was stored for.
func simulateOnce(ctx context.Context, client *backend.Client, w *walker, dt time.Duration, useBackend bool) (string, error) {
	if useBackend {
		res, err := client.Simulate(ctx)
		if err != nil {
			log.Warnf("simulator: simulate failed: %v", err)
			return "", err
		}
		log.Infof("simulator: backend sample %s (%s)", res.ID, res.Status)
		return backendSimDevice, nil
	}

	sub := w.step(dt)
	res, err := client.Submit(ctx, sub)
	if err != nil {
		log.Warnf("simulator: submit failed: %v", err)
		return "", err
	}
	log.Infof("simulator: %s at %.5f,%.5f %.1fkm/h stored as %s", sub.DeviceID, sub.Latitude, sub.Longitude, sub.Speed, res.ID)
	return sub.DeviceID, nil
}

// RunSimulator reports a simulated device every SIMULATOR_INTERVAL_MS until
// Ctrl+C. With useBackend the backend generates the samples itself.
func RunSimulator(useBackend bool) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	client := backend.NewClient(cfg.BackendURL, cfg.AuthToken, cfg.RequestTimeout())
	relay, err := newFrameRelay(cfg, "simulator")
	if err != nil {
		return err
	}
	if relay != nil {
		defer relay.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := newWalker(cfg.SimulatorDeviceID, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)))

	interval := cfg.SimulatorInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if useBackend {
		log.Infof("simulator: asking backend for simulated samples every %s", interval)
	} else {
		log.Infof("simulator: driving %s every %s", cfg.SimulatorDeviceID, interval)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("simulator: shutting down")
			return nil
		case <-ticker.C:
			reqCtx, cancelReq := context.WithTimeout(ctx, cfg.RequestTimeout())
			deviceID, err := simulateOnce(reqCtx, client, w, interval, useBackend)
			if err == nil && relay != nil {
				if err := relay.Relay(reqCtx, client, deviceID); err != nil {
					log.Warnf("simulator: relay publish error: %v", err)
				}
			}
			cancelReq()
		}
	}
}
