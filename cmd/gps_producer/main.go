// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/livetrack/internal/app"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", app.DefaultConfigPath, "path to the config file")
	flag.Parse()

	if err := app.Bootstrap(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Info("starting livetrack GPS producer (NMEA -> backend)")

	if err := app.RunGPSProducer(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
