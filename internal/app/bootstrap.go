// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app holds the entry points behind the cmd/ binaries.
package app

import (
	"fmt"

	"github.com/relabs-tech/livetrack/internal/config"
	"github.com/relabs-tech/livetrack/internal/logging"
)

// DefaultConfigPath is used when a binary is started without -c.
const DefaultConfigPath = "livetrack_config.txt"

// Bootstrap loads the global config and sets up logging.
func Bootstrap(configPath string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return err
	}
	if err := logging.Configure(config.Get()); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	return nil
}
