// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Push transports understood by PUSH_TRANSPORT.
const (
	TransportWebsocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config holds all application configuration values.
type Config struct {
	// Backend
	BackendURL       string
	AuthToken        string
	DeviceID         string
	RequestTimeoutMS int

	// Push channel
	PushTransport       string // "websocket" or "mqtt"
	PushURL             string // ws(s):// endpoint when PushTransport is websocket
	ReconnectDelayMS    int
	ReconnectMaxDelayMS int // > ReconnectDelayMS switches to bounded exponential backoff

	// Session
	HistorySize    int // entries kept in the session history window
	HistoryLimit   int // entries requested per history pull
	PollIntervalMS int // 0 disables the periodic history poller

	// Classification / validation
	OverspeedKmh float64
	MovingKmh    float64
	ClockSkewMS  int

	// MQTT
	MQTTBroker          string
	MQTTClientIDTracker string
	MQTTClientIDConsole string

	// Topics
	TopicGPSUpdates string
	TopicState      string

	// Redis
	RedisAddr     string
	RedisPassword string

	// GPS / simulator
	GPSSerialPort       string
	GPSBaudRate         int
	SimulatorDeviceID   string
	SimulatorIntervalMS int

	// Web Server
	WebServerPort int

	// Logging
	LogLevel      string // DEBUG, INFO, WARN, ERROR
	LogFilePath   string
	LogMaxAgeDays int
}

// Package-level unexported variables for the singleton:
//   - globalConfig is only reachable through InitGlobal and Get.
//   - configOnce makes InitGlobal run once.
//   - configMu guards globalConfig; Get takes the read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for every key the file leaves out.
func Default() *Config {
	return &Config{
		BackendURL:          "http://localhost:8001",
		PushTransport:       TransportWebsocket,
		PushURL:             "ws://localhost:8001/api/ws",
		RequestTimeoutMS:    10000,
		ReconnectDelayMS:    3000,
		HistorySize:         10,
		HistoryLimit:        10,
		OverspeedKmh:        80,
		MovingKmh:           1,
		ClockSkewMS:         5000,
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDTracker: "livetrack-tracker",
		MQTTClientIDConsole: "livetrack-console",
		TopicGPSUpdates:     "livetrack/gps",
		TopicState:          "livetrack/state",
		GPSSerialPort:       "/dev/serial0",
		GPSBaudRate:         9600,
		SimulatorDeviceID:   "SIM001",
		SimulatorIntervalMS: 2000,
		WebServerPort:       8080,
		LogLevel:            "INFO",
		LogMaxAgeDays:       30,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Backend
	case "BACKEND_URL":
		c.BackendURL = strings.TrimRight(value, "/")
	case "AUTH_TOKEN":
		c.AuthToken = value
	case "DEVICE_ID":
		c.DeviceID = value
	case "REQUEST_TIMEOUT_MS":
		return setPositiveInt(&c.RequestTimeoutMS, key, value)

	// Push channel
	case "PUSH_TRANSPORT":
		v := strings.ToLower(value)
		if v != TransportWebsocket && v != TransportMQTT {
			return fmt.Errorf("PUSH_TRANSPORT must be %q or %q, got %q", TransportWebsocket, TransportMQTT, value)
		}
		c.PushTransport = v
	case "PUSH_URL":
		c.PushURL = value
	case "RECONNECT_DELAY_MS":
		return setPositiveInt(&c.ReconnectDelayMS, key, value)
	case "RECONNECT_MAX_DELAY_MS":
		return setNonNegativeInt(&c.ReconnectMaxDelayMS, key, value)

	// Session
	case "HISTORY_SIZE":
		return setPositiveInt(&c.HistorySize, key, value)
	case "HISTORY_LIMIT":
		return setPositiveInt(&c.HistoryLimit, key, value)
	case "POLL_INTERVAL_MS":
		return setNonNegativeInt(&c.PollIntervalMS, key, value)

	// Classification / validation
	case "OVERSPEED_KMH":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid OVERSPEED_KMH %q: %w", value, err)
		}
		c.OverspeedKmh = v
	case "MOVING_KMH":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MOVING_KMH %q: %w", value, err)
		}
		c.MovingKmh = v
	case "CLOCK_SKEW_MS":
		return setNonNegativeInt(&c.ClockSkewMS, key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_GPS_UPDATES":
		c.TopicGPSUpdates = value
	case "TOPIC_STATE":
		c.TopicState = value

	// Redis
	case "REDIS_ADDR":
		c.RedisAddr = value
	case "REDIS_PASSWORD":
		c.RedisPassword = value

	// GPS / simulator
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		return setPositiveInt(&c.GPSBaudRate, key, value)
	case "SIMULATOR_DEVICE_ID":
		c.SimulatorDeviceID = value
	case "SIMULATOR_INTERVAL_MS":
		return setPositiveInt(&c.SimulatorIntervalMS, key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToUpper(value)
	case "LOG_FILE_PATH":
		c.LogFilePath = value
	case "LOG_MAX_AGE_DAYS":
		return setNonNegativeInt(&c.LogMaxAgeDays, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositiveInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be > 0, got %d", key, v)
	}
	*dst = v
	return nil
}

func setNonNegativeInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", key, v)
	}
	*dst = v
	return nil
}

// validate checks that all required fields are set and consistent.
func (c *Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}
	if c.PushTransport == TransportWebsocket && c.PushURL == "" {
		return fmt.Errorf("PUSH_URL is required when PUSH_TRANSPORT=websocket")
	}
	if c.PushTransport == TransportMQTT && (c.MQTTBroker == "" || c.TopicGPSUpdates == "") {
		return fmt.Errorf("MQTT_BROKER and TOPIC_GPS_UPDATES are required when PUSH_TRANSPORT=mqtt")
	}
	if c.MovingKmh < 0 {
		return fmt.Errorf("MOVING_KMH must be >= 0, got %v", c.MovingKmh)
	}
	if c.OverspeedKmh <= c.MovingKmh {
		return fmt.Errorf("OVERSPEED_KMH (%v) must be greater than MOVING_KMH (%v)", c.OverspeedKmh, c.MovingKmh)
	}
	if c.ReconnectMaxDelayMS != 0 && c.ReconnectMaxDelayMS < c.ReconnectDelayMS {
		return fmt.Errorf("RECONNECT_MAX_DELAY_MS (%d) must be 0 or >= RECONNECT_DELAY_MS (%d)", c.ReconnectMaxDelayMS, c.ReconnectDelayMS)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("LOG_LEVEL must be DEBUG, INFO, WARN or ERROR, got %q", c.LogLevel)
	}
	return nil
}

// ReconnectDelay is the base wait between push reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// ReconnectMaxDelay caps exponential backoff. Zero means constant delay.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelayMS) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewMS) * time.Millisecond
}

func (c *Config) SimulatorInterval() time.Duration {
	return time.Duration(c.SimulatorIntervalMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
