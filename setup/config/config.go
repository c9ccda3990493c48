// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package config loads and validates the relay's runtime configuration
// from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Relay is the full configuration of the realtime relay process.
type Relay struct {
	// Port is the TCP port the listener binds, from REALTIME_PORT.
	Port int

	// JWTSecret signs session tokens. Required; the process refuses to
	// start without it.
	JWTSecret string

	// RedisURL points at the optional snapshot cache. Empty means the
	// relay runs on the durable store alone.
	RedisURL string

	// DatabaseURL is the durable store connection string. Either a
	// postgres:// URL or a file: SQLite path.
	DatabaseURL string

	// SentryDSN enables panic reporting when set.
	SentryDSN string

	// HeartbeatInterval is the sweeper cadence.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a silent connection survives.
	HeartbeatTimeout time.Duration
}

// Defaults fills in the values used when the environment is silent.
func (c *Relay) Defaults() {
	c.Port = 4001
	c.DatabaseURL = "file:relay.db"
	c.HeartbeatInterval = 5 * time.Second
	c.HeartbeatTimeout = 10 * time.Second
}

// Verify appends a message to configErrs for every invalid field.
func (c *Relay) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "JWT_SECRET", c.JWTSecret)
	checkNotEmpty(configErrs, "DATABASE_URL", c.DatabaseURL)
	if c.Port <= 0 || c.Port > 65535 {
		configErrs.Add(fmt.Sprintf("invalid value for REALTIME_PORT: %d", c.Port))
	}
	if c.HeartbeatInterval <= 0 {
		configErrs.Add("heartbeat interval must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		configErrs.Add("heartbeat timeout must exceed the heartbeat interval")
	}
}

// Load builds the configuration from the environment, applies defaults
// and validates it.
func Load() (*Relay, error) {
	var cfg Relay
	cfg.Defaults()

	if port := os.Getenv("REALTIME_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REALTIME_PORT %q: %w", port, err)
		}
		cfg.Port = n
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	configErrs := &ConfigErrors{}
	cfg.Verify(configErrs)
	if len(*configErrs) > 0 {
		return nil, configErrs
	}
	return &cfg, nil
}

// ConfigErrors collects validation problems so all of them can be
// reported at once instead of one per restart.
type ConfigErrors []string

func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func (errs *ConfigErrors) Error() string {
	if len(*errs) == 1 {
		return (*errs)[0]
	}
	return fmt.Sprintf("%s (and %d other problems)", (*errs)[0], len(*errs)-1)
}

func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}
