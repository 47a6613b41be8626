// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package config provides layered configuration: struct defaults, an
// optional YAML file, then environment variables, loaded through koanf and
// validated with go-playground/validator.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/retrovue/retrovue/internal/validation"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Horizon  HorizonConfig  `koanf:"horizon"`
	Playlog  PlaylogConfig  `koanf:"playlog"`
	Evidence EvidenceConfig `koanf:"evidence"`
	Traffic  TrafficConfig  `koanf:"traffic"`
	Runtime  RuntimeConfig  `koanf:"runtime"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig covers the HTTP status/metrics server and the evidence gRPC
// listener.
type ServerConfig struct {
	HTTPAddr string `koanf:"http_addr" validate:"required"`
	GRPCAddr string `koanf:"grpc_addr" validate:"required"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig covers the SQLite store.
type DatabaseConfig struct {
	// Path to the database file. DATABASE_URL overrides it.
	Path string `koanf:"path" validate:"required"`
	// BusyTimeout for lock contention.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
	// MaxOpenConns caps the pool; SQLite wants small numbers.
	MaxOpenConns int `koanf:"max_open_conns" validate:"gte=1,lte=64"`
}

// HorizonConfig covers the global horizon manager.
type HorizonConfig struct {
	Interval          time.Duration `koanf:"interval"`
	MinEPGDays        float64       `koanf:"min_epg_days" validate:"gt=0"`
	MinExecutionHours float64       `koanf:"min_execution_hours" validate:"gt=0"`
	LockedWindowMS    int64         `koanf:"locked_window_ms" validate:"gte=0"`
	ProactiveThresholdMS int64      `koanf:"proactive_threshold_ms" validate:"gte=0"`
}

// PlaylogConfig covers the per-channel playlog horizon daemons.
type PlaylogConfig struct {
	Interval         time.Duration `koanf:"interval"`
	MinHours         float64       `koanf:"min_hours" validate:"gt=0"`
	MaxLookaheadDays int           `koanf:"max_lookahead_days" validate:"gte=1,lte=30"`
}

// EvidenceConfig covers the evidence server's durable artifacts.
type EvidenceConfig struct {
	AsRunDir     string  `koanf:"asrun_dir" validate:"required"`
	AckDir       string  `koanf:"ack_dir" validate:"required"`
	FrameRateFPS float64 `koanf:"frame_rate_fps" validate:"gt=0"`
}

// TrafficConfig covers late-bound fill policy.
type TrafficConfig struct {
	StaticFillerURI string        `koanf:"static_filler_uri"`
	DefaultCooldown time.Duration `koanf:"default_cooldown"`
}

// RuntimeConfig covers the per-channel playout runtime.
type RuntimeConfig struct {
	TickInterval  time.Duration `koanf:"tick_interval"`
	PreloadWindow time.Duration `koanf:"preload_window"`
	GraceTimeout  time.Duration `koanf:"grace_timeout"`
	// EngineURL is the playout engine's HTTP control surface. Empty means no
	// engine; playout requests are recorded only.
	EngineURL string `koanf:"engine_url"`
}

// LoggingConfig covers the zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns the built-in defaults; file and env layers override.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8700",
			GRPCAddr:        ":8701",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         "/data/retrovue.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		},
		Horizon: HorizonConfig{
			Interval:          10 * time.Second,
			MinEPGDays:        2,
			MinExecutionHours: 4,
			LockedWindowMS:    0,
			ProactiveThresholdMS: 0,
		},
		Playlog: PlaylogConfig{
			Interval:         30 * time.Second,
			MinHours:         6,
			MaxLookaheadDays: 3,
		},
		Evidence: EvidenceConfig{
			AsRunDir:     "/data/asrun",
			AckDir:       "/data/acks",
			FrameRateFPS: 30,
		},
		Traffic: TrafficConfig{
			StaticFillerURI: "",
			DefaultCooldown: 30 * time.Minute,
		},
		Runtime: RuntimeConfig{
			TickInterval:  time.Second,
			PreloadWindow: 5 * time.Second,
			GraceTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %s", err.Error())
	}
	return nil
}

// IsProduction reports whether production safety toggles apply.
func IsProduction() bool {
	return os.Getenv("ENV") == "production"
}
