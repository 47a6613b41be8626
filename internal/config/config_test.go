// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Load reads the ambient environment, so every test pins the config path to
// an empty file; the defaults layer then stands alone.
func isolate(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DATABASE_URL", "")
}

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retrovue.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8700" || cfg.Server.GRPCAddr != ":8701" {
		t.Errorf("server addrs = %q, %q", cfg.Server.HTTPAddr, cfg.Server.GRPCAddr)
	}
	if cfg.Playlog.MinHours != 6 || cfg.Playlog.MaxLookaheadDays != 3 {
		t.Errorf("playlog defaults = %+v", cfg.Playlog)
	}
	if cfg.Evidence.FrameRateFPS != 30 {
		t.Errorf("frame rate = %g", cfg.Evidence.FrameRateFPS)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Runtime.GraceTimeout != 10*time.Second {
		t.Errorf("grace timeout = %s", cfg.Runtime.GraceTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	isolate(t)
	writeConfig(t, `
server:
  http_addr: ":9100"
playlog:
  min_hours: 12
logging:
  level: debug
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9100" {
		t.Errorf("http addr = %q, want file value", cfg.Server.HTTPAddr)
	}
	if cfg.Playlog.MinHours != 12 {
		t.Errorf("min hours = %g, want 12", cfg.Playlog.MinHours)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.GRPCAddr != ":8701" {
		t.Errorf("grpc addr = %q, default lost", cfg.Server.GRPCAddr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	isolate(t)
	writeConfig(t, "server:\n  http_addr: \":9100\"\n")
	t.Setenv("RETROVUE_SERVER_HTTP_ADDR", ":9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9200" {
		t.Errorf("http addr = %q, env must win over file", cfg.Server.HTTPAddr)
	}
}

func TestDatabaseURLOverride(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "sqlite:///var/lib/retrovue/main.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/retrovue/main.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"zero min hours", "playlog:\n  min_hours: 0\n"},
		{"lookahead too large", "playlog:\n  max_lookahead_days: 90\n"},
		{"empty http addr", "server:\n  http_addr: \"\"\n"},
		{"pool too large", "database:\n  max_open_conns: 128\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			writeConfig(t, tt.yaml)
			if _, err := Load(); err == nil {
				t.Error("invalid configuration accepted")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RETROVUE_SERVER_HTTP_ADDR", "server.http_addr"},
		{"RETROVUE_DATABASE_PATH", "database.path"},
		{"RETROVUE_PLAYLOG_MAX_LOOKAHEAD_DAYS", "playlog.max_lookahead_days"},
		{"RETROVUE_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	if !IsProduction() {
		t.Error("ENV=production not detected")
	}
	t.Setenv("ENV", "development")
	if IsProduction() {
		t.Error("development treated as production")
	}
}
