// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/logging"
)

// cliEnvelope is the JSON shape every command emits in --json mode,
// including on error.
type cliEnvelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// emitOK prints a success result: JSON envelope in JSON mode, plain data
// otherwise (the caller prints its own plain form when data is nil).
func emitOK(jsonMode bool, data any) {
	if !jsonMode {
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	//nolint:errcheck // stdout write errors are not recoverable
	enc.Encode(cliEnvelope{Status: "ok", Data: data})
}

// emitError prints an error in the requested mode and returns the exit code.
func emitError(jsonMode bool, exitCode int, code, message string) int {
	if jsonMode {
		enc := json.NewEncoder(os.Stdout)
		//nolint:errcheck // stdout write errors are not recoverable
		enc.Encode(cliEnvelope{Status: "error", Code: code, Message: message})
	} else {
		fmt.Fprintln(os.Stderr, "error: "+message)
	}
	return exitCode
}

// openDB loads configuration and opens the database. testDB redirects to a
// scratch database file so commands can run against disposable state.
func openDB(testDB bool) (*database.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(logging.Config{Level: "warn", Format: cfg.Logging.Format})
	if testDB {
		cfg.Database.Path = "retrovue_test.db"
	}
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// parseKVs turns repeated k=v flags into a map.
func parseKVs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := cutKV(p)
		if !ok {
			return nil, fmt.Errorf("config %q is not key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func cutKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
