// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/models"
)

// seedIngestFixture points the CLI config at a scratch database and seeds a
// local source, an ingestible collection, and one episode asset.
func seedIngestFixture(t *testing.T) int64 {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "retrovue.yaml")
	if err := os.WriteFile(cfgPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.ConfigPathEnvVar, cfgPath)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RETROVUE_DATABASE_PATH", filepath.Join(dir, "cli.db"))

	db, err := database.New(&config.DatabaseConfig{
		Path:         filepath.Join(dir, "cli.db"),
		BusyTimeout:  time.Second,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	src := &models.Source{Type: "local", Name: "media", Config: map[string]string{"root": dir}, Ingestible: true}
	if err := db.InsertSource(ctx, src); err != nil {
		t.Fatal(err)
	}
	coll := &models.Collection{SourceID: src.ID, Name: "sitcoms", SyncEnabled: true, Ingestible: true}
	if err := db.InsertCollection(ctx, coll); err != nil {
		t.Fatal(err)
	}
	a := &models.Asset{
		UUID:         uuid.New(),
		CollectionID: coll.ID,
		CanonicalKey: "/media/night court/s01e02.mkv",
		Hash:         "abc",
		URI:          "file:///media/night_court_s01e02.mkv",
		Title:        "Night Court",
		State:        models.AssetReady,
	}
	if err := db.SaveAsset(ctx, a); err != nil {
		t.Fatal(err)
	}
	return coll.ID
}

func TestCollectionIngestExitCodes(t *testing.T) {
	collID := seedIngestFixture(t)
	sel := strconv.FormatInt(collID, 10)

	// Resolution failure: unknown collection exits 1.
	if code := cmdCollectionIngest("999", []string{"--json"}); code != exitError {
		t.Errorf("unknown collection exit = %d, want %d", code, exitError)
	}

	// Targeted scope misses exit 2, distinguishable from prerequisites.
	if code := cmdCollectionIngest(sel, []string{"--title", "frasier", "--json"}); code != exitScope {
		t.Errorf("title miss exit = %d, want %d", code, exitScope)
	}
	if code := cmdCollectionIngest(sel, []string{"--season", "1", "--episode", "9", "--json"}); code != exitScope {
		t.Errorf("episode miss exit = %d, want %d", code, exitScope)
	}

	// A matching selector passes both the gates and the scope lookup.
	if code := cmdCollectionIngest(sel, []string{"--title", "night", "--season", "1", "--episode", "2", "--json"}); code != exitOK {
		t.Errorf("targeted ingest exit = %d, want %d", code, exitOK)
	}
	// Full ingest passes with sync enabled.
	if code := cmdCollectionIngest(sel, []string{"--json"}); code != exitOK {
		t.Errorf("full ingest exit = %d, want %d", code, exitOK)
	}
}
