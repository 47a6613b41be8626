// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/library"
	"github.com/retrovue/retrovue/internal/models"
)

func cmdEnricher(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: retrovue enricher add|list|update|remove ...")
		return exitError
	}
	switch args[0] {
	case "add":
		return cmdEnricherAdd(args[1:])
	case "list":
		return cmdEnricherList(args[1:])
	case "update":
		return cmdEnricherUpdate(args[1:])
	case "remove":
		return cmdEnricherRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown enricher subcommand %q\n", args[0])
		return exitError
	}
}

func cmdEnricherAdd(args []string) int {
	fs := flag.NewFlagSet("enricher add", flag.ContinueOnError)
	eType := fs.String("type", "", "enricher type (tvdb, tmdb, watermark, crossfade, ffmpeg, ffprobe)")
	name := fs.String("name", "", "display name")
	scope := fs.String("scope", "", "scope (ingest or playout)")
	configPairs := fs.StringArray("config", nil, "config as key=value (repeatable)")
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *eType == "" || *name == "" || *scope == "" {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", "--type, --name and --scope are required")
	}
	cfg, err := parseKVs(*configPairs)
	if err != nil {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", err.Error())
	}

	e, err := library.NewEnricher(*eType, *name, models.EnricherScope(*scope), cfg)
	if err != nil {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", err.Error())
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	if err := db.SaveEnricher(context.Background(), e); err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if *jsonMode {
		emitOK(true, e)
	} else {
		fmt.Printf("enricher %s added (%s, scope %s)\n", e.ID, e.Name, e.Scope)
	}
	return exitOK
}

func cmdEnricherList(args []string) int {
	fs := flag.NewFlagSet("enricher list", flag.ContinueOnError)
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	enrichers, err := db.ListEnrichers(context.Background())
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if *jsonMode {
		emitOK(true, enrichers)
		return exitOK
	}
	if len(enrichers) == 0 {
		fmt.Println("no enrichers")
		return exitOK
	}
	for _, e := range enrichers {
		fmt.Printf("%-32s %-10s %-8s %s\n", e.ID, e.Type, e.Scope, e.Name)
	}
	return exitOK
}

// cmdEnricherUpdate re-validates merged config and re-derives identity.
// A config change produces a new id; the old row is removed.
func cmdEnricherUpdate(args []string) int {
	fs := flag.NewFlagSet("enricher update", flag.ContinueOnError)
	name := fs.String("name", "", "new display name")
	configPairs := fs.StringArray("config", nil, "config overrides as key=value (repeatable)")
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", "exactly one enricher id required")
	}
	id := fs.Arg(0)
	overrides, err := parseKVs(*configPairs)
	if err != nil {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", err.Error())
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	ctx := context.Background()
	existing, err := findEnricher(ctx, db, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return emitError(*jsonMode, exitError, "ENRICHER_NOT_FOUND", "enricher "+id+" not found")
		}
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}

	merged := make(map[string]string, len(existing.Config)+len(overrides))
	for k, v := range existing.Config {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	newName := existing.Name
	if *name != "" {
		newName = *name
	}

	updated, err := library.NewEnricher(existing.Type, newName, existing.Scope, merged)
	if err != nil {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", err.Error())
	}
	if err := db.SaveEnricher(ctx, updated); err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if updated.ID != existing.ID {
		if err := db.DeleteEnricher(ctx, existing.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
		}
	}
	if *jsonMode {
		emitOK(true, updated)
	} else if updated.ID != existing.ID {
		fmt.Printf("enricher updated: %s -> %s\n", existing.ID, updated.ID)
	} else {
		fmt.Printf("enricher %s updated\n", updated.ID)
	}
	return exitOK
}

func cmdEnricherRemove(args []string) int {
	fs := flag.NewFlagSet("enricher remove", flag.ContinueOnError)
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		return emitError(*jsonMode, exitError, "ENRICHER_INVALID", "exactly one enricher id required")
	}
	id := fs.Arg(0)

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	if err := db.DeleteEnricher(context.Background(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return emitError(*jsonMode, exitError, "ENRICHER_NOT_FOUND", "enricher "+id+" not found")
		}
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if *jsonMode {
		emitOK(true, map[string]string{"id": id})
	} else {
		fmt.Printf("enricher %s removed\n", id)
	}
	return exitOK
}

func findEnricher(ctx context.Context, db *database.DB, id string) (*models.Enricher, error) {
	enrichers, err := db.ListEnrichers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range enrichers {
		if enrichers[i].ID == id {
			return &enrichers[i], nil
		}
	}
	return nil, database.ErrNotFound
}
