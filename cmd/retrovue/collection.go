// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/library"
	"github.com/retrovue/retrovue/internal/models"
)

// cliImporters builds the importer set the CLI validates ingest gates with.
// local sources must point at an existing directory; plex sources must carry
// connection config.
func cliImporters() map[string]library.Importer {
	return map[string]library.Importer{
		"local": importerFunc(func(_ context.Context, src *models.Source) error {
			root := src.Config["root"]
			if root == "" {
				return errors.New("local source has no root path configured")
			}
			info, err := os.Stat(root)
			if err != nil {
				return fmt.Errorf("root path %q: %w", root, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("root path %q is not a directory", root)
			}
			return nil
		}),
		"plex": importerFunc(func(_ context.Context, src *models.Source) error {
			if src.Config["base_url"] == "" || src.Config["token"] == "" {
				return errors.New("plex source requires base_url and token config")
			}
			return nil
		}),
	}
}

type importerFunc func(ctx context.Context, src *models.Source) error

func (f importerFunc) Validate(ctx context.Context, src *models.Source) error {
	return f(ctx, src)
}

func cmdCollection(args []string) int {
	if len(args) < 2 || args[0] != "ingest" {
		fmt.Fprintln(os.Stderr, "usage: retrovue collection ingest <id> [--title <t>|--season <n>|--episode <n>] [--dry-run] [--json] [--test-db]")
		return exitError
	}
	return cmdCollectionIngest(args[1], args[2:])
}

// cmdCollectionIngest validates the ingest gates for one collection. Targeted
// selectors (--title/--season/--episode) skip the sync_enabled gate; a full
// ingest requires it. --dry-run reports the gate outcome without touching
// state and takes precedence over --test-db.
func cmdCollectionIngest(selector string, args []string) int {
	fs := flag.NewFlagSet("collection ingest", flag.ContinueOnError)
	title := fs.String("title", "", "target a single title")
	season := fs.Int("season", 0, "target a season number")
	episode := fs.Int("episode", 0, "target an episode number")
	dryRun := fs.Bool("dry-run", false, "validate gates only")
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	collectionID, err := strconv.ParseInt(selector, 10, 64)
	if err != nil {
		return emitError(*jsonMode, exitError, "COLLECTION_INVALID", "collection selector must be a numeric id")
	}
	if *episode > 0 && *season == 0 {
		return emitError(*jsonMode, exitError, "COLLECTION_INVALID", "--episode requires --season")
	}
	targeted := *title != "" || *season > 0

	db, _, err := openDB(*testDB && !*dryRun)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	sources := library.NewSources(db, cliImporters())
	ctx := context.Background()
	if targeted {
		err = sources.CheckTargetedIngest(ctx, collectionID)
	} else {
		err = sources.CheckFullIngest(ctx, collectionID)
	}
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, library.ErrCollectionNotFound):
		return emitError(*jsonMode, exitError, "COLLECTION_NOT_FOUND", fmt.Sprintf("collection %d not found", collectionID))
	case errors.Is(err, library.ErrSyncDisabled):
		return emitError(*jsonMode, exitError, "SYNC_DISABLED", err.Error())
	case errors.Is(err, library.ErrNotIngestible):
		return emitError(*jsonMode, exitError, "NOT_INGESTIBLE", err.Error())
	case err != nil:
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}

	mode := "full"
	result := map[string]any{
		"collection_id": collectionID,
		"dry_run":       *dryRun,
		"gates":         "pass",
	}
	if targeted {
		mode = "targeted"
		matched, err := sources.ResolveScope(ctx, collectionID, *title, *season, *episode)
		if errors.Is(err, library.ErrScopeNotFound) {
			return emitError(*jsonMode, exitScope, "SCOPE_NOT_FOUND", err.Error())
		}
		if err != nil {
			return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
		}
		result["matched_assets"] = len(matched)
	}
	result["mode"] = mode
	if *jsonMode {
		emitOK(true, result)
	} else if *dryRun {
		fmt.Printf("collection %d: %s ingest gates pass (dry run)\n", collectionID, mode)
	} else {
		fmt.Printf("collection %d: %s ingest gates pass\n", collectionID, mode)
	}
	return exitOK
}
