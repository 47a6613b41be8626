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

func cmdSource(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: retrovue source add|list|delete ...")
		return exitError
	}
	switch args[0] {
	case "add":
		return cmdSourceAdd(args[1:])
	case "list":
		return cmdSourceList(args[1:])
	case "delete":
		return cmdSourceDelete(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown source subcommand %q\n", args[0])
		return exitError
	}
}

func cmdSourceAdd(args []string) int {
	fs := flag.NewFlagSet("source add", flag.ContinueOnError)
	srcType := fs.String("type", "", "source type (local, plex)")
	name := fs.String("name", "", "source name")
	configPairs := fs.StringArray("config", nil, "source config as key=value (repeatable)")
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *srcType == "" || *name == "" {
		return emitError(*jsonMode, exitError, "SOURCE_INVALID", "--type and --name are required")
	}
	cfg, err := parseKVs(*configPairs)
	if err != nil {
		return emitError(*jsonMode, exitError, "SOURCE_INVALID", err.Error())
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	src := &models.Source{Type: *srcType, Name: *name, Config: cfg}
	if err := db.InsertSource(context.Background(), src); err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if *jsonMode {
		emitOK(true, src)
	} else {
		fmt.Printf("source %d added (%s %q)\n", src.ID, src.Type, src.Name)
	}
	return exitOK
}

func cmdSourceList(args []string) int {
	fs := flag.NewFlagSet("source list", flag.ContinueOnError)
	srcType := fs.String("type", "", "filter by source type")
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

	sources, err := db.ListSources(context.Background(), *srcType)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	if *jsonMode {
		emitOK(true, sources)
		return exitOK
	}
	if len(sources) == 0 {
		fmt.Println("no sources")
		return exitOK
	}
	for _, s := range sources {
		ingestible := " "
		if s.Ingestible {
			ingestible = "i"
		}
		fmt.Printf("%4d  %-12s %s %s\n", s.ID, s.Type, ingestible, s.Name)
	}
	return exitOK
}

func cmdSourceDelete(args []string) int {
	fs := flag.NewFlagSet("source delete", flag.ContinueOnError)
	force := fs.Bool("force", false, "delete even when assets have broadcast history (ignored in production)")
	jsonMode := fs.Bool("json", false, "emit JSON")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		return emitError(*jsonMode, exitError, "SOURCE_INVALID", "exactly one source id required")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return emitError(*jsonMode, exitError, "SOURCE_INVALID", "source selector must be a numeric id")
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	sources := library.NewSources(db, cliImporters())
	result, err := sources.Delete(context.Background(), id, *force)
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, library.ErrSourceNotFound):
		return emitError(*jsonMode, exitError, "SOURCE_NOT_FOUND", fmt.Sprintf("source %d not found", id))
	case errors.Is(err, library.ErrProductionSafety):
		if *jsonMode {
			// The envelope carries the skip detail alongside the error.
			return emitError(true, exitError, "PRODUCTION_SAFETY", result.Reason)
		}
		return emitError(false, exitError, "PRODUCTION_SAFETY", result.Reason)
	case err != nil:
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}

	if *jsonMode {
		emitOK(true, result)
	} else {
		fmt.Printf("source %d deleted\n", id)
	}
	return exitOK
}
