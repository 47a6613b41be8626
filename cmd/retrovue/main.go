// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

// Package main is the RetroVue entry point.
//
// RetroVue is a 24x7 linear-broadcast automation system: schedule plans are
// resolved into broadcast days, compiled into segmented program logs, filled
// with spots by the traffic manager, and fed to playout engines that report
// execution evidence back over gRPC.
//
// Commands:
//
//	retrovue serve                       run the supervised runtime
//	retrovue channel plan ...            build and inspect schedule plans
//	retrovue source add|list|delete      manage content sources
//	retrovue collection ingest           validate ingest gates for a collection
//	retrovue enricher add|list|update|remove
//	retrovue version
//
// Exit codes: 0 success, 1 validation/prerequisite/database error, 2 scope
// resolution not found.
package main

import (
	"fmt"
	"os"
)

// Version is stamped by the build.
var Version = "dev"

// Exit codes. Resolution and prerequisite failures exit 1; exit 2 is
// reserved for a targeted-ingest scope that resolves to nothing.
const (
	exitOK    = 0
	exitError = 1
	exitScope = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitError
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "channel":
		return cmdChannel(args[1:])
	case "source":
		return cmdSource(args[1:])
	case "collection":
		return cmdCollection(args[1:])
	case "enricher":
		return cmdEnricher(args[1:])
	case "version":
		fmt.Println("retrovue " + Version)
		return exitOK
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return exitError
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: retrovue <command> [options]

Commands:
  serve                                       run the supervised runtime
  channel plan <channel> build --name <plan>  launch the plan-building REPL
  channel plan <id> show [--with-contents|--computed|--json|--quiet]
  source add --type <t> --name <n> [--config k=v ...]
  source list [--type <t>] [--json] [--test-db]
  source delete <id> [--force] [--json] [--test-db]
  collection ingest <id> [--title <t>|--season <n>|--episode <n>] [--dry-run] [--json] [--test-db]
  enricher add --type <t> --name <n> --scope <s> [--config k=v ...]
  enricher list [--json]
  enricher update <id> [--config k=v ...]
  enricher remove <id>
  version
`)
}
