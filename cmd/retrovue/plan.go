// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/library"
	"github.com/retrovue/retrovue/internal/models"
	"github.com/retrovue/retrovue/internal/scheduling"
)

func cmdChannel(args []string) int {
	if len(args) < 3 || args[0] != "plan" {
		fmt.Fprintln(os.Stderr, "usage: retrovue channel plan <channel> build --name <plan> | retrovue channel plan <id> show [flags]")
		return exitError
	}
	selector := args[1]
	switch args[2] {
	case "build":
		return cmdPlanBuild(selector, args[3:])
	case "show":
		return cmdPlanShow(selector, args[3:])
	default:
		fmt.Fprintf(os.Stderr, "unknown plan subcommand %q\n", args[2])
		return exitError
	}
}

// cmdPlanBuild launches the interactive planning REPL for a channel.
func cmdPlanBuild(channelSlug string, args []string) int {
	fs := flag.NewFlagSet("plan build", flag.ContinueOnError)
	name := fs.String("name", "", "plan name")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *name == "" {
		return emitError(false, exitError, "PLAN_INVALID", "--name is required")
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(false, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	ctx := context.Background()
	ch, err := db.ChannelBySlug(ctx, channelSlug)
	if errors.Is(err, database.ErrNotFound) {
		return emitError(false, exitError, "CHANNEL_NOT_FOUND", "channel "+channelSlug+" not found")
	}
	if err != nil {
		return emitError(false, exitError, "DB_ERROR", err.Error())
	}

	plan := &models.SchedulePlan{ChannelID: ch.ID, Name: *name}
	fmt.Printf("Building plan %q for channel %s (grid %dm, day start %02d:00). Type help for commands.\n",
		*name, ch.Slug, ch.GridMinutes, ch.DayStartHour)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("plan> ")
		if !scanner.Scan() {
			fmt.Println()
			return exitOK
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			printPlanHelp()
		case "zone":
			if err := addZone(plan, fields[1:]); err != nil {
				fmt.Println("error: " + err.Error())
			}
		case "pattern":
			if err := setPattern(plan, fields[1:]); err != nil {
				fmt.Println("error: " + err.Error())
			}
		case "priority":
			if len(fields) != 2 {
				fmt.Println("usage: priority <n>")
				continue
			}
			p, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("error: priority must be an integer")
				continue
			}
			plan.Priority = p
		case "save":
			if err := scheduling.ValidatePlan(plan, ch); err != nil {
				fmt.Println("validation failed: " + err.Error())
				continue
			}
			if err := db.InsertPlan(ctx, plan); err != nil {
				return emitError(false, exitError, "DB_ERROR", err.Error())
			}
			fmt.Printf("saved plan %d (%d programs)\n", plan.ID, len(plan.Programs))
			return exitOK
		case "discard", "quit":
			fmt.Println("discarded")
			return exitOK
		default:
			fmt.Printf("unknown command %q; type help\n", fields[0])
		}
	}
}

func printPlanHelp() {
	fmt.Print(`Commands:
  zone <HH:MM> <duration_min> <series|asset|rule|random|virtual_package> <ref> [sequential|random] [label]
  pattern <daily|weekend|weekdays|mon,tue,...> [start=YYYY-MM-DD] [end=YYYY-MM-DD]
  priority <n>
  save      validate and persist the plan
  discard   exit without saving
  quit      alias for discard
  help
`)
}

// addZone appends one program: zone 06:00 60 series tng-s1 sequential.
func addZone(plan *models.SchedulePlan, args []string) error {
	if len(args) < 4 {
		return errors.New("usage: zone <HH:MM> <duration_min> <content_type> <ref> [play_mode] [label]")
	}
	startMin, err := parseHHMM(args[0])
	if err != nil {
		return err
	}
	duration, err := strconv.Atoi(args[1])
	if err != nil || duration <= 0 {
		return errors.New("duration must be a positive integer of minutes")
	}
	ctype := models.ContentType(args[2])
	if !models.ValidContentType(ctype) {
		return fmt.Errorf("unknown content type %q", args[2])
	}
	prog := models.Program{
		ID:              int64(len(plan.Programs) + 1),
		StartMinutes:    startMin,
		DurationMinutes: duration,
		Content:         models.ContentRef{Type: ctype, Ref: args[3]},
	}
	if len(args) >= 5 {
		switch args[4] {
		case "sequential":
			prog.PlayMode = models.PlaySequential
		case "random":
			prog.PlayMode = models.PlayRandom
		default:
			return fmt.Errorf("unknown play mode %q", args[4])
		}
	}
	if len(args) >= 6 {
		prog.Label = args[5]
	}
	plan.Programs = append(plan.Programs, prog)
	fmt.Printf("added program %d: %s for %dm (%s %s)\n", prog.ID, args[0], duration, ctype, args[3])
	return nil
}

// setPattern configures plan recurrence.
func setPattern(plan *models.SchedulePlan, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pattern <daily|weekend|weekdays|mon,tue,...> [start=YYYY-MM-DD] [end=YYYY-MM-DD]")
	}
	rec := models.Recurrence{}
	switch args[0] {
	case "daily":
	case "weekend":
		rec.Weekdays = []time.Weekday{time.Saturday, time.Sunday}
	case "weekdays":
		rec.Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	default:
		for _, tok := range strings.Split(args[0], ",") {
			wd, ok := weekdayNames[strings.ToLower(tok)]
			if !ok {
				return fmt.Errorf("unknown weekday %q", tok)
			}
			rec.Weekdays = append(rec.Weekdays, wd)
		}
	}
	for _, a := range args[1:] {
		k, v, ok := cutKV(a)
		if !ok {
			return fmt.Errorf("expected start=... or end=..., got %q", a)
		}
		day := models.BroadcastDay(v)
		if !day.Valid() {
			return fmt.Errorf("%s must be YYYY-MM-DD", k)
		}
		switch k {
		case "start":
			rec.StartDate = day
		case "end":
			rec.EndDate = day
		default:
			return fmt.Errorf("unknown pattern option %q", k)
		}
	}
	plan.Recurrence = rec
	fmt.Println("pattern set")
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return h*60 + m, nil
}

// cmdPlanShow prints a stored plan.
func cmdPlanShow(selector string, args []string) int {
	fs := flag.NewFlagSet("plan show", flag.ContinueOnError)
	withContents := fs.Bool("with-contents", false, "include program details")
	computed := fs.Bool("computed", false, "resolve the plan onto today's broadcast day")
	jsonMode := fs.Bool("json", false, "emit JSON")
	quiet := fs.Bool("quiet", false, "no output, exit code only")
	testDB := fs.Bool("test-db", false, "use the scratch test database")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	planID, err := strconv.ParseInt(selector, 10, 64)
	if err != nil {
		return emitError(*jsonMode, exitError, "PLAN_INVALID", "plan selector must be a numeric id")
	}

	db, _, err := openDB(*testDB)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	defer db.Close()

	ctx := context.Background()
	plan, err := db.GetPlan(ctx, planID)
	if errors.Is(err, database.ErrNotFound) {
		return emitError(*jsonMode, exitError, "PLAN_NOT_FOUND", fmt.Sprintf("plan %d not found", planID))
	}
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}
	ch, err := db.GetChannel(ctx, plan.ChannelID)
	if err != nil {
		return emitError(*jsonMode, exitError, "DB_ERROR", err.Error())
	}

	var resolved *models.ResolvedScheduleDay
	if *computed {
		loc, lerr := ch.Location()
		if lerr != nil {
			return emitError(*jsonMode, exitError, "CHANNEL_INVALID", lerr.Error())
		}
		clk := clock.NewSystem()
		day := models.BroadcastDayFor(clk.NowUTC(), loc, ch.DayStartHour)
		sched := scheduling.NewScheduleManager(library.NewLibrary(db), db, clk)
		resolved, err = sched.ResolveDay(ctx, ch, plan, day)
		if err != nil {
			return emitError(*jsonMode, exitError, "RESOLVE_FAILED", err.Error())
		}
	}

	if *quiet {
		return exitOK
	}
	if *jsonMode {
		emitOK(true, map[string]any{"plan": plan, "computed": resolved})
		return exitOK
	}

	fmt.Printf("plan %d %q channel=%s priority=%d programs=%d\n",
		plan.ID, plan.Name, ch.Slug, plan.Priority, len(plan.Programs))
	if *withContents || *computed {
		for _, p := range plan.Programs {
			fmt.Printf("  %02d:%02d +%dm %s %s %s\n",
				p.StartMinutes/60, p.StartMinutes%60, p.DurationMinutes,
				p.Content.Type, p.Content.Ref, p.PlayMode)
		}
	}
	if resolved != nil {
		fmt.Printf("computed day %s: %d slots\n", resolved.Day, len(resolved.Slots))
		for _, s := range resolved.Slots {
			title := s.Title
			if title == "" {
				title = "(gap)"
			}
			fmt.Printf("  %s - %s %s\n",
				s.StartUTC.Format("15:04:05"), s.EndUTC.Format("15:04:05"), title)
		}
	}
	return exitOK
}
