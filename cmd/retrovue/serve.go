// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/retrovue/retrovue/internal/api"
	"github.com/retrovue/retrovue/internal/clock"
	"github.com/retrovue/retrovue/internal/compiler"
	"github.com/retrovue/retrovue/internal/config"
	"github.com/retrovue/retrovue/internal/database"
	"github.com/retrovue/retrovue/internal/evidence"
	"github.com/retrovue/retrovue/internal/horizon"
	"github.com/retrovue/retrovue/internal/library"
	"github.com/retrovue/retrovue/internal/logging"
	"github.com/retrovue/retrovue/internal/metrics"
	"github.com/retrovue/retrovue/internal/pipeline"
	"github.com/retrovue/retrovue/internal/runtime"
	"github.com/retrovue/retrovue/internal/scheduling"
	"github.com/retrovue/retrovue/internal/supervisor"
	"github.com/retrovue/retrovue/internal/traffic"
)

// cmdServe runs the full supervised runtime: per-channel horizon managers,
// playlog daemons and channel managers, the evidence gRPC server, and the
// status HTTP server, all under one supervision tree.
func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *configPath != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, *configPath); err != nil {
			return emitError(false, exitError, "CONFIG_ERROR", err.Error())
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return emitError(false, exitError, "CONFIG_ERROR", err.Error())
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Str("version", Version).Msg("starting retrovue")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return emitError(false, exitError, "DB_ERROR", err.Error())
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("closing database")
		}
	}()

	clk := clock.NewSystem()
	lib := library.NewLibrary(db)
	sched := scheduling.NewScheduleManager(lib, db, clk)
	days := scheduling.NewResolvedScheduleStore(db, db)
	comp := compiler.New(lib)
	fill := traffic.NewManager(db, db, traffic.Config{
		StaticFillerURI: cfg.Traffic.StaticFillerURI,
		DefaultCooldown: cfg.Traffic.DefaultCooldown,
	})
	evidenceSrv := evidence.NewServer(db, db, db, clk, evidence.ServerConfig{
		AsRunDir:     cfg.Evidence.AsRunDir,
		AckDir:       cfg.Evidence.AckDir,
		FrameRateFPS: cfg.Evidence.FrameRateFPS,
	})

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return emitError(false, exitError, "SUPERVISOR_ERROR", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := api.NewRegistry()
	channels, err := db.ListChannels(ctx)
	if err != nil {
		return emitError(false, exitError, "DB_ERROR", err.Error())
	}
	if len(channels) == 0 {
		logging.Warn().Msg("no channels configured; planning and playout layers are idle")
	}

	boot, bootCtx := errgroup.WithContext(ctx)
	boot.SetLimit(4)

	for i := range channels {
		ch := &channels[i]
		window := horizon.NewExecutionWindowStore()

		pl, err := pipeline.New(ch, sched, days, comp, fill, db, clk, pipeline.Config{
			LookaheadDays: cfg.Playlog.MaxLookaheadDays,
		})
		if err != nil {
			return emitError(false, exitError, "CHANNEL_ERROR", ch.Slug+": "+err.Error())
		}
		boot.Go(func() error {
			if err := pl.Bootstrap(bootCtx, window); err != nil {
				logging.Warn().Err(err).Str("channel", ch.Slug).Msg("window bootstrap failed; starting empty")
			}
			return nil
		})

		hm := horizon.NewManager(pl, pl, window, clk, horizon.ManagerConfig{
			Channel:              ch.Slug,
			Interval:             cfg.Horizon.Interval,
			MinEPGDays:           cfg.Horizon.MinEPGDays,
			MinExecutionHours:    cfg.Horizon.MinExecutionHours,
			LockedWindowMS:       cfg.Horizon.LockedWindowMS,
			ProactiveThresholdMS: cfg.Horizon.ProactiveThresholdMS,
		})
		pd, err := horizon.NewPlaylogDaemon(ch, db, db, fill, clk, horizon.PlaylogConfig{
			Interval:         cfg.Playlog.Interval,
			MinHours:         cfg.Playlog.MinHours,
			MaxLookaheadDays: cfg.Playlog.MaxLookaheadDays,
		})
		if err != nil {
			return emitError(false, exitError, "CHANNEL_ERROR", ch.Slug+": "+err.Error())
		}

		var port runtime.PlayoutPort
		switch {
		case runtime.TestMode():
			port = runtime.NewFakePort()
			logging.Warn().Str("channel", ch.Slug).Msg("test mode: using fake playout port")
		case cfg.Runtime.EngineURL != "":
			port = runtime.NewHTTPPort(cfg.Runtime.EngineURL)
		default:
			port = runtime.NewFakePort()
			logging.Warn().Str("channel", ch.Slug).Msg("no engine_url configured; playout requests are recorded only")
		}
		rm := runtime.NewManager(ch, db, port, clk, runtime.ManagerConfig{
			TickInterval:  cfg.Runtime.TickInterval,
			PreloadWindow: cfg.Runtime.PreloadWindow,
			GraceTimeout:  cfg.Runtime.GraceTimeout,
		})

		tree.AddPlanningService(hm)
		tree.AddPlanningService(pd)
		tree.AddPlayoutService(rm)
		registry.Add(&api.ChannelHandle{Channel: ch, Runtime: rm, Horizon: hm, Window: window})
	}

	// Windows must be seeded before the horizon managers start extending.
	if err := boot.Wait(); err != nil {
		return emitError(false, exitError, "CHANNEL_ERROR", err.Error())
	}

	handler := api.NewHandler(db, registry, clk, Version)
	tree.AddAPIService(api.NewHTTPServer(cfg.Server.HTTPAddr, api.NewRouter(handler), cfg.Server.ShutdownTimeout))
	tree.AddAPIService(api.NewGRPCServer(cfg.Server.GRPCAddr, evidenceSrv))

	metrics.AppInfo.WithLabelValues(Version, goVersion()).Set(1)
	go uptimeLoop(ctx)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree exited")
		return exitError
	}
	logging.Info().Msg("retrovue stopped")
	return exitOK
}

func uptimeLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateUptime()
		}
	}
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
