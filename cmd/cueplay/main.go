/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/cueplay/internal/config"
	"github.com/friendsincode/cueplay/internal/cuelist"
	"github.com/friendsincode/cueplay/internal/eventbus"
	"github.com/friendsincode/cueplay/internal/events"
	"github.com/friendsincode/cueplay/internal/history"
	"github.com/friendsincode/cueplay/internal/logging"
	"github.com/friendsincode/cueplay/internal/prefetch"
	"github.com/friendsincode/cueplay/internal/session"
	"github.com/friendsincode/cueplay/internal/telemetry"
	"github.com/friendsincode/cueplay/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cueplay",
	Short: "Cueplay - cue-synchronized session scheduler",
	Long:  "Cueplay executes cuelists: timed cues with weighted playback pools and layered audio, advancing only at media cycle boundaries.",
}

var runCmd = &cobra.Command{
	Use:   "run <cuelist>",
	Short: "Run a cuelist headlessly",
	Long:  "Run a cuelist with synthesized cycle boundaries and a silent audio backend. Useful for soak testing content and feeding downstream consumers.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <cuelist>",
	Short: "Validate a cuelist document",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <cuelist>",
	Short: "Print a cuelist's cues and timings",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cueplay version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Cueplay starting")

	list, err := cuelist.Load(args[0])
	if err != nil {
		return err
	}

	emitter := events.NewEmitter(logger)
	telemetry.Attach(emitter)

	var metricsSrv *http.Server
	if cfg.MetricsBind != "" {
		metricsSrv = telemetry.Serve(cfg.MetricsBind, logger)
	}

	if cfg.HistoryDBPath != "" {
		historyDB, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() {
			if err := history.Close(historyDB); err != nil {
				logger.Error().Err(err).Msg("failed to close history database")
			}
		}()
		history.NewRecorder(historyDB, logger).Attach(emitter)
	}

	if cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		sink := eventbus.NewRedisSink(redisCfg, cfg.InstanceID, logger)
		sink.Attach(emitter)
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close Redis sink")
			}
		}()
	}

	if cfg.NATSURL != "" {
		sink, err := eventbus.NewNATSSink(cfg.NATSURL, cfg.InstanceID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS unavailable, continuing without it")
		} else {
			sink.Attach(emitter)
			defer sink.Close()
		}
	}

	audio := session.NullAudioEngine{}
	worker := prefetch.NewWorker(func(path string) error {
		if !audio.PreloadSound(path) {
			return fmt.Errorf("preload failed: %s", path)
		}
		return nil
	}, 1, logger)
	defer worker.Shutdown()

	director := session.NewHeadlessDirector(cfg.CycleIntervalSeconds)
	runner := session.NewRunner(list, director, audio, worker, emitter, logger, session.Options{
		PrefetchLeadSeconds: cfg.PrefetchLeadSeconds,
		PrefetchWaitMS:      cfg.PrefetchWaitMS,
		SlowDecodeMS:        cfg.SlowDecodeStreamMS,
		StreamThresholdMB:   cfg.StreamThresholdMB,
		Budgets:             cfg.RoleBudgets(),
	})

	if !runner.Start() {
		return fmt.Errorf("cuelist %q failed to start", list.Name)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	dt := 1.0 / float64(cfg.TickRateHz)
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-quit:
			logger.Info().Msg("shutting down gracefully...")
			runner.Stop()
			break loop
		case <-ticker.C:
			runner.Update(dt)
			if runner.State() == session.StateStopped {
				break loop
			}
		}
	}

	if metricsSrv != nil {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	logger.Info().Msg("Cueplay stopped")
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	list, err := cuelist.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (%d cues, %.1fs total)\n", list.Name, len(list.Cues), list.TotalDuration())
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	list, err := cuelist.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Cuelist:    %s\n", list.Name)
	if list.Description != "" {
		fmt.Printf("Description: %s\n", list.Description)
	}
	fmt.Printf("Loop mode:  %s\n", list.LoopMode)
	fmt.Printf("Transition: %s (%.0fms)\n", list.TransitionMode, list.TransitionDurationMS)
	fmt.Printf("Total:      %.1fs across %d cues\n\n", list.TotalDuration(), len(list.Cues))

	for i := range list.Cues {
		cue := &list.Cues[i]
		fmt.Printf("%3d. %-24s %7.1fs  %-18s pool=%d audio=%d\n",
			i, cue.Name, cue.DurationSeconds, cue.SelectionMode, len(cue.PlaybackPool), len(cue.AudioTracks))
	}
	return nil
}
