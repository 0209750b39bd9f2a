/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/friendsincode/cueplay/internal/cuelist"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	InstanceID  string
	MetricsBind string // empty disables the metrics endpoint

	// Audio prefetch and streaming tuning
	PrefetchLeadSeconds float64 // how far before cue end to start decoding the next cue
	PrefetchWaitMS      float64 // max wait for async decode when a cue starts
	StreamThresholdMB   float64 // assets larger than this stream from disk (0 disables)
	SlowDecodeStreamMS  float64 // decode latency above which an asset is streamed permanently

	// Per-role decoded-seconds ceilings
	BufferSecondsHypno      float64
	BufferSecondsBackground float64
	BufferSecondsGeneric    float64

	// Headless run cadence
	CycleIntervalSeconds float64 // simulated media cycle boundary interval
	TickRateHz           int     // update cadence for the run command

	// Event fan-out bridges (empty disables each)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	// Play history store (empty disables)
	HistoryDBPath string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"CUEPLAY_ENV", "MG_ENV"}, "development"),
		InstanceID:  getEnvAny([]string{"CUEPLAY_INSTANCE_ID", "MG_INSTANCE_ID"}, ""),
		MetricsBind: getEnvAny([]string{"CUEPLAY_METRICS_BIND", "MG_METRICS_BIND"}, ""),

		PrefetchLeadSeconds: getEnvFloatAny([]string{"CUEPLAY_PREFETCH_LEAD_SECONDS", "MG_PREFETCH_LEAD_SECONDS"}, 8.0),
		PrefetchWaitMS:      getEnvFloatAny([]string{"CUEPLAY_PREFETCH_WAIT_MS", "MG_PREFETCH_WAIT_MS"}, 150.0),
		StreamThresholdMB:   getEnvFloatAny([]string{"CUEPLAY_STREAM_THRESHOLD_MB", "MG_STREAM_THRESHOLD_MB"}, 64.0),
		SlowDecodeStreamMS:  getEnvFloatAny([]string{"CUEPLAY_SLOW_DECODE_STREAM_MS", "MG_SLOW_DECODE_STREAM_MS"}, 350.0),

		BufferSecondsHypno:      getEnvFloatAny([]string{"CUEPLAY_BUFFER_SECONDS_HYPNO"}, 10.0),
		BufferSecondsBackground: getEnvFloatAny([]string{"CUEPLAY_BUFFER_SECONDS_BACKGROUND"}, 10.0),
		BufferSecondsGeneric:    getEnvFloatAny([]string{"CUEPLAY_BUFFER_SECONDS_GENERIC"}, 5.0),

		CycleIntervalSeconds: getEnvFloatAny([]string{"CUEPLAY_CYCLE_INTERVAL_SECONDS"}, 2.0),
		TickRateHz:           getEnvIntAny([]string{"CUEPLAY_TICK_RATE_HZ"}, 60),

		RedisAddr:     getEnvAny([]string{"CUEPLAY_REDIS_ADDR", "MG_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"CUEPLAY_REDIS_PASSWORD", "MG_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"CUEPLAY_REDIS_DB", "MG_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"CUEPLAY_NATS_URL", "MG_NATS_URL"}, ""),

		HistoryDBPath: getEnvAny([]string{"CUEPLAY_HISTORY_DB", "MG_HISTORY_DB"}, ""),
	}

	// Clamp tunables to the ranges the scheduler can work with.
	cfg.PrefetchLeadSeconds = clampFloat(cfg.PrefetchLeadSeconds, 1.0, 30.0)
	cfg.PrefetchWaitMS = clampFloat(cfg.PrefetchWaitMS, 20.0, 500.0)
	cfg.SlowDecodeStreamMS = clampFloat(cfg.SlowDecodeStreamMS, 0.0, 2000.0)
	if cfg.StreamThresholdMB < 0 {
		cfg.StreamThresholdMB = 0
	}
	if cfg.BufferSecondsHypno < 0 {
		cfg.BufferSecondsHypno = 0
	}
	if cfg.BufferSecondsBackground < 0 {
		cfg.BufferSecondsBackground = 0
	}
	if cfg.BufferSecondsGeneric < 0 {
		cfg.BufferSecondsGeneric = 0
	}

	if cfg.CycleIntervalSeconds <= 0 {
		return nil, fmt.Errorf("CUEPLAY_CYCLE_INTERVAL_SECONDS must be positive, got %g", cfg.CycleIntervalSeconds)
	}
	if cfg.TickRateHz <= 0 || cfg.TickRateHz > 240 {
		return nil, fmt.Errorf("CUEPLAY_TICK_RATE_HZ must be in 1..240, got %d", cfg.TickRateHz)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// RoleBudgets returns the configured per-role decoded-seconds ceilings.
func (c *Config) RoleBudgets() map[cuelist.AudioRole]float64 {
	return map[cuelist.AudioRole]float64{
		cuelist.RoleHypno:      c.BufferSecondsHypno,
		cuelist.RoleBackground: c.BufferSecondsBackground,
		cuelist.RoleGeneric:    c.BufferSecondsGeneric,
	}
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use CUEPLAY_ENV (or MG_ENV)",
		"PREFETCH_WAIT_MS":    "use CUEPLAY_PREFETCH_WAIT_MS",
		"STREAM_THRESHOLD_MB": "use CUEPLAY_STREAM_THRESHOLD_MB",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
