package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "development" {
		t.Fatalf("unexpected environment: %q", cfg.Environment)
	}
	if cfg.PrefetchLeadSeconds != 8.0 {
		t.Fatalf("unexpected prefetch lead: %g", cfg.PrefetchLeadSeconds)
	}
	if cfg.BufferSecondsHypno != 10.0 || cfg.BufferSecondsGeneric != 5.0 {
		t.Fatalf("unexpected buffer defaults: hypno=%g generic=%g", cfg.BufferSecondsHypno, cfg.BufferSecondsGeneric)
	}
}

func TestLoadClampsTunables(t *testing.T) {
	t.Setenv("CUEPLAY_PREFETCH_WAIT_MS", "5000")
	t.Setenv("CUEPLAY_PREFETCH_LEAD_SECONDS", "0.1")
	t.Setenv("CUEPLAY_SLOW_DECODE_STREAM_MS", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PrefetchWaitMS != 500.0 {
		t.Fatalf("expected prefetch wait clamped to 500, got %g", cfg.PrefetchWaitMS)
	}
	if cfg.PrefetchLeadSeconds != 1.0 {
		t.Fatalf("expected prefetch lead clamped to 1, got %g", cfg.PrefetchLeadSeconds)
	}
	if cfg.SlowDecodeStreamMS != 0.0 {
		t.Fatalf("expected slow decode threshold clamped to 0, got %g", cfg.SlowDecodeStreamMS)
	}
}

func TestLoadRejectsInvalidCadence(t *testing.T) {
	t.Setenv("CUEPLAY_CYCLE_INTERVAL_SECONDS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for zero cycle interval")
	}

	t.Setenv("CUEPLAY_CYCLE_INTERVAL_SECONDS", "2.0")
	t.Setenv("CUEPLAY_TICK_RATE_HZ", "1000")
	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for out-of-range tick rate")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("STREAM_THRESHOLD_MB", "32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
