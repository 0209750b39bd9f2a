package session

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/cuelist"
)

func testPool(paths ...string) []cuelist.PlaybackEntry {
	pool := make([]cuelist.PlaybackEntry, len(paths))
	for i, p := range paths {
		pool[i] = cuelist.PlaybackEntry{PlaybackPath: p, Weight: 1.0}
	}
	return pool
}

func TestPickAvoidsRecentPlaybacks(t *testing.T) {
	s := newPlaybackSelector(rand.New(rand.NewSource(1)), zerolog.Nop())
	pool := testPool("media/a.mp4", "media/b.mp4")

	first := s.Pick(pool)
	second := s.Pick(pool)
	if first == nil || second == nil {
		t.Fatal("expected picks from non-empty pool")
	}
	if first.PlaybackPath == second.PlaybackPath {
		t.Fatalf("expected anti-repeat to pick the other entry, got %q twice", first.PlaybackPath)
	}
}

func TestPickFallsBackToFullPoolWhenAllRecent(t *testing.T) {
	s := newPlaybackSelector(rand.New(rand.NewSource(1)), zerolog.Nop())
	pool := testPool("media/only.mp4")

	for i := 0; i < 5; i++ {
		if got := s.Pick(pool); got == nil {
			t.Fatal("expected pick to always succeed")
		}
	}
}

func TestPickHandlesZeroTotalWeight(t *testing.T) {
	s := newPlaybackSelector(rand.New(rand.NewSource(7)), zerolog.Nop())
	pool := []cuelist.PlaybackEntry{
		{PlaybackPath: "media/a.mp4", Weight: 0},
		{PlaybackPath: "media/b.mp4", Weight: 0},
	}

	for i := 0; i < 20; i++ {
		got := s.Pick(pool)
		if got == nil {
			t.Fatal("expected uniform fallback pick, got nil")
		}
		if got.PlaybackPath != "media/a.mp4" && got.PlaybackPath != "media/b.mp4" {
			t.Fatalf("unexpected pick %q", got.PlaybackPath)
		}
	}
}

func TestPickRespectsWeights(t *testing.T) {
	s := newPlaybackSelector(rand.New(rand.NewSource(42)), zerolog.Nop())
	pool := []cuelist.PlaybackEntry{
		{PlaybackPath: "media/heavy.mp4", Weight: 99},
		{PlaybackPath: "media/light.mp4", Weight: 0.000001},
	}

	heavy := 0
	for i := 0; i < 50; i++ {
		s.Reset()
		if s.Pick(pool).PlaybackPath == "media/heavy.mp4" {
			heavy++
		}
	}
	if heavy < 45 {
		t.Fatalf("expected heavy entry to dominate, won %d/50", heavy)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := newPlaybackSelector(rand.New(rand.NewSource(3)), zerolog.Nop())
	pool := testPool("m/a.mp4", "m/b.mp4", "m/c.mp4", "m/d.mp4", "m/e.mp4")

	for i := 0; i < 10; i++ {
		s.Pick(pool)
	}
	if len(s.history) > historyLimit {
		t.Fatalf("history grew past limit: %d", len(s.history))
	}
}

func TestTargetDurationUsesExplicitBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	lo, hi := 4.0, 4.0
	entry := &cuelist.PlaybackEntry{PlaybackPath: "x", Weight: 1, MinDurationS: &lo, MaxDurationS: &hi}

	if got := targetDuration(entry, rng); got != 4.0 {
		t.Fatalf("expected pinned duration 4.0, got %g", got)
	}
}

func TestTargetDurationConvertsLegacyCycles(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cycles := 2
	entry := &cuelist.PlaybackEntry{PlaybackPath: "x", Weight: 1, MinCycles: &cycles, MaxCycles: &cycles}

	if got := targetDuration(entry, rng); got != 2*legacyCycleSeconds {
		t.Fatalf("expected %g from legacy cycles, got %g", 2*legacyCycleSeconds, got)
	}
}

func TestTargetDurationDefaultRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	entry := &cuelist.PlaybackEntry{PlaybackPath: "x", Weight: 1}

	for i := 0; i < 100; i++ {
		got := targetDuration(entry, rng)
		if got < defaultMinCycles*legacyCycleSeconds || got > defaultMaxCycles*legacyCycleSeconds {
			t.Fatalf("duration %g outside legacy default range", got)
		}
	}
}
