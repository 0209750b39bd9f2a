package session

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/cuelist"
)

type stubBackend struct {
	durations map[string]float64
	dropped   []string
}

func (s *stubBackend) EstimateTrackDuration(path string) (float64, bool) {
	d, ok := s.durations[path]
	return d, ok
}

func (s *stubBackend) DropCachedSound(path string) {
	s.dropped = append(s.dropped, path)
}

func newTestBudget(durations map[string]float64) (*BufferBudget, *stubBackend) {
	backend := &stubBackend{durations: durations}
	return NewBufferBudget(backend, nil, zerolog.Nop()), backend
}

func TestReserveWithinBudget(t *testing.T) {
	b, _ := newTestBudget(map[string]float64{"a.ogg": 6})

	if got := b.Reserve(cuelist.RoleHypno, "a.ogg", 0, true, true); got != OutcomeReserved {
		t.Fatalf("expected reserved, got %v", got)
	}
	if used := b.UsedSeconds(cuelist.RoleHypno); used != 6 {
		t.Fatalf("expected 6 used seconds, got %g", used)
	}
}

func TestReserveStreamsUnknownDuration(t *testing.T) {
	b, _ := newTestBudget(nil)
	if got := b.Reserve(cuelist.RoleHypno, "mystery.ogg", 0, true, true); got != OutcomeStream {
		t.Fatalf("expected stream for unknown duration, got %v", got)
	}
}

func TestReserveStreamsOversizedTrack(t *testing.T) {
	b, _ := newTestBudget(map[string]float64{"long.ogg": 25})
	if got := b.Reserve(cuelist.RoleHypno, "long.ogg", 0, true, true); got != OutcomeStream {
		t.Fatalf("expected stream for track exceeding whole budget, got %v", got)
	}
}

func TestReserveStreamsWhenRoleBudgetZero(t *testing.T) {
	backend := &stubBackend{durations: map[string]float64{"a.ogg": 1}}
	b := NewBufferBudget(backend, map[cuelist.AudioRole]float64{cuelist.RoleHypno: 0}, zerolog.Nop())
	if got := b.Reserve(cuelist.RoleHypno, "a.ogg", 0, true, true); got != OutcomeStream {
		t.Fatalf("expected stream for zero budget, got %v", got)
	}
}

func TestReserveRefreshesExistingReservation(t *testing.T) {
	b, _ := newTestBudget(map[string]float64{"a.ogg": 6})

	b.Reserve(cuelist.RoleHypno, "a.ogg", 0, false, false)
	if got := b.Reserve(cuelist.RoleHypno, "a.ogg", 2, true, true); got != OutcomeReserved {
		t.Fatalf("expected refresh to return reserved, got %v", got)
	}
	if used := b.UsedSeconds(cuelist.RoleHypno); used != 6 {
		t.Fatalf("refresh must not double count, got %g", used)
	}

	// The refreshed reservation now belongs to cue 2.
	b.ReleaseCue(2)
	if used := b.UsedSeconds(cuelist.RoleHypno); used != 0 {
		t.Fatalf("expected refreshed reservation released with its new cue, got %g used", used)
	}
}

func TestReserveOverflowDefersInactiveAndStreamsActive(t *testing.T) {
	b, _ := newTestBudget(map[string]float64{"a.ogg": 8, "b.ogg": 8})

	if got := b.Reserve(cuelist.RoleHypno, "a.ogg", 0, true, true); got != OutcomeReserved {
		t.Fatalf("expected first reserve to succeed, got %v", got)
	}
	// Active reservations are never evicted; the prefetch request waits.
	if got := b.Reserve(cuelist.RoleHypno, "b.ogg", 1, false, false); got != OutcomeDefer {
		t.Fatalf("expected inactive overflow to defer, got %v", got)
	}
	// A track that must start now streams instead of blocking.
	if got := b.Reserve(cuelist.RoleHypno, "b.ogg", 1, true, true); got != OutcomeStream {
		t.Fatalf("expected active overflow to stream, got %v", got)
	}
}

func TestReserveEvictsInactiveOldestFirst(t *testing.T) {
	b, backend := newTestBudget(map[string]float64{"old.ogg": 6, "new.ogg": 6})

	b.Reserve(cuelist.RoleHypno, "old.ogg", 0, false, false)
	if got := b.Reserve(cuelist.RoleHypno, "new.ogg", 1, true, true); got != OutcomeReserved {
		t.Fatalf("expected eviction to free space, got %v", got)
	}
	if len(backend.dropped) != 1 || backend.dropped[0] != "old.ogg" {
		t.Fatalf("expected old.ogg evicted and dropped, got %v", backend.dropped)
	}
	if used := b.UsedSeconds(cuelist.RoleHypno); used != 6 {
		t.Fatalf("expected 6 used after eviction, got %g", used)
	}
}

func TestDecayFreesActiveReservations(t *testing.T) {
	b, _ := newTestBudget(map[string]float64{"a.ogg": 6, "b.ogg": 6})

	b.Reserve(cuelist.RoleHypno, "a.ogg", 0, true, true)
	if got := b.Reserve(cuelist.RoleHypno, "b.ogg", 1, false, false); got != OutcomeDefer {
		t.Fatalf("expected defer before decay, got %v", got)
	}

	b.Decay(3.0)
	if used := b.UsedSeconds(cuelist.RoleHypno); used != 3 {
		t.Fatalf("expected decay to free 3 seconds, got %g used", used)
	}
	b.Decay(3.0)
	if got := b.Reserve(cuelist.RoleHypno, "b.ogg", 1, false, false); got != OutcomeReserved {
		t.Fatalf("expected reserve after decay, got %v", got)
	}
}

func TestReleasePathDropsInactiveCache(t *testing.T) {
	b, backend := newTestBudget(map[string]float64{"a.ogg": 4, "b.ogg": 4})

	b.Reserve(cuelist.RoleGeneric, "a.ogg", 0, false, false)
	b.ReleasePath("a.ogg")
	if b.UsedSeconds(cuelist.RoleGeneric) != 0 {
		t.Fatalf("expected budget freed, got %g", b.UsedSeconds(cuelist.RoleGeneric))
	}
	if len(backend.dropped) != 1 || backend.dropped[0] != "a.ogg" {
		t.Fatalf("expected inactive release to drop cache, got %v", backend.dropped)
	}

	// An active release keeps the cache; the track is still playing.
	b.Reserve(cuelist.RoleGeneric, "b.ogg", 0, true, true)
	b.ReleasePath("b.ogg")
	if len(backend.dropped) != 1 {
		t.Fatalf("expected active release to keep cache, got %v", backend.dropped)
	}
}

func TestReleaseCueDropsEverything(t *testing.T) {
	b, backend := newTestBudget(map[string]float64{"a.ogg": 4, "b.ogg": 4})

	b.Reserve(cuelist.RoleHypno, "a.ogg", 2, true, true)
	b.Reserve(cuelist.RoleBackground, "b.ogg", 2, true, true)
	b.ReleaseCue(2)

	if b.UsedSeconds(cuelist.RoleHypno) != 0 || b.UsedSeconds(cuelist.RoleBackground) != 0 {
		t.Fatal("expected all cue budget freed")
	}
	if len(backend.dropped) != 2 {
		t.Fatalf("expected both caches dropped, got %v", backend.dropped)
	}
}
