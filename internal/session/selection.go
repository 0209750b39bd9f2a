/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/cuelist"
)

// legacyCycleSeconds converts legacy cycle-count bounds into seconds.
// The 10s-per-cycle figure is a long-standing content-compat constant;
// cuelists in the wild were authored against it.
const legacyCycleSeconds = 10.0

const (
	defaultMinDurationS = 5.0
	defaultMaxDurationS = 30.0
	defaultMinCycles    = 1
	defaultMaxCycles    = 3
	historyLimit        = 3
)

// playbackSelector picks entries from a cue's weighted pool while
// avoiding the most recently shown playbacks.
type playbackSelector struct {
	rng     *rand.Rand
	logger  zerolog.Logger
	history []string
}

func newPlaybackSelector(rng *rand.Rand, logger zerolog.Logger) *playbackSelector {
	return &playbackSelector{
		rng:    rng,
		logger: logger.With().Str("component", "playback_selector").Logger(),
	}
}

// Reset clears the anti-repeat history, typically at cue start.
func (s *playbackSelector) Reset() {
	s.history = s.history[:0]
}

// Pick returns a weighted random entry from the pool, excluding
// recently shown playbacks when alternatives exist.
func (s *playbackSelector) Pick(pool []cuelist.PlaybackEntry) *cuelist.PlaybackEntry {
	if len(pool) == 0 {
		return nil
	}

	available := make([]*cuelist.PlaybackEntry, 0, len(pool))
	for i := range pool {
		if !s.recentlyShown(pool[i].PlaybackPath) {
			available = append(available, &pool[i])
		}
	}
	if len(available) == 0 {
		for i := range pool {
			available = append(available, &pool[i])
		}
	}

	chosen := s.weightedChoice(available)
	s.remember(chosen.PlaybackPath)
	return chosen
}

func (s *playbackSelector) weightedChoice(entries []*cuelist.PlaybackEntry) *cuelist.PlaybackEntry {
	var total float64
	for _, e := range entries {
		total += e.Weight
	}
	if total <= 0 {
		s.logger.Warn().Int("entries", len(entries)).Msg("playback pool has no positive weight, choosing uniformly")
		return entries[s.rng.Intn(len(entries))]
	}

	r := s.rng.Float64() * total
	var cumulative float64
	for _, e := range entries {
		cumulative += e.Weight
		if r <= cumulative {
			return e
		}
	}
	return entries[len(entries)-1]
}

func (s *playbackSelector) recentlyShown(path string) bool {
	stem := playbackStem(path)
	for _, h := range s.history {
		if h == stem {
			return true
		}
	}
	return false
}

func (s *playbackSelector) remember(path string) {
	s.history = append(s.history, playbackStem(path))
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func playbackStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// targetDuration samples how long a selected playback should stay on
// screen. Duration bounds win over the legacy cycle-count bounds.
func targetDuration(entry *cuelist.PlaybackEntry, rng *rand.Rand) float64 {
	var minS, maxS float64
	if entry.MinDurationS != nil || entry.MaxDurationS != nil {
		minS = defaultMinDurationS
		if entry.MinDurationS != nil {
			minS = *entry.MinDurationS
		}
		maxS = defaultMaxDurationS
		if entry.MaxDurationS != nil {
			maxS = *entry.MaxDurationS
		}
	} else {
		minCycles := defaultMinCycles
		if entry.MinCycles != nil {
			minCycles = *entry.MinCycles
		}
		maxCycles := defaultMaxCycles
		if entry.MaxCycles != nil {
			maxCycles = *entry.MaxCycles
		}
		minS = float64(minCycles) * legacyCycleSeconds
		maxS = float64(maxCycles) * legacyCycleSeconds
	}
	if maxS < minS {
		maxS = minS
	}
	return minS + rng.Float64()*(maxS-minS)
}
