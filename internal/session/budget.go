/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/cuelist"
	"github.com/friendsincode/cueplay/internal/telemetry"
)

// ReserveOutcome is the budget manager's routing decision for a track.
type ReserveOutcome int

const (
	// OutcomeReserved means the track fits the in-memory decode budget.
	OutcomeReserved ReserveOutcome = iota
	// OutcomeStream means the track must stream from disk.
	OutcomeStream
	// OutcomeDefer means the caller should retry later; budget is full
	// but the track is not yet needed for playback.
	OutcomeDefer
)

func (o ReserveOutcome) String() string {
	switch o {
	case OutcomeReserved:
		return "reserved"
	case OutcomeStream:
		return "stream"
	case OutcomeDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// durationBackend is the slice of the audio engine the budget manager
// needs: duration estimates for sizing and cache drops on release.
type durationBackend interface {
	EstimateTrackDuration(path string) (float64, bool)
	DropCachedSound(path string)
}

// reservation tracks decoded-seconds consumption for one track.
type reservation struct {
	role             cuelist.AudioRole
	cueIndex         int
	path             string
	remainingSeconds float64
	active           bool
}

// DefaultBudgets returns the per-role decoded-seconds ceilings.
func DefaultBudgets() map[cuelist.AudioRole]float64 {
	return map[cuelist.AudioRole]float64{
		cuelist.RoleHypno:      10.0,
		cuelist.RoleBackground: 10.0,
		cuelist.RoleGeneric:    5.0,
	}
}

// BufferBudget decides stream-vs-decode per audio track by accounting
// decoded seconds against a per-role ceiling. It is mutated only from
// the scheduler goroutine.
type BufferBudget struct {
	backend durationBackend
	logger  zerolog.Logger
	limits  map[cuelist.AudioRole]float64
	used    map[cuelist.AudioRole]float64
	// insertion order doubles as eviction order (oldest first)
	reservations []*reservation
}

// NewBufferBudget creates a budget manager with the given per-role
// limits; nil limits fall back to the defaults.
func NewBufferBudget(backend durationBackend, limits map[cuelist.AudioRole]float64, logger zerolog.Logger) *BufferBudget {
	if limits == nil {
		limits = DefaultBudgets()
	}
	return &BufferBudget{
		backend: backend,
		logger:  logger.With().Str("component", "buffer_budget").Logger(),
		limits:  limits,
		used:    make(map[cuelist.AudioRole]float64),
	}
}

// Reserve decides how a track should be loaded. Active reservations
// belong to a currently playing cue; inactive ones are prefetch
// lookahead and may be evicted to make room.
func (b *BufferBudget) Reserve(role cuelist.AudioRole, path string, cueIndex int, active, allowEviction bool) ReserveOutcome {
	outcome := b.reserve(role, path, cueIndex, active, allowEviction)
	telemetry.BufferReservations.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (b *BufferBudget) reserve(role cuelist.AudioRole, path string, cueIndex int, active, allowEviction bool) ReserveOutcome {
	limit := b.limits[role]
	if limit <= 0 {
		return OutcomeStream
	}

	if existing := b.find(path); existing != nil {
		existing.cueIndex = cueIndex
		existing.active = active
		return OutcomeReserved
	}

	duration, ok := b.backend.EstimateTrackDuration(path)
	if !ok {
		return OutcomeStream
	}
	if duration > limit {
		return OutcomeStream
	}

	required := duration
	if required > limit {
		required = limit
	}
	if required <= 0 {
		return OutcomeStream
	}

	if b.used[role]+required > limit && allowEviction {
		b.evictInactive(role, limit-required)
	}
	if b.used[role]+required > limit {
		if active {
			// Never block a playback start on budget pressure.
			return OutcomeStream
		}
		return OutcomeDefer
	}

	b.reservations = append(b.reservations, &reservation{
		role:             role,
		cueIndex:         cueIndex,
		path:             path,
		remainingSeconds: required,
		active:           active,
	})
	b.used[role] += required
	b.logger.Debug().
		Str("role", string(role)).
		Str("path", path).
		Float64("seconds", required).
		Float64("used", b.used[role]).
		Msg("reserved decode budget")
	return OutcomeReserved
}

func (b *BufferBudget) find(path string) *reservation {
	for _, res := range b.reservations {
		if res.path == path {
			return res
		}
	}
	return nil
}

// evictInactive frees inactive reservations for role, oldest first,
// until used seconds drop to target or none remain.
func (b *BufferBudget) evictInactive(role cuelist.AudioRole, target float64) {
	kept := b.reservations[:0]
	for _, res := range b.reservations {
		if b.used[role] > target && res.role == role && !res.active {
			b.used[role] -= res.remainingSeconds
			if b.used[role] < 0 {
				b.used[role] = 0
			}
			b.backend.DropCachedSound(res.path)
			b.logger.Debug().Str("path", res.path).Str("role", string(role)).Msg("evicted prefetched decode")
			continue
		}
		kept = append(kept, res)
	}
	b.reservations = kept
}

// Decay shrinks active reservations by elapsed playback time, freeing
// budget as tracks play through their decoded content.
func (b *BufferBudget) Decay(dt float64) {
	if dt <= 0 {
		return
	}
	for _, res := range b.reservations {
		if !res.active || res.remainingSeconds <= 0 {
			continue
		}
		delta := dt
		if delta > res.remainingSeconds {
			delta = res.remainingSeconds
		}
		res.remainingSeconds -= delta
		b.used[res.role] -= delta
		if b.used[res.role] < 0 {
			b.used[res.role] = 0
		}
	}
}

// ReleasePath drops the reservation for one path. The cached decode is
// dropped only when the track is not currently playing.
func (b *BufferBudget) ReleasePath(path string) {
	for i, res := range b.reservations {
		if res.path != path {
			continue
		}
		b.used[res.role] -= res.remainingSeconds
		if b.used[res.role] < 0 {
			b.used[res.role] = 0
		}
		if !res.active {
			b.backend.DropCachedSound(path)
		}
		b.reservations = append(b.reservations[:i], b.reservations[i+1:]...)
		return
	}
}

// ReleaseCue releases every reservation owned by a cue and drops the
// cached decodes.
func (b *BufferBudget) ReleaseCue(cueIndex int) {
	kept := b.reservations[:0]
	for _, res := range b.reservations {
		if res.cueIndex != cueIndex {
			kept = append(kept, res)
			continue
		}
		b.used[res.role] -= res.remainingSeconds
		if b.used[res.role] < 0 {
			b.used[res.role] = 0
		}
		b.backend.DropCachedSound(res.path)
	}
	b.reservations = kept
}

// UsedSeconds returns the seconds currently reserved for a role.
func (b *BufferBudget) UsedSeconds(role cuelist.AudioRole) float64 {
	return b.used[role]
}

// Reset clears all reservations without touching the audio cache.
func (b *BufferBudget) Reset() {
	b.reservations = nil
	b.used = make(map[cuelist.AudioRole]float64)
}
