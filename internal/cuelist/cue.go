/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cuelist defines the cue scheduling data model: cues, their
// weighted playback pools, audio track configuration, and the cuelist
// document that sequences them.
package cuelist

import (
	"fmt"
	"strings"
)

// SelectionMode determines when a cue picks a new playback from its pool.
type SelectionMode string

const (
	SelectOnCueStart     SelectionMode = "on_cue_start"     // select once at cue start
	SelectOnMediaCycle   SelectionMode = "on_media_cycle"   // switch at each media cycle boundary
	SelectOnTimedInterval SelectionMode = "on_timed_interval" // switch at fixed time intervals
)

// AudioRole enumerates the purpose of a cue-level audio track.
type AudioRole string

const (
	RoleHypno      AudioRole = "hypno"
	RoleBackground AudioRole = "background"
	RoleGeneric    AudioRole = "generic"
)

// ParseAudioRole maps a serialized role onto a known value, defaulting
// to GENERIC for anything unrecognized.
func ParseAudioRole(s string) AudioRole {
	switch AudioRole(s) {
	case RoleHypno, RoleBackground, RoleGeneric:
		return AudioRole(s)
	default:
		return RoleGeneric
	}
}

// PlaybackEntry is one candidate in a cue's weighted playback pool.
// Duration bounds cap how long the playback stays active once selected;
// the cycle-count fields are the deprecated pre-duration equivalents.
type PlaybackEntry struct {
	PlaybackPath string
	Weight       float64
	MinDurationS *float64
	MaxDurationS *float64
	MinCycles    *int
	MaxCycles    *int
	TextMessages []string
}

// Validate checks entry constraints.
func (p *PlaybackEntry) Validate() error {
	if p.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %g", p.Weight)
	}
	if p.MinDurationS != nil && *p.MinDurationS < 0 {
		return fmt.Errorf("min_duration_s must be non-negative, got %g", *p.MinDurationS)
	}
	if p.MaxDurationS != nil && *p.MaxDurationS < 0 {
		return fmt.Errorf("max_duration_s must be non-negative, got %g", *p.MaxDurationS)
	}
	if p.MinDurationS != nil && p.MaxDurationS != nil && *p.MinDurationS > *p.MaxDurationS {
		return fmt.Errorf("min_duration_s (%g) cannot exceed max_duration_s (%g)", *p.MinDurationS, *p.MaxDurationS)
	}
	if p.MinCycles != nil && *p.MinCycles < 0 {
		return fmt.Errorf("min_cycles must be non-negative, got %d", *p.MinCycles)
	}
	if p.MaxCycles != nil && *p.MaxCycles < 0 {
		return fmt.Errorf("max_cycles must be non-negative, got %d", *p.MaxCycles)
	}
	if p.MinCycles != nil && p.MaxCycles != nil && *p.MinCycles > *p.MaxCycles {
		return fmt.Errorf("min_cycles (%d) cannot exceed max_cycles (%d)", *p.MinCycles, *p.MaxCycles)
	}
	return nil
}

// HasDurationConstraints reports whether any duration or legacy cycle
// bound is configured on the entry.
func (p *PlaybackEntry) HasDurationConstraints() bool {
	return p.MinDurationS != nil || p.MaxDurationS != nil || p.MinCycles != nil || p.MaxCycles != nil
}

// ToDict serializes the entry to a JSON-compatible map.
func (p *PlaybackEntry) ToDict() map[string]any {
	data := map[string]any{
		"playback": p.PlaybackPath,
		"weight":   p.Weight,
	}
	if p.MinDurationS != nil {
		data["min_duration_s"] = *p.MinDurationS
	}
	if p.MaxDurationS != nil {
		data["max_duration_s"] = *p.MaxDurationS
	}
	if p.MinCycles != nil {
		data["min_cycles"] = float64(*p.MinCycles)
	}
	if p.MaxCycles != nil {
		data["max_cycles"] = float64(*p.MaxCycles)
	}
	if len(p.TextMessages) > 0 {
		msgs := make([]any, len(p.TextMessages))
		for i, m := range p.TextMessages {
			msgs[i] = m
		}
		data["text_messages"] = msgs
	}
	return data
}

// PlaybackEntryFromDict deserializes an entry.
func PlaybackEntryFromDict(data map[string]any) (PlaybackEntry, error) {
	path, ok := asString(data["playback"])
	if !ok || path == "" {
		return PlaybackEntry{}, fmt.Errorf("playback entry missing 'playback' field")
	}
	entry := PlaybackEntry{
		PlaybackPath: path,
		Weight:       floatOr(data, "weight", 1.0),
		MinDurationS: optionalFloat(data, "min_duration_s"),
		MaxDurationS: optionalFloat(data, "max_duration_s"),
		MinCycles:    optionalInt(data, "min_cycles"),
		MaxCycles:    optionalInt(data, "max_cycles"),
		TextMessages: stringSlice(data["text_messages"]),
	}
	return entry, nil
}

// AudioTrack is the audio configuration for one role within a cue.
type AudioTrack struct {
	FilePath  string
	Volume    float64
	Loop      bool
	FadeInMS  float64
	FadeOutMS float64
	Role      AudioRole
}

// DefaultAudioTrack returns a track with the source defaults applied.
func DefaultAudioTrack(path string) AudioTrack {
	return AudioTrack{
		FilePath:  path,
		Volume:    1.0,
		FadeInMS:  500,
		FadeOutMS: 500,
		Role:      RoleGeneric,
	}
}

// Validate checks track settings.
func (a *AudioTrack) Validate() error {
	if a.Volume < 0.0 || a.Volume > 1.0 {
		return fmt.Errorf("volume must be 0.0-1.0, got %g", a.Volume)
	}
	if a.FadeInMS < 0 {
		return fmt.Errorf("fade_in_ms must be non-negative, got %g", a.FadeInMS)
	}
	if a.FadeOutMS < 0 {
		return fmt.Errorf("fade_out_ms must be non-negative, got %g", a.FadeOutMS)
	}
	switch a.Role {
	case RoleHypno, RoleBackground, RoleGeneric:
	default:
		return fmt.Errorf("invalid audio role %q", a.Role)
	}
	return nil
}

// ToDict serializes the track to a JSON-compatible map.
func (a *AudioTrack) ToDict() map[string]any {
	return map[string]any{
		"file":        a.FilePath,
		"volume":      a.Volume,
		"loop":        a.Loop,
		"fade_in_ms":  a.FadeInMS,
		"fade_out_ms": a.FadeOutMS,
		"role":        string(a.Role),
	}
}

// AudioTrackFromDict deserializes a track.
func AudioTrackFromDict(data map[string]any) (AudioTrack, error) {
	file, ok := asString(data["file"])
	if !ok || file == "" {
		return AudioTrack{}, fmt.Errorf("audio track missing 'file' field")
	}
	role := RoleGeneric
	if raw, ok := asString(data["role"]); ok && raw != "" {
		role = ParseAudioRole(raw)
	}
	return AudioTrack{
		FilePath:  file,
		Volume:    floatOr(data, "volume", 1.0),
		Loop:      boolOr(data, "loop", false),
		FadeInMS:  floatOr(data, "fade_in_ms", 500),
		FadeOutMS: floatOr(data, "fade_out_ms", 500),
		Role:      role,
	}, nil
}

// TransitionType enumerates cue boundary transition effects.
type TransitionType string

const (
	TransitionNone        TransitionType = "none"
	TransitionFade        TransitionType = "fade"
	TransitionInterpolate TransitionType = "interpolate"
)

// CueTransition describes the effect at a cue boundary. Transitions are
// always synchronized to media cycle boundaries.
type CueTransition struct {
	Type       TransitionType
	DurationMS float64
}

// DefaultCueTransition returns the source default transition.
func DefaultCueTransition() CueTransition {
	return CueTransition{Type: TransitionNone, DurationMS: 500}
}

// Validate checks transition settings.
func (c *CueTransition) Validate() error {
	switch c.Type {
	case TransitionNone, TransitionFade, TransitionInterpolate:
	default:
		return fmt.Errorf("invalid transition type %q, must be one of [none fade interpolate]", c.Type)
	}
	if c.DurationMS < 0 {
		return fmt.Errorf("duration_ms must be non-negative, got %g", c.DurationMS)
	}
	return nil
}

// ToDict serializes the transition to a JSON-compatible map.
func (c *CueTransition) ToDict() map[string]any {
	return map[string]any{
		"type":        string(c.Type),
		"duration_ms": c.DurationMS,
	}
}

// CueTransitionFromDict deserializes a transition.
func CueTransitionFromDict(data map[string]any) CueTransition {
	t := DefaultCueTransition()
	if raw, ok := asString(data["type"]); ok && raw != "" {
		t.Type = TransitionType(raw)
	}
	t.DurationMS = floatOr(data, "duration_ms", 500)
	return t
}

// Cue is one timed segment of a session: a weighted playback pool, a
// selection policy, up to two audio tracks, and entry/exit transitions.
type Cue struct {
	Name                     string
	DurationSeconds          float64
	PlaybackPool             []PlaybackEntry
	SelectionMode            SelectionMode
	SelectionIntervalSeconds *float64
	TransitionIn             CueTransition
	TransitionOut            CueTransition
	AudioTracks              []AudioTrack
	TextMessages             []string
}

// NewCue constructs a cue with default selection mode and transitions.
func NewCue(name string, durationSeconds float64, pool []PlaybackEntry) Cue {
	return Cue{
		Name:            name,
		DurationSeconds: durationSeconds,
		PlaybackPool:    pool,
		SelectionMode:   SelectOnCueStart,
		TransitionIn:    DefaultCueTransition(),
		TransitionOut:   DefaultCueTransition(),
	}
}

// Validate checks the cue configuration.
func (c *Cue) Validate() error {
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive, got %g", c.DurationSeconds)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("cue name cannot be empty")
	}
	if len(c.PlaybackPool) == 0 {
		return fmt.Errorf("playback_pool cannot be empty")
	}
	for i := range c.PlaybackPool {
		if err := c.PlaybackPool[i].Validate(); err != nil {
			return fmt.Errorf("playback entry %d: %w", i, err)
		}
	}

	switch c.SelectionMode {
	case SelectOnCueStart, SelectOnMediaCycle, SelectOnTimedInterval:
	default:
		return fmt.Errorf("invalid selection mode %q", c.SelectionMode)
	}
	if c.SelectionMode == SelectOnTimedInterval {
		if c.SelectionIntervalSeconds == nil {
			return fmt.Errorf("selection_interval_seconds required for on_timed_interval mode")
		}
		if *c.SelectionIntervalSeconds <= 0 {
			return fmt.Errorf("selection_interval_seconds must be positive, got %g", *c.SelectionIntervalSeconds)
		}
	}

	if err := c.TransitionIn.Validate(); err != nil {
		return fmt.Errorf("transition_in: %w", err)
	}
	if err := c.TransitionOut.Validate(); err != nil {
		return fmt.Errorf("transition_out: %w", err)
	}

	if len(c.AudioTracks) > 2 {
		return fmt.Errorf("maximum 2 audio tracks allowed, got %d", len(c.AudioTracks))
	}
	roleCounts := make(map[AudioRole]int)
	for i := range c.AudioTracks {
		if err := c.AudioTracks[i].Validate(); err != nil {
			return fmt.Errorf("audio track %d: %w", i, err)
		}
		role := c.AudioTracks[i].Role
		roleCounts[role]++
		if role != RoleGeneric && roleCounts[role] > 1 {
			return fmt.Errorf("only one %q track allowed per cue", role)
		}
	}

	return nil
}

// AudioTrackForRole returns the track configured for a role, if any.
func (c *Cue) AudioTrackForRole(role AudioRole) *AudioTrack {
	for i := range c.AudioTracks {
		if c.AudioTracks[i].Role == role {
			return &c.AudioTracks[i]
		}
	}
	return nil
}

// ToDict serializes the cue to a JSON-compatible map.
func (c *Cue) ToDict() map[string]any {
	pool := make([]any, len(c.PlaybackPool))
	for i := range c.PlaybackPool {
		pool[i] = c.PlaybackPool[i].ToDict()
	}
	data := map[string]any{
		"name":             c.Name,
		"duration_seconds": c.DurationSeconds,
		"playback_pool":    pool,
		"selection_mode":   string(c.SelectionMode),
		"transition_in":    c.TransitionIn.ToDict(),
		"transition_out":   c.TransitionOut.ToDict(),
	}

	if c.SelectionIntervalSeconds != nil {
		data["selection_interval_seconds"] = *c.SelectionIntervalSeconds
	}

	if len(c.AudioTracks) > 0 {
		serialized := make([]any, len(c.AudioTracks))
		for i := range c.AudioTracks {
			serialized[i] = c.AudioTracks[i].ToDict()
		}
		data["audio_tracks"] = serialized

		audioLayer := make(map[string]any)
		for i := range c.AudioTracks {
			switch c.AudioTracks[i].Role {
			case RoleHypno:
				audioLayer["hypno"] = c.AudioTracks[i].ToDict()
			case RoleBackground:
				audioLayer["background"] = c.AudioTracks[i].ToDict()
			}
		}
		if len(audioLayer) > 0 {
			data["audio"] = audioLayer
		}
	}

	if c.TextMessages != nil {
		msgs := make([]any, len(c.TextMessages))
		for i, m := range c.TextMessages {
			msgs[i] = m
		}
		data["text_messages"] = msgs
	}

	return data
}

// CueFromDict deserializes a cue, normalizing both the current and the
// legacy schema variants at the boundary so internal code only ever
// sees the canonical shape.
func CueFromDict(data map[string]any) (Cue, error) {
	name, ok := asString(data["name"])
	if !ok || name == "" {
		return Cue{}, fmt.Errorf("cue missing 'name' field")
	}

	// Legacy documents stored the duration under "duration".
	var duration float64
	if v, ok := asFloat(data["duration_seconds"]); ok {
		duration = v
	} else if v, ok := asFloat(data["duration"]); ok {
		duration = v
	} else {
		return Cue{}, fmt.Errorf("cue %q missing 'duration_seconds' or 'duration' field", name)
	}

	// Migrate the pre-rename selection mode value.
	modeStr, _ := asString(data["selection_mode"])
	if modeStr == "" {
		modeStr = string(SelectOnCueStart)
	}
	if modeStr == "random_each_cycle" {
		modeStr = string(SelectOnMediaCycle)
	}

	rawPool, ok := data["playback_pool"].([]any)
	if !ok || len(rawPool) == 0 {
		return Cue{}, fmt.Errorf("cue %q missing 'playback_pool' field", name)
	}
	pool := make([]PlaybackEntry, 0, len(rawPool))
	for i, raw := range rawPool {
		entryData, ok := asMap(raw)
		if !ok {
			return Cue{}, fmt.Errorf("cue %q playback entry %d is not an object", name, i)
		}
		entry, err := PlaybackEntryFromDict(entryData)
		if err != nil {
			return Cue{}, fmt.Errorf("cue %q playback entry %d: %w", name, i, err)
		}
		pool = append(pool, entry)
	}

	tracks, err := audioTracksFromDict(data)
	if err != nil {
		return Cue{}, fmt.Errorf("cue %q: %w", name, err)
	}

	cue := Cue{
		Name:                     name,
		DurationSeconds:          duration,
		PlaybackPool:             pool,
		SelectionMode:            SelectionMode(modeStr),
		SelectionIntervalSeconds: optionalFloat(data, "selection_interval_seconds"),
		TransitionIn:             transitionFromField(data, "transition_in"),
		TransitionOut:            transitionFromField(data, "transition_out"),
		AudioTracks:              tracks,
		TextMessages:             stringSlice(data["text_messages"]),
	}
	return cue, nil
}

// audioTracksFromDict prefers the role-keyed "audio" object and falls
// back to the legacy "audio_tracks" array, assigning default roles to
// the first two legacy entries for deterministic behavior.
func audioTracksFromDict(data map[string]any) ([]AudioTrack, error) {
	if audioBlock, ok := asMap(data["audio"]); ok {
		var tracks []AudioTrack
		if raw, ok := asMap(audioBlock["hypno"]); ok {
			track, err := AudioTrackFromDict(raw)
			if err != nil {
				return nil, fmt.Errorf("audio.hypno: %w", err)
			}
			track.Role = RoleHypno
			tracks = append(tracks, track)
		}
		if raw, ok := asMap(audioBlock["background"]); ok {
			track, err := AudioTrackFromDict(raw)
			if err != nil {
				return nil, fmt.Errorf("audio.background: %w", err)
			}
			track.Role = RoleBackground
			tracks = append(tracks, track)
		}
		if len(tracks) > 0 {
			return tracks, nil
		}
	}

	rawTracks, ok := data["audio_tracks"].([]any)
	if !ok {
		return nil, nil
	}
	tracks := make([]AudioTrack, 0, len(rawTracks))
	for i, raw := range rawTracks {
		trackData, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("audio track %d is not an object", i)
		}
		track, err := AudioTrackFromDict(trackData)
		if err != nil {
			return nil, fmt.Errorf("audio track %d: %w", i, err)
		}
		tracks = append(tracks, track)
	}
	if len(tracks) >= 1 && tracks[0].Role == RoleGeneric {
		tracks[0].Role = RoleHypno
	}
	if len(tracks) >= 2 && tracks[1].Role == RoleGeneric {
		tracks[1].Role = RoleBackground
	}
	return tracks, nil
}

func transitionFromField(data map[string]any, key string) CueTransition {
	if raw, ok := asMap(data[key]); ok {
		return CueTransitionFromDict(raw)
	}
	return DefaultCueTransition()
}
