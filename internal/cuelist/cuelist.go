/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cuelist

import (
	"fmt"
	"strings"
)

// LoopMode determines what happens when the final cue completes.
type LoopMode string

const (
	LoopOnce     LoopMode = "once"      // play through and end the session
	LoopForever  LoopMode = "loop"      // wrap back to the first cue
	LoopPingPong LoopMode = "ping_pong" // reverse direction at each end
)

// TransitionMode describes the cuelist-level default transition.
type TransitionMode string

const (
	TransitionModeSnap TransitionMode = "snap"
	TransitionModeFade TransitionMode = "fade"
)

// Cuelist is an ordered sequence of cues plus session-level defaults.
type Cuelist struct {
	Name                 string
	Description          string
	Version              string
	Author               string
	Cues                 []Cue
	LoopMode             LoopMode
	TransitionMode       TransitionMode
	TransitionDurationMS float64
	Metadata             map[string]any
}

// NewCuelist constructs an empty cuelist with the serialization defaults.
func NewCuelist(name string) *Cuelist {
	return &Cuelist{
		Name:                 name,
		Version:              "1.0",
		LoopMode:             LoopOnce,
		TransitionMode:       TransitionModeSnap,
		TransitionDurationMS: 2000.0,
		Metadata:             make(map[string]any),
	}
}

// TotalDuration returns the sum of all cue durations in seconds.
func (cl *Cuelist) TotalDuration() float64 {
	var total float64
	for i := range cl.Cues {
		total += cl.Cues[i].DurationSeconds
	}
	return total
}

// GetCue returns the cue at index, or nil when out of range.
func (cl *Cuelist) GetCue(index int) *Cue {
	if index < 0 || index >= len(cl.Cues) {
		return nil
	}
	return &cl.Cues[index]
}

// AddCue appends a cue, or inserts it at position when position is in
// range.
func (cl *Cuelist) AddCue(cue Cue, position int) {
	if position < 0 || position >= len(cl.Cues) {
		cl.Cues = append(cl.Cues, cue)
		return
	}
	cl.Cues = append(cl.Cues[:position], append([]Cue{cue}, cl.Cues[position:]...)...)
}

// RemoveCue removes and returns the cue at index.
func (cl *Cuelist) RemoveCue(index int) (Cue, bool) {
	if index < 0 || index >= len(cl.Cues) {
		return Cue{}, false
	}
	cue := cl.Cues[index]
	cl.Cues = append(cl.Cues[:index], cl.Cues[index+1:]...)
	return cue, true
}

// ReorderCues rearranges cues according to newOrder, which must be a
// permutation of the current indices.
func (cl *Cuelist) ReorderCues(newOrder []int) error {
	if len(newOrder) != len(cl.Cues) {
		return fmt.Errorf("new order has %d entries, expected %d", len(newOrder), len(cl.Cues))
	}
	seen := make(map[int]bool, len(newOrder))
	for _, idx := range newOrder {
		if idx < 0 || idx >= len(cl.Cues) || seen[idx] {
			return fmt.Errorf("new order is not a permutation of cue indices")
		}
		seen[idx] = true
	}
	reordered := make([]Cue, len(cl.Cues))
	for pos, idx := range newOrder {
		reordered[pos] = cl.Cues[idx]
	}
	cl.Cues = reordered
	return nil
}

// Validate checks the cuelist and every cue in it.
func (cl *Cuelist) Validate() error {
	if strings.TrimSpace(cl.Name) == "" {
		return fmt.Errorf("cuelist name cannot be empty")
	}
	if len(cl.Cues) == 0 {
		return fmt.Errorf("cuelist must contain at least one cue")
	}

	switch cl.LoopMode {
	case LoopOnce, LoopForever, LoopPingPong:
	default:
		return fmt.Errorf("invalid loop mode %q", cl.LoopMode)
	}
	switch cl.TransitionMode {
	case TransitionModeSnap, TransitionModeFade:
	default:
		return fmt.Errorf("invalid transition mode %q", cl.TransitionMode)
	}
	if cl.TransitionDurationMS < 0 {
		return fmt.Errorf("transition_duration_ms must be non-negative, got %g", cl.TransitionDurationMS)
	}

	names := make(map[string]bool, len(cl.Cues))
	for i := range cl.Cues {
		if err := cl.Cues[i].Validate(); err != nil {
			return fmt.Errorf("cue %d (%q): %w", i, cl.Cues[i].Name, err)
		}
		if names[cl.Cues[i].Name] {
			return fmt.Errorf("duplicate cue name %q", cl.Cues[i].Name)
		}
		names[cl.Cues[i].Name] = true
	}
	return nil
}

// ToDict serializes the cuelist to a JSON-compatible map.
func (cl *Cuelist) ToDict() map[string]any {
	cues := make([]any, len(cl.Cues))
	for i := range cl.Cues {
		cues[i] = cl.Cues[i].ToDict()
	}
	version := cl.Version
	if version == "" {
		version = "1.0"
	}
	metadata := cl.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"name":                   cl.Name,
		"description":            cl.Description,
		"version":                version,
		"author":                 cl.Author,
		"loop_mode":              string(cl.LoopMode),
		"transition_mode":        string(cl.TransitionMode),
		"transition_duration_ms": cl.TransitionDurationMS,
		"cues":                   cues,
		"metadata":               metadata,
	}
}

// FromDict deserializes a cuelist.
func FromDict(data map[string]any) (*Cuelist, error) {
	name, ok := asString(data["name"])
	if !ok || name == "" {
		return nil, fmt.Errorf("cuelist missing 'name' field")
	}

	cl := &Cuelist{
		Name:                 name,
		TransitionDurationMS: floatOr(data, "transition_duration_ms", 2000.0),
		Metadata:             make(map[string]any),
	}
	cl.Description, _ = asString(data["description"])
	cl.Author, _ = asString(data["author"])
	if v, ok := asString(data["version"]); ok && v != "" {
		cl.Version = v
	} else {
		cl.Version = "1.0"
	}
	if v, ok := asString(data["loop_mode"]); ok && v != "" {
		cl.LoopMode = LoopMode(v)
	} else {
		cl.LoopMode = LoopOnce
	}
	if v, ok := asString(data["transition_mode"]); ok && v != "" {
		cl.TransitionMode = TransitionMode(v)
	} else {
		cl.TransitionMode = TransitionModeSnap
	}
	if meta, ok := asMap(data["metadata"]); ok {
		cl.Metadata = meta
	}

	rawCues, ok := data["cues"].([]any)
	if !ok {
		return nil, fmt.Errorf("cuelist %q missing 'cues' field", name)
	}
	cl.Cues = make([]Cue, 0, len(rawCues))
	for i, raw := range rawCues {
		cueData, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("cuelist %q cue %d is not an object", name, i)
		}
		cue, err := CueFromDict(cueData)
		if err != nil {
			return nil, fmt.Errorf("cuelist %q cue %d: %w", name, i, err)
		}
		cl.Cues = append(cl.Cues, cue)
	}

	return cl, nil
}
