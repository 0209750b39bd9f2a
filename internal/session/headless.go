/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"reflect"
	"sync"
)

// HeadlessDirector is a VisualDirector with no renderer behind it. It
// synthesizes cycle boundaries at a fixed interval from the Update
// cadence, which lets a session run end-to-end without any display.
type HeadlessDirector struct {
	mu          sync.Mutex
	intervalS   float64
	accumulated float64
	cycles      int
	paused      bool
	currentPath string
	playing     bool
	callbacks   []headlessCallback
}

type headlessCallback struct {
	key uintptr
	fn  func()
}

// NewHeadlessDirector creates a director that emits one cycle boundary
// every intervalS seconds of unpaused update time.
func NewHeadlessDirector(intervalS float64) *HeadlessDirector {
	if intervalS <= 0 {
		intervalS = 1.0
	}
	return &HeadlessDirector{intervalS: intervalS}
}

// LoadPlayback records the requested playback and always succeeds.
func (d *HeadlessDirector) LoadPlayback(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentPath = path
	return true
}

// StartPlayback marks the recorded playback as playing.
func (d *HeadlessDirector) StartPlayback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = true
}

// IsPlaying reports whether a playback has been started.
func (d *HeadlessDirector) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// CurrentPlayback returns the most recently loaded playback path.
func (d *HeadlessDirector) CurrentPlayback() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPath
}

// CycleCount returns the number of boundaries emitted so far.
func (d *HeadlessDirector) CycleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// RegisterCycleCallback registers fn once per identity.
func (d *HeadlessDirector) RegisterCycleCallback(fn func()) {
	if fn == nil {
		return
	}
	key := reflect.ValueOf(fn).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range d.callbacks {
		if cb.key == key {
			return
		}
	}
	d.callbacks = append(d.callbacks, headlessCallback{key: key, fn: fn})
}

// UnregisterCycleCallback removes a previously registered callback.
func (d *HeadlessDirector) UnregisterCycleCallback(fn func()) {
	if fn == nil {
		return
	}
	key := reflect.ValueOf(fn).Pointer()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cb := range d.callbacks {
		if cb.key == key {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// Pause suspends boundary generation.
func (d *HeadlessDirector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume restarts boundary generation.
func (d *HeadlessDirector) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

// Update accumulates dt and fires cycle callbacks for every full
// interval crossed. Callbacks run outside the director's lock.
func (d *HeadlessDirector) Update(dt float64) {
	d.mu.Lock()
	if d.paused {
		d.mu.Unlock()
		return
	}
	d.accumulated += dt
	fired := 0
	for d.accumulated >= d.intervalS {
		d.accumulated -= d.intervalS
		d.cycles++
		fired++
	}
	callbacks := append([]headlessCallback(nil), d.callbacks...)
	d.mu.Unlock()

	for i := 0; i < fired; i++ {
		for _, cb := range callbacks {
			cb.fn()
		}
	}
}

// NullAudioEngine is an AudioEngine that plays nothing. Every call
// succeeds so scheduling logic runs normally; duration estimates are
// unknown, which routes all tracks to (silent) streaming.
type NullAudioEngine struct{}

func (NullAudioEngine) LoadChannel(int, string) bool                  { return true }
func (NullAudioEngine) FadeInAndPlay(int, float64, float64, bool) bool { return true }
func (NullAudioEngine) FadeOutAndStop(int, float64) bool              { return true }
func (NullAudioEngine) IsPlaying(int) bool                            { return false }
func (NullAudioEngine) ChannelLength(int) float64                     { return 0 }
func (NullAudioEngine) SetStreamThresholdMB(float64)                  {}
func (NullAudioEngine) SetSlowDecodeThresholdMS(float64)              {}
func (NullAudioEngine) ShouldStream(string) bool                      { return true }
func (NullAudioEngine) PlayStreamingTrack(string, float64, float64, bool) bool {
	return true
}
func (NullAudioEngine) PlayStreamingTrackAsync(string, float64, float64, bool) (StreamHandle, bool) {
	return nil, false
}
func (NullAudioEngine) StopStreamingTrack(float64)                   {}
func (NullAudioEngine) PreloadSound(string) bool                     { return true }
func (NullAudioEngine) EstimateTrackDuration(string) (float64, bool) { return 0, false }
func (NullAudioEngine) DropCachedSound(string)                       {}
func (NullAudioEngine) PauseAll()                                    {}
func (NullAudioEngine) ResumeAll()                                   {}
func (NullAudioEngine) StopAll()                                     {}
func (NullAudioEngine) Update()                                      {}
