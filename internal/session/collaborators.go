/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the cue scheduler: the session state
// machine, cycle-synchronized transitions, weighted playback selection,
// the audio decode budget, and the frame-timing safety net.
package session

// VisualDirector is the renderer collaborator. It paints playbacks and
// reports cycle boundaries, the seams at which content may change
// without a jarring cut.
type VisualDirector interface {
	LoadPlayback(path string) bool
	StartPlayback()
	CycleCount() int
	// RegisterCycleCallback registers fn to fire once per cycle
	// boundary. Callbacks may arrive from any goroutine.
	RegisterCycleCallback(fn func())
	UnregisterCycleCallback(fn func())
	Pause()
	Resume()
	Update(dt float64)
}

// StreamHandle is a pollable asynchronous stream start.
type StreamHandle interface {
	// Poll reports (done, ok): done stays false until the start attempt
	// resolves, then ok carries the result.
	Poll() (done bool, ok bool)
}

// AudioEngine is the audio backend collaborator. Channels hold decoded
// in-memory tracks; at most one disk stream plays at a time.
type AudioEngine interface {
	LoadChannel(channel int, path string) bool
	FadeInAndPlay(channel int, fadeMS, volume float64, loop bool) bool
	FadeOutAndStop(channel int, fadeMS float64) bool
	IsPlaying(channel int) bool
	ChannelLength(channel int) float64

	// SetStreamThresholdMB sets the asset size above which ShouldStream
	// reports true; 0 disables size-based streaming.
	SetStreamThresholdMB(mb float64)
	// SetSlowDecodeThresholdMS sets the decode latency above which the
	// backend streams an asset permanently.
	SetSlowDecodeThresholdMS(ms float64)
	ShouldStream(path string) bool
	PlayStreamingTrack(path string, volume, fadeMS float64, loop bool) bool
	// PlayStreamingTrackAsync returns (handle, true) when the backend
	// supports asynchronous stream start, else (nil, false).
	PlayStreamingTrackAsync(path string, volume, fadeMS float64, loop bool) (StreamHandle, bool)
	StopStreamingTrack(fadeMS float64)

	PreloadSound(path string) bool
	EstimateTrackDuration(path string) (float64, bool)
	DropCachedSound(path string)

	PauseAll()
	ResumeAll()
	StopAll()
	Update()
}
