/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fogleman/ease"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/friendsincode/cueplay/internal/cuelist"
	"github.com/friendsincode/cueplay/internal/events"
	"github.com/friendsincode/cueplay/internal/prefetch"
	"github.com/friendsincode/cueplay/internal/telemetry"
)

// SessionState is the runner lifecycle state.
type SessionState string

const (
	StateStopped   SessionState = "stopped"
	StateRunning   SessionState = "running"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
)

const (
	// emaAlpha is the smoothing factor for the cycle interval estimate.
	emaAlpha = 0.25
	// cycle intervals outside this window are treated as noise
	minCycleInterval = 0.05
	maxCycleInterval = 60.0
	// safety-net timeout bounds around 2.5x the estimated interval
	minForceTimeout = 0.75
	maxForceTimeout = 10.0

	defaultPrefetchLeadSeconds = 8.0
	defaultPrefetchWaitMS      = 150.0
	defaultSlowDecodeMS        = 500.0
	defaultFadeMS              = 500.0

	progressInterval = time.Second
)

// Options tunes a Runner. Zero values take the documented defaults.
type Options struct {
	PrefetchLeadSeconds float64
	PrefetchWaitMS      float64
	SlowDecodeMS        float64
	StreamThresholdMB   float64 // 0 disables size-based streaming
	Budgets             map[cuelist.AudioRole]float64
	Clock               clock.Clock
	RNG                 *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.PrefetchLeadSeconds <= 0 {
		o.PrefetchLeadSeconds = defaultPrefetchLeadSeconds
	}
	if o.PrefetchWaitMS <= 0 {
		o.PrefetchWaitMS = defaultPrefetchWaitMS
	}
	if o.SlowDecodeMS <= 0 {
		o.SlowDecodeMS = defaultSlowDecodeMS
	}
	if o.Budgets == nil {
		o.Budgets = DefaultBudgets()
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.RNG == nil {
		o.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

type jobKey struct {
	cue  int
	path string
}

type pendingStream struct {
	handle       StreamHandle
	track        cuelist.AudioTrack
	cueIndex     int
	reason       string
	reserved     bool
	budgetForced bool
}

// Runner executes a cuelist: it owns the session state machine, the
// cycle-synchronized transition protocol, playback selection, and the
// audio decode budget. Driven by a host loop calling Update at a fixed
// cadence; cycle boundaries arrive via the visual collaborator's
// callback and may come from another goroutine.
type Runner struct {
	mu sync.Mutex

	list    *cuelist.Cuelist
	visual  VisualDirector
	audio   AudioEngine
	worker  *prefetch.Worker
	emitter *events.Emitter
	logger  zerolog.Logger

	opts     Options
	clock    clock.Clock
	rng      *rand.Rand
	budget   *BufferBudget
	selector *playbackSelector
	cycleCb  func()

	state     SessionState
	cueIndex  int
	direction int

	sessionStart time.Time
	pauseStart   time.Time
	totalPaused  time.Duration

	cueStart      time.Time
	cuePaused     time.Duration
	effectiveMode cuelist.SelectionMode

	playbackStart  time.Time
	playbackPaused time.Duration
	playbackTarget float64
	switchPending  bool

	pendingTransition bool
	transitionTarget  int
	waitingSince      time.Time

	cycleEMA    float64
	lastCycleAt time.Time

	fadeInProgress  bool
	fadeStart       time.Time
	fadeDurationMS  float64
	fadeFromIndex   int
	fadeFromName    string
	fadeFromElapsed float64
	fadeAlpha       float64

	roleChannels   map[cuelist.AudioRole]int
	pendingStreams map[cuelist.AudioRole]pendingStream
	streamActive   bool

	prefetched   map[int]bool
	backlog      map[int][]cuelist.AudioTrack
	prefetchJobs map[jobKey]bool

	lastProgress time.Time
}

// NewRunner wires a runner to its collaborators. The worker may be nil,
// in which case all prefetching happens synchronously.
func NewRunner(list *cuelist.Cuelist, visual VisualDirector, audio AudioEngine, worker *prefetch.Worker, emitter *events.Emitter, logger zerolog.Logger, opts Options) *Runner {
	opts = opts.withDefaults()
	log := logger.With().Str("component", "session_runner").Logger()
	r := &Runner{
		list:           list,
		visual:         visual,
		audio:          audio,
		worker:         worker,
		emitter:        emitter,
		logger:         log,
		opts:           opts,
		clock:          opts.Clock,
		rng:            opts.RNG,
		budget:         NewBufferBudget(audio, opts.Budgets, log),
		selector:       newPlaybackSelector(opts.RNG, log),
		state:          StateStopped,
		cueIndex:       -1,
		direction:      1,
		cycleEMA:       1.0,
		roleChannels:   make(map[cuelist.AudioRole]int),
		pendingStreams: make(map[cuelist.AudioRole]pendingStream),
		prefetched:     make(map[int]bool),
		backlog:        make(map[int][]cuelist.AudioTrack),
		prefetchJobs:   make(map[jobKey]bool),
	}
	r.cycleCb = r.onCycleBoundary
	audio.SetStreamThresholdMB(opts.StreamThresholdMB)
	audio.SetSlowDecodeThresholdMS(opts.SlowDecodeMS)
	return r
}

// State returns the current session state.
func (r *Runner) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentCueIndex returns the running cue's index, or -1.
func (r *Runner) CurrentCueIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cueIndex
}

// CurrentCue returns the running cue, or nil.
func (r *Runner) CurrentCue() *cuelist.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list.GetCue(r.cueIndex)
}

// FadeAlpha reports the outgoing cue's blend weight during a fade
// transition: 1 when the old cue fully covers, 0 when gone.
func (r *Runner) FadeAlpha() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fadeInProgress {
		return 0
	}
	return r.fadeAlpha
}

// PeekNextCueIndex computes the next cue index per loop mode without
// advancing ping-pong direction. Returns -1 when the session would end.
func (r *Runner) PeekNextCueIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndexLocked(false)
}

// Start begins executing the cuelist from cue 0. It refuses to run
// unless stopped and the cuelist validates.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		r.logger.Warn().Str("state", string(r.state)).Msg("start refused, session not stopped")
		return false
	}
	if err := r.list.Validate(); err != nil {
		r.logger.Error().Err(err).Msg("start refused, cuelist invalid")
		return false
	}

	r.state = StateRunning
	r.direction = 1
	r.sessionStart = r.clock.Now()
	r.totalPaused = 0
	r.cycleEMA = 1.0
	r.lastCycleAt = time.Time{}
	r.budget.Reset()
	r.prefetched = make(map[int]bool)
	r.backlog = make(map[int][]cuelist.AudioTrack)
	r.prefetchJobs = make(map[jobKey]bool)

	r.visual.RegisterCycleCallback(r.cycleCb)
	r.emit(events.EventSessionStart, events.Payload{
		"cuelist_name": r.list.Name,
		"total_cues":   len(r.list.Cues),
	})

	// The first cue's audio is prefetched synchronously so startup does
	// not race the worker.
	r.prefetchCueAudioLocked(0, false, false)
	if !r.startCueLocked(0) {
		r.stopLocked()
		return false
	}
	return true
}

// Stop ends the session and releases every runtime resource.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Pause suspends playback and timing.
func (r *Runner) Pause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return false
	}
	r.state = StatePaused
	r.pauseStart = r.clock.Now()
	r.visual.Pause()
	r.audio.PauseAll()
	r.emit(events.EventSessionPause, events.Payload{"cue_index": r.cueIndex})
	return true
}

// Resume continues a paused session. Paused wall time is excluded from
// session, cue, and playback elapsed accounting.
func (r *Runner) Resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return false
	}
	pausedFor := r.clock.Since(r.pauseStart)
	r.totalPaused += pausedFor
	r.cuePaused += pausedFor
	r.playbackPaused += pausedFor
	r.state = StateRunning
	r.audio.ResumeAll()
	r.visual.Resume()
	r.emit(events.EventSessionResume, events.Payload{"cue_index": r.cueIndex})
	return true
}

// SkipToNext requests an immediate transition to the next cue per loop
// mode, still synchronized to the next cycle boundary.
func (r *Runner) SkipToNext() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || r.pendingTransition {
		return false
	}
	r.requestTransitionLocked()
	return true
}

// SkipToPrevious requests a transition to the previous cue, wrapping to
// the last cue from index 0.
func (r *Runner) SkipToPrevious() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return false
	}
	prev := r.cueIndex - 1
	if prev < 0 {
		prev = len(r.list.Cues) - 1
	}
	r.setPendingTargetLocked(prev)
	return true
}

// SkipToCue requests a transition to an arbitrary cue index.
func (r *Runner) SkipToCue(index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning || index < 0 || index >= len(r.list.Cues) {
		return false
	}
	r.setPendingTargetLocked(index)
	return true
}

// Update advances the scheduler by dt seconds. Within one tick:
// completed decode jobs drain first, then the visual collaborator
// advances (possibly firing cycle boundaries), then switch and
// transition checks run, and finally the timeout safety net.
func (r *Runner) Update(dt float64) {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	r.drainCompletedLocked()
	visual := r.visual
	r.mu.Unlock()

	// Outside the lock: the cycle callback re-enters the runner.
	visual.Update(dt)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.updateFadeLocked()
	r.audio.Update()
	r.budget.Decay(dt)
	r.ensurePrefetchWindowLocked()
	r.pollPendingStreamsLocked()
	r.checkPlaybackSwitchLocked()
	r.checkTransitionTriggerLocked()
	r.forceTransitionIfStuckLocked()
	r.emitProgressLocked()
}

// onCycleBoundary handles the renderer's cycle signal: it feeds the
// interval estimator and resolves any pending playback switch or cue
// transition. A pending switch wins the boundary; a transition that
// coincides with it waits for the next one.
func (r *Runner) onCycleBoundary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if !r.lastCycleAt.IsZero() {
		interval := now.Sub(r.lastCycleAt).Seconds()
		if interval < minCycleInterval {
			interval = minCycleInterval
		}
		if interval > maxCycleInterval {
			interval = maxCycleInterval
		}
		r.cycleEMA = (1-emaAlpha)*r.cycleEMA + emaAlpha*interval
	}
	r.lastCycleAt = now

	if r.state != StateRunning {
		return
	}

	if r.switchPending {
		r.executePlaybackSwitchLocked()
		r.switchPending = false
		return
	}
	if !r.pendingTransition {
		return
	}
	r.executeTransitionLocked(false)
}

func (r *Runner) stopLocked() {
	if r.state == StateStopped {
		return
	}
	prev := r.state

	if prev == StatePaused {
		pausedFor := r.clock.Since(r.pauseStart)
		r.totalPaused += pausedFor
		r.cuePaused += pausedFor
		r.playbackPaused += pausedFor
		r.audio.ResumeAll()
		r.visual.Resume()
	}

	r.endFadedCueLocked()
	if r.cueIndex >= 0 {
		r.endCueLocked()
	}
	r.audio.StopAll()
	r.pendingStreams = make(map[cuelist.AudioRole]pendingStream)
	r.streamActive = false
	r.prefetched = make(map[int]bool)
	r.backlog = make(map[int][]cuelist.AudioTrack)
	r.prefetchJobs = make(map[jobKey]bool)
	if r.worker != nil {
		r.worker.CancelPending(true)
	}
	r.visual.UnregisterCycleCallback(r.cycleCb)

	totalTime := (r.clock.Since(r.sessionStart) - r.totalPaused).Seconds()
	r.state = StateStopped
	r.cueIndex = -1
	r.pendingTransition = false
	r.switchPending = false
	r.fadeInProgress = false
	r.waitingSince = time.Time{}

	eventType := events.EventSessionEnd
	if prev == StateRunning {
		eventType = events.EventSessionStop
	}
	r.emit(eventType, events.Payload{"total_time": totalTime})
	r.logger.Info().Float64("total_time", totalTime).Str("previous_state", string(prev)).Msg("session stopped")
}

func (r *Runner) cueElapsedLocked() float64 {
	if r.cueIndex < 0 {
		return 0
	}
	return (r.clock.Since(r.cueStart) - r.cuePaused).Seconds()
}

func (r *Runner) playbackElapsedLocked() float64 {
	return (r.clock.Since(r.playbackStart) - r.playbackPaused).Seconds()
}

// nextIndexLocked computes the next cue index per loop mode. Only when
// mutate is set does ping-pong record a direction reversal.
func (r *Runner) nextIndexLocked(mutate bool) int {
	n := len(r.list.Cues)
	if n == 0 {
		return -1
	}
	switch r.list.LoopMode {
	case cuelist.LoopForever:
		return (r.cueIndex + 1) % n
	case cuelist.LoopPingPong:
		dir := r.direction
		next := r.cueIndex + dir
		if next >= n {
			dir = -1
			next = n - 2
		}
		if next < 0 {
			dir = 1
			next = 1
		}
		if next < 0 {
			next = 0
		}
		if next >= n {
			next = n - 1
		}
		if mutate {
			r.direction = dir
		}
		return next
	default: // once
		if r.cueIndex+1 < n {
			return r.cueIndex + 1
		}
		return -1
	}
}

func (r *Runner) requestTransitionLocked() {
	target := r.nextIndexLocked(true)
	r.setPendingTargetLocked(target)
}

func (r *Runner) setPendingTargetLocked(target int) {
	r.pendingTransition = true
	r.transitionTarget = target
	r.waitingSince = time.Time{}
	if target >= 0 {
		r.prefetchCueAudioLocked(target, true, true)
	}
	r.logger.Debug().Int("from", r.cueIndex).Int("to", target).Msg("transition pending, waiting for cycle boundary")
}

func (r *Runner) checkTransitionTriggerLocked() {
	if r.pendingTransition || r.cueIndex < 0 {
		return
	}
	cue := r.list.GetCue(r.cueIndex)
	if cue == nil {
		return
	}
	if r.cueElapsedLocked() >= cue.DurationSeconds {
		r.requestTransitionLocked()
	}
}

// forceTransitionIfStuckLocked is the timeout safety net: a renderer
// that never reports cycle boundaries must not stall the session.
func (r *Runner) forceTransitionIfStuckLocked() {
	if !r.pendingTransition {
		return
	}

	if r.transitionTarget < 0 {
		// Session-ending transitions never wait on a boundary.
		cue := r.list.GetCue(r.cueIndex)
		if cue == nil || r.cueElapsedLocked() >= cue.DurationSeconds {
			r.logger.Info().Msg("session end transition proceeding without cycle boundary")
			r.executeTransitionLocked(true)
		}
		return
	}

	now := r.clock.Now()
	if r.waitingSince.IsZero() {
		r.waitingSince = now
		return
	}

	timeout := 2.5 * r.cycleEMA
	if timeout < minForceTimeout {
		timeout = minForceTimeout
	}
	if timeout > maxForceTimeout {
		timeout = maxForceTimeout
	}
	waited := now.Sub(r.waitingSince).Seconds()
	if waited < timeout {
		return
	}
	r.logger.Warn().
		Float64("waited_s", waited).
		Float64("timeout_s", timeout).
		Float64("cycle_ema_s", r.cycleEMA).
		Msg("no cycle boundary arrived, forcing transition")
	r.executeTransitionLocked(true)
}

func (r *Runner) executeTransitionLocked(forced bool) {
	target := r.transitionTarget
	fromIndex := r.cueIndex
	fromName := ""
	if cue := r.list.GetCue(fromIndex); cue != nil {
		fromName = cue.Name
	}
	toName := ""
	if cue := r.list.GetCue(target); cue != nil {
		toName = cue.Name
	}

	r.pendingTransition = false
	r.waitingSince = time.Time{}

	r.emit(events.EventTransitionStart, events.Payload{
		"from_cue":   fromName,
		"to_cue":     toName,
		"from_index": fromIndex,
		"to_index":   target,
		"forced":     forced,
	})

	// A still-running fade from the previous transition closes first.
	r.endFadedCueLocked()

	if target < 0 {
		r.endCueLocked()
		r.cueIndex = -1
		r.state = StateCompleted
		r.logger.Info().Str("cuelist", r.list.Name).Msg("cuelist completed")
		r.stopLocked()
		return
	}

	if r.list.TransitionMode == cuelist.TransitionModeFade && r.list.TransitionDurationMS > 0 {
		oldIndex := r.cueIndex
		oldElapsed := r.cueElapsedLocked()
		if !r.startCueLocked(target) {
			r.emit(events.EventTransitionEnd, events.Payload{"mode": "fade", "success": false})
			return
		}
		r.fadeInProgress = true
		r.fadeStart = r.clock.Now()
		r.fadeDurationMS = r.list.TransitionDurationMS
		r.fadeFromIndex = oldIndex
		r.fadeFromName = fromName
		r.fadeFromElapsed = oldElapsed
		r.fadeAlpha = 1.0
		return
	}

	r.endCueLocked()
	ok := r.startCueLocked(target)
	r.emit(events.EventTransitionEnd, events.Payload{"mode": "snap", "success": ok})
}

// updateFadeLocked drives the cross-fade alpha from 1 to 0 over the
// cuelist transition duration. An incoming interpolate transition gets
// an eased curve instead of a linear ramp.
func (r *Runner) updateFadeLocked() {
	if !r.fadeInProgress {
		return
	}
	elapsedMS := r.clock.Since(r.fadeStart).Seconds() * 1000
	progress := elapsedMS / r.fadeDurationMS
	if progress >= 1 {
		r.endFadedCueLocked()
		r.emit(events.EventTransitionEnd, events.Payload{"mode": "fade", "success": true})
		return
	}
	shaped := progress
	if cue := r.list.GetCue(r.cueIndex); cue != nil && cue.TransitionIn.Type == cuelist.TransitionInterpolate {
		shaped = ease.InOutCubic(progress)
	}
	r.fadeAlpha = 1 - shaped
}

// endFadedCueLocked closes out the cue a fade transition left behind:
// its budget is released and its cue end event fires so history rows
// do not stay open. No-op when no fade is running.
func (r *Runner) endFadedCueLocked() {
	if !r.fadeInProgress {
		return
	}
	r.fadeInProgress = false
	r.fadeAlpha = 0
	r.budget.ReleaseCue(r.fadeFromIndex)
	r.emit(events.EventCueEnd, events.Payload{
		"cue_index":       r.fadeFromIndex,
		"cue_name":        r.fadeFromName,
		"actual_duration": r.fadeFromElapsed + r.clock.Since(r.fadeStart).Seconds(),
	})
}

// effectiveSelectionMode resolves the compatibility promotion: a cue
// authored ON_CUE_START whose multi-entry pool carries duration or
// cycle bounds behaves as ON_MEDIA_CYCLE so that legacy content keeps
// switching playbacks. The stored mode is never mutated.
func (r *Runner) effectiveSelectionMode(cue *cuelist.Cue) cuelist.SelectionMode {
	if cue.SelectionMode != cuelist.SelectOnCueStart || len(cue.PlaybackPool) <= 1 {
		return cue.SelectionMode
	}
	for i := range cue.PlaybackPool {
		if cue.PlaybackPool[i].HasDurationConstraints() {
			r.logger.Warn().
				Str("cue", cue.Name).
				Msg("pool entries carry duration bounds, promoting selection to media-cycle switching")
			return cuelist.SelectOnMediaCycle
		}
	}
	return cue.SelectionMode
}

func (r *Runner) checkPlaybackSwitchLocked() {
	if r.cueIndex < 0 {
		return
	}
	cue := r.list.GetCue(r.cueIndex)
	if cue == nil {
		return
	}
	switch r.effectiveMode {
	case cuelist.SelectOnMediaCycle:
		if r.switchPending {
			return
		}
		if r.playbackElapsedLocked() >= r.playbackTarget {
			r.switchPending = true
			r.logger.Debug().
				Str("cue", cue.Name).
				Float64("target_s", r.playbackTarget).
				Msg("playback switch pending, waiting for cycle boundary")
		}
	case cuelist.SelectOnTimedInterval:
		if cue.SelectionIntervalSeconds == nil {
			return
		}
		if r.playbackElapsedLocked() >= *cue.SelectionIntervalSeconds {
			r.executePlaybackSwitchLocked()
		}
	}
}

func (r *Runner) executePlaybackSwitchLocked() {
	cue := r.list.GetCue(r.cueIndex)
	if cue == nil {
		return
	}
	entry := r.selector.Pick(cue.PlaybackPool)
	if entry == nil {
		return
	}
	if !r.visual.LoadPlayback(entry.PlaybackPath) {
		r.logger.Error().Str("playback", entry.PlaybackPath).Msg("playback switch load failed")
		return
	}
	r.visual.StartPlayback()
	r.playbackTarget = targetDuration(entry, r.rng)
	r.playbackStart = r.clock.Now()
	r.playbackPaused = 0
	r.logger.Debug().Str("playback", entry.PlaybackPath).Float64("target_s", r.playbackTarget).Msg("switched playback")
}

func (r *Runner) startCueLocked(index int) bool {
	cue := r.list.GetCue(index)
	if cue == nil {
		r.logger.Error().Int("cue_index", index).Msg("cue start failed, index out of range")
		return false
	}

	r.effectiveMode = r.effectiveSelectionMode(cue)
	delete(r.prefetched, index)
	delete(r.backlog, index)

	r.cueIndex = index
	r.cueStart = r.clock.Now()
	r.cuePaused = 0
	r.switchPending = false
	r.selector.Reset()

	entry := r.selector.Pick(cue.PlaybackPool)
	if entry == nil {
		r.logger.Error().Str("cue", cue.Name).Msg("cue start failed, empty playback pool")
		return false
	}
	r.playbackTarget = targetDuration(entry, r.rng)
	r.playbackStart = r.cueStart
	r.playbackPaused = 0

	if !r.visual.LoadPlayback(entry.PlaybackPath) {
		r.logger.Error().Str("cue", cue.Name).Str("playback", entry.PlaybackPath).Msg("cue start failed, playback did not load")
		r.emit(events.EventError, events.Payload{
			"cue_index": index,
			"error":     "playback load failed",
			"playback":  entry.PlaybackPath,
		})
		return false
	}
	r.visual.StartPlayback()

	r.startCueAudioLocked(cue, index)

	r.emit(events.EventCueStart, events.Payload{
		"cue_index":      index,
		"cue_name":       cue.Name,
		"duration":       cue.DurationSeconds,
		"playback_count": len(cue.PlaybackPool),
	})
	r.logger.Info().Str("cue", cue.Name).Int("cue_index", index).Float64("duration_s", cue.DurationSeconds).Msg("cue started")
	return true
}

// orderedTracks returns a cue's tracks in start order: the foreground
// voice first, then background, then anything generic.
func orderedTracks(cue *cuelist.Cue) []cuelist.AudioTrack {
	ordered := make([]cuelist.AudioTrack, 0, len(cue.AudioTracks))
	for _, role := range []cuelist.AudioRole{cuelist.RoleHypno, cuelist.RoleBackground} {
		for _, track := range cue.AudioTracks {
			if track.Role == role {
				ordered = append(ordered, track)
			}
		}
	}
	for _, track := range cue.AudioTracks {
		if track.Role == cuelist.RoleGeneric {
			ordered = append(ordered, track)
		}
	}
	return ordered
}

func channelForRole(role cuelist.AudioRole) int {
	switch role {
	case cuelist.RoleHypno:
		return 0
	case cuelist.RoleBackground:
		return 1
	default:
		return 2
	}
}

func (r *Runner) startCueAudioLocked(cue *cuelist.Cue, index int) {
	r.roleChannels = make(map[cuelist.AudioRole]int)
	r.pendingStreams = make(map[cuelist.AudioRole]pendingStream)
	if r.streamActive {
		r.audio.StopStreamingTrack(defaultFadeMS)
		r.streamActive = false
	}

	tracks := orderedTracks(cue)
	if len(tracks) == 0 {
		return
	}

	// Bounded wait for in-flight prefetch; the frame loop must not
	// stall longer than the configured window.
	if r.worker != nil && r.worker.PendingForCue(index) > 0 {
		deadline := time.Now().Add(time.Duration(r.opts.PrefetchWaitMS * float64(time.Millisecond)))
		for r.worker.PendingForCue(index) > 0 && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
			r.drainCompletedLocked()
		}
		r.drainCompletedLocked()
	}
	// Readiness keys off outstanding decode jobs, not the prefetched
	// set: cue start already discarded that entry.
	prefetchReady := r.jobsForCueLocked(index) == 0

	for _, track := range tracks {
		r.startTrackLocked(track, index, prefetchReady)
	}
}

func (r *Runner) startTrackLocked(track cuelist.AudioTrack, cueIndex int, prefetchReady bool) {
	loop := track.Loop
	if track.Role == cuelist.RoleBackground {
		// Background beds must outlast the foreground track.
		loop = true
	}

	outcome := r.budget.Reserve(track.Role, track.FilePath, cueIndex, true, true)
	budgetForces := outcome != OutcomeReserved

	preferStream := budgetForces || r.audio.ShouldStream(track.FilePath)
	reason := ""
	switch {
	case budgetForces:
		reason = "decode budget"
	case preferStream:
		reason = "size threshold"
	}
	if !prefetchReady && outcome == OutcomeReserved {
		preferStream = true
		reason = "prefetch pending"
	}

	if preferStream {
		if r.startStreamingLocked(track, cueIndex, loop, reason, outcome == OutcomeReserved, budgetForces) {
			return
		}
		if budgetForces {
			r.budget.ReleasePath(track.FilePath)
			r.logger.Warn().Str("path", track.FilePath).Str("role", string(track.Role)).Msg("stream start failed, track silent for this cue")
			return
		}
		// Stream refused but the decode budget holds; fall through.
	}

	r.loadChannelLocked(track, cueIndex, loop)
}

func (r *Runner) startStreamingLocked(track cuelist.AudioTrack, cueIndex int, loop bool, reason string, reserved, budgetForced bool) bool {
	if handle, ok := r.audio.PlayStreamingTrackAsync(track.FilePath, track.Volume, track.FadeInMS, loop); ok && handle != nil {
		r.pendingStreams[track.Role] = pendingStream{
			handle:       handle,
			track:        track,
			cueIndex:     cueIndex,
			reason:       reason,
			reserved:     reserved,
			budgetForced: budgetForced,
		}
		r.logger.Debug().Str("path", track.FilePath).Str("reason", reason).Msg("streaming track starting asynchronously")
		return true
	}
	if r.audio.PlayStreamingTrack(track.FilePath, track.Volume, track.FadeInMS, loop) {
		r.streamActive = true
		if reserved {
			r.budget.ReleasePath(track.FilePath)
		}
		r.logger.Debug().Str("path", track.FilePath).Str("reason", reason).Msg("streaming track started")
		return true
	}
	return false
}

func (r *Runner) loadChannelLocked(track cuelist.AudioTrack, cueIndex int, loop bool) {
	channel := channelForRole(track.Role)
	if !r.audio.LoadChannel(channel, track.FilePath) {
		r.budget.ReleasePath(track.FilePath)
		if r.startStreamingLocked(track, cueIndex, loop, "load failure fallback", false, false) {
			return
		}
		r.logger.Error().Str("path", track.FilePath).Str("role", string(track.Role)).Msg("audio track unavailable, both decode and stream failed")
		return
	}
	if !r.audio.FadeInAndPlay(channel, track.FadeInMS, track.Volume, loop) {
		r.budget.ReleasePath(track.FilePath)
		r.logger.Warn().Str("path", track.FilePath).Msg("channel playback failed to start")
		return
	}
	r.roleChannels[track.Role] = channel
	r.logger.Debug().
		Str("path", track.FilePath).
		Str("role", string(track.Role)).
		Float64("length_s", r.audio.ChannelLength(channel)).
		Msg("channel track playing")
}

func (r *Runner) pollPendingStreamsLocked() {
	for role, ps := range r.pendingStreams {
		done, ok := ps.handle.Poll()
		if !done {
			continue
		}
		delete(r.pendingStreams, role)
		if ok {
			r.streamActive = true
			if ps.reserved {
				r.budget.ReleasePath(ps.track.FilePath)
			}
			continue
		}
		r.logger.Warn().Str("path", ps.track.FilePath).Str("reason", ps.reason).Msg("async stream start failed")
		if ps.budgetForced {
			r.budget.ReleasePath(ps.track.FilePath)
			continue
		}
		loop := ps.track.Loop
		if role == cuelist.RoleBackground {
			loop = true
		}
		r.loadChannelLocked(ps.track, ps.cueIndex, loop)
	}
}

func (r *Runner) endCueLocked() {
	if r.cueIndex < 0 {
		return
	}
	cue := r.list.GetCue(r.cueIndex)
	fadeMS := defaultFadeMS
	cueName := ""
	if cue != nil {
		fadeMS = cue.TransitionOut.DurationMS
		cueName = cue.Name
	}

	for _, channel := range r.roleChannels {
		r.audio.FadeOutAndStop(channel, fadeMS)
	}
	r.roleChannels = make(map[cuelist.AudioRole]int)
	if r.streamActive {
		r.audio.StopStreamingTrack(fadeMS)
		r.streamActive = false
	}
	r.pendingStreams = make(map[cuelist.AudioRole]pendingStream)
	r.budget.ReleaseCue(r.cueIndex)

	r.emit(events.EventCueEnd, events.Payload{
		"cue_index":       r.cueIndex,
		"cue_name":        cueName,
		"actual_duration": r.cueElapsedLocked(),
	})
}

// ensurePrefetchWindowLocked prefetches the upcoming cue's audio once
// the current cue enters the lead window, and retries deferred tracks.
func (r *Runner) ensurePrefetchWindowLocked() {
	if r.cueIndex < 0 {
		return
	}
	cue := r.list.GetCue(r.cueIndex)
	if cue == nil {
		return
	}

	var target int
	if r.pendingTransition {
		target = r.transitionTarget
	} else {
		remaining := cue.DurationSeconds - r.cueElapsedLocked()
		if remaining > r.opts.PrefetchLeadSeconds {
			return
		}
		target = r.nextIndexLocked(false)
	}
	if target < 0 || r.prefetched[target] {
		return
	}
	r.prefetchCueAudioLocked(target, false, true)
}

func (r *Runner) prefetchCueAudioLocked(index int, force, asyncAllowed bool) {
	cue := r.list.GetCue(index)
	if cue == nil {
		return
	}
	if force {
		delete(r.prefetched, index)
		delete(r.backlog, index)
		for key := range r.prefetchJobs {
			if key.cue == index {
				delete(r.prefetchJobs, key)
			}
		}
	}
	if r.prefetched[index] {
		return
	}

	tracks := r.backlog[index]
	if len(tracks) == 0 {
		tracks = orderedTracks(cue)
	}
	if len(tracks) == 0 {
		r.prefetched[index] = true
		return
	}

	var needsRetry []cuelist.AudioTrack
	for _, track := range tracks {
		outcome := r.budget.Reserve(track.Role, track.FilePath, index, false, false)
		switch outcome {
		case OutcomeDefer:
			needsRetry = append(needsRetry, track)
			continue
		case OutcomeStream:
			continue
		}

		key := jobKey{cue: index, path: track.FilePath}
		if r.prefetchJobs[key] {
			continue
		}
		if asyncAllowed && r.worker != nil {
			if err := r.worker.Submit(prefetch.Job{CueIndex: index, Role: track.Role, Path: track.FilePath}); err == nil {
				r.prefetchJobs[key] = true
				continue
			}
			r.logger.Warn().Str("path", track.FilePath).Msg("prefetch submit failed, decoding inline")
		}
		if !r.audio.PreloadSound(track.FilePath) {
			r.budget.ReleasePath(track.FilePath)
			needsRetry = append(needsRetry, track)
		}
	}

	if len(needsRetry) > 0 {
		r.backlog[index] = needsRetry
	} else {
		delete(r.backlog, index)
	}
	if len(needsRetry) == 0 && r.jobsForCueLocked(index) == 0 {
		r.prefetched[index] = true
	}
}

func (r *Runner) jobsForCueLocked(index int) int {
	count := 0
	for key := range r.prefetchJobs {
		if key.cue == index {
			count++
		}
	}
	return count
}

func (r *Runner) drainCompletedLocked() {
	if r.worker == nil {
		return
	}
	for _, res := range r.worker.DrainCompleted() {
		key := jobKey{cue: res.Job.CueIndex, path: res.Job.Path}
		if !r.prefetchJobs[key] {
			// Bookkeeping was discarded; the cache entry may still be
			// reused but nothing tracks it.
			continue
		}
		delete(r.prefetchJobs, key)

		if !res.OK {
			telemetry.PrefetchJobs.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(res.Err).Str("path", res.Job.Path).Int("cue_index", res.Job.CueIndex).Msg("prefetch decode failed, queued for retry")
			r.budget.ReleasePath(res.Job.Path)
			if cue := r.list.GetCue(res.Job.CueIndex); cue != nil {
				if track := cue.AudioTrackForRole(res.Job.Role); track != nil {
					r.backlog[res.Job.CueIndex] = append(r.backlog[res.Job.CueIndex], *track)
				}
			}
			continue
		}

		telemetry.PrefetchJobs.WithLabelValues("ok").Inc()
		if r.opts.SlowDecodeMS > 0 && float64(res.Duration.Milliseconds()) > r.opts.SlowDecodeMS {
			r.logger.Warn().
				Str("path", res.Job.Path).
				Dur("decode", res.Duration).
				Msg("slow audio decode, consider streaming this track")
		}

		if r.jobsForCueLocked(res.Job.CueIndex) == 0 && len(r.backlog[res.Job.CueIndex]) == 0 {
			r.prefetched[res.Job.CueIndex] = true
		}
	}
}

func (r *Runner) emitProgressLocked() {
	if r.cueIndex < 0 {
		return
	}
	now := r.clock.Now()
	if !r.lastProgress.IsZero() && now.Sub(r.lastProgress) < progressInterval {
		return
	}
	r.lastProgress = now
	cue := r.list.GetCue(r.cueIndex)
	if cue == nil {
		return
	}
	elapsed := r.cueElapsedLocked()
	progress := elapsed / cue.DurationSeconds
	if progress > 1 {
		progress = 1
	}
	r.emit(events.EventCueProgress, events.Payload{
		"cue_index": r.cueIndex,
		"elapsed":   elapsed,
		"duration":  cue.DurationSeconds,
		"progress":  progress,
	})
}

func (r *Runner) emit(eventType events.EventType, payload events.Payload) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(events.Event{Type: eventType, Data: payload, Timestamp: r.clock.Now()})
}
