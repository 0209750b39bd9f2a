/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package history

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cueplay/internal/events"
)

// Recorder subscribes to session events and writes run and cue rows.
// Handlers run inline on the scheduler tick, so each does a single
// small write.
type Recorder struct {
	db     *gorm.DB
	logger zerolog.Logger

	mu         sync.Mutex
	currentRun string
	openCues   map[int]string // cue index -> open CuePlay id
}

// NewRecorder creates a history recorder backed by db.
func NewRecorder(db *gorm.DB, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:       db,
		logger:   logger.With().Str("component", "history").Logger(),
		openCues: make(map[int]string),
	}
}

// Attach subscribes the recorder to the session lifecycle events.
func (r *Recorder) Attach(emitter *events.Emitter) {
	emitter.Subscribe(events.EventSessionStart, r.onSessionStart)
	emitter.Subscribe(events.EventSessionStop, r.onSessionStop)
	emitter.Subscribe(events.EventSessionEnd, r.onSessionEnd)
	emitter.Subscribe(events.EventCueStart, r.onCueStart)
	emitter.Subscribe(events.EventCueEnd, r.onCueEnd)
}

func (r *Recorder) onSessionStart(evt events.Event) {
	run := SessionRun{
		ID:          uuid.NewString(),
		CuelistName: payloadString(evt.Data, "cuelist_name"),
		TotalCues:   payloadInt(evt.Data, "total_cues"),
		StartedAt:   evt.Timestamp,
	}

	r.mu.Lock()
	r.currentRun = run.ID
	r.openCues = make(map[int]string)
	r.mu.Unlock()

	if err := r.db.Create(&run).Error; err != nil {
		r.logger.Error().Err(err).Msg("failed to record session start")
	}
}

func (r *Recorder) onSessionStop(evt events.Event) {
	r.closeRun(evt, "stopped")
}

func (r *Recorder) onSessionEnd(evt events.Event) {
	r.closeRun(evt, "completed")
}

func (r *Recorder) closeRun(evt events.Event, outcome string) {
	r.mu.Lock()
	runID := r.currentRun
	r.currentRun = ""
	r.openCues = make(map[int]string)
	r.mu.Unlock()
	if runID == "" {
		return
	}

	ended := evt.Timestamp
	err := r.db.Model(&SessionRun{}).Where("id = ?", runID).Updates(map[string]any{
		"ended_at":      &ended,
		"total_seconds": payloadFloat(evt.Data, "total_time"),
		"outcome":       outcome,
	}).Error
	if err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Msg("failed to record session end")
	}
}

func (r *Recorder) onCueStart(evt events.Event) {
	r.mu.Lock()
	runID := r.currentRun
	r.mu.Unlock()
	if runID == "" {
		return
	}

	play := CuePlay{
		ID:           uuid.NewString(),
		SessionRunID: runID,
		CueIndex:     payloadInt(evt.Data, "cue_index"),
		CueName:      payloadString(evt.Data, "cue_name"),
		StartedAt:    evt.Timestamp,
	}

	r.mu.Lock()
	r.openCues[play.CueIndex] = play.ID
	r.mu.Unlock()

	if err := r.db.Create(&play).Error; err != nil {
		r.logger.Error().Err(err).Msg("failed to record cue start")
	}
}

func (r *Recorder) onCueEnd(evt events.Event) {
	index := payloadInt(evt.Data, "cue_index")

	r.mu.Lock()
	playID, ok := r.openCues[index]
	delete(r.openCues, index)
	r.mu.Unlock()
	if !ok {
		return
	}

	ended := evt.Timestamp
	err := r.db.Model(&CuePlay{}).Where("id = ?", playID).Updates(map[string]any{
		"ended_at":       &ended,
		"actual_seconds": payloadFloat(evt.Data, "actual_duration"),
	}).Error
	if err != nil {
		r.logger.Error().Err(err).Str("cue_play_id", playID).Msg("failed to record cue end")
	}
}

// RecentRuns returns the latest runs, newest first.
func (r *Recorder) RecentRuns(limit int) ([]SessionRun, error) {
	var runs []SessionRun
	err := r.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// CuePlays returns the cue rows for a run in play order.
func (r *Recorder) CuePlays(runID string) ([]CuePlay, error) {
	var plays []CuePlay
	err := r.db.Where("session_run_id = ?", runID).Order("started_at ASC").Find(&plays).Error
	return plays, err
}

func payloadString(data events.Payload, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(data events.Payload, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadFloat(data events.Payload, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
