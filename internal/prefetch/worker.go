/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefetch runs audio decode jobs on a bounded worker pool so
// cue startup never blocks on disk or codec latency.
package prefetch

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/cuelist"
)

// Loader decodes one audio file into the engine's cache.
type Loader func(path string) error

// Job identifies one decode request.
type Job struct {
	CueIndex    int
	Role        cuelist.AudioRole
	Path        string
	SubmittedAt time.Time
}

// Result reports a finished decode.
type Result struct {
	Job      Job
	OK       bool
	Err      error
	Duration time.Duration
}

// Worker executes decode jobs with bounded concurrency. Completed
// results are queued until the session loop drains them, keeping all
// cache bookkeeping on the caller's goroutine.
type Worker struct {
	loader Loader
	logger zerolog.Logger
	sem    chan struct{}

	mu        sync.Mutex
	shutdown  bool
	nextID    uint64
	pending   map[uint64]Job
	completed []Result
	wg        sync.WaitGroup
}

// NewWorker creates a worker pool with the given concurrency cap.
func NewWorker(loader Loader, maxWorkers int, logger zerolog.Logger) *Worker {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Worker{
		loader:  loader,
		logger:  logger.With().Str("component", "prefetch").Logger(),
		sem:     make(chan struct{}, maxWorkers),
		pending: make(map[uint64]Job),
	}
}

// Submit queues a decode job. It returns an error when the worker has
// shut down or has no loader.
func (w *Worker) Submit(job Job) error {
	if w.loader == nil {
		return fmt.Errorf("prefetch worker has no loader")
	}

	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return fmt.Errorf("prefetch worker is shut down")
	}
	w.nextID++
	id := w.nextID
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	w.pending[id] = job
	w.wg.Add(1)
	w.mu.Unlock()

	go w.run(id, job)
	return nil
}

func (w *Worker) run(id uint64, job Job) {
	defer w.wg.Done()
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	// A cancellation between submit and execution drops the job.
	w.mu.Lock()
	_, live := w.pending[id]
	w.mu.Unlock()
	if !live {
		return
	}

	started := time.Now()
	err := w.load(job)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, live := w.pending[id]; !live {
		// Cancelled while decoding; the result is stale.
		return
	}
	delete(w.pending, id)
	w.completed = append(w.completed, Result{
		Job:      job,
		OK:       err == nil,
		Err:      err,
		Duration: time.Since(started),
	})
}

func (w *Worker) load(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prefetch panic for %s: %v", job.Path, r)
			w.logger.Error().Str("path", job.Path).Interface("panic", r).Msg("prefetch job panicked")
		}
	}()
	return w.loader(job.Path)
}

// DrainCompleted returns every finished result accumulated since the
// previous drain.
func (w *Worker) DrainCompleted() []Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	results := w.completed
	w.completed = nil
	return results
}

// PendingCount returns the number of jobs not yet completed or cancelled.
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// PendingForCue returns the number of outstanding jobs for a cue index.
func (w *Worker) PendingForCue(cueIndex int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, job := range w.pending {
		if job.CueIndex == cueIndex {
			count++
		}
	}
	return count
}

// WaitForCue blocks until no jobs remain pending for the cue index or
// the timeout elapses. It reports whether the cue's jobs all finished.
func (w *Worker) WaitForCue(cueIndex int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if w.PendingForCue(cueIndex) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// CancelPending discards every job that has not finished. Running jobs
// complete but their results are dropped. When dropCompleted is set the
// undrained result queue is discarded as well.
func (w *Worker) CancelPending(dropCompleted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.logger.Debug().Int("cancelled", len(w.pending)).Msg("cancelled pending prefetch jobs")
	}
	w.pending = make(map[uint64]Job)
	if dropCompleted {
		w.completed = nil
	}
}

// Shutdown stops accepting jobs and waits for in-flight decodes to
// finish. It is safe to call more than once.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return
	}
	w.shutdown = true
	w.pending = make(map[uint64]Job)
	w.mu.Unlock()

	w.wg.Wait()
}
