/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics derived from session
// events.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/events"
)

var (
	// SessionsStarted counts session starts.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cueplay_sessions_started_total",
		Help: "Total number of sessions started",
	})

	// SessionState tracks the current session lifecycle phase.
	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cueplay_session_state",
		Help: "Current session state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	// CuesStarted counts cue activations.
	CuesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cueplay_cues_started_total",
		Help: "Total number of cues started",
	})

	// CueDuration observes actual cue durations in seconds.
	CueDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cueplay_cue_duration_seconds",
		Help:    "Actual cue durations",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// Transitions counts executed cue transitions by mode.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cueplay_transitions_total",
		Help: "Total cue transitions by mode",
	}, []string{"mode"})

	// ForcedTransitions counts transitions executed by the timeout
	// safety net instead of a cycle boundary.
	ForcedTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cueplay_transitions_forced_total",
		Help: "Transitions forced by the timeout safety net",
	})

	// PrefetchJobs counts completed prefetch decode jobs by outcome.
	PrefetchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cueplay_prefetch_jobs_total",
		Help: "Completed prefetch decode jobs by outcome",
	}, []string{"outcome"})

	// BufferReservations counts decode budget routing decisions.
	BufferReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cueplay_buffer_reservations_total",
		Help: "Decode budget routing decisions by outcome",
	}, []string{"outcome"})

	// SchedulerErrors counts error events emitted by the scheduler.
	SchedulerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cueplay_errors_total",
		Help: "Total scheduler error events",
	})
)

var sessionStates = []string{"stopped", "running", "paused", "completed"}

func setSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}

// Attach subscribes the metric updaters to the session event emitter.
func Attach(emitter *events.Emitter) {
	emitter.Subscribe(events.EventSessionStart, func(events.Event) {
		SessionsStarted.Inc()
		setSessionState("running")
	})
	emitter.Subscribe(events.EventSessionPause, func(events.Event) { setSessionState("paused") })
	emitter.Subscribe(events.EventSessionResume, func(events.Event) { setSessionState("running") })
	emitter.Subscribe(events.EventSessionStop, func(events.Event) { setSessionState("stopped") })
	emitter.Subscribe(events.EventSessionEnd, func(events.Event) { setSessionState("completed") })

	emitter.Subscribe(events.EventCueStart, func(events.Event) { CuesStarted.Inc() })
	emitter.Subscribe(events.EventCueEnd, func(evt events.Event) {
		if d, ok := evt.Data["actual_duration"].(float64); ok {
			CueDuration.Observe(d)
		}
	})

	emitter.Subscribe(events.EventTransitionStart, func(evt events.Event) {
		if forced, ok := evt.Data["forced"].(bool); ok && forced {
			ForcedTransitions.Inc()
		}
	})
	emitter.Subscribe(events.EventTransitionEnd, func(evt events.Event) {
		mode, _ := evt.Data["mode"].(string)
		if mode == "" {
			mode = "unknown"
		}
		Transitions.WithLabelValues(mode).Inc()
	})

	emitter.Subscribe(events.EventError, func(events.Event) { SchedulerErrors.Inc() })
}

// Serve exposes /metrics and /healthz on addr in a background
// goroutine. Returns the server so the caller can shut it down.
func Serve(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log := logger.With().Str("component", "telemetry").Logger()
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
