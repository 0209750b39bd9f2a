package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cueplay/internal/events"
)

func TestAttachCountsCueAndTransitionEvents(t *testing.T) {
	emitter := events.NewEmitter(zerolog.Nop())
	Attach(emitter)

	cuesBefore := testutil.ToFloat64(CuesStarted)
	forcedBefore := testutil.ToFloat64(ForcedTransitions)
	snapBefore := testutil.ToFloat64(Transitions.WithLabelValues("snap"))

	emitter.Emit(events.Event{Type: events.EventCueStart, Data: events.Payload{"cue_index": 0}})
	emitter.Emit(events.Event{Type: events.EventTransitionStart, Data: events.Payload{"forced": true}})
	emitter.Emit(events.Event{Type: events.EventTransitionStart, Data: events.Payload{"forced": false}})
	emitter.Emit(events.Event{Type: events.EventTransitionEnd, Data: events.Payload{"mode": "snap", "success": true}})

	if got := testutil.ToFloat64(CuesStarted) - cuesBefore; got != 1 {
		t.Fatalf("expected 1 cue start counted, got %g", got)
	}
	if got := testutil.ToFloat64(ForcedTransitions) - forcedBefore; got != 1 {
		t.Fatalf("expected only the forced transition counted, got %g", got)
	}
	if got := testutil.ToFloat64(Transitions.WithLabelValues("snap")) - snapBefore; got != 1 {
		t.Fatalf("expected 1 snap transition counted, got %g", got)
	}
}

func TestSessionStateGaugeTracksLifecycle(t *testing.T) {
	emitter := events.NewEmitter(zerolog.Nop())
	Attach(emitter)

	emitter.Emit(events.Event{Type: events.EventSessionStart})
	if testutil.ToFloat64(SessionState.WithLabelValues("running")) != 1 {
		t.Fatal("expected running state set")
	}

	emitter.Emit(events.Event{Type: events.EventSessionPause})
	if testutil.ToFloat64(SessionState.WithLabelValues("paused")) != 1 {
		t.Fatal("expected paused state set")
	}
	if testutil.ToFloat64(SessionState.WithLabelValues("running")) != 0 {
		t.Fatal("expected running state cleared")
	}

	emitter.Emit(events.Event{Type: events.EventSessionStop})
	if testutil.ToFloat64(SessionState.WithLabelValues("stopped")) != 1 {
		t.Fatal("expected stopped state set")
	}
}
