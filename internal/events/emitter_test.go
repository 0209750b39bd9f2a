package events

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	var order []string
	first := func(Event) { order = append(order, "first") }
	second := func(Event) { order = append(order, "second") }
	third := func(Event) { order = append(order, "third") }

	em.Subscribe(EventCueStart, first)
	em.Subscribe(EventCueStart, second)
	em.Subscribe(EventCueStart, third)

	em.Emit(Event{Type: EventCueStart})

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	if order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

type countingConsumer struct {
	calls int
}

func (c *countingConsumer) onEvent(Event) { c.calls++ }

func TestMethodValuesFromDistinctReceiversBothDeliver(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	a := &countingConsumer{}
	b := &countingConsumer{}
	em.Subscribe(EventCueStart, a.onEvent)
	em.Subscribe(EventCueStart, b.onEvent)

	em.Emit(Event{Type: EventCueStart})

	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both consumers delivered once, got a=%d b=%d", a.calls, b.calls)
	}
}

func TestUnsubscribeRemovesOnlyItsSubscription(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	a := &countingConsumer{}
	b := &countingConsumer{}
	subA := em.Subscribe(EventSessionStop, a.onEvent)
	em.Subscribe(EventSessionStop, b.onEvent)

	em.Emit(Event{Type: EventSessionStop})
	em.Unsubscribe(subA)
	em.Emit(Event{Type: EventSessionStop})

	if a.calls != 1 {
		t.Fatalf("expected 1 delivery to unsubscribed consumer, got %d", a.calls)
	}
	if b.calls != 2 {
		t.Fatalf("expected 2 deliveries to remaining consumer, got %d", b.calls)
	}
}

func TestZeroSubscriptionUnsubscribeIsInert(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	calls := 0
	em.Subscribe(EventSessionStart, func(Event) { calls++ })
	em.Unsubscribe(Subscription{})
	em.Emit(Event{Type: EventSessionStart})

	if calls != 1 {
		t.Fatalf("expected delivery unaffected by zero token, got %d", calls)
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	delivered := false
	em.Subscribe(EventError, func(Event) { panic("boom") })
	em.Subscribe(EventError, func(Event) { delivered = true })

	em.Emit(Event{Type: EventError})

	if !delivered {
		t.Fatal("expected delivery to continue past panicking handler")
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	var got Event
	em.Subscribe(EventCueProgress, func(evt Event) { got = evt })
	em.Emit(Event{Type: EventCueProgress})

	if got.Timestamp.IsZero() {
		t.Fatal("expected emitter to stamp missing timestamp")
	}
}

func TestEmitOnlyReachesMatchingType(t *testing.T) {
	em := NewEmitter(zerolog.Nop())

	calls := 0
	em.Subscribe(EventCueEnd, func(Event) { calls++ })
	em.Emit(Event{Type: EventCueStart})

	if calls != 0 {
		t.Fatalf("expected no deliveries for other event type, got %d", calls)
	}
}
