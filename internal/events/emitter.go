/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events implements the synchronous session event bus.
//
// Subscribers are plain callbacks invoked inline on the emitting
// goroutine, in subscription order. There is no queuing and no
// cross-goroutine delivery; consumers are expected to be cheap.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates event categories.
type EventType string

const (
	EventSessionStart  EventType = "session.start"
	EventSessionEnd    EventType = "session.end"
	EventSessionPause  EventType = "session.pause"
	EventSessionResume EventType = "session.resume"
	EventSessionStop   EventType = "session.stop"

	EventCueStart EventType = "cue.start"
	EventCueEnd   EventType = "cue.end"

	EventTransitionStart EventType = "transition.start"
	EventTransitionEnd   EventType = "transition.end"

	EventCueProgress EventType = "cue.progress"

	EventError EventType = "error"
)

// AllTypes returns every event type the emitter can deliver.
func AllTypes() []EventType {
	return []EventType{
		EventSessionStart, EventSessionEnd, EventSessionPause,
		EventSessionResume, EventSessionStop,
		EventCueStart, EventCueEnd,
		EventTransitionStart, EventTransitionEnd,
		EventCueProgress,
		EventError,
	}
}

// Payload generic event payload.
type Payload map[string]any

// Event carries a session state change and its payload.
type Event struct {
	Type      EventType `json:"type"`
	Data      Payload   `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives emitted events.
type Handler func(Event)

// Subscription identifies one registered handler; it is the token for
// Unsubscribe. The zero Subscription is inert.
type Subscription struct {
	eventType EventType
	id        uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Emitter implements an in-process synchronous pubsub for session events.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[EventType][]subscriber
	logger zerolog.Logger
}

// NewEmitter creates a session event emitter.
func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{
		subs:   make(map[EventType][]subscriber),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for event type. Every call registers a
// new subscription; the returned token removes exactly that one.
func (e *Emitter) Subscribe(eventType EventType, handler Handler) Subscription {
	if handler == nil {
		return Subscription{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.subs[eventType] = append(e.subs[eventType], subscriber{id: e.nextID, handler: handler})
	e.logger.Debug().Str("event_type", string(eventType)).Int("total", len(e.subs[eventType])).Msg("subscribed")
	return Subscription{eventType: eventType, id: e.nextID}
}

// Unsubscribe removes the subscription identified by sub.
func (e *Emitter) Unsubscribe(sub Subscription) {
	if sub.id == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subs[sub.eventType]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			e.subs[sub.eventType] = append(subs[:i], subs[i+1:]...)
			e.logger.Debug().Str("event_type", string(sub.eventType)).Int("total", len(e.subs[sub.eventType])).Msg("unsubscribed")
			return
		}
	}
}

// Emit delivers an event to every subscriber synchronously, in
// subscription order, on the caller's goroutine. A panicking handler is
// recovered and logged; delivery continues with the remaining handlers.
func (e *Emitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.Lock()
	subs := append([]subscriber(nil), e.subs[event.Type]...)
	e.mu.Unlock()

	for _, sub := range subs {
		e.deliver(sub, event)
	}
}

func (e *Emitter) deliver(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub.handler(event)
}

// ClearAll removes every subscriber (useful for testing/cleanup).
func (e *Emitter) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[EventType][]subscriber)
}
