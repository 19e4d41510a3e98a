package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrHandlerPanic wraps a panic recovered from a bus handler.
var ErrHandlerPanic = errors.New("event handler panicked")

// HandlerFunc handles one bus event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans server events out to the observability side (journal,
// telemetry, API stream). Simulation state never changes inside a bus
// handler; region-local reactions go through Registry instead.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]namedFunc
	stopped  bool
	inflight sync.WaitGroup
}

type namedFunc struct {
	name string
	fn   HandlerFunc
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]namedFunc)}
}

// Subscribe registers fn under name for eventType. A name is unique per event
// type; a second registration is ignored and reported as false.
func (eb *EventBus) Subscribe(eventType EventType, name string, fn HandlerFunc) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if slices.ContainsFunc(eb.handlers[eventType], func(h namedFunc) bool { return h.name == name }) {
		return false
	}
	eb.handlers[eventType] = append(eb.handlers[eventType], namedFunc{name: name, fn: fn})
	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed to event")
	return true
}

// SubscribeAll registers fn for every type in types under the same name and
// returns how many registrations were new.
func (eb *EventBus) SubscribeAll(types []EventType, name string, fn HandlerFunc) int {
	n := 0
	for _, t := range types {
		if eb.Subscribe(t, name, fn) {
			n++
		}
	}
	return n
}

// Unsubscribe removes the handler registered under name for eventType.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = slices.DeleteFunc(eb.handlers[eventType], func(h namedFunc) bool {
		return h.name == name
	})
}

// subscribers returns a copy of the handlers for t, or nil once stopped.
func (eb *EventBus) subscribers(t EventType) []namedFunc {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil
	}
	return slices.Clone(eb.handlers[t])
}

// Emit delivers event to every handler, each on its own goroutine, and
// returns without waiting. Events emitted after Stop are dropped.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped || len(eb.handlers[event.Type]) == 0 {
		return
	}

	log.Trace().Str("event", string(event.Type)).Str("source", event.Source).Msg("emitting event")
	for _, h := range eb.handlers[event.Type] {
		eb.inflight.Add(1)
		go func() {
			defer eb.inflight.Done()
			eb.dispatch(ctx, event, h)
		}()
	}
}

// EmitSync runs the handlers one after another in subscription order and
// returns the first error. Every handler runs even when an earlier one fails.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	var first error
	for _, h := range eb.subscribers(event.Type) {
		if err := eb.dispatch(ctx, event, h); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (eb *EventBus) dispatch(ctx context.Context, event Event, h namedFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if err != nil {
			log.Error().Err(err).
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Msg("event handler failed")
		}
	}()
	return h.fn(ctx, event)
}

// Stop drops further events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns how many handlers are registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
