package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryAddUniqueIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	calls := 0
	h := func(Kind, uint32, any) { calls++ }

	if !r.AddUnique(KindActorDied, 7, "concentration", h) {
		t.Fatalf("expected first add to succeed")
	}
	if r.AddUnique(KindActorDied, 7, "concentration", h) {
		t.Fatalf("expected duplicate add to be rejected")
	}

	r.Publish(KindActorDied, 7, nil)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRegistryScopesBySource(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var got []uint32
	r.AddUnique(KindAttacked, 1, "one", func(_ Kind, src uint32, _ any) { got = append(got, src) })
	r.AddUnique(KindAttacked, AnySource, "all", func(_ Kind, src uint32, _ any) { got = append(got, src+100) })

	r.Publish(KindAttacked, 2, nil)
	r.Publish(KindAttacked, 1, nil)

	want := []uint32{102, 1, 101}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistryHandlerMayRemoveItself(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	calls := 0
	r.AddUnique(KindEffectExpired, 3, "once", func(Kind, uint32, any) {
		calls++
		r.Remove(KindEffectExpired, 3, "once")
	})

	r.Publish(KindEffectExpired, 3, nil)
	r.Publish(KindEffectExpired, 3, nil)

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if r.Count(KindEffectExpired, 3) != 0 {
		t.Fatalf("expected no handlers left")
	}
}

func TestRegistryRemoveSource(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddUnique(KindActorDied, 9, "a", func(Kind, uint32, any) {})
	r.AddUnique(KindAttacked, 9, "b", func(Kind, uint32, any) {})
	r.AddUnique(KindAttacked, 10, "c", func(Kind, uint32, any) {})

	r.RemoveSource(9)

	if r.Count(KindActorDied, 9) != 0 || r.Count(KindAttacked, 9) != 0 {
		t.Fatalf("expected handlers for source 9 to be gone")
	}
	if r.Count(KindAttacked, 10) != 1 {
		t.Fatalf("expected handler for source 10 to survive")
	}
}

func TestEventBusSubscribeUniqueAndEmitSync(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	h := func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	}

	if !bus.Subscribe(EventDamageDealt, "journal", h) {
		t.Fatalf("expected first subscribe to succeed")
	}
	if bus.Subscribe(EventDamageDealt, "journal", h) {
		t.Fatalf("expected duplicate subscribe to be rejected")
	}
	if bus.HandlerCount(EventDamageDealt) != 1 {
		t.Fatalf("expected 1 handler, got %d", bus.HandlerCount(EventDamageDealt))
	}

	if err := bus.EmitSync(context.Background(), Event{Type: EventDamageDealt}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestEventBusEmitAsync(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	done := make(chan struct{})
	bus.Subscribe(EventLongTick, "watcher", func(ctx context.Context, e Event) error {
		close(done)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventLongTick, Payload: LongTickPayload{RegionID: 1}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected async handler to run")
	}
	bus.Stop()
	bus.Stop()
}

func TestEventBusEmitSyncRecoversPanics(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Stop()

	var later atomic.Bool
	bus.Subscribe(EventUnknownZone, "broken", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventUnknownZone, "journal", func(ctx context.Context, e Event) error {
		later.Store(true)
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventUnknownZone})
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("expected ErrHandlerPanic, got %v", err)
	}
	if !later.Load() {
		t.Fatalf("expected later handler to run after a panic")
	}
}

func TestEventBusSubscribeAllAndUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	defer bus.Stop()

	noop := func(ctx context.Context, e Event) error { return nil }
	types := []EventType{EventSessionOpened, EventSessionClosed}
	if n := bus.SubscribeAll(types, "stream", noop); n != 2 {
		t.Fatalf("expected 2 registrations, got %d", n)
	}
	if n := bus.SubscribeAll(types, "stream", noop); n != 0 {
		t.Fatalf("expected 0 new registrations, got %d", n)
	}

	bus.Unsubscribe(EventSessionOpened, "stream")
	if bus.HandlerCount(EventSessionOpened) != 0 {
		t.Fatalf("expected no handlers after unsubscribe, got %d", bus.HandlerCount(EventSessionOpened))
	}
	if bus.HandlerCount(EventSessionClosed) != 1 {
		t.Fatalf("expected closed handler to remain, got %d", bus.HandlerCount(EventSessionClosed))
	}
}

func TestEventBusDropsEventsAfterStop(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "watcher", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	if err := bus.EmitSync(context.Background(), Event{Type: EventShutdown}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no calls after stop, got %d", calls.Load())
	}
}
