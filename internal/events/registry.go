package events

// Kind identifies a simulation event published inside a region.
type Kind string

const (
	KindActorDied     Kind = "actor_died"
	KindActorRemoved  Kind = "actor_removed"
	KindAttacked      Kind = "attacked"
	KindEffectExpired Kind = "effect_expired"
)

// AnySource subscribes to a kind regardless of which actor published it.
const AnySource uint32 = 0

// RegistryHandler receives a published event. Source is the id of the actor
// the event is about.
type RegistryHandler func(kind Kind, source uint32, payload any)

type registryKey struct {
	kind   Kind
	source uint32
}

type namedHandler struct {
	name string
	fn   RegistryHandler
}

// Registry is a synchronous publish/subscribe table scoped to one region.
// Handlers are identified by name, so adding the same name twice is a no-op.
// A Registry is not safe for concurrent use; it belongs to the region's
// execution context like the rest of the region state.
type Registry struct {
	handlers map[registryKey][]namedHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey][]namedHandler)}
}

// AddUnique registers fn under name for events of kind published by source.
// It returns false when a handler with that name is already registered there.
func (r *Registry) AddUnique(kind Kind, source uint32, name string, fn RegistryHandler) bool {
	key := registryKey{kind: kind, source: source}
	for _, h := range r.handlers[key] {
		if h.name == name {
			return false
		}
	}
	r.handlers[key] = append(r.handlers[key], namedHandler{name: name, fn: fn})
	return true
}

// Remove unregisters the named handler. Removing an unknown name is a no-op.
func (r *Registry) Remove(kind Kind, source uint32, name string) bool {
	key := registryKey{kind: kind, source: source}
	list := r.handlers[key]
	for i, h := range list {
		if h.name != name {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.handlers, key)
		} else {
			r.handlers[key] = list
		}
		return true
	}
	return false
}

// RemoveSource drops every handler bound to source, for all kinds.
func (r *Registry) RemoveSource(source uint32) {
	for key := range r.handlers {
		if key.source == source {
			delete(r.handlers, key)
		}
	}
}

// Publish invokes the handlers bound to (kind, source) followed by the
// wildcard handlers for kind. Handlers may add or remove registrations while
// running; the set invoked is the one present when Publish was called.
func (r *Registry) Publish(kind Kind, source uint32, payload any) {
	specific := r.snapshot(registryKey{kind: kind, source: source})
	var wildcard []namedHandler
	if source != AnySource {
		wildcard = r.snapshot(registryKey{kind: kind, source: AnySource})
	}

	for _, h := range specific {
		h.fn(kind, source, payload)
	}
	for _, h := range wildcard {
		h.fn(kind, source, payload)
	}
}

// Count returns how many handlers are bound to (kind, source).
func (r *Registry) Count(kind Kind, source uint32) int {
	return len(r.handlers[registryKey{kind: kind, source: source}])
}

func (r *Registry) snapshot(key registryKey) []namedHandler {
	list := r.handlers[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]namedHandler, len(list))
	copy(out, list)
	return out
}
