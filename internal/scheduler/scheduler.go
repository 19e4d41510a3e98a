// Package scheduler implements the per-region tick clock and the delayed
// actions and timers fired against it.
//
// A Scheduler is confined to its region's execution context: Schedule,
// After, Every, Stop and Advance must all be called from the same goroutine.
package scheduler

import (
	pq "github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tick is a point on a region clock.
type Tick uint64

// Kind names a per-actor action slot. An owner has at most one pending action
// per kind.
type Kind string

const (
	KindUseSkill Kind = "use_skill"
	KindUseSpell Kind = "use_spell"
	KindMovement Kind = "movement"
)

// Owner is the actor an action is bound to.
type Owner interface {
	OwnerID() uint32
	Valid() bool
}

// Payload runs when an action fires. now is the region clock at fire time.
type Payload func(now Tick)

type slotKey struct {
	owner uint32
	kind  Kind
}

// Action is a scheduled one-shot or repeating payload. Stop is the only way
// to prevent a future fire.
type Action struct {
	s        *Scheduler
	owner    Owner
	kind     Kind
	fire     Tick
	interval Tick
	seq      uint64
	payload  Payload
	stopped  bool
	done     bool
	fires    int
}

// Stop cancels every future fire. It returns true only when it prevented one.
func (a *Action) Stop() bool {
	if a.stopped || a.done {
		return false
	}
	a.stopped = true
	a.s.forget(a)
	return true
}

// Active reports whether the action will still fire.
func (a *Action) Active() bool { return !a.stopped && !a.done }

// Stopped reports whether Stop cancelled the action.
func (a *Action) Stopped() bool { return a.stopped }

// FireTick returns the next tick the action fires at.
func (a *Action) FireTick() Tick { return a.fire }

// Fires returns how many times the payload ran.
func (a *Action) Fires() int { return a.fires }

// Kind returns the action's slot kind, empty for timers.
func (a *Action) Kind() Kind { return a.kind }

// Scheduler is a region clock with its pending actions ordered by fire tick.
type Scheduler struct {
	now    Tick
	seq    uint64
	queue  *pq.Queue
	slots  map[slotKey]*Action
	owned  map[uint32]map[*Action]struct{}
	live   int
	logger zerolog.Logger
}

// New creates a scheduler at tick zero.
func New() *Scheduler {
	return &Scheduler{
		queue: pq.NewWith(func(x, y interface{}) int {
			a, b := x.(*Action), y.(*Action)
			switch {
			case a.fire < b.fire:
				return -1
			case a.fire > b.fire:
				return 1
			case a.seq < b.seq:
				return -1
			case a.seq > b.seq:
				return 1
			}
			return 0
		}),
		slots:  make(map[slotKey]*Action),
		owned:  make(map[uint32]map[*Action]struct{}),
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// WithLogger replaces the scheduler's logger.
func (s *Scheduler) WithLogger(l zerolog.Logger) *Scheduler {
	s.logger = l
	return s
}

// Now returns the current tick.
func (s *Scheduler) Now() Tick { return s.now }

// Pending returns the number of actions that will still fire.
func (s *Scheduler) Pending() int { return s.live }

// Schedule binds payload to the (owner, kind) slot, firing once after delay
// ticks. A pending action in the same slot is stopped and replaced. delay is
// at least one tick, so actions scheduled while firing run on a later tick.
func (s *Scheduler) Schedule(owner Owner, kind Kind, delay Tick, payload Payload) *Action {
	key := slotKey{owner: owner.OwnerID(), kind: kind}
	if prev, ok := s.slots[key]; ok {
		prev.Stop()
	}
	a := s.enqueue(owner, kind, delay, 0, payload)
	s.slots[key] = a
	return a
}

// Slot returns the pending action of an (owner, kind) slot.
func (s *Scheduler) Slot(ownerID uint32, kind Kind) (*Action, bool) {
	a, ok := s.slots[slotKey{owner: ownerID, kind: kind}]
	return a, ok
}

// After fires payload once after delay ticks. owner may be nil for timers
// whose liveness the caller checks itself.
func (s *Scheduler) After(owner Owner, delay Tick, payload Payload) *Action {
	return s.enqueue(owner, "", delay, 0, payload)
}

// Every fires payload every interval ticks until stopped. The stop flag is
// checked before each re-fire.
func (s *Scheduler) Every(owner Owner, interval Tick, payload Payload) *Action {
	interval = max(interval, 1)
	return s.enqueue(owner, "", interval, interval, payload)
}

// CancelOwner stops every action bound to ownerID and returns how many were stopped.
func (s *Scheduler) CancelOwner(ownerID uint32) int {
	set := s.owned[ownerID]
	n := 0
	for a := range set {
		if a.Stop() {
			n++
		}
	}
	return n
}

// Advance moves the clock forward one tick and fires every due action in
// fire-tick then submission order. It returns the number of payloads run.
func (s *Scheduler) Advance() int {
	s.now++
	fired := 0
	for {
		v, ok := s.queue.Peek()
		if !ok {
			break
		}
		a := v.(*Action)
		if a.fire > s.now {
			break
		}
		s.queue.Dequeue()
		if !a.Active() {
			continue
		}
		if a.owner != nil && !a.owner.Valid() {
			s.logger.Debug().Uint32("actor", a.owner.OwnerID()).Str("kind", string(a.kind)).Msg("dropping action for invalid owner")
			a.stopped = true
			s.forget(a)
			continue
		}
		if a.interval == 0 {
			a.done = true
			s.forget(a)
		}
		a.fires++
		fired++
		if !s.run(a) {
			a.Stop()
			continue
		}
		if a.interval > 0 && a.Active() {
			a.fire = s.now + a.interval
			s.seq++
			a.seq = s.seq
			s.queue.Enqueue(a)
		}
	}
	return fired
}

// run invokes the payload and reports false when it panicked. A panicking
// payload never takes the region down with it.
func (s *Scheduler) run(a *Action) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			ev := s.logger.Error().Interface("panic", r).Uint64("tick", uint64(s.now)).Str("kind", string(a.kind))
			if a.owner != nil {
				ev = ev.Uint32("actor", a.owner.OwnerID())
			}
			ev.Msg("scheduled action panicked")
		}
	}()
	a.payload(s.now)
	return true
}

// Clear stops every pending action.
func (s *Scheduler) Clear() {
	for _, set := range s.owned {
		for a := range set {
			a.Stop()
		}
	}
	for _, v := range s.queue.Values() {
		v.(*Action).Stop()
	}
	s.queue.Clear()
}

func (s *Scheduler) enqueue(owner Owner, kind Kind, delay, interval Tick, payload Payload) *Action {
	s.seq++
	a := &Action{
		s:        s,
		owner:    owner,
		kind:     kind,
		fire:     s.now + max(delay, 1),
		interval: interval,
		seq:      s.seq,
		payload:  payload,
	}
	if owner != nil {
		set, ok := s.owned[owner.OwnerID()]
		if !ok {
			set = make(map[*Action]struct{})
			s.owned[owner.OwnerID()] = set
		}
		set[a] = struct{}{}
	}
	s.live++
	s.queue.Enqueue(a)
	return a
}

func (s *Scheduler) forget(a *Action) {
	s.live--
	if a.kind != "" && a.owner != nil {
		key := slotKey{owner: a.owner.OwnerID(), kind: a.kind}
		if s.slots[key] == a {
			delete(s.slots, key)
		}
	}
	if a.owner != nil {
		if set, ok := s.owned[a.owner.OwnerID()]; ok {
			delete(set, a)
			if len(set) == 0 {
				delete(s.owned, a.owner.OwnerID())
			}
		}
	}
}
