// Package effects runs spell effect lifecycles on a region: timed bonuses,
// pulsing effects bound to a caster's concentration pool, deferred
// line-of-sight confirmation and the mitigators consulted by combat.
package effects

import (
	"sync/atomic"

	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

// State is the lifecycle position of an effect.
type State int32

const (
	Pending State = iota
	Active
	Expired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Delta is one bonus change applied by an effect.
type Delta struct {
	Property world.Property
	Amount   int
}

// Effect is one applied spell instance. It is owned by its target; the
// caster is referenced by id only.
type Effect struct {
	ID        uint64
	Spell     skills.Spell
	CasterID  uint32
	TargetID  uint32
	Magnitude int
	StartTick scheduler.Tick
	ExpiresAt scheduler.Tick
	Charges   int

	target  *world.Actor
	pool    *world.ConcentrationPool
	handler Handler
	state   atomic.Int32
	deltas  []Delta
	expiry  *scheduler.Action
	pulse   *scheduler.Action
	pulses  int
}

// State returns the current lifecycle state.
func (e *Effect) State() State { return State(e.state.Load()) }

// Pulsing reports whether the effect re-fires and holds concentration.
func (e *Effect) Pulsing() bool { return e.Spell.Pulsing() }

// Pulses returns how many times a pulsing effect has fired.
func (e *Effect) Pulses() int { return e.pulses }

// Deltas returns the bonus changes currently applied.
func (e *Effect) Deltas() []Delta {
	return append([]Delta(nil), e.deltas...)
}

// ApplyBonus changes a bonus category on the target and records the change
// so it can be reverted exactly.
func (e *Effect) ApplyBonus(p world.Property, amount int) {
	if amount == 0 {
		return
	}
	e.target.AdjustBonusCategory(p, amount)
	e.deltas = append(e.deltas, Delta{Property: p, Amount: amount})
}

// RevertBonuses undoes every recorded change, newest first.
func (e *Effect) RevertBonuses() {
	for i := len(e.deltas) - 1; i >= 0; i-- {
		d := e.deltas[i]
		e.target.AdjustBonusCategory(d.Property, -d.Amount)
	}
	e.deltas = nil
}

// Target returns the owning actor.
func (e *Effect) Target() *world.Actor { return e.target }

func (e *Effect) transition(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

func (e *Effect) stopTimers() {
	if e.expiry != nil {
		e.expiry.Stop()
	}
	if e.pulse != nil {
		e.pulse.Stop()
	}
}
