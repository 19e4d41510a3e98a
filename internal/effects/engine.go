package effects

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/combat"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

var (
	ErrConcentrationExhausted = errors.New("concentration exhausted")
	ErrUnknownSpellType       = errors.New("unknown spell type")
)

const (
	MsgConcentrationExhausted = "You can't maintain any more concentration spells!"
	MsgSpellNotImplemented    = "That spell is not implemented yet."

	// LOSTimeoutTicks bounds how long an unanswered query is kept.
	LOSTimeoutTicks = 100
)

// Messenger delivers engine output to clients. Implementations must not block.
type Messenger interface {
	Message(to *world.Actor, text string)
	LOSCheck(checker, target *world.Actor)
	SpellEffect(caster, target *world.Actor, spellID uint16, success bool)
	StatusUpdate(a *world.Actor)
}

// Sink receives process-wide events. It must not block.
type Sink func(events.Event)

// Engine owns every effect in one region. It shares the region's execution
// context and is not safe for concurrent use.
type Engine struct {
	region   *world.Region
	sched    *scheduler.Scheduler
	registry *events.Registry
	resolver *combat.Resolver
	handlers map[string]Handler
	lists    map[uint32][]*Effect
	byID     map[uint64]*Effect
	los      *LOSTable
	out      Messenger
	sink     Sink
	nextID   uint64
	logger   zerolog.Logger
}

// NewEngine creates an engine bound to a region, its scheduler and its event
// registry, and subscribes to actor death and removal.
func NewEngine(region *world.Region, sched *scheduler.Scheduler, registry *events.Registry, roller combat.Roller, out Messenger) *Engine {
	e := &Engine{
		region:   region,
		sched:    sched,
		registry: registry,
		handlers: DefaultHandlers(),
		lists:    make(map[uint32][]*Effect),
		byID:     make(map[uint64]*Effect),
		los:      NewLOSTable(),
		out:      out,
		logger:   log.With().Str("component", "effects").Uint16("region", region.ID).Logger(),
	}
	e.resolver = combat.NewResolver(roller, e)
	registry.AddUnique(events.KindActorDied, events.AnySource, "effects.death", func(_ events.Kind, source uint32, _ any) {
		e.onActorDied(source)
	})
	registry.AddUnique(events.KindActorRemoved, events.AnySource, "effects.removal", func(_ events.Kind, source uint32, _ any) {
		e.RemoveActor(source)
	})
	return e
}

// SetSink routes engine events to the process event bus.
func (e *Engine) SetSink(s Sink) { e.sink = s }

// Register adds or replaces the handler for a spell type.
func (e *Engine) Register(spellType string, h Handler) { e.handlers[spellType] = h }

// LOS exposes the pending query table.
func (e *Engine) LOS() *LOSTable { return e.los }

// Effects returns the effects on a target in application order.
func (e *Engine) Effects(targetID uint32) []*Effect {
	return slices.Clone(e.lists[targetID])
}

// Effect looks up an effect by id.
func (e *Engine) Effect(id uint64) (*Effect, bool) {
	eff, ok := e.byID[id]
	return eff, ok
}

// Count returns the number of live effects in the region.
func (e *Engine) Count() int { return len(e.byID) }

// CastSpell commits a cast. Validation and the concentration check run
// before any state changes; a failed cast leaves the world untouched.
func (e *Engine) CastSpell(caster, target *world.Actor, spell skills.Spell) error {
	h, ok := e.handlers[spell.Type]
	if !ok {
		return &skills.UserError{
			Err:     fmt.Errorf("spell %d type %q: %w", spell.ID, spell.Type, ErrUnknownSpellType),
			Message: MsgSpellNotImplemented,
		}
	}
	if spell.Target == "self" || (target == nil && spell.Target == "") {
		target = caster
	}
	c := &Cast{Engine: e, Caster: caster, Target: target, Spell: spell}
	if err := h.CheckBeginCast(c); err != nil {
		e.out.SpellEffect(caster, caster, spell.ID, false)
		return err
	}

	if spell.DurationTicks == 0 && !spell.Pulsing() {
		e.out.SpellEffect(caster, target, spell.ID, true)
		h.OnDirectEffect(c, 100)
		return nil
	}

	prior := e.findFromCaster(target.ID, caster.ID, spell.ID)
	if spell.Pulsing() {
		free := caster.Concentration.Free()
		if prior != nil && prior.pool == caster.Concentration && caster.Concentration.Holds(prior.ID) {
			free++
		}
		if free < 1 {
			return &skills.UserError{
				Err:     fmt.Errorf("spell %d: %w", spell.ID, ErrConcentrationExhausted),
				Message: MsgConcentrationExhausted,
			}
		}
	}
	if spell.Target == "enemy" && !spell.Pulsing() {
		ad := e.resolver.Resolve(caster, target, combat.Params{SpellID: spell.ID, ResistChance: BaseResistChance})
		if ad.Outcome() == combat.Resisted {
			e.resisted(c, false)
			return nil
		}
	}
	if prior != nil {
		e.Cancel(prior)
	}

	e.nextID++
	eff := &Effect{
		ID:        e.nextID,
		Spell:     spell,
		CasterID:  caster.ID,
		TargetID:  target.ID,
		Magnitude: spell.Value,
		StartTick: e.sched.Now(),
		target:    target,
		handler:   h,
	}
	if spell.DurationTicks > 0 {
		eff.ExpiresAt = e.sched.Now() + scheduler.Tick(spell.DurationTicks)
	}
	if spell.Pulsing() {
		if !caster.Concentration.TryAcquire(eff.ID) {
			return &skills.UserError{
				Err:     fmt.Errorf("spell %d: %w", spell.ID, ErrConcentrationExhausted),
				Message: MsgConcentrationExhausted,
			}
		}
		eff.pool = caster.Concentration
	}

	e.out.SpellEffect(caster, target, spell.ID, true)
	e.start(c, eff)
	return nil
}

func (e *Engine) start(c *Cast, eff *Effect) {
	if !eff.transition(Pending, Active) {
		return
	}
	c.Effect = eff
	e.lists[eff.TargetID] = append(e.lists[eff.TargetID], eff)
	e.byID[eff.ID] = eff
	eff.handler.OnEffectStart(c, eff)

	if eff.Spell.DurationTicks > 0 {
		eff.expiry = e.sched.After(nil, scheduler.Tick(eff.Spell.DurationTicks), func(scheduler.Tick) {
			e.Expire(eff)
		})
	}
	if eff.Pulsing() {
		eff.pulse = e.sched.Every(nil, scheduler.Tick(eff.Spell.FrequencyTicks), func(scheduler.Tick) {
			e.pulseTick(eff)
		})
		eff.pulses++
		eff.handler.OnDirectEffect(c, 100)
	}

	e.logger.Debug().Uint64("effect", eff.ID).Uint16("spell", eff.Spell.ID).Uint32("actor", eff.TargetID).Msg("effect started")
	e.emitEffect(events.EventEffectStarted, eff)
}

func (e *Engine) pulseTick(eff *Effect) {
	if eff.State() != Active {
		eff.stopTimers()
		return
	}
	caster, ok := e.region.Actor(eff.CasterID)
	if !ok || !caster.Alive() || (eff.pool != nil && !eff.pool.Holds(eff.ID)) {
		e.Cancel(eff)
		return
	}
	if !eff.target.Alive() {
		e.Cancel(eff)
		return
	}
	eff.pulses++
	c := &Cast{Engine: e, Caster: caster, Target: eff.target, Spell: eff.Spell, Effect: eff}
	eff.handler.OnDirectEffect(c, 100)
}

// Expire ends an active effect whose duration ran out.
func (e *Engine) Expire(eff *Effect) bool {
	if !eff.transition(Active, Expired) {
		return false
	}
	e.terminate(eff, Expired)
	return true
}

// Cancel ends an effect early. Only the first cancellation of an effect has
// any effect; later calls return false.
func (e *Engine) Cancel(eff *Effect) bool {
	if eff.transition(Pending, Cancelled) {
		return true
	}
	if !eff.transition(Active, Cancelled) {
		return false
	}
	e.terminate(eff, Cancelled)
	return true
}

// CancelByID cancels an effect by id.
func (e *Engine) CancelByID(id uint64) bool {
	eff, ok := e.byID[id]
	if !ok {
		return false
	}
	return e.Cancel(eff)
}

func (e *Engine) terminate(eff *Effect, st State) {
	eff.stopTimers()
	if eff.pool != nil {
		eff.pool.Release(eff.ID)
	}
	eff.handler.OnEffectExpires(eff)

	list := e.lists[eff.TargetID]
	list = slices.DeleteFunc(list, func(x *Effect) bool { return x == eff })
	if len(list) == 0 {
		delete(e.lists, eff.TargetID)
	} else {
		e.lists[eff.TargetID] = list
	}
	delete(e.byID, eff.ID)
	e.los.DropEffect(eff.ID)

	e.logger.Debug().Uint64("effect", eff.ID).Str("state", st.String()).Msg("effect ended")
	e.emitEffect(events.EventEffectEnded, eff)
	e.registry.Publish(events.KindEffectExpired, eff.TargetID, eff)
}

func (e *Engine) findFromCaster(targetID, casterID uint32, spellID uint16) *Effect {
	for _, eff := range e.lists[targetID] {
		if eff.CasterID == casterID && eff.Spell.ID == spellID && eff.State() == Active {
			return eff
		}
	}
	return nil
}

// ClearConcentration cancels every effect holding a slot of the caster's pool
// and empties the pool.
func (e *Engine) ClearConcentration(caster *world.Actor) int {
	n := 0
	for _, id := range caster.Concentration.Held() {
		if eff, ok := e.byID[id]; ok && e.Cancel(eff) {
			n++
		}
		caster.Concentration.Release(id)
	}
	return n
}

func (e *Engine) onActorDied(id uint32) {
	if a, ok := e.region.Actor(id); ok {
		e.ClearConcentration(a)
	}
	for _, eff := range e.Effects(id) {
		e.Cancel(eff)
	}
}

// RemoveActor stops everything the region holds for a departing actor:
// effects on it, effects it concentrates on, pending queries and scheduled
// actions.
func (e *Engine) RemoveActor(id uint32) {
	for _, eff := range e.Effects(id) {
		e.Cancel(eff)
	}
	for _, eff := range e.byID {
		if eff.CasterID == id && eff.Pulsing() {
			e.Cancel(eff)
		}
	}
	e.los.DropActor(id)
	e.sched.CancelOwner(id)
}

// AmmoDamageType returns the damage type of the newest active ammunition
// effect on the attacker.
func (e *Engine) AmmoDamageType(attacker *world.Actor) (world.DamageType, bool) {
	list := e.lists[attacker.ID]
	for i := len(list) - 1; i >= 0; i-- {
		eff := list[i]
		if _, ok := eff.handler.(Ammo); ok && eff.State() == Active {
			return eff.Spell.DamageType, true
		}
	}
	return 0, false
}

type effectMitigator struct {
	eng *Engine
	eff *Effect
	h   MitigatingHandler
}

func (m effectMitigator) MitigatorName() string { return m.eff.Spell.Name }

func (m effectMitigator) Mitigate(mit *combat.Mitigation) {
	if m.eff.State() != Active {
		return
	}
	m.h.Mitigate(m.eng, m.eff, mit)
}

// Mitigators returns the target's active mitigating effects in application order.
func (e *Engine) Mitigators(targetID uint32) []combat.Mitigator {
	var out []combat.Mitigator
	for _, eff := range e.lists[targetID] {
		if h, ok := eff.handler.(MitigatingHandler); ok && eff.State() == Active {
			out = append(out, effectMitigator{eng: e, eff: eff, h: h})
		}
	}
	return out
}

func (e *Engine) emitEffect(t events.EventType, eff *Effect) {
	if e.sink == nil {
		return
	}
	e.sink(events.Event{
		Type:   t,
		Source: "effects",
		Payload: events.EffectPayload{
			RegionID: e.region.ID,
			EffectID: eff.ID,
			SpellID:  int(eff.Spell.ID),
			CasterID: eff.CasterID,
			TargetID: eff.TargetID,
			State:    eff.State().String(),
		},
	})
}
