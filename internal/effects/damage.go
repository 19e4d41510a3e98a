package effects

import (
	"fmt"

	"github.com/energizer-project/realmcore/internal/combat"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/world"
)

func (e *Engine) needsLOS(c *Cast) bool {
	return !c.Spell.Frontal && c.Caster.IsPlayer() &&
		e.region.RequiresLOS(e.region.EffectivePosition(c.Target))
}

func (e *Engine) queueLOS(kind LOSKind, c *Cast, effectiveness int) {
	q := LOSQuery{
		Key:           LOSKey{Requester: c.Caster.ID, Target: c.Target.ObjectID()},
		Kind:          kind,
		CasterID:      c.Caster.ID,
		TargetID:      c.Target.ID,
		Spell:         c.Spell,
		Effectiveness: effectiveness,
		IssuedAt:      e.sched.Now(),
	}
	if c.Effect != nil {
		q.EffectID = c.Effect.ID
	}
	if e.los.Add(q) {
		e.logger.Debug().Uint32("actor", q.CasterID).Uint16("target", q.Key.Target).Str("kind", kind.String()).Msg("replaced pending los query")
	}
	e.out.LOSCheck(c.Caster, c.Target)
}

// DealDamage resolves and applies the spell's damage to the cast target. In
// areas that demand line of sight the damage waits for the caster's client
// to confirm visibility.
func (e *Engine) DealDamage(c *Cast, effectiveness int) {
	if e.needsLOS(c) {
		e.queueLOS(LOSDamage, c, effectiveness)
		return
	}
	e.commitDamage(c, effectiveness, false)
}

func (e *Engine) commitDamage(c *Cast, effectiveness int, confirmed bool) {
	h := e.handlers[c.Spell.Type]
	if h == nil {
		return
	}
	params := h.CalculateDamage(c, effectiveness)
	params.Mitigators = e.Mitigators(c.Target.ID)
	ad := e.resolver.Resolve(c.Caster, c.Target, params)

	if ad.Outcome() == combat.Resisted {
		e.resisted(c, confirmed)
		e.emitDamage(ad)
		return
	}

	dealt := combat.Apply(c.Target, ad)
	switch {
	case ad.Outcome() == combat.Missed:
		e.out.Message(c.Caster, fmt.Sprintf("%s's spell is deflected!", c.Target.Name))
	case dealt > 0:
		e.out.Message(c.Caster, fmt.Sprintf("You hit %s for %d damage!", c.Target.Name, dealt))
		e.out.Message(c.Target, fmt.Sprintf("%s hits you for %d damage!", c.Caster.Name, dealt))
	}
	if f, ok := h.(DamageFollowUp); ok && ad.Outcome() == combat.Hit {
		f.AfterDamage(c, ad)
	}
	e.emitDamage(ad)
	e.registry.Publish(events.KindAttacked, c.Target.ID, ad)
	if dealt > 0 {
		e.out.StatusUpdate(c.Target)
	}
	if c.Target.Health == 0 && dealt > 0 {
		e.out.Message(c.Caster, fmt.Sprintf("You just killed %s!", c.Target.Name))
		e.registry.Publish(events.KindActorDied, c.Target.ID, c.Caster.ID)
	}
}

// resisted reports a resist to both sides. In areas that demand line of
// sight the report waits for its own confirmation unless one already arrived.
func (e *Engine) resisted(c *Cast, confirmed bool) {
	if !confirmed && e.needsLOS(c) {
		e.queueLOS(LOSResist, c, 0)
		return
	}
	e.sendResist(c.Caster, c.Target, c.Spell.ID)
}

func (e *Engine) sendResist(caster, target *world.Actor, spellID uint16) {
	e.out.SpellEffect(caster, target, spellID, false)
	e.out.Message(caster, fmt.Sprintf("%s resists the effect!", target.Name))
	e.out.Message(target, "You resist the effect!")
}

// HandleLOSResponse resolves the damage and resist queries pending for a
// (checker, target) pair. Responses that no longer match a live caster,
// target and effect return ErrStaleLOSResponse without touching the world.
func (e *Engine) HandleLOSResponse(checkerID uint32, targetOID uint16, visible bool) error {
	key := LOSKey{Requester: checkerID, Target: targetOID}
	dq, hasDamage := e.los.Take(LOSDamage, key)
	rq, hasResist := e.los.Take(LOSResist, key)
	if !hasDamage && !hasResist {
		return fmt.Errorf("checker %d target %d: %w", checkerID, targetOID, ErrStaleLOSResponse)
	}

	var stale error
	if hasDamage {
		c, err := e.revive(dq)
		switch {
		case err != nil:
			stale = err
		case visible:
			e.commitDamage(c, dq.Effectiveness, true)
		}
	}
	if hasResist {
		c, err := e.revive(rq)
		switch {
		case err != nil:
			stale = err
		case visible:
			e.sendResist(c.Caster, c.Target, c.Spell.ID)
		}
	}
	if stale != nil {
		e.logger.Debug().Err(stale).Uint32("actor", checkerID).Uint16("target", targetOID).Msg("ignoring los response")
	}
	return stale
}

func (e *Engine) revive(q LOSQuery) (*Cast, error) {
	stale := func(why string) error {
		return fmt.Errorf("%s query for spell %d: %s: %w", q.Kind, q.Spell.ID, why, ErrStaleLOSResponse)
	}
	caster, ok := e.region.Actor(q.CasterID)
	if !ok || !caster.Alive() {
		return nil, stale("caster gone")
	}
	target, ok := e.region.Actor(q.TargetID)
	if !ok || !target.Alive() {
		return nil, stale("target gone")
	}
	c := &Cast{Engine: e, Caster: caster, Target: target, Spell: q.Spell}
	if q.EffectID != 0 {
		eff, ok := e.byID[q.EffectID]
		if !ok || eff.State() != Active {
			return nil, stale("effect ended")
		}
		c.Effect = eff
	}
	return c, nil
}

// ExpireLOS drops queries older than the timeout.
func (e *Engine) ExpireLOS(now scheduler.Tick) int {
	if now <= LOSTimeoutTicks {
		return 0
	}
	return e.los.Expire(now - LOSTimeoutTicks)
}

func (e *Engine) emitDamage(ad combat.AttackData) {
	if e.sink == nil {
		return
	}
	e.sink(events.Event{
		Type:   events.EventDamageDealt,
		Source: "effects",
		Payload: events.DamagePayload{
			RegionID:   e.region.ID,
			Tick:       uint64(e.sched.Now()),
			AttackerID: ad.AttackerID(),
			DefenderID: ad.DefenderID(),
			SpellID:    int(ad.SpellID()),
			Damage:     ad.Damage(),
			Critical:   ad.Critical(),
			DamageType: ad.DamageType().String(),
			Outcome:    ad.Outcome().String(),
		},
	})
}
