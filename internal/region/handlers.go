package region

import (
	"errors"

	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/protocol"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

// spellCooldownBase keeps spell reuse timers apart from skill ids in the
// shared cooldown store.
const spellCooldownBase = 1 << 20

func (r *regionActor) handleInbound(msg *Inbound) {
	a, ok := r.region.Actor(msg.ActorID)
	if !ok || a.Token != msg.Token {
		r.logger.Debug().Uint32("actor", msg.ActorID).Uint16("session", msg.Token).Msg("dropping request for departed actor")
		return
	}

	switch req := msg.Request.(type) {
	case *protocol.HeadingUpdate:
		r.onHeading(a, req)
	case *protocol.UseSkillRequest:
		r.onUseSkill(a, req)
	case *protocol.UseSpellRequest:
		r.onUseSpell(a, req)
	case *protocol.LOSResponse:
		r.onLOSResponse(a, req)
	case *protocol.SelectTarget:
		r.onSelectTarget(a, req)
	default:
		r.logger.Warn().Uint8("opcode", msg.Request.Opcode()).Msg("unhandled request")
	}
}

func (r *regionActor) onHeading(a *world.Actor, h *protocol.HeadingUpdate) {
	if a.MountID == 0 {
		a.Heading = h.Heading
	}
	a.Movement.Strafing = h.Strafing
	a.Movement.TargetInView = h.TargetInView
	a.Movement.GroundTargetInView = h.GroundTargetInView
	a.Movement.PetInView = h.PetInView
	a.Movement.Bits = h.MovementBits()
	a.Reserved = h.Reserved
	a.Visual = h.Visual
	a.SteedSlot = h.SteedSlot
	a.Extra = h.Extra
	a.Status = h.Status
	if a.MountID == 0 {
		a.Riding = h.Riding
	}
	r.bc.State(a)
}

func (r *regionActor) applyMovement(a *world.Actor, m protocol.Movement) {
	a.Movement.Speed = m.Speed
	a.Movement.Strafing = m.Strafing
	a.Movement.TargetInView = m.TargetInView
	a.Movement.GroundTargetInView = m.GroundTargetInView
	a.Movement.Bits = m.Raw &^ (protocol.HeadingMask | protocol.BackwardFlag)
	a.MovementStartTick = uint64(r.sched.Now())
}

func (r *regionActor) onUseSkill(a *world.Actor, req *protocol.UseSkillRequest) {
	r.applyMovement(a, req.Movement)
	index, typ := int(req.Index), req.Type
	r.sched.Schedule(a, scheduler.KindUseSkill, 1, func(scheduler.Tick) {
		r.useSkill(a, index, typ)
	})
}

// useSkill runs when the scheduled request fires and resolves against the
// actor's state at that moment.
func (r *regionActor) useSkill(a *world.Actor, index int, typ byte) {
	if err := skills.RequireAlive(a); err != nil {
		r.reject(a, err)
		return
	}
	skill, related, err := skills.ResolveUsableSkill(r.deps.Catalog, a, index, typ)
	if err != nil {
		r.reject(a, err)
		return
	}
	r.logger.Debug().Uint32("actor", a.ID).Str("skill", skill.Name).Str("granted_by", related.Name).Msg("use skill")

	if !r.checkCooldown(a, skill.ID) {
		return
	}

	if skill.Kind == skills.KindSpell {
		spell, ok := r.deps.Catalog.Spell(skill.SpellID)
		if !ok {
			r.bc.Message(a, skills.MsgSpellNotFound)
			return
		}
		r.beginCast(a, spell, reuseTimer{id: skill.ID, seconds: skill.ReuseSeconds})
		return
	}

	if err := r.deps.Executors.Execute(a, r.target(a), skill); err != nil {
		r.reject(a, err)
		return
	}
	skills.StartCooldown(r.deps.Cooldowns, a, skill.ID, skill.ReuseSeconds, r.deps.Now())
	r.bc.State(a)
}

func (r *regionActor) onUseSpell(a *world.Actor, req *protocol.UseSpellRequest) {
	r.applyMovement(a, req.Movement)
	if a.MountID == 0 {
		a.Heading = req.Heading
	}
	if err := r.region.CorrectPosition(a, req.ZoneID, req.XOffset, req.YOffset, req.Z); err != nil {
		if errors.Is(err, world.ErrUnknownZone) {
			r.logger.Debug().Uint32("actor", a.ID).Uint16("zone", req.ZoneID).Msg("position correction skipped")
			r.emit(events.EventUnknownZone, events.UnknownZonePayload{
				RegionID: r.region.ID,
				ActorID:  a.ID,
				ZoneID:   req.ZoneID,
			})
		}
	}

	line, level := int(req.LineIndex), int(req.Level)
	r.sched.Schedule(a, scheduler.KindUseSpell, 1, func(scheduler.Tick) {
		if err := skills.RequireAlive(a); err != nil {
			r.reject(a, err)
			return
		}
		spell, _, err := skills.ResolveUsableSpell(r.deps.Catalog, a, line, level)
		if err != nil {
			r.reject(a, err)
			return
		}
		if !r.checkCooldown(a, spellCooldownBase+int(spell.ID)) {
			return
		}
		r.beginCast(a, spell, reuseTimer{id: spellCooldownBase + int(spell.ID), seconds: spell.ReuseSeconds})
	})
}

// reuseTimer is the cooldown a cast starts once it lands.
type reuseTimer struct {
	id      int
	seconds int
}

// beginCast casts at once or, for spells with a cast time, occupies the
// actor's spell slot until the cast completes. A newer spell request
// interrupts a cast in progress. The reuse timer starts only when the spell
// lands.
func (r *regionActor) beginCast(a *world.Actor, spell skills.Spell, reuse reuseTimer) {
	if spell.CastTicks == 0 {
		r.land(a, spell, reuse)
		return
	}
	r.bc.Message(a, "You begin casting a "+spell.Name+" spell!")
	id := spell.ID
	r.sched.Schedule(a, scheduler.KindUseSpell, scheduler.Tick(spell.CastTicks), func(scheduler.Tick) {
		if !a.Alive() {
			return
		}
		s, ok := r.deps.Catalog.Spell(id)
		if !ok {
			r.bc.Message(a, skills.MsgSpellNotFound)
			return
		}
		r.land(a, s, reuse)
	})
}

func (r *regionActor) land(a *world.Actor, spell skills.Spell, reuse reuseTimer) {
	if err := r.engine.CastSpell(a, r.target(a), spell); err != nil {
		r.reject(a, err)
		return
	}
	skills.StartCooldown(r.deps.Cooldowns, a, reuse.id, reuse.seconds, r.deps.Now())
}

func (r *regionActor) checkCooldown(a *world.Actor, id int) bool {
	now := r.deps.Now()
	if a.PrivLevel >= skills.BypassPrivLevel {
		if rem := r.deps.Cooldowns.Remaining(a.Name, id, now); rem > 0 {
			r.logger.Info().Uint32("actor", a.ID).Int("skill", id).Dur("remaining", rem).Msg("reuse timer bypassed by privilege")
		}
		return true
	}
	if err := skills.CheckCooldown(r.deps.Cooldowns, a, id, now); err != nil {
		r.reject(a, err)
		return false
	}
	return true
}

func (r *regionActor) onLOSResponse(a *world.Actor, req *protocol.LOSResponse) {
	if req.CheckerID != a.ObjectID() {
		r.logger.Debug().Uint32("actor", a.ID).Uint16("checker", req.CheckerID).Msg("los response for another checker")
		return
	}
	if err := r.engine.HandleLOSResponse(a.ID, req.TargetID, req.Visible()); err != nil {
		r.logger.Debug().Err(err).Uint32("actor", a.ID).Uint16("target", req.TargetID).Msg("los response ignored")
	}
}

func (r *regionActor) onSelectTarget(a *world.Actor, req *protocol.SelectTarget) {
	if req.TargetID == 0 {
		a.TargetID = 0
		return
	}
	if t, ok := r.region.ActorByObjectID(req.TargetID); ok {
		a.TargetID = t.ID
	}
}

// target returns the actor's current target if it is still in the region.
func (r *regionActor) target(a *world.Actor) *world.Actor {
	if a.TargetID == 0 {
		return nil
	}
	t, ok := r.region.Actor(a.TargetID)
	if !ok {
		a.TargetID = 0
		return nil
	}
	return t
}

func (r *regionActor) reject(a *world.Actor, err error) {
	if msg, ok := skills.UserMessage(err); ok {
		r.bc.Message(a, msg)
	}
	r.logger.Debug().Err(err).Uint32("actor", a.ID).Msg("request rejected")
}
