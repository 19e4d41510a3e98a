package effects

import (
	"errors"
	"fmt"

	"github.com/energizer-project/realmcore/internal/combat"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

var ErrInvalidTarget = errors.New("invalid target")

const (
	BaseResistChance = 10
	BaseCritChance   = 10
)

// Cast is the context a handler runs in. Caster and Target are looked up
// fresh from the region every time a handler is invoked.
type Cast struct {
	Engine *Engine
	Caster *world.Actor
	Target *world.Actor
	Spell  skills.Spell
	Effect *Effect // nil for instant spells
}

// Handler implements the behavior of one spell type.
type Handler interface {
	CheckBeginCast(c *Cast) error
	OnEffectStart(c *Cast, e *Effect)
	OnDirectEffect(c *Cast, effectiveness int)
	OnEffectExpires(e *Effect)
	CalculateDamage(c *Cast, effectiveness int) combat.Params
}

// DamageFollowUp is implemented by handlers that act on a finalized hit.
type DamageFollowUp interface {
	AfterDamage(c *Cast, ad combat.AttackData)
}

// MitigatingHandler is implemented by handlers whose effects are consulted
// before an attack on their target is finalized.
type MitigatingHandler interface {
	Mitigate(eng *Engine, e *Effect, m *combat.Mitigation)
}

func invalidTarget(msg string) error {
	return &skills.UserError{Err: fmt.Errorf("%s: %w", msg, ErrInvalidTarget), Message: msg}
}

// BaseHandler supplies default behavior for handlers to embed.
type BaseHandler struct{}

func (BaseHandler) CheckBeginCast(c *Cast) error {
	if !c.Caster.Alive() {
		return invalidTarget("You can't cast while dead!")
	}
	if c.Spell.Target == "self" {
		return nil
	}
	if c.Target == nil || !c.Target.Valid() {
		return invalidTarget("You must select a target for this spell!")
	}
	if !c.Target.Alive() {
		return invalidTarget("Your target is already dead!")
	}
	if c.Spell.Target == "enemy" && c.Target.ID == c.Caster.ID {
		return invalidTarget("You can't attack yourself!")
	}
	if c.Spell.Range > 0 {
		from := c.Engine.region.EffectivePosition(c.Caster)
		to := c.Engine.region.EffectivePosition(c.Target)
		if world.DistanceSquared(from, to) > int64(c.Spell.Range)*int64(c.Spell.Range) {
			return invalidTarget("That target is too far away!")
		}
	}
	return nil
}

func (BaseHandler) OnEffectStart(*Cast, *Effect) {}
func (BaseHandler) OnDirectEffect(*Cast, int)    {}
func (BaseHandler) OnEffectExpires(e *Effect)    { e.RevertBonuses() }

func (BaseHandler) CalculateDamage(c *Cast, effectiveness int) combat.Params {
	return combat.Params{
		SpellID:      c.Spell.ID,
		BaseDamage:   c.Spell.Damage * effectiveness / 100,
		DamageType:   c.Spell.DamageType,
		ResistChance: BaseResistChance,
		CritChance:   BaseCritChance,
	}
}

// DirectDamage deals the spell's damage once per direct effect.
type DirectDamage struct{ BaseHandler }

func (DirectDamage) OnDirectEffect(c *Cast, effectiveness int) {
	c.Engine.DealDamage(c, effectiveness)
}

// Archery is direct damage whose type follows the caster's ammunition.
type Archery struct{ DirectDamage }

func (a Archery) CalculateDamage(c *Cast, effectiveness int) combat.Params {
	p := a.BaseHandler.CalculateDamage(c, effectiveness)
	p.UsesAmmo = true
	return p
}

// LifeDrain heals the caster by a share of the damage dealt.
type LifeDrain struct{ DirectDamage }

func (LifeDrain) AfterDamage(c *Cast, ad combat.AttackData) {
	res := combat.LifeDrain(c.Caster, ad, c.Spell.LifeDrainPercent)
	for _, msg := range res.Messages {
		c.Engine.out.Message(c.Caster, msg)
	}
	if res.Heal > 0 {
		c.Engine.out.StatusUpdate(c.Caster)
	}
}

// PulseDamage re-deals damage every pulse while the caster concentrates.
type PulseDamage struct{ DirectDamage }

// Bonus raises or lowers one bonus category for the effect's duration.
type Bonus struct{ BaseHandler }

func (Bonus) OnEffectStart(_ *Cast, e *Effect) {
	e.ApplyBonus(e.Spell.Property, e.Magnitude)
}

// Ammo marks the caster's next ranged attacks with the spell's damage type.
type Ammo struct{ BaseHandler }

// Reflect turns incoming attacks into misses, one per charge.
type Reflect struct{ BaseHandler }

func (Reflect) OnEffectStart(_ *Cast, e *Effect) {
	e.Charges = max(e.Spell.Charges, 1)
}

func (Reflect) Mitigate(eng *Engine, e *Effect, m *combat.Mitigation) {
	m.Miss()
	e.Charges--
	if e.Charges <= 0 {
		eng.Cancel(e)
	}
}

// Absorb soaks damage from a pool sized by the spell value.
type Absorb struct{ BaseHandler }

func (Absorb) OnEffectStart(_ *Cast, e *Effect) {
	e.Charges = e.Magnitude
}

func (Absorb) Mitigate(eng *Engine, e *Effect, m *combat.Mitigation) {
	e.Charges -= m.Absorb(e.Charges)
	if e.Charges <= 0 {
		eng.Cancel(e)
	}
}

// Convert rewrites incoming damage to the spell's damage type.
type Convert struct{ BaseHandler }

func (Convert) Mitigate(_ *Engine, e *Effect, m *combat.Mitigation) {
	m.SetDamageType(e.Spell.DamageType)
}

// DefaultHandlers returns the built-in handler registry keyed by spell type.
func DefaultHandlers() map[string]Handler {
	return map[string]Handler{
		"direct_damage": DirectDamage{},
		"archery":       Archery{},
		"lifedrain":     LifeDrain{},
		"pulse_damage":  PulseDamage{},
		"buff":          Bonus{},
		"debuff":        Bonus{},
		"ammo":          Ammo{},
		"reflect":       Reflect{},
		"absorb":        Absorb{},
		"convert":       Convert{},
	}
}
