// Package skills resolves client skill and spell requests against an actor's
// usable list and enforces reuse timers.
package skills

import (
	"errors"
	"fmt"

	"github.com/energizer-project/realmcore/internal/world"
)

var (
	ErrSkillNotResolved = errors.New("skill not resolved")
	ErrActionOnCooldown = errors.New("action on cooldown")
	ErrActorDead        = errors.New("actor is dead")
)

// User-facing messages for unresolved requests.
const (
	MsgSkillNotImplemented = "Skill is not implemented."
	MsgSpellNotFound       = "Spell not found."
	MsgDead                = "You can't do that while dead!"
)

// Kind is the category of a usable skill.
type Kind int

const (
	KindSpecialization Kind = iota
	KindAbility
	KindSpell
	KindStyle
)

func (k Kind) String() string {
	switch k {
	case KindSpecialization:
		return "specialization"
	case KindAbility:
		return "ability"
	case KindSpell:
		return "spell"
	case KindStyle:
		return "style"
	}
	return "unknown"
}

// ParseKind maps a kind name back to its value.
func ParseKind(s string) (Kind, bool) {
	for k := KindSpecialization; k <= KindStyle; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Skill is one entry in an actor's usable list.
type Skill struct {
	ID           int
	Name         string
	Kind         Kind
	Level        int
	ReuseSeconds int
	Executor     string // ability and style executor name
	SpellID      uint16 // spell cast by a KindSpell entry
}

// Entry pairs a usable skill with the skill that grants it.
type Entry struct {
	Skill   Skill
	Related Skill
}

// Spell is the static definition of a castable spell.
type Spell struct {
	ID               uint16
	Name             string
	Type             string
	Level            int
	Target           string
	Range            int
	Radius           int
	Damage           int
	DamageType       world.DamageType
	Property         world.Property
	Value            int
	DurationTicks    uint64
	FrequencyTicks   uint64
	CastTicks        uint64
	ReuseSeconds     int
	Concentration    bool
	Frontal          bool
	LifeDrainPercent int
	Charges          int
}

// Pulsing reports whether the spell re-fires while it holds concentration.
func (s Spell) Pulsing() bool {
	return s.Concentration && s.FrequencyTicks > 0
}

// SpellLine is an ordered group of spells.
type SpellLine struct {
	ID     int
	Name   string
	Spells []Spell
}

// SpellAt returns the spell of the given level.
func (l SpellLine) SpellAt(level int) (Spell, bool) {
	for _, s := range l.Spells {
		if s.Level == level {
			return s, true
		}
	}
	return Spell{}, false
}

// Catalog supplies the content the resolver works against.
type Catalog interface {
	UsableSkills(a *world.Actor) []Entry
	SpellLines(a *world.Actor) []SpellLine
	Spell(id uint16) (Spell, bool)
}

// SelectUsable picks the entry addressed by a client request. A zero type
// byte addresses the raw list; a non-zero type addresses entries offset from
// the first non-specialization entry.
func SelectUsable(list []Entry, index int, typ byte) (Entry, bool) {
	if index < 0 {
		return Entry{}, false
	}
	if typ == 0 {
		if index >= len(list) {
			return Entry{}, false
		}
		return list[index], true
	}
	for i, e := range list {
		if e.Skill.Kind == KindSpecialization {
			continue
		}
		if i+index >= len(list) {
			return Entry{}, false
		}
		return list[i+index], true
	}
	return Entry{}, false
}

// UserError carries the text sent back to the acting client. Error reports
// only the wrapped cause; Message is for the client.
type UserError struct {
	Err     error
	Message string
}

func (e *UserError) Error() string { return e.Err.Error() }
func (e *UserError) Unwrap() error { return e.Err }

// UserMessage extracts the client-facing text from err, if any.
func UserMessage(err error) (string, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message, true
	}
	return "", false
}

// RequireAlive rejects requests from dead actors.
func RequireAlive(a *world.Actor) error {
	if a.Alive() {
		return nil
	}
	return &UserError{Err: fmt.Errorf("actor %d: %w", a.ID, ErrActorDead), Message: MsgDead}
}

// ResolveUsableSkill resolves a use-skill request against the actor's current
// usable list.
func ResolveUsableSkill(c Catalog, a *world.Actor, index int, typ byte) (Skill, Skill, error) {
	e, ok := SelectUsable(c.UsableSkills(a), index, typ)
	if !ok || e.Skill.Kind == KindSpecialization {
		return Skill{}, Skill{}, &UserError{
			Err:     fmt.Errorf("skill index %d type %d: %w", index, typ, ErrSkillNotResolved),
			Message: MsgSkillNotImplemented,
		}
	}
	return e.Skill, e.Related, nil
}

// ResolveUsableSpell resolves a use-spell request to the spell of the given
// level in the addressed line.
func ResolveUsableSpell(c Catalog, a *world.Actor, lineIndex, level int) (Spell, SpellLine, error) {
	lines := c.SpellLines(a)
	notFound := &UserError{
		Err:     fmt.Errorf("spell line %d level %d: %w", lineIndex, level, ErrSkillNotResolved),
		Message: MsgSpellNotFound,
	}
	if lineIndex < 0 || lineIndex >= len(lines) {
		return Spell{}, SpellLine{}, notFound
	}
	line := lines[lineIndex]
	s, ok := line.SpellAt(level)
	if !ok || s.Level > a.Level {
		return Spell{}, SpellLine{}, notFound
	}
	return s, line, nil
}
