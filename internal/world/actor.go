// Package world holds the region-owned simulation state: actors, zones,
// line-of-sight areas and the accessors the simulation core mutates them through.
package world

import "fmt"

// Position is a point in region coordinates.
type Position struct {
	X, Y, Z int32
}

// ActorKind distinguishes players from non-player actors.
type ActorKind int

const (
	KindPlayer ActorKind = iota
	KindNPC
)

// Property is a bonus category on an actor.
type Property int

const (
	PropStrength Property = iota + 1
	PropConstitution
	PropDexterity
	PropQuickness
	PropIntelligence
	PropArmorFactor
	PropMaxHealth
	PropCastingSpeed
	PropMeleeDamage
	PropResistCrush
	PropResistSlash
	PropResistThrust
	PropResistHeat
	PropResistCold
	PropResistMatter
	PropResistBody
	PropResistSpirit
	PropResistEnergy
)

var propertyNames = map[Property]string{
	PropStrength:     "strength",
	PropConstitution: "constitution",
	PropDexterity:    "dexterity",
	PropQuickness:    "quickness",
	PropIntelligence: "intelligence",
	PropArmorFactor:  "armor_factor",
	PropMaxHealth:    "max_health",
	PropCastingSpeed: "casting_speed",
	PropMeleeDamage:  "melee_damage",
	PropResistCrush:  "resist_crush",
	PropResistSlash:  "resist_slash",
	PropResistThrust: "resist_thrust",
	PropResistHeat:   "resist_heat",
	PropResistCold:   "resist_cold",
	PropResistMatter: "resist_matter",
	PropResistBody:   "resist_body",
	PropResistSpirit: "resist_spirit",
	PropResistEnergy: "resist_energy",
}

func (p Property) String() string {
	if s, ok := propertyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("property(%d)", int(p))
}

// ParseProperty maps a property name back to its value.
func ParseProperty(name string) (Property, bool) {
	for p, s := range propertyNames {
		if s == name {
			return p, true
		}
	}
	return 0, false
}

// DamageType is the nominal type of a hit.
type DamageType int

const (
	DamageNatural DamageType = iota
	DamageCrush
	DamageSlash
	DamageThrust
	DamageHeat
	DamageCold
	DamageMatter
	DamageBody
	DamageSpirit
	DamageEnergy
)

var damageTypeNames = []string{"natural", "crush", "slash", "thrust", "heat", "cold", "matter", "body", "spirit", "energy"}

func (d DamageType) String() string {
	if int(d) >= 0 && int(d) < len(damageTypeNames) {
		return damageTypeNames[d]
	}
	return "unknown"
}

// ParseDamageType maps a damage type name back to its value.
func ParseDamageType(name string) (DamageType, bool) {
	for i, s := range damageTypeNames {
		if s == name {
			return DamageType(i), true
		}
	}
	return 0, false
}

// ResistProperty returns the bonus category that resists d.
func ResistProperty(d DamageType) (Property, bool) {
	if d < DamageCrush || d > DamageEnergy {
		return 0, false
	}
	return PropResistCrush + Property(d-DamageCrush), true
}

// Movement is the last movement state reported by an actor's client.
type Movement struct {
	Speed              int16
	Strafing           bool
	TargetInView       bool
	GroundTargetInView bool
	PetInView          bool
	Bits               uint16 // raw flag bits above the heading
}

// Actor is a living entity in a region. It is owned by its region and must
// only be touched from the region's execution context.
type Actor struct {
	ID        uint32
	Name      string
	Kind      ActorKind
	Token     uint16 // session token, zero for NPCs
	PrivLevel int
	Level     int

	Position          Position
	Heading           uint16
	Movement          Movement
	MovementStartTick uint64

	Health       int
	MaxHealth    int
	Mana         int
	MaxMana      int
	Endurance    int
	MaxEndurance int

	Diseased  bool
	Stealthed bool
	Wireframe bool

	// Echoed bytes of the last heading update.
	Visual    byte
	Reserved  byte
	Extra     byte
	SteedSlot byte
	Riding    byte
	Status    byte

	// MountID is the id of the actor being ridden, zero when on foot.
	MountID uint32

	TargetID uint32

	Concentration *ConcentrationPool

	bonuses map[Property]int
	valid   bool
}

// NewActor creates a valid actor at full health with an empty concentration pool.
func NewActor(id uint32, name string, kind ActorKind, maxHealth, concentration int) *Actor {
	return &Actor{
		ID:            id,
		Name:          name,
		Kind:          kind,
		Level:         1,
		Health:        maxHealth,
		MaxHealth:     maxHealth,
		Mana:          100,
		MaxMana:       100,
		Endurance:     100,
		MaxEndurance:  100,
		Concentration: NewConcentrationPool(concentration),
		bonuses:       make(map[Property]int),
		valid:         true,
	}
}

// OwnerID identifies the actor to the scheduler.
func (a *Actor) OwnerID() uint32 { return a.ID }

// ObjectID is the 16-bit id used on the wire.
func (a *Actor) ObjectID() uint16 { return uint16(a.ID) }

// Valid reports whether the actor is still part of the world. It turns false
// on disconnect or removal and never turns true again.
func (a *Actor) Valid() bool { return a.valid }

// Invalidate detaches the actor from the world.
func (a *Actor) Invalidate() { a.valid = false }

// Alive reports whether the actor is valid and has health left.
func (a *Actor) Alive() bool { return a.valid && a.Health > 0 }

// IsPlayer reports whether a client controls the actor.
func (a *Actor) IsPlayer() bool { return a.Kind == KindPlayer }

// AdjustBonusCategory adds delta to a bonus category.
func (a *Actor) AdjustBonusCategory(p Property, delta int) {
	if a.bonuses == nil {
		a.bonuses = make(map[Property]int)
	}
	a.bonuses[p] += delta
	if a.bonuses[p] == 0 {
		delete(a.bonuses, p)
	}
}

// Bonus returns the current value of a bonus category.
func (a *Actor) Bonus(p Property) int {
	return a.bonuses[p]
}

// Bonuses returns a copy of all non-zero bonus categories.
func (a *Actor) Bonuses() map[Property]int {
	out := make(map[Property]int, len(a.bonuses))
	for k, v := range a.bonuses {
		out[k] = v
	}
	return out
}

// Resist returns the actor's resist percentage against d, capped to [0, 70].
func (a *Actor) Resist(d DamageType) int {
	p, ok := ResistProperty(d)
	if !ok {
		return 0
	}
	return min(max(a.bonuses[p], 0), 70)
}

// ChangeHealth applies delta clamped to [0, MaxHealth] and returns the change
// actually applied.
func (a *Actor) ChangeHealth(delta int) int {
	before := a.Health
	a.Health = min(max(a.Health+delta, 0), a.MaxHealth)
	return a.Health - before
}

// MissingHealth returns how much health the actor can still receive.
func (a *Actor) MissingHealth() int {
	return max(a.MaxHealth-a.Health, 0)
}

// HealthPercent returns health as a 0-100 percentage.
func (a *Actor) HealthPercent() byte { return percent(a.Health, a.MaxHealth) }

// ManaPercent returns mana as a 0-100 percentage.
func (a *Actor) ManaPercent() byte { return percent(a.Mana, a.MaxMana) }

// EndurancePercent returns endurance as a 0-100 percentage.
func (a *Actor) EndurancePercent() byte { return percent(a.Endurance, a.MaxEndurance) }

func percent(v, maxV int) byte {
	if maxV <= 0 || v <= 0 {
		return 0
	}
	return byte(min(v*100/maxV, 100))
}
