package effects

import (
	"errors"
	"testing"

	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

type fixedRoll int

func (f fixedRoll) Intn(n int) int { return int(f) % n }

const (
	noResist     fixedRoll = 9999
	alwaysResist fixedRoll = 0
)

type recorder struct {
	messages  map[uint32][]string
	losChecks int
	animated  int
	failed    int
	statuses  int
}

func (r *recorder) Message(to *world.Actor, text string) {
	if r.messages == nil {
		r.messages = make(map[uint32][]string)
	}
	r.messages[to.ID] = append(r.messages[to.ID], text)
}
func (r *recorder) LOSCheck(_, _ *world.Actor) { r.losChecks++ }
func (r *recorder) SpellEffect(_, _ *world.Actor, _ uint16, success bool) {
	if success {
		r.animated++
	} else {
		r.failed++
	}
}
func (r *recorder) StatusUpdate(*world.Actor) { r.statuses++ }

type harness struct {
	eng      *Engine
	region   *world.Region
	sched    *scheduler.Scheduler
	registry *events.Registry
	out      *recorder
	caster   *world.Actor
	target   *world.Actor
	events   []events.Event
}

func newHarness(t *testing.T, roll fixedRoll, concentration int) *harness {
	t.Helper()
	h := &harness{
		region:   world.NewRegion(1, "test"),
		sched:    scheduler.New(),
		registry: events.NewRegistry(),
		out:      &recorder{},
	}
	h.caster = world.NewActor(1, "caster", world.KindPlayer, 100, concentration)
	h.target = world.NewActor(2, "target", world.KindPlayer, 100, 3)
	h.target.Position = world.Position{X: 500}
	for _, a := range []*world.Actor{h.caster, h.target} {
		if err := h.region.Add(a); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	h.eng = NewEngine(h.region, h.sched, h.registry, roll, h.out)
	h.eng.SetSink(func(ev events.Event) { h.events = append(h.events, ev) })
	return h
}

func (h *harness) advance(n int) {
	for range n {
		h.sched.Advance()
	}
}

var (
	bolt      = skills.Spell{ID: 100, Name: "Bolt", Type: "direct_damage", Target: "enemy", Damage: 30, DamageType: world.DamageHeat}
	aura      = skills.Spell{ID: 102, Name: "Aura", Type: "pulse_damage", Target: "enemy", Damage: 12, DamageType: world.DamageHeat, FrequencyTicks: 5, Concentration: true}
	otherAura = skills.Spell{ID: 103, Name: "Chill", Type: "pulse_damage", Target: "enemy", Damage: 5, DamageType: world.DamageCold, FrequencyTicks: 5, Concentration: true}
	skin      = skills.Spell{ID: 200, Name: "Skin", Type: "buff", Target: "self", Property: world.PropArmorFactor, Value: 25, DurationTicks: 10}
	weaken    = skills.Spell{ID: 201, Name: "Weaken", Type: "debuff", Target: "enemy", Property: world.PropStrength, Value: -15, DurationTicks: 30}
	mirror    = skills.Spell{ID: 202, Name: "Mirror", Type: "reflect", Target: "self", DurationTicks: 100, Charges: 1}
	frost     = skills.Spell{ID: 203, Name: "Frost", Type: "ammo", Target: "self", DamageType: world.DamageCold, DurationTicks: 100}
	volley    = skills.Spell{ID: 204, Name: "Volley", Type: "archery", Target: "enemy", Damage: 20, DamageType: world.DamageThrust}
	drain     = skills.Spell{ID: 205, Name: "Drain", Type: "lifedrain", Target: "enemy", Damage: 40, DamageType: world.DamageBody, LifeDrainPercent: 50}
)

func TestBonusLifecycleIsZeroSum(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	if err := h.eng.CastSpell(h.caster, nil, skin); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if got := h.caster.Bonus(world.PropArmorFactor); got != 25 {
		t.Fatalf("expected +25 armor factor, got %d", got)
	}
	effs := h.eng.Effects(h.caster.ID)
	if len(effs) != 1 || effs[0].State() != Active {
		t.Fatalf("expected one active effect, got %d", len(effs))
	}

	h.advance(10)
	if got := h.caster.Bonus(world.PropArmorFactor); got != 0 {
		t.Fatalf("expected bonus reverted on expiry, got %d", got)
	}
	if effs[0].State() != Expired {
		t.Fatalf("expected expired, got %s", effs[0].State())
	}

	if err := h.eng.CastSpell(h.caster, h.target, weaken); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if got := h.target.Bonus(world.PropStrength); got != -15 {
		t.Fatalf("expected -15 strength, got %d", got)
	}
	eff := h.eng.Effects(h.target.ID)[0]
	if !h.eng.Cancel(eff) {
		t.Fatalf("expected cancel to succeed")
	}
	if got := h.target.Bonus(world.PropStrength); got != 0 {
		t.Fatalf("expected bonus reverted on cancel, got %d", got)
	}
	if h.eng.Expire(eff) {
		t.Fatalf("expected expire after cancel to be a no-op")
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("expected all timers stopped, got %d pending", h.sched.Pending())
	}
}

func TestRecastRefreshesEffect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	for range 3 {
		if err := h.eng.CastSpell(h.caster, nil, skin); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	if got := h.caster.Bonus(world.PropArmorFactor); got != 25 {
		t.Fatalf("expected a single +25, got %d", got)
	}
	if got := len(h.eng.Effects(h.caster.ID)); got != 1 {
		t.Fatalf("expected one effect, got %d", got)
	}
}

func TestPulsingEffectHoldsConcentration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	if err := h.eng.CastSpell(h.caster, h.target, aura); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.caster.Concentration.Used() != 1 {
		t.Fatalf("expected one slot used, got %d", h.caster.Concentration.Used())
	}
	if h.target.Health != 88 {
		t.Fatalf("expected first pulse on commit, got health %d", h.target.Health)
	}

	h.advance(10)
	if h.target.Health != 64 {
		t.Fatalf("expected two more pulses, got health %d", h.target.Health)
	}

	eff := h.eng.Effects(h.target.ID)[0]
	if !h.eng.Cancel(eff) {
		t.Fatalf("expected first cancel to succeed")
	}
	if h.eng.Cancel(eff) {
		t.Fatalf("expected second cancel to be a no-op")
	}
	if h.caster.Concentration.Used() != 0 {
		t.Fatalf("expected slot freed once, got %d used", h.caster.Concentration.Used())
	}

	h.advance(20)
	if h.target.Health != 64 {
		t.Fatalf("expected no pulses after cancel, got health %d", h.target.Health)
	}
	if eff.Pulses() != 3 {
		t.Fatalf("expected 3 pulses, got %d", eff.Pulses())
	}
}

func TestConcentrationExhaustedMutatesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 1)
	if err := h.eng.CastSpell(h.caster, h.target, aura); err != nil {
		t.Fatalf("cast: %v", err)
	}
	health := h.target.Health
	pending := h.sched.Pending()

	err := h.eng.CastSpell(h.caster, h.target, otherAura)
	if !errors.Is(err, ErrConcentrationExhausted) {
		t.Fatalf("expected ErrConcentrationExhausted, got %v", err)
	}
	if msg, _ := skills.UserMessage(err); msg != MsgConcentrationExhausted {
		t.Fatalf("expected %q, got %q", MsgConcentrationExhausted, msg)
	}
	if h.target.Health != health || h.sched.Pending() != pending {
		t.Fatalf("expected no mutation, got health %d pending %d", h.target.Health, h.sched.Pending())
	}
	if got := len(h.eng.Effects(h.target.ID)); got != 1 {
		t.Fatalf("expected one effect, got %d", got)
	}

	if err := h.eng.CastSpell(h.caster, h.target, aura); err != nil {
		t.Fatalf("expected recast of the held spell to reuse its slot, got %v", err)
	}
}

func TestCasterDeathClearsConcentration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	third := world.NewActor(3, "third", world.KindNPC, 100, 0)
	third.Position = world.Position{X: 200}
	if err := h.region.Add(third); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, target := range []*world.Actor{h.target, third} {
		if err := h.eng.CastSpell(h.caster, target, aura); err != nil {
			t.Fatalf("cast: %v", err)
		}
	}
	if h.caster.Concentration.Used() != 2 {
		t.Fatalf("expected two slots used, got %d", h.caster.Concentration.Used())
	}

	h.registry.Publish(events.KindActorDied, h.caster.ID, nil)
	if h.caster.Concentration.Used() != 0 {
		t.Fatalf("expected pool cleared, got %d", h.caster.Concentration.Used())
	}
	if h.eng.Count() != 0 || h.sched.Pending() != 0 {
		t.Fatalf("expected no effects or timers, got %d effects %d pending", h.eng.Count(), h.sched.Pending())
	}
}

func TestRemoveActorStopsTimers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	if err := h.eng.CastSpell(h.caster, h.target, aura); err != nil {
		t.Fatalf("cast: %v", err)
	}
	h.sched.Schedule(h.caster, scheduler.KindUseSkill, 10, func(scheduler.Tick) {})

	if _, err := h.region.Remove(h.caster.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.registry.Publish(events.KindActorRemoved, h.caster.ID, nil)
	if h.sched.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", h.sched.Pending())
	}
	if h.caster.Concentration.Used() != 0 {
		t.Fatalf("expected slot released, got %d", h.caster.Concentration.Used())
	}
}

func losHarness(t *testing.T, roll fixedRoll) *harness {
	h := newHarness(t, roll, 3)
	h.region.AddArea(&world.CircleArea{AreaName: "keep", Center: h.target.Position, Radius: 100, LOS: true})
	return h
}

func TestLOSDefersDamage(t *testing.T) {
	t.Parallel()

	h := losHarness(t, noResist)
	if err := h.eng.CastSpell(h.caster, h.target, bolt); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.target.Health != 100 || h.out.losChecks != 1 {
		t.Fatalf("expected deferred damage and one LOS check, got health %d checks %d", h.target.Health, h.out.losChecks)
	}

	if err := h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), true); err != nil {
		t.Fatalf("response: %v", err)
	}
	if h.target.Health != 70 {
		t.Fatalf("expected 30 damage after confirmation, got health %d", h.target.Health)
	}

	if err := h.eng.CastSpell(h.caster, h.target, bolt); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), false); err != nil {
		t.Fatalf("response: %v", err)
	}
	if h.target.Health != 70 {
		t.Fatalf("expected blocked sight to drop damage, got health %d", h.target.Health)
	}
}

func TestFrontalSpellSkipsLOS(t *testing.T) {
	t.Parallel()

	h := losHarness(t, noResist)
	frontal := bolt
	frontal.Frontal = true
	if err := h.eng.CastSpell(h.caster, h.target, frontal); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.out.losChecks != 0 || h.target.Health != 70 {
		t.Fatalf("expected immediate damage, got health %d checks %d", h.target.Health, h.out.losChecks)
	}
}

func TestStaleLOSResponseIsNoop(t *testing.T) {
	t.Parallel()

	h := losHarness(t, noResist)
	if err := h.eng.CastSpell(h.caster, h.target, bolt); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if _, err := h.region.Remove(h.target.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	before := len(h.out.messages[h.caster.ID])

	err := h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), true)
	if !errors.Is(err, ErrStaleLOSResponse) {
		t.Fatalf("expected ErrStaleLOSResponse, got %v", err)
	}
	if h.target.Health != 100 {
		t.Fatalf("expected no health change, got %d", h.target.Health)
	}
	if len(h.out.messages[h.caster.ID]) != before {
		t.Fatalf("expected no messages, got %v", h.out.messages[h.caster.ID])
	}

	err = h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), true)
	if !errors.Is(err, ErrStaleLOSResponse) {
		t.Fatalf("expected repeated response to be stale, got %v", err)
	}
}

func TestStaleLOSAfterEffectEnds(t *testing.T) {
	t.Parallel()

	h := losHarness(t, noResist)
	if err := h.eng.CastSpell(h.caster, h.target, aura); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if !h.eng.LOS().Pending(LOSDamage, LOSKey{Requester: h.caster.ID, Target: h.target.ObjectID()}) {
		t.Fatalf("expected pulse damage to wait on LOS")
	}
	h.eng.Cancel(h.eng.Effects(h.target.ID)[0])

	if err := h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), true); !errors.Is(err, ErrStaleLOSResponse) {
		t.Fatalf("expected stale response, got %v", err)
	}
	if h.target.Health != 100 {
		t.Fatalf("expected no damage, got health %d", h.target.Health)
	}
}

func TestResistUsesOwnLOSQuery(t *testing.T) {
	t.Parallel()

	h := losHarness(t, alwaysResist)
	if err := h.eng.CastSpell(h.caster, h.target, weaken); err != nil {
		t.Fatalf("cast: %v", err)
	}
	key := LOSKey{Requester: h.caster.ID, Target: h.target.ObjectID()}
	if !h.eng.LOS().Pending(LOSResist, key) || h.eng.LOS().Pending(LOSDamage, key) {
		t.Fatalf("expected only a resist query")
	}
	if h.target.Bonus(world.PropStrength) != 0 {
		t.Fatalf("expected resisted debuff not to apply")
	}

	if err := h.eng.HandleLOSResponse(h.caster.ID, h.target.ObjectID(), true); err != nil {
		t.Fatalf("response: %v", err)
	}
	msgs := h.out.messages[h.caster.ID]
	if len(msgs) != 1 || msgs[0] != "target resists the effect!" {
		t.Fatalf("expected resist message, got %v", msgs)
	}
}

func TestReflectSelfCancels(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	if err := h.eng.CastSpell(h.target, nil, mirror); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := h.eng.CastSpell(h.caster, h.target, bolt); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.target.Health != 100 {
		t.Fatalf("expected reflected bolt, got health %d", h.target.Health)
	}
	if got := len(h.eng.Effects(h.target.ID)); got != 0 {
		t.Fatalf("expected barrier spent, got %d effects", got)
	}

	if err := h.eng.CastSpell(h.caster, h.target, bolt); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.target.Health != 70 {
		t.Fatalf("expected second bolt to land, got health %d", h.target.Health)
	}
}

func TestAmmoSubstitutesDamageType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	if err := h.eng.CastSpell(h.caster, nil, frost); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := h.eng.CastSpell(h.caster, h.target, volley); err != nil {
		t.Fatalf("cast: %v", err)
	}

	var got string
	for _, ev := range h.events {
		if p, ok := ev.Payload.(events.DamagePayload); ok {
			got = p.DamageType
		}
	}
	if got != "cold" {
		t.Fatalf("expected cold damage, got %q", got)
	}
}

func TestLifeDrainHealsCaster(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	h.caster.Health = 50
	if err := h.eng.CastSpell(h.caster, h.target, drain); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if h.caster.Health != 70 {
		t.Fatalf("expected 20 healed, got health %d", h.caster.Health)
	}
	msgs := h.out.messages[h.caster.ID]
	if msgs[len(msgs)-1] != "You steal 20 hit points." {
		t.Fatalf("expected steal message, got %v", msgs)
	}
}

func TestUnknownSpellType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	err := h.eng.CastSpell(h.caster, h.target, skills.Spell{ID: 9, Type: "summon"})
	if !errors.Is(err, ErrUnknownSpellType) {
		t.Fatalf("expected ErrUnknownSpellType, got %v", err)
	}
}

func TestCheckBeginCastRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, noResist, 3)
	short := bolt
	short.Range = 100
	err := h.eng.CastSpell(h.caster, h.target, short)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if h.target.Health != 100 {
		t.Fatalf("expected no damage, got %d", h.target.Health)
	}
}
