package region

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/cooldown"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/protocol"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/world"
)

type fixedRoll int

func (f fixedRoll) Intn(n int) int { return int(f) % n }

type frame struct {
	token  uint16
	opcode byte
	body   []byte
}

type fakeSender struct {
	mu     sync.Mutex
	frames []frame
}

func (s *fakeSender) Send(token uint16, opcode byte, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{token: token, opcode: opcode, body: body})
}

// messages returns the text of every message frame sent to token.
func (s *fakeSender) messages(token uint16) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.frames {
		if f.token != token || f.opcode != protocol.OpMessage || len(f.body) < 3 {
			continue
		}
		out = append(out, string(bytes.TrimRight(f.body[3:], "\x00")))
	}
	return out
}

func hasMessage(msgs []string, want string) bool {
	for _, m := range msgs {
		if m == want {
			return true
		}
	}
	return false
}

func testRegionConfig() config.RegionConfig {
	return config.RegionConfig{
		ID:   1,
		Name: "Albion",
		Zones: []config.ZoneConfig{
			{ID: 1, Name: "Camelot Hills", XOffset: 0, YOffset: 0},
		},
	}
}

func newTestRegion(t *testing.T, bus *events.EventBus) (*regionActor, *fakeSender, *time.Time) {
	t.Helper()
	sender := &fakeSender{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newRegionActor(testRegionConfig(), Settings{VisibilityRadius: 3600, Concentration: 2}, Deps{
		Sender: sender,
		Bus:    bus,
		Roller: fixedRoll(9999),
		Now:    func() time.Time { return now },
	})
	return r, sender, &now
}

func joinPlayer(t *testing.T, r *regionActor, token uint16, priv int) *world.Actor {
	t.Helper()
	res := r.join(&Join{Token: token, Name: "player" + string(rune('A'+token)), Level: 1, PrivLevel: priv})
	if res.Err != nil {
		t.Fatalf("expected join to succeed, got %v", res.Err)
	}
	a, ok := r.region.Actor(res.ActorID)
	if !ok {
		t.Fatalf("expected actor %d in region", res.ActorID)
	}
	return a
}

func (r *regionActor) send(a *world.Actor, req protocol.ActionRequest) {
	r.handleInbound(&Inbound{Token: a.Token, ActorID: a.ID, Request: req})
}

func TestUseSkillLastSubmitWins(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	// Sprint is the first non-specialization entry, Taunt the second.
	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 1, Type: 1})
	r.tick()

	if a.Endurance != 100 {
		t.Fatalf("expected the replaced sprint not to run, endurance %d", a.Endurance)
	}
	if !hasMessage(sender.messages(a.Token), "You must select a target for this ability!") {
		t.Fatalf("expected the taunt rejection, got %v", sender.messages(a.Token))
	}
}

func TestUseSkillCooldown(t *testing.T) {
	t.Parallel()
	r, sender, now := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.tick()
	if a.Endurance != 90 {
		t.Fatalf("expected sprint to cost 10 endurance, got %d", a.Endurance)
	}

	*now = now.Add(500 * time.Millisecond)
	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.tick()
	if a.Endurance != 90 {
		t.Fatalf("expected sprint on cooldown, endurance %d", a.Endurance)
	}
	if !hasMessage(sender.messages(a.Token), "You must wait 30 seconds to use this ability!") {
		t.Fatalf("expected the cooldown message, got %v", sender.messages(a.Token))
	}
}

func TestPrivilegedActorBypassesCooldown(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 2)

	for range 2 {
		r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
		r.tick()
	}
	if a.Endurance != 80 {
		t.Fatalf("expected both sprints to run, endurance %d", a.Endurance)
	}
}

func TestUnresolvedSkillIsReported(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	// Raw index 0 is a specialization.
	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 0})
	r.tick()
	if !hasMessage(sender.messages(a.Token), "Skill is not implemented.") {
		t.Fatalf("expected the not-implemented message, got %v", sender.messages(a.Token))
	}
}

func TestUseSpellUnknownZone(t *testing.T) {
	t.Parallel()
	bus := events.NewEventBus()
	defer bus.Stop()
	got := make(chan events.UnknownZonePayload, 1)
	bus.Subscribe(events.EventUnknownZone, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.UnknownZonePayload)
		return nil
	})

	r, _, _ := newTestRegion(t, bus)
	a := joinPlayer(t, r, 1, 0)
	a.Position = world.Position{X: 10, Y: 20, Z: 30}
	r.tick()

	r.send(a, &protocol.UseSpellRequest{
		Token:    a.Token,
		Movement: protocol.DecodeMovement(0x1C1),
		ZoneID:   99,
		XOffset:  500,
		YOffset:  500,
	})

	if a.Position != (world.Position{X: 10, Y: 20, Z: 30}) {
		t.Fatalf("expected position untouched, got %+v", a.Position)
	}
	if a.MovementStartTick != 1 || a.Movement.Speed != 0x1C1 {
		t.Fatalf("expected movement recorded at tick 1 with speed 0x1C1, got tick %d speed %d", a.MovementStartTick, a.Movement.Speed)
	}
	select {
	case p := <-got:
		if p.ZoneID != 99 || p.ActorID != a.ID {
			t.Fatalf("expected zone 99 for actor %d, got %+v", a.ID, p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an unknown zone event")
	}
}

func TestSpellCastCompletesAfterCastTime(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	npc := r.spawnNPC(&Spawn{Name: "training dummy", X: 100, Y: 100})
	if npc.Err != nil {
		t.Fatalf("expected spawn to succeed, got %v", npc.Err)
	}
	target, _ := r.region.Actor(npc.ActorID)

	r.send(a, &protocol.SelectTarget{Token: a.Token, TargetID: target.ObjectID()})
	if a.TargetID != target.ID {
		t.Fatalf("expected target %d, got %d", target.ID, a.TargetID)
	}

	// Spark: line 0, level 1, 20 tick cast.
	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 1, LineIndex: 0})
	r.tick()
	if !hasMessage(sender.messages(a.Token), "You begin casting a Spark spell!") {
		t.Fatalf("expected the cast to begin, got %v", sender.messages(a.Token))
	}
	for range 19 {
		r.tick()
	}
	if target.Health != target.MaxHealth {
		t.Fatalf("expected no damage before the cast completes, health %d", target.Health)
	}
	r.tick()
	if target.Health >= target.MaxHealth {
		t.Fatalf("expected damage after the cast completes, health %d", target.Health)
	}
}

func TestNewSpellInterruptsCast(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	npc := r.spawnNPC(&Spawn{Name: "training dummy", X: 100, Y: 100})
	target, _ := r.region.Actor(npc.ActorID)
	a.TargetID = target.ID

	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 1, LineIndex: 0})
	r.tick()
	// Stone Skin is instant and replaces the spell slot.
	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 1, LineIndex: 1})
	for range 25 {
		r.tick()
	}
	if target.Health != target.MaxHealth {
		t.Fatalf("expected the interrupted spark not to land, health %d", target.Health)
	}
	if a.Bonus(world.PropArmorFactor) != 25 {
		t.Fatalf("expected stone skin on the caster, got %d", a.Bonus(world.PropArmorFactor))
	}
}

func TestLeaveCancelsPendingActions(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.leave(&Leave{ActorID: a.ID, Reason: "disconnect"})
	if r.sched.Pending() != 0 {
		t.Fatalf("expected no pending actions, got %d", r.sched.Pending())
	}
	r.tick()
	if a.Endurance != 100 || a.Valid() {
		t.Fatalf("expected an invalid untouched actor, endurance %d valid %v", a.Endurance, a.Valid())
	}
}

func TestRequestWithStaleTokenIsDropped(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	r.handleInbound(&Inbound{Token: 7, ActorID: a.ID, Request: &protocol.UseSkillRequest{Token: 7, Type: 1}})
	if r.sched.Pending() != 0 {
		t.Fatalf("expected the request to be dropped, %d pending", r.sched.Pending())
	}
}

func TestHeadingWhileRidingFollowsMount(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	horse := r.spawnNPC(&Spawn{Name: "horse"})
	mount, _ := r.region.Actor(horse.ActorID)
	mount.Heading = 0x0400
	if err := r.region.SetMount(a, mount.ID); err != nil {
		t.Fatalf("expected mount to succeed, got %v", err)
	}

	r.send(a, &protocol.HeadingUpdate{Token: a.Token, Heading: 0x0123, Strafing: true})
	if r.region.EffectiveHeading(a) != 0x0400 {
		t.Fatalf("expected heading 0x0400 from the mount, got 0x%04X", r.region.EffectiveHeading(a))
	}
	if !a.Movement.Strafing || a.Movement.Bits&protocol.StrafeFlag == 0 {
		t.Fatal("expected strafing recorded")
	}
}

func TestLOSResponseFromOtherCheckerIgnored(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	// Must not panic or touch anything.
	r.send(a, &protocol.LOSResponse{Token: a.Token, CheckerID: a.ObjectID() + 1, TargetID: 5, Response: protocol.LOSVisibleBit})
	if r.engine.LOS().Len() != 0 {
		t.Fatalf("expected no los queries, got %d", r.engine.LOS().Len())
	}
}

func TestLongTickEmitsEvent(t *testing.T) {
	t.Parallel()
	bus := events.NewEventBus()
	defer bus.Stop()
	got := make(chan events.LongTickPayload, 1)
	bus.Subscribe(events.EventLongTick, "test", func(_ context.Context, ev events.Event) error {
		got <- ev.Payload.(events.LongTickPayload)
		return nil
	})

	r, _, _ := newTestRegion(t, bus)
	r.settings.LongTickThreshold = time.Nanosecond
	r.sched.After(nil, 1, func(scheduler.Tick) { time.Sleep(time.Millisecond) })
	r.tick()

	select {
	case p := <-got:
		if p.RegionID != 1 || p.Duration < time.Millisecond {
			t.Fatalf("expected a long tick of region 1, got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a long tick event")
	}
	if r.stats.longTicks != 1 {
		t.Fatalf("expected one long tick counted, got %d", r.stats.longTicks)
	}
}

func TestSnapshotAndEffects(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	r.spawnNPC(&Spawn{Name: "training dummy", X: 100})

	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 1, LineIndex: 1})
	r.tick()

	s := r.snapshot(true)
	if s.Actors != 2 || s.Players != 1 || len(s.ActorList) != 2 {
		t.Fatalf("expected 2 actors and 1 player, got %+v", s)
	}
	if s.Effects != 1 {
		t.Fatalf("expected stone skin counted, got %d effects", s.Effects)
	}

	l := r.effectList(a.ID)
	if !l.Found || len(l.Effects) != 1 || l.Effects[0].Spell != "Stone Skin" {
		t.Fatalf("expected stone skin listed, got %+v", l)
	}
	if l := r.effectList(999); l.Found {
		t.Fatal("expected unknown actor not found")
	}
}

func TestRunnerRoundTrip(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	runner, err := NewRunner([]config.RegionConfig{testRegionConfig()}, Settings{VisibilityRadius: 3600, Concentration: 2}, Deps{
		Sender: sender,
		Roller: fixedRoll(9999),
	})
	if err != nil {
		t.Fatalf("expected runner, got %v", err)
	}
	defer runner.Stop()

	id, err := runner.Join(1, Join{Token: 3, Name: "Arthur", Level: 1})
	if err != nil || id == 0 {
		t.Fatalf("expected a joined actor, got %d, %v", id, err)
	}
	if _, err := runner.Spawn(1, Spawn{Name: "dummy", X: 50}); err != nil {
		t.Fatalf("expected spawn to succeed, got %v", err)
	}
	if err := runner.Dispatch(1, 3, id, &protocol.UseSkillRequest{Token: 3, Index: 0, Type: 1}); err != nil {
		t.Fatalf("expected dispatch to succeed, got %v", err)
	}
	if err := runner.Step(1); err != nil {
		t.Fatalf("expected step to succeed, got %v", err)
	}

	s, err := runner.Snapshot(1, true)
	if err != nil {
		t.Fatalf("expected snapshot, got %v", err)
	}
	if s.Tick != 1 || s.Actors != 2 || s.Players != 1 {
		t.Fatalf("expected tick 1 with 2 actors, got %+v", s)
	}

	runner.Leave(1, id, "test")
	if s, _ := runner.Snapshot(1, false); s.Players != 0 {
		t.Fatalf("expected the player gone, got %d", s.Players)
	}

	if _, err := runner.Snapshot(9, false); !errors.Is(err, ErrUnknownRegion) {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
	if got := len(runner.Snapshots()); got != 1 {
		t.Fatalf("expected 1 snapshot, got %d", got)
	}
}

type restoringStore struct {
	mu       sync.Mutex
	restored []string
}

func (s *restoringStore) Remaining(string, int, time.Time) time.Duration { return 0 }
func (s *restoringStore) Start(string, int, time.Duration, time.Time)    {}

func (s *restoringStore) Restore(_ context.Context, actor string, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = append(s.restored, actor)
	return 1, nil
}

func TestRunnerRestoresCooldownsOnJoin(t *testing.T) {
	t.Parallel()
	store := &restoringStore{}
	runner, err := NewRunner([]config.RegionConfig{testRegionConfig()}, Settings{VisibilityRadius: 3600}, Deps{
		Sender:    &fakeSender{},
		Cooldowns: store,
	})
	if err != nil {
		t.Fatalf("expected runner, got %v", err)
	}
	defer runner.Stop()

	if _, err := runner.Join(1, Join{Token: 5, Name: "Gawain", Level: 1}); err != nil {
		t.Fatalf("expected join to succeed, got %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.restored) != 1 || store.restored[0] != "Gawain" {
		t.Fatalf("expected Gawain restored, got %v", store.restored)
	}
}

func countMessage(msgs []string, want string) int {
	n := 0
	for _, m := range msgs {
		if m == want {
			n++
		}
	}
	return n
}

// castEmberDrain requests Ember Drain (line 0, level 3, 25 tick cast, 6 s reuse).
func castEmberDrain(r *regionActor, a *world.Actor) {
	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 3, LineIndex: 0})
	r.tick()
}

const emberDrainCooldown = "You must wait 6 seconds to use this ability!"

func TestInterruptedCastDoesNotStartReuseTimer(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	a.Level = 3
	npc := r.spawnNPC(&Spawn{Name: "training dummy", X: 100, Y: 100})
	a.TargetID = npc.ActorID

	castEmberDrain(r, a)
	r.send(a, &protocol.UseSpellRequest{Token: a.Token, ZoneID: 1, Level: 1, LineIndex: 1})
	for range 30 {
		r.tick()
	}
	castEmberDrain(r, a)

	msgs := sender.messages(a.Token)
	if got := countMessage(msgs, "You begin casting a Ember Drain spell!"); got != 2 {
		t.Fatalf("expected the second cast to begin, got %v", msgs)
	}
	if hasMessage(msgs, emberDrainCooldown) {
		t.Fatalf("expected no reuse timer for a cast that never landed, got %v", msgs)
	}
}

func TestFailedCastDoesNotStartReuseTimer(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	a.Level = 3

	castEmberDrain(r, a)
	for range 25 {
		r.tick()
	}
	msgs := sender.messages(a.Token)
	if !hasMessage(msgs, "You must select a target for this spell!") {
		t.Fatalf("expected the cast to fail without a target, got %v", msgs)
	}

	castEmberDrain(r, a)
	msgs = sender.messages(a.Token)
	if hasMessage(msgs, emberDrainCooldown) {
		t.Fatalf("expected no reuse timer after a failed cast, got %v", msgs)
	}
	if got := countMessage(msgs, "You begin casting a Ember Drain spell!"); got != 2 {
		t.Fatalf("expected the second cast to begin, got %v", msgs)
	}
}

func TestLandedCastStartsReuseTimer(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	a.Level = 3
	npc := r.spawnNPC(&Spawn{Name: "training dummy", X: 100, Y: 100})
	a.TargetID = npc.ActorID

	castEmberDrain(r, a)
	if hasMessage(sender.messages(a.Token), emberDrainCooldown) {
		t.Fatal("expected no reuse timer while casting")
	}
	for range 25 {
		r.tick()
	}
	target, _ := r.region.Actor(npc.ActorID)
	if target.Health >= target.MaxHealth {
		t.Fatalf("expected ember drain to land, health %d", target.Health)
	}

	castEmberDrain(r, a)
	if !hasMessage(sender.messages(a.Token), emberDrainCooldown) {
		t.Fatalf("expected the reuse timer after the cast landed, got %v", sender.messages(a.Token))
	}
}

func TestDeadActorCannotUseAbilities(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	a.Health = 0

	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.tick()
	if a.Endurance != 100 {
		t.Fatalf("expected sprint not to run while dead, endurance %d", a.Endurance)
	}
	if !hasMessage(sender.messages(a.Token), "You can't do that while dead!") {
		t.Fatalf("expected the dead message, got %v", sender.messages(a.Token))
	}
}

func TestDeadActorCannotCastOrFinishCasting(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	a.Level = 3
	npc := r.spawnNPC(&Spawn{Name: "training dummy", X: 100, Y: 100})
	a.TargetID = npc.ActorID

	castEmberDrain(r, a)
	a.Health = 0
	for range 30 {
		r.tick()
	}
	a.Health = a.MaxHealth
	castEmberDrain(r, a)
	if hasMessage(sender.messages(a.Token), emberDrainCooldown) {
		t.Fatalf("expected a cast cut short by death to leave the spell ready, got %v", sender.messages(a.Token))
	}

	a.Health = 0
	castEmberDrain(r, a)
	if !hasMessage(sender.messages(a.Token), "You can't do that while dead!") {
		t.Fatalf("expected the dead message, got %v", sender.messages(a.Token))
	}
}

func TestHeadingStatusIsRebroadcast(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)

	r.send(a, &protocol.HeadingUpdate{Token: a.Token, Heading: 0x0100, Status: 0x03})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	var last []byte
	for _, f := range sender.frames {
		if f.token == a.Token && f.opcode == protocol.OpPlayerHeading {
			last = f.body
		}
	}
	st, err := protocol.DecodeState(last)
	if err != nil {
		t.Fatalf("expected a state frame, got %v", err)
	}
	if st.Status != 0x03 {
		t.Fatalf("expected status 0x03, got 0x%02X", st.Status)
	}
}

// gatedSender holds session-assign frames until the gate opens, which stalls
// the region mailbox inside a join.
type gatedSender struct {
	fakeSender
	gate chan struct{}
}

func (g *gatedSender) Send(token uint16, opcode byte, body []byte) {
	if opcode == protocol.OpSessionAssign {
		<-g.gate
	}
	g.fakeSender.Send(token, opcode, body)
}

func TestTimedOutJoinLeavesNoActorBehind(t *testing.T) {
	t.Parallel()
	sender := &gatedSender{gate: make(chan struct{})}
	runner, err := NewRunner([]config.RegionConfig{testRegionConfig()}, Settings{VisibilityRadius: 3600}, Deps{
		Sender: sender,
		Roller: fixedRoll(9999),
	})
	if err != nil {
		t.Fatalf("expected runner, got %v", err)
	}
	defer runner.Stop()

	runner.timeout = 50 * time.Millisecond
	if _, err := runner.Join(1, Join{Token: 7, Name: "Lancelot", Level: 1}); err == nil {
		t.Fatal("expected the stalled join to time out")
	}
	close(sender.gate)

	runner.timeout = 2 * time.Second
	s, err := runner.Snapshot(1, true)
	if err != nil {
		t.Fatalf("expected snapshot, got %v", err)
	}
	if s.Players != 0 {
		t.Fatalf("expected the abandoned join removed, got %+v", s.ActorList)
	}
}

func TestJoinForClosedSessionPlacesNoActor(t *testing.T) {
	t.Parallel()
	r, sender, _ := newTestRegion(t, nil)

	res := r.join(&Join{Token: 4, Name: "Percival", Level: 1, Live: func() bool { return false }})
	if !errors.Is(res.Err, ErrSessionGone) {
		t.Fatalf("expected ErrSessionGone, got %v", res.Err)
	}
	if r.region.Len() != 0 {
		t.Fatalf("expected an empty region, got %d actors", r.region.Len())
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.frames) != 0 {
		t.Fatalf("expected no frames for a closed session, got %d", len(sender.frames))
	}
}

func TestLeaveByTokenRemovesPlayer(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 3, 0)
	r.spawnNPC(&Spawn{Name: "training dummy"})

	r.leave(&Leave{Token: 3, Reason: "join abandoned"})
	if a.Valid() {
		t.Fatal("expected the player removed")
	}
	if r.region.Len() != 1 {
		t.Fatalf("expected the npc to stay, got %d actors", r.region.Len())
	}
	r.leave(&Leave{Token: 9, Reason: "join abandoned"})
}

func TestReuseTimerSurvivesRelogUnderSameName(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newRegionActor(testRegionConfig(), Settings{VisibilityRadius: 3600}, Deps{
		Sender:    sender,
		Cooldowns: cooldown.NewTracker(nil),
		Roller:    fixedRoll(9999),
		Now:       func() time.Time { return now },
	})

	first := r.join(&Join{Token: 1, Name: "Galahad", Level: 1})
	a, _ := r.region.Actor(first.ActorID)
	r.send(a, &protocol.UseSkillRequest{Token: a.Token, Index: 0, Type: 1})
	r.tick()
	r.leave(&Leave{ActorID: a.ID, Reason: "disconnect"})

	second := r.join(&Join{Token: 2, Name: "Galahad", Level: 1})
	b, _ := r.region.Actor(second.ActorID)
	r.send(b, &protocol.UseSkillRequest{Token: b.Token, Index: 0, Type: 1})
	r.tick()
	if b.Endurance != 100 {
		t.Fatalf("expected sprint still on cooldown after relog, endurance %d", b.Endurance)
	}
	if !hasMessage(sender.messages(b.Token), "You must wait 30 seconds to use this ability!") {
		t.Fatalf("expected the cooldown message, got %v", sender.messages(b.Token))
	}

	other := r.join(&Join{Token: 3, Name: "Bors", Level: 1})
	c, _ := r.region.Actor(other.ActorID)
	r.send(c, &protocol.UseSkillRequest{Token: c.Token, Index: 0, Type: 1})
	r.tick()
	if c.Endurance != 90 {
		t.Fatalf("expected another name to sprint freely, endurance %d", c.Endurance)
	}
}

func TestMountAndDismountThroughRegion(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegion(t, nil)
	a := joinPlayer(t, r, 1, 0)
	horse := r.spawnNPC(&Spawn{Name: "horse", X: 500, Y: 700})

	if err := r.mount(&Mount{RiderID: 999, MountID: horse.ActorID}); !errors.Is(err, world.ErrActorNotFound) {
		t.Fatalf("expected ErrActorNotFound for an unknown rider, got %v", err)
	}
	if err := r.mount(&Mount{RiderID: a.ID, MountID: a.ID}); !errors.Is(err, world.ErrMountSelf) {
		t.Fatalf("expected ErrMountSelf, got %v", err)
	}
	if err := r.mount(&Mount{RiderID: a.ID, MountID: horse.ActorID}); err != nil {
		t.Fatalf("expected mount to succeed, got %v", err)
	}
	if a.MountID != horse.ActorID || a.Riding != 1 {
		t.Fatalf("expected actor riding %d, got mount %d riding %d", horse.ActorID, a.MountID, a.Riding)
	}
	s := r.snapshot(true)
	for _, info := range s.ActorList {
		if info.ID == a.ID && (info.MountID != horse.ActorID || info.X != 500) {
			t.Fatalf("expected rider listed on the horse at x 500, got %+v", info)
		}
	}

	if err := r.mount(&Mount{RiderID: a.ID}); err != nil {
		t.Fatalf("expected dismount to succeed, got %v", err)
	}
	if a.MountID != 0 || a.Riding != 0 {
		t.Fatalf("expected actor on foot, got mount %d riding %d", a.MountID, a.Riding)
	}
	if a.Position.X != 500 || a.Position.Y != 700 {
		t.Fatalf("expected rider left where the horse stands, got %+v", a.Position)
	}
}

func TestRunnerMount(t *testing.T) {
	t.Parallel()
	runner, err := NewRunner([]config.RegionConfig{testRegionConfig()}, Settings{VisibilityRadius: 3600, Concentration: 2}, Deps{
		Sender: &fakeSender{},
		Roller: fixedRoll(9999),
	})
	if err != nil {
		t.Fatalf("expected runner, got %v", err)
	}
	defer runner.Stop()

	rider, err := runner.Join(1, Join{Token: 2, Name: "Lancelot", Level: 1})
	if err != nil {
		t.Fatalf("expected join, got %v", err)
	}
	steed, err := runner.Spawn(1, Spawn{Name: "steed"})
	if err != nil {
		t.Fatalf("expected spawn, got %v", err)
	}
	if err := runner.Mount(1, rider, steed); err != nil {
		t.Fatalf("expected mount to succeed, got %v", err)
	}
	if err := runner.Mount(1, rider, 4242); !errors.Is(err, world.ErrActorNotFound) {
		t.Fatalf("expected ErrActorNotFound for a missing mount, got %v", err)
	}
	if err := runner.Mount(9, rider, 0); !errors.Is(err, ErrUnknownRegion) {
		t.Fatalf("expected ErrUnknownRegion, got %v", err)
	}
}
