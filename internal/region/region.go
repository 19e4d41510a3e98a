// Package region runs each world region as a protoactor actor. The actor's
// mailbox is the only writer of the region's world state, scheduler and
// effects, so network goroutines hand requests over as messages.
package region

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/broadcast"
	"github.com/energizer-project/realmcore/internal/catalog"
	"github.com/energizer-project/realmcore/internal/combat"
	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/cooldown"
	"github.com/energizer-project/realmcore/internal/effects"
	"github.com/energizer-project/realmcore/internal/events"
	"github.com/energizer-project/realmcore/internal/protocol"
	"github.com/energizer-project/realmcore/internal/scheduler"
	"github.com/energizer-project/realmcore/internal/skills"
	"github.com/energizer-project/realmcore/internal/world"
)

var (
	ErrRegionFull  = errors.New("region full")
	ErrSessionGone = errors.New("session closed before joining")
)

const defaultMaxHealth = 400

// Settings are the server-wide simulation settings every region shares.
type Settings struct {
	TickInterval      time.Duration
	VisibilityRadius  int
	LongTickThreshold time.Duration
	Concentration     int
}

// SettingsFromConfig derives Settings from the server configuration.
func SettingsFromConfig(sd config.ServerData) Settings {
	return Settings{
		TickInterval:      time.Duration(sd.TickIntervalMs) * time.Millisecond,
		VisibilityRadius:  sd.VisibilityRadius,
		LongTickThreshold: time.Duration(sd.LongTickThresholdMs) * time.Millisecond,
		Concentration:     sd.ConcentrationCapacity,
	}
}

// Deps are the collaborators a region reaches outside its own state. Sender
// is required; the others fall back to built-in defaults.
type Deps struct {
	Catalog   skills.Catalog
	Cooldowns skills.CooldownStore
	Executors *skills.Executors
	Sender    broadcast.Sender
	Bus       *events.EventBus
	Roller    combat.Roller
	Now       func() time.Time
}

type tickStats struct {
	last      time.Duration
	max       time.Duration
	longTicks int
}

type regionActor struct {
	settings Settings
	deps     Deps
	region   *world.Region
	sched    *scheduler.Scheduler
	registry *events.Registry
	engine   *effects.Engine
	bc       *broadcast.Broadcaster
	spawn    world.Position
	stats    tickStats
	logger   zerolog.Logger
}

func newRegionActor(cfg config.RegionConfig, settings Settings, deps Deps) *regionActor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Executors == nil {
		deps.Executors = skills.DefaultExecutors()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Cooldowns == nil {
		deps.Cooldowns = cooldown.NewTracker(nil)
	}
	if deps.Roller == nil {
		deps.Roller = rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID)))
	}
	r := &regionActor{
		settings: settings,
		deps:     deps,
		region:   world.NewRegion(cfg.ID, cfg.Name),
		registry: events.NewRegistry(),
		logger:   log.With().Str("component", "region").Uint16("region", cfg.ID).Logger(),
	}
	r.sched = scheduler.New().WithLogger(r.logger)
	for _, z := range cfg.Zones {
		r.region.AddZone(world.Zone{ID: z.ID, Name: z.Name, XOffset: z.XOffset, YOffset: z.YOffset})
	}
	if len(cfg.Zones) > 0 {
		r.spawn = world.Position{X: cfg.Zones[0].XOffset, Y: cfg.Zones[0].YOffset}
	}
	for _, a := range cfg.Areas {
		r.region.AddArea(&world.CircleArea{
			AreaName: a.Name,
			Center:   world.Position{X: a.X, Y: a.Y},
			Radius:   a.Radius,
			LOS:      a.CheckLOS,
		})
	}
	r.bc = broadcast.New(r.region, deps.Sender, settings.VisibilityRadius)
	r.engine = effects.NewEngine(r.region, r.sched, r.registry, deps.Roller, r.bc)
	if deps.Bus != nil {
		r.engine.SetSink(func(ev events.Event) { deps.Bus.Emit(context.Background(), ev) })
	}
	return r
}

func (r *regionActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		r.logger.Info().Str("name", r.region.Name).Msg("region started")
	case *actor.Stopping:
		r.sched.Clear()
		r.logger.Info().Uint64("tick", uint64(r.sched.Now())).Msg("region stopping")
	case *actor.Stopped:
		r.logger.Debug().Msg("region stopped")

	case *Tick:
		r.tick()
	case *Inbound:
		r.handleInbound(msg)
	case *Join:
		ctx.Respond(r.join(msg))
	case *Spawn:
		ctx.Respond(r.spawnNPC(msg))
	case *Leave:
		r.leave(msg)
	case *Mount:
		ctx.Respond(&MountResult{Err: r.mount(msg)})
	case *SnapshotRequest:
		ctx.Respond(r.snapshot(msg.IncludeActors))
	case *EffectsRequest:
		ctx.Respond(r.effectList(msg.ActorID))
	default:
		r.logger.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("unhandled message")
	}
}

func (r *regionActor) tick() {
	start := time.Now()
	r.sched.Advance()
	if n := r.engine.ExpireLOS(r.sched.Now()); n > 0 {
		r.logger.Debug().Int("count", n).Msg("expired unanswered los queries")
	}
	elapsed := time.Since(start)

	r.stats.last = elapsed
	r.stats.max = max(r.stats.max, elapsed)
	if r.settings.LongTickThreshold > 0 && elapsed > r.settings.LongTickThreshold {
		r.stats.longTicks++
		r.logger.Warn().Uint64("tick", uint64(r.sched.Now())).Dur("duration", elapsed).Msg("long tick")
		r.emit(events.EventLongTick, events.LongTickPayload{
			RegionID: r.region.ID,
			Tick:     uint64(r.sched.Now()),
			Duration: elapsed,
		})
	}
}

func (r *regionActor) join(msg *Join) *JoinResult {
	if msg.Live != nil && !msg.Live() {
		r.logger.Info().Uint16("session", msg.Token).Str("name", msg.Name).Msg("join dropped for closed session")
		return &JoinResult{RegionID: r.region.ID, Err: fmt.Errorf("session %d: %w", msg.Token, ErrSessionGone)}
	}
	id := r.region.NextActorID()
	if id == 0 {
		return &JoinResult{RegionID: r.region.ID, Err: fmt.Errorf("region %d: %w", r.region.ID, ErrRegionFull)}
	}
	a := world.NewActor(id, msg.Name, world.KindPlayer, defaultMaxHealth, r.settings.Concentration)
	a.Token = msg.Token
	a.Level = max(msg.Level, 1)
	a.PrivLevel = msg.PrivLevel
	a.Position = r.spawn
	if err := r.region.Add(a); err != nil {
		return &JoinResult{RegionID: r.region.ID, Err: err}
	}
	r.logger.Info().Uint32("actor", id).Uint16("session", msg.Token).Str("name", msg.Name).Msg("actor joined")
	r.deps.Sender.Send(msg.Token, protocol.OpSessionAssign, protocol.BuildSessionAssign(msg.Token, id, r.region.ID))
	r.bc.State(a)
	return &JoinResult{ActorID: id, RegionID: r.region.ID}
}

func (r *regionActor) spawnNPC(msg *Spawn) *JoinResult {
	id := r.region.NextActorID()
	if id == 0 {
		return &JoinResult{RegionID: r.region.ID, Err: fmt.Errorf("region %d: %w", r.region.ID, ErrRegionFull)}
	}
	health := msg.Health
	if health <= 0 {
		health = defaultMaxHealth
	}
	a := world.NewActor(id, msg.Name, world.KindNPC, health, 0)
	a.Position = world.Position{X: msg.X, Y: msg.Y, Z: msg.Z}
	if err := r.region.Add(a); err != nil {
		return &JoinResult{RegionID: r.region.ID, Err: err}
	}
	r.logger.Debug().Uint32("actor", id).Str("name", msg.Name).Msg("npc spawned")
	r.bc.State(a)
	return &JoinResult{ActorID: id, RegionID: r.region.ID}
}

func (r *regionActor) leave(msg *Leave) {
	if msg.ActorID == 0 {
		a, ok := r.playerByToken(msg.Token)
		if !ok {
			return
		}
		msg.ActorID = a.ID
	}
	if _, ok := r.region.Actor(msg.ActorID); !ok {
		return
	}
	r.registry.Publish(events.KindActorRemoved, msg.ActorID, msg.Reason)
	if _, err := r.region.Remove(msg.ActorID); err != nil {
		r.logger.Warn().Err(err).Uint32("actor", msg.ActorID).Msg("failed to remove actor")
	}
	r.sched.CancelOwner(msg.ActorID)
	r.registry.RemoveSource(msg.ActorID)
	r.logger.Info().Uint32("actor", msg.ActorID).Str("reason", msg.Reason).Msg("actor left")
}

func (r *regionActor) mount(msg *Mount) error {
	rider, ok := r.region.Actor(msg.RiderID)
	if !ok {
		return fmt.Errorf("rider %d: %w", msg.RiderID, world.ErrActorNotFound)
	}
	if msg.MountID == 0 {
		rider.Position = r.region.EffectivePosition(rider)
		rider.Heading = r.region.EffectiveHeading(rider)
	}
	if err := r.region.SetMount(rider, msg.MountID); err != nil {
		return err
	}
	r.logger.Info().Uint32("actor", rider.ID).Uint32("mount", msg.MountID).Msg("mount changed")
	r.bc.State(rider)
	return nil
}

func (r *regionActor) playerByToken(token uint16) (*world.Actor, bool) {
	if token == 0 {
		return nil, false
	}
	for a := range r.region.Actors() {
		if a.IsPlayer() && a.Token == token {
			return a, true
		}
	}
	return nil, false
}

func (r *regionActor) snapshot(withActors bool) *Snapshot {
	s := &Snapshot{
		RegionID:       r.region.ID,
		Name:           r.region.Name,
		Tick:           uint64(r.sched.Now()),
		Effects:        r.engine.Count(),
		PendingActions: r.sched.Pending(),
		PendingLOS:     r.engine.LOS().Len(),
		LastTick:       r.stats.last,
		MaxTick:        r.stats.max,
		LongTicks:      r.stats.longTicks,
	}
	for a := range r.region.Actors() {
		s.Actors++
		if a.IsPlayer() {
			s.Players++
		}
		if !withActors {
			continue
		}
		pos := r.region.EffectivePosition(a)
		s.ActorList = append(s.ActorList, ActorInfo{
			ID:            a.ID,
			Name:          a.Name,
			Token:         a.Token,
			Player:        a.IsPlayer(),
			Health:        a.Health,
			MaxHealth:     a.MaxHealth,
			X:             pos.X,
			Y:             pos.Y,
			Z:             pos.Z,
			Heading:       r.region.EffectiveHeading(a),
			MountID:       a.MountID,
			Concentration: a.Concentration.Used(),
			Effects:       len(r.engine.Effects(a.ID)),
		})
	}
	return s
}

func (r *regionActor) effectList(actorID uint32) *EffectList {
	out := &EffectList{ActorID: actorID}
	if _, ok := r.region.Actor(actorID); !ok {
		return out
	}
	out.Found = true
	for _, eff := range r.engine.Effects(actorID) {
		out.Effects = append(out.Effects, EffectInfo{
			ID:        eff.ID,
			SpellID:   eff.Spell.ID,
			Spell:     eff.Spell.Name,
			CasterID:  eff.CasterID,
			State:     eff.State().String(),
			Pulsing:   eff.Pulsing(),
			ExpiresAt: uint64(eff.ExpiresAt),
			Magnitude: eff.Magnitude,
		})
	}
	return out
}

func (r *regionActor) emit(t events.EventType, payload any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  fmt.Sprintf("region:%d", r.region.ID),
		Payload: payload,
	})
}
