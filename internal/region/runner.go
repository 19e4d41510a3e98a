package region

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/protocol"
)

var ErrUnknownRegion = errors.New("unknown region")

const (
	requestTimeout = 2 * time.Second
	restoreTimeout = time.Second
)

// cooldownRestorer reloads an actor's mirrored reuse timers before it joins.
type cooldownRestorer interface {
	Restore(ctx context.Context, actor string, now time.Time) (int, error)
}

// Runner owns the actor system and one actor per configured region. It is
// the only way the rest of the server talks to a region.
type Runner struct {
	system   *actor.ActorSystem
	settings Settings

	regions map[uint16]*actor.PID
	order   []uint16

	restorer cooldownRestorer
	now      func() time.Time
	timeout  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewRunner spawns an actor for every region in cfgs.
func NewRunner(cfgs []config.RegionConfig, settings Settings, deps Deps) (*Runner, error) {
	r := &Runner{
		system:   actor.NewActorSystem(),
		settings: settings,
		regions:  make(map[uint16]*actor.PID, len(cfgs)),
		logger:   log.With().Str("component", "region_runner").Logger(),
		now:      deps.Now,
		timeout:  requestTimeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if rs, ok := deps.Cooldowns.(cooldownRestorer); ok {
		r.restorer = rs
	}
	for _, rc := range cfgs {
		props := actor.PropsFromProducer(func() actor.Actor {
			return newRegionActor(rc, settings, deps)
		})
		pid, err := r.system.Root.SpawnNamed(props, fmt.Sprintf("region-%d", rc.ID))
		if err != nil {
			r.system.Shutdown()
			return nil, fmt.Errorf("failed to spawn region %d: %w", rc.ID, err)
		}
		r.regions[rc.ID] = pid
		r.order = append(r.order, rc.ID)
		r.logger.Info().Uint16("region", rc.ID).Str("name", rc.Name).Str("pid", pid.String()).Msg("region spawned")
	}
	slices.Sort(r.order)
	return r, nil
}

// Start drives every region's clock at the configured tick interval until
// ctx is done or Stop is called. A zero interval leaves ticking to Step.
func (r *Runner) Start(ctx context.Context) {
	if r.settings.TickInterval <= 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for _, id := range r.order {
		pid := r.regions[id]
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(r.settings.TickInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-ticker.C:
					r.system.Root.Send(pid, &Tick{At: t})
				}
			}
		}()
	}
	r.logger.Info().Dur("interval", r.settings.TickInterval).Int("regions", len(r.order)).Msg("region clocks started")
}

// Step advances one region by a single tick.
func (r *Runner) Step(regionID uint16) error {
	pid, err := r.pid(regionID)
	if err != nil {
		return err
	}
	r.system.Root.Send(pid, &Tick{At: time.Now()})
	return nil
}

// Regions returns the ids of all regions in ascending order.
func (r *Runner) Regions() []uint16 {
	return slices.Clone(r.order)
}

func (r *Runner) pid(regionID uint16) (*actor.PID, error) {
	pid, ok := r.regions[regionID]
	if !ok {
		return nil, fmt.Errorf("region %d: %w", regionID, ErrUnknownRegion)
	}
	return pid, nil
}

func (r *Runner) request(regionID uint16, msg any) (any, error) {
	pid, err := r.pid(regionID)
	if err != nil {
		return nil, err
	}
	res, err := r.system.Root.RequestFuture(pid, msg, r.timeout).Result()
	if err != nil {
		return nil, fmt.Errorf("region %d request %T: %w", regionID, msg, err)
	}
	return res, nil
}

// Join places a player actor for a session in a region and returns its id.
// Mirrored cooldowns of the name are restored first, outside the region.
func (r *Runner) Join(regionID uint16, j Join) (uint32, error) {
	if r.restorer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		n, err := r.restorer.Restore(ctx, j.Name, r.now())
		cancel()
		if err != nil {
			r.logger.Warn().Err(err).Str("actor", j.Name).Msg("failed to restore cooldowns")
		} else if n > 0 {
			r.logger.Debug().Str("actor", j.Name).Int("timers", n).Msg("cooldowns restored")
		}
	}

	res, err := r.request(regionID, &j)
	if err != nil {
		if !errors.Is(err, ErrUnknownRegion) {
			r.abandonJoin(regionID, j)
		}
		return 0, err
	}
	jr, ok := res.(*JoinResult)
	if !ok {
		return 0, fmt.Errorf("region %d: unexpected join reply %T", regionID, res)
	}
	return jr.ActorID, jr.Err
}

// abandonJoin queues a leave behind a join whose reply never came. The
// mailbox is ordered, so the leave removes the actor if the join still lands.
func (r *Runner) abandonJoin(regionID uint16, j Join) {
	pid, err := r.pid(regionID)
	if err != nil {
		return
	}
	r.logger.Warn().Uint16("region", regionID).Uint16("session", j.Token).Str("actor", j.Name).Msg("join timed out, queueing leave")
	r.system.Root.Send(pid, &Leave{Token: j.Token, Reason: "join abandoned"})
}

// Spawn places a non-player actor in a region and returns its id.
func (r *Runner) Spawn(regionID uint16, s Spawn) (uint32, error) {
	res, err := r.request(regionID, &s)
	if err != nil {
		return 0, err
	}
	jr, ok := res.(*JoinResult)
	if !ok {
		return 0, fmt.Errorf("region %d: unexpected spawn reply %T", regionID, res)
	}
	return jr.ActorID, jr.Err
}

// Leave removes an actor from its region. It does not wait.
func (r *Runner) Leave(regionID uint16, actorID uint32, reason string) {
	pid, err := r.pid(regionID)
	if err != nil {
		return
	}
	r.system.Root.Send(pid, &Leave{ActorID: actorID, Reason: reason})
}

// Mount puts a rider on a mount, or dismounts it when mountID is zero.
func (r *Runner) Mount(regionID uint16, riderID, mountID uint32) error {
	res, err := r.request(regionID, &Mount{RiderID: riderID, MountID: mountID})
	if err != nil {
		return err
	}
	mr, ok := res.(*MountResult)
	if !ok {
		return fmt.Errorf("region %d: unexpected mount reply %T", regionID, res)
	}
	return mr.Err
}

// Dispatch hands a decoded request to the actor's region. It does not wait.
func (r *Runner) Dispatch(regionID uint16, token uint16, actorID uint32, req protocol.ActionRequest) error {
	pid, err := r.pid(regionID)
	if err != nil {
		return err
	}
	r.system.Root.Send(pid, &Inbound{Token: token, ActorID: actorID, Request: req})
	return nil
}

// Snapshot returns a summary of one region.
func (r *Runner) Snapshot(regionID uint16, withActors bool) (*Snapshot, error) {
	res, err := r.request(regionID, &SnapshotRequest{IncludeActors: withActors})
	if err != nil {
		return nil, err
	}
	s, ok := res.(*Snapshot)
	if !ok {
		return nil, fmt.Errorf("region %d: unexpected snapshot reply %T", regionID, res)
	}
	return s, nil
}

// Snapshots returns a summary of every region that answered in time.
func (r *Runner) Snapshots() []*Snapshot {
	out := make([]*Snapshot, 0, len(r.order))
	for _, id := range r.order {
		s, err := r.Snapshot(id, false)
		if err != nil {
			r.logger.Warn().Err(err).Uint16("region", id).Msg("region snapshot failed")
			continue
		}
		out = append(out, s)
	}
	return out
}

// Effects lists the active effects on one actor.
func (r *Runner) Effects(regionID uint16, actorID uint32) (*EffectList, error) {
	res, err := r.request(regionID, &EffectsRequest{ActorID: actorID})
	if err != nil {
		return nil, err
	}
	l, ok := res.(*EffectList)
	if !ok {
		return nil, fmt.Errorf("region %d: unexpected effects reply %T", regionID, res)
	}
	return l, nil
}

// Stop halts the clocks and stops every region actor.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	for _, id := range r.order {
		pid := r.regions[id]
		if err := r.system.Root.StopFuture(pid).Wait(); err != nil {
			r.logger.Warn().Err(err).Uint16("region", id).Msg("error stopping region")
		}
	}
	r.system.Shutdown()
	r.logger.Info().Msg("regions stopped")
}
