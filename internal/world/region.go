package world

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	ErrUnknownZone   = errors.New("unknown zone")
	ErrActorExists   = errors.New("actor already in region")
	ErrActorNotFound = errors.New("actor not found")
	ErrMountSelf     = errors.New("actor cannot ride itself")
)

// Zone is a sub-area of a region whose client coordinates are relative to an offset.
type Zone struct {
	ID      uint16
	Name    string
	XOffset int32
	YOffset int32
}

// Area is a shaped part of a region that may demand line-of-sight checks.
type Area interface {
	Name() string
	Contains(p Position) bool
	CheckLOS() bool
}

// CircleArea is a circular area in the XY plane.
type CircleArea struct {
	AreaName string
	Center   Position
	Radius   int32
	LOS      bool
}

func (c *CircleArea) Name() string   { return c.AreaName }
func (c *CircleArea) CheckLOS() bool { return c.LOS }

func (c *CircleArea) Contains(p Position) bool {
	dx := int64(p.X - c.Center.X)
	dy := int64(p.Y - c.Center.Y)
	r := int64(c.Radius)
	return dx*dx+dy*dy <= r*r
}

// Region is the state owned by one region's execution context. None of its
// methods are safe for concurrent use.
type Region struct {
	ID   uint16
	Name string

	zones  map[uint16]Zone
	areas  []Area
	actors []*Actor
	byID   map[uint32]*Actor
	nextID uint32
}

// NewRegion creates an empty region.
func NewRegion(id uint16, name string) *Region {
	return &Region{
		ID:     id,
		Name:   name,
		zones:  make(map[uint16]Zone),
		byID:   make(map[uint32]*Actor),
		nextID: 1,
	}
}

// AddZone registers or replaces a zone.
func (r *Region) AddZone(z Zone) {
	r.zones[z.ID] = z
}

// Zone looks up a zone by id.
func (r *Region) Zone(id uint16) (Zone, bool) {
	z, ok := r.zones[id]
	return z, ok
}

// Zones returns the zones ordered by id.
func (r *Region) Zones() []Zone {
	out := make([]Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, z)
	}
	slices.SortFunc(out, func(a, b Zone) int { return int(a.ID) - int(b.ID) })
	return out
}

// AddArea registers an area.
func (r *Region) AddArea(a Area) {
	r.areas = append(r.areas, a)
}

// AreasAt returns every area containing p.
func (r *Region) AreasAt(p Position) []Area {
	var out []Area
	for _, a := range r.areas {
		if a.Contains(p) {
			out = append(out, a)
		}
	}
	return out
}

// RequiresLOS reports whether any area at p demands line-of-sight checks.
func (r *Region) RequiresLOS(p Position) bool {
	for _, a := range r.areas {
		if a.CheckLOS() && a.Contains(p) {
			return true
		}
	}
	return false
}

// NextActorID reserves an actor id. Ids stay within the 16-bit wire range and
// skip ids still in use.
func (r *Region) NextActorID() uint32 {
	for range 0xFFFF {
		id := r.nextID
		r.nextID++
		if r.nextID > 0xFFFF {
			r.nextID = 1
		}
		if _, taken := r.byID[id]; !taken {
			return id
		}
	}
	return 0
}

// Add places an actor in the region.
func (r *Region) Add(a *Actor) error {
	if _, ok := r.byID[a.ID]; ok {
		return fmt.Errorf("add %d: %w", a.ID, ErrActorExists)
	}
	r.byID[a.ID] = a
	r.actors = append(r.actors, a)
	return nil
}

// Remove takes an actor out of the region and invalidates it.
func (r *Region) Remove(id uint32) (*Actor, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("remove %d: %w", id, ErrActorNotFound)
	}
	delete(r.byID, id)
	r.actors = slices.DeleteFunc(r.actors, func(x *Actor) bool { return x.ID == id })
	a.Invalidate()
	for _, rider := range r.actors {
		if rider.MountID == id {
			rider.MountID = 0
		}
	}
	return a, nil
}

// Actor looks up a valid actor by id.
func (r *Region) Actor(id uint32) (*Actor, bool) {
	a, ok := r.byID[id]
	if !ok || !a.Valid() {
		return nil, false
	}
	return a, true
}

// ActorByObjectID looks up a valid actor by its 16-bit wire id.
func (r *Region) ActorByObjectID(oid uint16) (*Actor, bool) {
	return r.Actor(uint32(oid))
}

// Actors returns every actor in insertion order.
func (r *Region) Actors() iter.Seq[*Actor] {
	return func(yield func(*Actor) bool) {
		for _, a := range slices.Clone(r.actors) {
			if !a.Valid() {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// Len returns the number of actors in the region.
func (r *Region) Len() int { return len(r.actors) }

// ActorsWithinRadius yields every valid actor, center included, whose
// distance to center is at most radius. Each range over the sequence
// re-evaluates the region's current actors.
func (r *Region) ActorsWithinRadius(center *Actor, radius int) iter.Seq[*Actor] {
	return func(yield func(*Actor) bool) {
		from := r.EffectivePosition(center)
		limit := int64(radius) * int64(radius)
		for _, a := range slices.Clone(r.actors) {
			if !a.Valid() {
				continue
			}
			if DistanceSquared(from, r.EffectivePosition(a)) > limit {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// DistanceSquared returns the squared 3D distance between two positions.
func DistanceSquared(a, b Position) int64 {
	dx := int64(a.X - b.X)
	dy := int64(a.Y - b.Y)
	dz := int64(a.Z - b.Z)
	return dx*dx + dy*dy + dz*dz
}

// Mount returns the actor a is riding, if it is still in the region.
func (r *Region) Mount(a *Actor) (*Actor, bool) {
	if a.MountID == 0 {
		return nil, false
	}
	return r.Actor(a.MountID)
}

// SetMount makes rider ride mount. A zero mount id dismounts.
func (r *Region) SetMount(rider *Actor, mountID uint32) error {
	if mountID == 0 {
		rider.MountID = 0
		rider.Riding = 0
		return nil
	}
	if mountID == rider.ID {
		return fmt.Errorf("actor %d: %w", rider.ID, ErrMountSelf)
	}
	if _, ok := r.Actor(mountID); !ok {
		return fmt.Errorf("mount %d: %w", mountID, ErrActorNotFound)
	}
	rider.MountID = mountID
	rider.Riding = 1
	return nil
}

// EffectivePosition returns the mount's position while riding.
func (r *Region) EffectivePosition(a *Actor) Position {
	if m, ok := r.Mount(a); ok {
		return m.Position
	}
	return a.Position
}

// EffectiveHeading returns the mount's heading while riding.
func (r *Region) EffectiveHeading(a *Actor) uint16 {
	if m, ok := r.Mount(a); ok {
		return m.Heading
	}
	return a.Heading
}

// CorrectPosition moves a to the zone-relative coordinates reported by its
// client. The actor is left untouched when the zone is unknown.
func (r *Region) CorrectPosition(a *Actor, zoneID uint16, dx, dy uint16, z uint16) error {
	zone, ok := r.zones[zoneID]
	if !ok {
		return fmt.Errorf("zone %d: %w", zoneID, ErrUnknownZone)
	}
	a.Position = Position{
		X: zone.XOffset + int32(dx),
		Y: zone.YOffset + int32(dy),
		Z: int32(z),
	}
	return nil
}
