package region

import (
	"time"

	"github.com/energizer-project/realmcore/internal/protocol"
)

// Tick advances the region clock by one step.
type Tick struct {
	At time.Time
}

// Inbound carries a decoded, session-validated request into its region.
type Inbound struct {
	Token   uint16
	ActorID uint32
	Request protocol.ActionRequest
}

// Join places a new player actor in the region. The reply is a *JoinResult.
// Live, when set, is asked right before the actor is placed; a session that
// closed while the join waited in the mailbox gets no actor.
type Join struct {
	Token     uint16
	Name      string
	Level     int
	PrivLevel int
	Live      func() bool
}

// JoinResult answers a Join.
type JoinResult struct {
	ActorID  uint32
	RegionID uint16
	Err      error
}

// Leave removes an actor and everything the region holds for it. A zero
// ActorID addresses the player joined under Token instead.
type Leave struct {
	ActorID uint32
	Token   uint16
	Reason  string
}

// Spawn places a non-player actor. The reply is a *JoinResult.
type Spawn struct {
	Name   string
	X, Y   int32
	Z      int32
	Health int
}

// Mount puts RiderID on MountID. A zero MountID dismounts the rider where its
// mount stands. The reply is a *MountResult.
type Mount struct {
	RiderID uint32
	MountID uint32
}

// MountResult answers a Mount.
type MountResult struct {
	Err error
}

// SnapshotRequest asks for a *Snapshot.
type SnapshotRequest struct {
	IncludeActors bool
}

// Snapshot is a point-in-time summary of a region.
type Snapshot struct {
	RegionID       uint16        `json:"region_id"`
	Name           string        `json:"name"`
	Tick           uint64        `json:"tick"`
	Actors         int           `json:"actors"`
	Players        int           `json:"players"`
	Effects        int           `json:"effects"`
	PendingActions int           `json:"pending_actions"`
	PendingLOS     int           `json:"pending_los"`
	LastTick       time.Duration `json:"last_tick_ns"`
	MaxTick        time.Duration `json:"max_tick_ns"`
	LongTicks      int           `json:"long_ticks"`
	ActorList      []ActorInfo   `json:"actor_list,omitempty"`
}

// ActorInfo describes one actor in a snapshot.
type ActorInfo struct {
	ID            uint32 `json:"id"`
	Name          string `json:"name"`
	Token         uint16 `json:"token"`
	Player        bool   `json:"player"`
	Health        int    `json:"health"`
	MaxHealth     int    `json:"max_health"`
	X             int32  `json:"x"`
	Y             int32  `json:"y"`
	Z             int32  `json:"z"`
	Heading       uint16 `json:"heading"`
	MountID       uint32 `json:"mount_id,omitempty"`
	Concentration int    `json:"concentration_used"`
	Effects       int    `json:"effects"`
}

// EffectsRequest asks for the effects on one actor. The reply is a *EffectList.
type EffectsRequest struct {
	ActorID uint32
}

// EffectList answers an EffectsRequest.
type EffectList struct {
	ActorID uint32       `json:"actor_id"`
	Found   bool         `json:"found"`
	Effects []EffectInfo `json:"effects"`
}

// EffectInfo describes one active effect.
type EffectInfo struct {
	ID        uint64 `json:"id"`
	SpellID   uint16 `json:"spell_id"`
	Spell     string `json:"spell"`
	CasterID  uint32 `json:"caster_id"`
	State     string `json:"state"`
	Pulsing   bool   `json:"pulsing"`
	ExpiresAt uint64 `json:"expires_at"`
	Magnitude int    `json:"magnitude"`
}
