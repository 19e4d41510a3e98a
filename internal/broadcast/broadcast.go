// Package broadcast fans encoded frames out to the players that can see an actor.
package broadcast

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/realmcore/internal/protocol"
	"github.com/energizer-project/realmcore/internal/world"
)

// Sender queues a frame for a session. It must not block and may drop.
type Sender interface {
	Send(token uint16, opcode byte, body []byte)
}

// Broadcaster delivers region output to clients. It is confined to its
// region's execution context like the region it reads.
type Broadcaster struct {
	region *world.Region
	sender Sender
	radius int
	logger zerolog.Logger
}

// New creates a broadcaster for region with the given visibility radius.
func New(region *world.Region, sender Sender, radius int) *Broadcaster {
	return &Broadcaster{
		region: region,
		sender: sender,
		radius: radius,
		logger: log.With().Str("component", "broadcast").Uint16("region", region.ID).Logger(),
	}
}

// Radius returns the visibility radius.
func (b *Broadcaster) Radius() int { return b.radius }

// StateOf builds the outbound state of a, taking heading from its mount while riding.
func StateOf(r *world.Region, a *world.Actor) protocol.StateDelta {
	return protocol.StateDelta{
		ObjectID:         a.ObjectID(),
		Heading:          r.EffectiveHeading(a),
		MovementBits:     a.Movement.Bits,
		Reserved:         a.Reserved,
		Visual:           a.Visual,
		Wireframe:        a.Wireframe,
		Stealth:          a.Stealthed,
		SteedSlot:        a.SteedSlot,
		Riding:           a.Riding,
		Extra:            a.Extra,
		Status:           a.Status,
		Dead:             a.Valid() && a.Health == 0,
		HealthPercent:    a.HealthPercent(),
		ManaPercent:      a.ManaPercent(),
		EndurancePercent: a.EndurancePercent(),
	}
}

// observers yields the players in range of a, a excluded.
func (b *Broadcaster) observers(a *world.Actor, yield func(obs *world.Actor)) {
	for obs := range b.region.ActorsWithinRadius(a, b.radius) {
		if obs.ID == a.ID || obs.Token == 0 {
			continue
		}
		yield(obs)
	}
}

// State sends the primary frame to a and the extended frame to every
// observer. Each recipient gets its own copy. It returns the observer count.
func (b *Broadcaster) State(a *world.Actor) int {
	frame := protocol.Encode(StateOf(b.region, a))
	if a.Token != 0 {
		b.sender.Send(a.Token, protocol.OpPlayerHeading, frame.Primary(a.Token))
	}
	n := 0
	b.observers(a, func(obs *world.Actor) {
		b.sender.Send(obs.Token, protocol.OpPlayerHeading, frame.Extended(obs.Token))
		n++
	})
	return n
}

// Message sends text to a player.
func (b *Broadcaster) Message(to *world.Actor, text string) {
	if to.Token == 0 {
		return
	}
	b.sender.Send(to.Token, protocol.OpMessage, protocol.BuildMessage(to.Token, protocol.MsgSystem, text))
}

// LOSCheck asks the checker's client whether target is visible.
func (b *Broadcaster) LOSCheck(checker, target *world.Actor) {
	if checker.Token == 0 {
		b.logger.Debug().Uint32("actor", checker.ID).Msg("los check for actor without a client")
		return
	}
	b.sender.Send(checker.Token, protocol.OpLOSCheck,
		protocol.BuildLOSCheck(checker.Token, checker.ObjectID(), target.ObjectID()))
}

// SpellEffect plays a spell animation for the caster and everyone around it.
func (b *Broadcaster) SpellEffect(caster, target *world.Actor, spellID uint16, success bool) {
	send := func(to *world.Actor) {
		b.sender.Send(to.Token, protocol.OpSpellEffect,
			protocol.BuildSpellEffect(to.Token, caster.ObjectID(), target.ObjectID(), spellID, success))
	}
	if caster.Token != 0 {
		send(caster)
	}
	b.observers(caster, send)
}

// StatusUpdate reports a's resource percentages to a and its observers.
func (b *Broadcaster) StatusUpdate(a *world.Actor) {
	var status byte
	if a.Health == 0 {
		status = protocol.StatusDead
	}
	send := func(to *world.Actor) {
		b.sender.Send(to.Token, protocol.OpStatusUpdate,
			protocol.BuildStatusUpdate(to.Token, a.ObjectID(), a.HealthPercent(), a.ManaPercent(), a.EndurancePercent(), status))
	}
	if a.Token != 0 {
		send(a)
	}
	b.observers(a, send)
}
