// Package events defines the process-wide event bus and the region-scoped
// handler registry used by the simulation core.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionOpened   EventType = "session_opened"
	EventSessionClosed   EventType = "session_closed"
	EventSessionMismatch EventType = "session_mismatch"

	// Simulation
	EventDamageDealt   EventType = "damage_dealt"
	EventEffectStarted EventType = "effect_started"
	EventEffectEnded   EventType = "effect_ended"
	EventUnknownZone   EventType = "unknown_zone"
	EventLongTick      EventType = "long_tick"

	// Notification
	EventNotifyMQTT EventType = "notify_mqtt"

	// System
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionPayload describes a session lifecycle change.
type SessionPayload struct {
	Token      uint16 `json:"token"`
	ActorID    uint32 `json:"actor_id"`
	RegionID   uint16 `json:"region_id"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason,omitempty"`
}

// SessionMismatchPayload records a frame whose declared token did not match its connection.
type SessionMismatchPayload struct {
	RemoteAddr    string `json:"remote_addr"`
	ExpectedToken uint16 `json:"expected_token"`
	DeclaredToken uint16 `json:"declared_token"`
	Opcode        byte   `json:"opcode"`
}

// DamagePayload is a finalized combat resolution.
type DamagePayload struct {
	RegionID   uint16 `json:"region_id"`
	Tick       uint64 `json:"tick"`
	AttackerID uint32 `json:"attacker_id"`
	DefenderID uint32 `json:"defender_id"`
	SpellID    int    `json:"spell_id"`
	Damage     int    `json:"damage"`
	Critical   int    `json:"critical"`
	DamageType string `json:"damage_type"`
	Outcome    string `json:"outcome"`
}

// EffectPayload describes an effect entering or leaving a target.
type EffectPayload struct {
	RegionID uint16 `json:"region_id"`
	EffectID uint64 `json:"effect_id"`
	SpellID  int    `json:"spell_id"`
	CasterID uint32 `json:"caster_id"`
	TargetID uint32 `json:"target_id"`
	State    string `json:"state"`
}

// UnknownZonePayload is emitted when a spell request references a zone the region does not know.
type UnknownZonePayload struct {
	RegionID uint16 `json:"region_id"`
	ActorID  uint32 `json:"actor_id"`
	ZoneID   uint16 `json:"zone_id"`
}

// LongTickPayload reports a region tick that overran its budget.
type LongTickPayload struct {
	RegionID uint16        `json:"region_id"`
	Tick     uint64        `json:"tick"`
	Duration time.Duration `json:"duration"`
}

// NotifyPayload is an operator alert forwarded to MQTT.
type NotifyPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}
