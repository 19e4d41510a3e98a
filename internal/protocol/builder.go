package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs outbound frame bodies.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint32 writes a uint32 in big-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed bytes. The slice aliases the builder's buffer.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// BuildCopy returns a copy of the constructed bytes that the caller owns.
func (b *PacketBuilder) BuildCopy() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// Len returns the current size of the frame being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Outbound frame constructors ----

// BuildSessionAssign announces the session token to a freshly connected client.
// Format: [token:2][actor_id:4][region_id:2]
func BuildSessionAssign(token uint16, actorID uint32, regionID uint16) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint32(actorID).WriteUint16(regionID)
	return b.BuildCopy()
}

// BuildMessage creates a user-visible text message.
// Format: [token:2][type:1][text:null_str]
func BuildMessage(token uint16, msgType byte, text string) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteByte(msgType).WriteNullString(text)
	return b.BuildCopy()
}

// BuildLOSCheck asks the client whether target is visible from checker.
// Format: [token:2][checker_oid:2][target_oid:2]
func BuildLOSCheck(token, checkerOID, targetOID uint16) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(checkerOID).WriteUint16(targetOID)
	return b.BuildCopy()
}

// BuildSpellEffect plays a spell animation from caster on target.
// Format: [token:2][caster_oid:2][target_oid:2][spell_id:2][success:1]
func BuildSpellEffect(token, casterOID, targetOID, spellID uint16, success bool) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(casterOID).WriteUint16(targetOID).WriteUint16(spellID)
	if success {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
	return b.BuildCopy()
}

// BuildStatusUpdate reports an actor's resource percentages.
// Format: [token:2][oid:2][health:1][mana:1][endurance:1][status:1]
func BuildStatusUpdate(token, oid uint16, health, mana, endurance, status byte) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(oid).
		WriteByte(health).WriteByte(mana).WriteByte(endurance).WriteByte(status)
	return b.BuildCopy()
}

// BuildStatusReply answers a UDP status probe.
// Format: [magic:1][name:null_str][players:2][regions:2]
func BuildStatusReply(name string, players, regions uint16) []byte {
	b := NewPacketBuilder()
	b.WriteByte(StatusProbeMagic).WriteNullString(name).WriteUint16(players).WriteUint16(regions)
	return b.BuildCopy()
}
