// Package protocol implements the binary game protocol: frame I/O, decoding of
// client action requests and encoding of outbound state frames. All multi-byte
// fields are big-endian and every frame carries a 2-byte length prefix.
package protocol

// Inbound opcodes (client -> server).
const (
	OpHeadingUpdate byte = 0x01 // heading, aux flags, steed state
	OpUseSkill      byte = 0x02 // movement word, skill index, type
	OpUseSpell      byte = 0x03 // movement word, heading, zone correction, spell level + line
	OpLOSResponse   byte = 0x04 // answer to a line-of-sight check
	OpSelectTarget  byte = 0x05 // current target object id, zero clears
	OpHello         byte = 0x06 // character name, first frame of a connection, no token
)

// Outbound opcodes (server -> client).
const (
	OpSessionAssign byte = 0x80 // session token handed to a new connection
	OpPlayerHeading byte = 0x81 // state block of a moving actor
	OpMessage       byte = 0x82 // user-visible text
	OpLOSCheck      byte = 0x83 // line-of-sight query for the client to answer
	OpSpellEffect   byte = 0x84 // spell animation
	OpStatusUpdate  byte = 0x85 // health/mana/endurance percentages
)

// Movement word bits, shared by heading updates and skill/spell requests.
const (
	HeadingMask      uint16 = 0x0FFF
	SpeedMask        uint16 = 0x01FF
	BackwardFlag     uint16 = 0x0200
	GroundTargetFlag uint16 = 0x1000
	StrafeFlag       uint16 = 0x4000

	// TargetInViewMask is tested as a pair. Clients set one or both bits and the
	// meaning of each bit on its own is unverified, so the pair is kept exactly.
	TargetInViewMask uint16 = 0xa000

	// targetInViewDefault is the bit written when a flag is set without raw bits.
	targetInViewDefault uint16 = 0x2000
)

// Auxiliary flags byte of an inbound heading update.
const (
	AuxPetInView          byte = 0x04
	AuxGroundTargetInView byte = 0x08
	AuxTargetInView       byte = 0x10
)

// Visual-state byte of an outbound state block.
const (
	VisualReservedMask byte = 0xC0 // torch 0x80, unknown 0x40
	VisualWireframe    byte = 0x01
	VisualStealth      byte = 0x02
)

// Status values carried in the last byte of a state block.
const (
	StatusDead byte = 0x05
)

// LOSVisibleBit is set in an LOS response when the target is visible.
const LOSVisibleBit uint16 = 0x0100

// Message types for OpMessage frames.
const (
	MsgSystem    byte = 0x00
	MsgSpell     byte = 0x01
	MsgCombat    byte = 0x02
	MsgSpellFail byte = 0x03
)

// Frame sizes.
const (
	TokenSize           = 2
	StateBlockSize      = 10
	ExtendedTrailerSize = 3

	headingUpdateSize = 10
	useSkillSize      = 6
	useSpellSize      = 16
	losResponseSize   = 10
	selectTargetSize  = 4
)

// Character name bounds for hello frames.
const (
	MinNameLength = 3
	MaxNameLength = 24
)

// StatusProbeMagic is the first byte of a UDP status probe.
const StatusProbeMagic byte = 0xCA

// MaxPacketSize is the maximum allowed size for a single frame.
const MaxPacketSize = 4096

// LengthPrefixSize is the size of the length prefix in bytes.
const LengthPrefixSize = 2

// Packet is a raw frame split into opcode and body.
type Packet struct {
	Command byte
	Payload []byte
}
