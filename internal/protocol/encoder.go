package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// StateDelta is the state of one actor as observers see it.
type StateDelta struct {
	ObjectID     uint16
	Heading      uint16
	MovementBits uint16 // flag bits above the heading, retransmitted as received
	Reserved     byte
	Visual       byte // visual byte from the client, only the reserved bits survive
	Wireframe    bool
	Stealth      bool
	SteedSlot    byte
	Riding       byte
	Extra        byte
	Status       byte
	Dead         bool

	HealthPercent    byte
	ManaPercent      byte
	EndurancePercent byte
}

// StateFrame holds the encoded baseline and extended forms of one StateDelta.
// The templates are never handed out; every recipient gets its own copy.
type StateFrame struct {
	primary  []byte
	extended []byte
}

// Encode builds the state block for d once, ready to be stamped per recipient.
func Encode(d StateDelta) *StateFrame {
	block := make([]byte, StateBlockSize)
	binary.BigEndian.PutUint16(block[0:2], d.ObjectID)
	binary.BigEndian.PutUint16(block[2:4], d.Heading&HeadingMask|d.MovementBits&^HeadingMask)
	block[4] = d.Reserved
	block[5] = visualByte(d.Visual, d.Wireframe, d.Stealth)
	block[6] = d.SteedSlot
	block[7] = d.Riding
	block[8] = d.Extra
	block[9] = d.Status
	if d.Dead {
		block[9] = StatusDead
	}

	primary := make([]byte, TokenSize+StateBlockSize)
	copy(primary[TokenSize:], block)

	extended := make([]byte, TokenSize+StateBlockSize+ExtendedTrailerSize)
	copy(extended[TokenSize:], block)
	extended[TokenSize+StateBlockSize] = d.HealthPercent
	extended[TokenSize+StateBlockSize+1] = d.ManaPercent
	extended[TokenSize+StateBlockSize+2] = d.EndurancePercent

	return &StateFrame{primary: primary, extended: extended}
}

// visualByte keeps only the reserved bits of the received byte, then ORs in
// the flags this server owns.
func visualByte(received byte, wireframe, stealth bool) byte {
	v := received & VisualReservedMask
	if wireframe {
		v |= VisualWireframe
	}
	if stealth {
		v |= VisualStealth
	}
	return v
}

// Primary returns a fresh baseline frame addressed to token.
func (f *StateFrame) Primary(token uint16) []byte {
	return stamp(f.primary, token)
}

// Extended returns a fresh extended frame addressed to token.
func (f *StateFrame) Extended(token uint16) []byte {
	return stamp(f.extended, token)
}

func stamp(template []byte, token uint16) []byte {
	out := bytes.Clone(template)
	binary.BigEndian.PutUint16(out[:TokenSize], token)
	return out
}

// DecodedState is the client-side view of a state frame.
type DecodedState struct {
	Token            uint16
	ObjectID         uint16
	Heading          uint16
	MovementBits     uint16
	Visual           byte
	SteedSlot        byte
	Riding           byte
	Status           byte
	Extended         bool
	HealthPercent    byte
	ManaPercent      byte
	EndurancePercent byte
}

// DecodeState parses an outbound state frame. It is used by test clients and tooling.
func DecodeState(frame []byte) (DecodedState, error) {
	switch len(frame) {
	case TokenSize + StateBlockSize, TokenSize + StateBlockSize + ExtendedTrailerSize:
	default:
		return DecodedState{}, fmt.Errorf("%w: state frame of %d bytes", ErrMalformed, len(frame))
	}

	word := binary.BigEndian.Uint16(frame[4:6])
	s := DecodedState{
		Token:        binary.BigEndian.Uint16(frame[0:2]),
		ObjectID:     binary.BigEndian.Uint16(frame[2:4]),
		Heading:      word & HeadingMask,
		MovementBits: word &^ HeadingMask,
		Visual:       frame[7],
		SteedSlot:    frame[8],
		Riding:       frame[9],
		Status:       frame[11],
	}
	if len(frame) > TokenSize+StateBlockSize {
		s.Extended = true
		s.HealthPercent = frame[12]
		s.ManaPercent = frame[13]
		s.EndurancePercent = frame[14]
	}
	return s, nil
}

// ---- Client request encoders ----

// EncodeHeadingUpdate serializes a heading update the way a client sends it.
func EncodeHeadingUpdate(h HeadingUpdate) []byte {
	word := h.Heading & HeadingMask
	if h.Strafing {
		word |= StrafeFlag
	}
	if h.GroundTargetInView {
		word |= GroundTargetFlag
	}
	if h.TargetInView {
		bits := h.TargetInViewBits & TargetInViewMask
		if bits == 0 {
			bits = targetInViewDefault
		}
		word |= bits
	}

	flags := h.Visual &^ (AuxPetInView | AuxGroundTargetInView | AuxTargetInView)
	if h.PetInView {
		flags |= AuxPetInView
	}
	if h.GroundTargetInView {
		flags |= AuxGroundTargetInView
	}
	if h.TargetInView {
		flags |= AuxTargetInView
	}

	b := NewPacketBuilder()
	b.WriteUint16(h.Token).WriteUint16(word).
		WriteByte(h.Reserved).WriteByte(flags).
		WriteByte(h.SteedSlot).WriteByte(h.Riding).
		WriteByte(h.Extra).WriteByte(h.Status)
	return b.BuildCopy()
}

// EncodeHello serializes the opening frame of a connection.
func EncodeHello(name string) []byte {
	b := NewPacketBuilder()
	b.WriteByte(byte(len(name))).WriteBytes([]byte(name))
	return b.BuildCopy()
}

// EncodeUseSkill serializes a use-skill request.
func EncodeUseSkill(token, flagSpeed uint16, index, typ byte) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(flagSpeed).WriteByte(index).WriteByte(typ)
	return b.BuildCopy()
}

// EncodeUseSpell serializes a use-spell request.
func EncodeUseSpell(r UseSpellRequest) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(r.Token).WriteUint16(r.Movement.Raw).WriteUint16(r.Heading).
		WriteUint16(r.XOffset).WriteUint16(r.YOffset).WriteUint16(r.ZoneID).WriteUint16(r.Z).
		WriteByte(r.Level).WriteByte(r.LineIndex)
	return b.BuildCopy()
}

// EncodeLOSResponse serializes a client's answer to an LOS check.
func EncodeLOSResponse(token, checker, target uint16, visible bool) []byte {
	var response uint16
	if visible {
		response = LOSVisibleBit
	}
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(checker).WriteUint16(target).WriteUint16(response).WriteUint16(0)
	return b.BuildCopy()
}

// EncodeSelectTarget serializes a target selection.
func EncodeSelectTarget(token, target uint16) []byte {
	b := NewPacketBuilder()
	b.WriteUint16(token).WriteUint16(target)
	return b.BuildCopy()
}
