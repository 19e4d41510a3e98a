package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrSessionMismatch is returned when a frame declares a token other than
	// the one assigned to its connection. Such frames are dropped silently.
	ErrSessionMismatch = errors.New("session token mismatch")

	// ErrMalformed is returned for frames that are too short for their opcode.
	ErrMalformed = errors.New("malformed frame")

	// ErrUnknownOpcode is returned for opcodes the server does not accept.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrInvalidName is returned for hello frames whose name is out of bounds
	// or not alphanumeric.
	ErrInvalidName = errors.New("invalid character name")
)

// ReadPacket reads a single length-prefixed frame from a reader.
// Frame format: [2-byte BE length][opcode:1][body...]
func ReadPacket(r io.Reader) (Packet, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet length: %w", err)
	}

	if length == 0 {
		return Packet{}, fmt.Errorf("received zero-length packet")
	}

	if length > MaxPacketSize {
		return Packet{}, fmt.Errorf("packet too large: %d bytes (max %d)", length, MaxPacketSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return Packet{Command: payload[0], Payload: payload[1:]}, nil
}

// WritePacket writes a length-prefixed frame to a writer in a single call.
func WritePacket(w io.Writer, command byte, body []byte) error {
	if len(body)+1 > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes (max %d)", len(body)+1, MaxPacketSize)
	}

	frame := make([]byte, LengthPrefixSize+1+len(body))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(body)+1))
	frame[2] = command
	copy(frame[3:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write packet data: %w", err)
	}
	return nil
}

// ActionRequest is a decoded, session-validated client request.
type ActionRequest interface {
	Opcode() byte
	SessionToken() uint16
}

// Movement is the decoded form of the 16-bit movement word.
type Movement struct {
	Raw                uint16
	Speed              int16
	Strafing           bool
	TargetInView       bool
	GroundTargetInView bool
}

// DecodeMovement unpacks a movement word. The low 9 bits are the speed and
// 0x200 marks backward motion, which makes the speed negative.
func DecodeMovement(word uint16) Movement {
	speed := int16(word & SpeedMask)
	if word&BackwardFlag != 0 {
		speed = -speed
	}
	return Movement{
		Raw:                word,
		Speed:              speed,
		Strafing:           word&StrafeFlag != 0,
		TargetInView:       word&TargetInViewMask != 0,
		GroundTargetInView: word&GroundTargetFlag != 0,
	}
}

// HeadingUpdate is an inbound heading/state frame.
type HeadingUpdate struct {
	Token              uint16
	Heading            uint16
	Strafing           bool
	TargetInView       bool
	TargetInViewBits   uint16
	GroundTargetInView bool
	PetInView          bool
	Reserved           byte // byte 4, echoed untouched
	Visual             byte // byte 5 as received
	SteedSlot          byte
	Riding             byte
	Extra              byte // byte 8, echoed untouched
	Status             byte
}

func (h *HeadingUpdate) Opcode() byte         { return OpHeadingUpdate }
func (h *HeadingUpdate) SessionToken() uint16 { return h.Token }

// MovementBits rebuilds the flag bits above the heading as they were received.
func (h *HeadingUpdate) MovementBits() uint16 {
	bits := h.TargetInViewBits
	if h.Strafing {
		bits |= StrafeFlag
	}
	if h.GroundTargetInView {
		bits |= GroundTargetFlag
	}
	return bits
}

// UseSkillRequest asks to use the skill at Index of the actor's usable list.
type UseSkillRequest struct {
	Token    uint16
	Movement Movement
	Index    byte
	Type     byte
}

func (r *UseSkillRequest) Opcode() byte         { return OpUseSkill }
func (r *UseSkillRequest) SessionToken() uint16 { return r.Token }

// UseSpellRequest asks to cast a spell of a line and carries a position correction.
type UseSpellRequest struct {
	Token     uint16
	Movement  Movement
	Heading   uint16
	XOffset   uint16
	YOffset   uint16
	ZoneID    uint16
	Z         uint16
	Level     byte
	LineIndex byte
}

func (r *UseSpellRequest) Opcode() byte         { return OpUseSpell }
func (r *UseSpellRequest) SessionToken() uint16 { return r.Token }

// LOSResponse answers an LOS check for (checker, target).
type LOSResponse struct {
	Token     uint16
	CheckerID uint16
	TargetID  uint16
	Response  uint16
}

func (r *LOSResponse) Opcode() byte         { return OpLOSResponse }
func (r *LOSResponse) SessionToken() uint16 { return r.Token }

// Visible reports whether the client saw the target.
func (r *LOSResponse) Visible() bool { return r.Response&LOSVisibleBit != 0 }

// SelectTarget changes the actor's current target.
type SelectTarget struct {
	Token    uint16
	TargetID uint16
}

func (r *SelectTarget) Opcode() byte         { return OpSelectTarget }
func (r *SelectTarget) SessionToken() uint16 { return r.Token }

// Hello opens a connection by claiming the character name the session plays
// under. It is the only frame without a token: none is assigned yet.
type Hello struct {
	Name string
}

// DecodeHello parses a hello body: [name_len:1][name].
func DecodeHello(body []byte) (Hello, error) {
	if len(body) < 1 || len(body) < 1+int(body[0]) {
		return Hello{}, fmt.Errorf("%w: hello of %d bytes", ErrMalformed, len(body))
	}
	name := string(body[1 : 1+int(body[0])])
	if err := ValidateName(name); err != nil {
		return Hello{}, err
	}
	return Hello{Name: name}, nil
}

// ValidateName checks a character name: ASCII letters and digits, starting
// with a letter, within the length bounds.
func ValidateName(name string) error {
	if len(name) < MinNameLength || len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d characters", ErrInvalidName, len(name))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		letter := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		if !letter && (i == 0 || c < '0' || c > '9') {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// wire layouts, read with binary.Read
type headingWire struct {
	Token     uint16
	Word      uint16
	Reserved  byte
	Flags     byte
	SteedSlot byte
	Riding    byte
	Extra     byte
	Status    byte
}

type useSkillWire struct {
	Token     uint16
	FlagSpeed uint16
	Index     byte
	Type      byte
}

type useSpellWire struct {
	Token     uint16
	FlagSpeed uint16
	Heading   uint16
	XOffset   uint16
	YOffset   uint16
	ZoneID    uint16
	Z         uint16
	Level     byte
	LineIndex byte
}

type losWire struct {
	Token     uint16
	CheckerID uint16
	TargetID  uint16
	Response  uint16
	Unused    uint16
}

// DeclaredToken returns the session token a frame body claims, if it has one.
func DeclaredToken(body []byte) (uint16, bool) {
	if len(body) < TokenSize {
		return 0, false
	}
	return binary.BigEndian.Uint16(body[:TokenSize]), true
}

// Decode parses a frame body for opcode and validates that it carries the
// connection's session token.
func Decode(opcode byte, body []byte, sessionToken uint16) (ActionRequest, error) {
	size, ok := frameSize(opcode)
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, opcode)
	}
	if len(body) < size {
		return nil, fmt.Errorf("%w: opcode 0x%02X needs %d bytes, got %d", ErrMalformed, opcode, size, len(body))
	}

	declared, _ := DeclaredToken(body)
	if declared != sessionToken {
		return nil, fmt.Errorf("%w: declared %d, assigned %d", ErrSessionMismatch, declared, sessionToken)
	}

	r := bytes.NewReader(body[:size])
	switch opcode {
	case OpHeadingUpdate:
		var w headingWire
		if err := binary.Read(r, binary.BigEndian, &w); err != nil {
			return nil, fmt.Errorf("failed to parse heading update: %w", err)
		}
		return decodeHeading(w), nil

	case OpUseSkill:
		var w useSkillWire
		if err := binary.Read(r, binary.BigEndian, &w); err != nil {
			return nil, fmt.Errorf("failed to parse use skill: %w", err)
		}
		return &UseSkillRequest{
			Token:    w.Token,
			Movement: DecodeMovement(w.FlagSpeed),
			Index:    w.Index,
			Type:     w.Type,
		}, nil

	case OpUseSpell:
		var w useSpellWire
		if err := binary.Read(r, binary.BigEndian, &w); err != nil {
			return nil, fmt.Errorf("failed to parse use spell: %w", err)
		}
		return &UseSpellRequest{
			Token:     w.Token,
			Movement:  DecodeMovement(w.FlagSpeed),
			Heading:   w.Heading & HeadingMask,
			XOffset:   w.XOffset,
			YOffset:   w.YOffset,
			ZoneID:    w.ZoneID,
			Z:         w.Z,
			Level:     w.Level,
			LineIndex: w.LineIndex,
		}, nil

	case OpSelectTarget:
		return &SelectTarget{
			Token:    binary.BigEndian.Uint16(body[0:2]),
			TargetID: binary.BigEndian.Uint16(body[2:4]),
		}, nil

	default: // OpLOSResponse
		var w losWire
		if err := binary.Read(r, binary.BigEndian, &w); err != nil {
			return nil, fmt.Errorf("failed to parse los response: %w", err)
		}
		return &LOSResponse{
			Token:     w.Token,
			CheckerID: w.CheckerID,
			TargetID:  w.TargetID,
			Response:  w.Response,
		}, nil
	}
}

func decodeHeading(w headingWire) *HeadingUpdate {
	return &HeadingUpdate{
		Token:              w.Token,
		Heading:            w.Word & HeadingMask,
		Strafing:           w.Word&StrafeFlag != 0,
		TargetInViewBits:   w.Word & TargetInViewMask,
		TargetInView:       w.Word&TargetInViewMask != 0 || w.Flags&AuxTargetInView != 0,
		GroundTargetInView: w.Word&GroundTargetFlag != 0 || w.Flags&AuxGroundTargetInView != 0,
		PetInView:          w.Flags&AuxPetInView != 0,
		Reserved:           w.Reserved,
		Visual:             w.Flags,
		SteedSlot:          w.SteedSlot,
		Riding:             w.Riding,
		Extra:              w.Extra,
		Status:             w.Status,
	}
}

func frameSize(opcode byte) (int, bool) {
	switch opcode {
	case OpHeadingUpdate:
		return headingUpdateSize, true
	case OpUseSkill:
		return useSkillSize, true
	case OpUseSpell:
		return useSpellSize, true
	case OpLOSResponse:
		return losResponseSize, true
	case OpSelectTarget:
		return selectTargetSize, true
	}
	return 0, false
}
