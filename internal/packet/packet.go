// Package packet encodes and decodes MQTT v5.0 control packets.
//
// Decoded string and binary fields are views into the buffer passed to
// Decode. They stay valid until that buffer is reused; callers copy any
// field they keep beyond the current packet.
package packet

import (
	"github.com/pkg/errors"

	"github.com/RoanBrand/goingest/internal/model"
)

// Packet is an MQTT control packet. The implementations in this package
// are the complete set; see the Decode dispatch.
type Packet interface {
	// Type is the control packet type with the flag nibble cleared.
	Type() byte
	// Decode parses the complete packet at the start of buf and reports
	// how many bytes it consumed.
	Decode(buf []byte) (int, error)
	// Encode writes the packet into buf and reports the bytes written.
	Encode(buf []byte) (int, error)
	// Size is the number of bytes Encode writes.
	Size() int
	// Reset restores every field to absent.
	Reset()

	isPacket()
}

// New returns an empty packet for the type in the first header byte.
func New(first byte) (Packet, error) {
	switch first & 0xF0 {
	case model.CONNECT:
		return NewConnect(), nil
	case model.CONNACK:
		return NewConnack(), nil
	case model.PUBLISH:
		return NewPublish(), nil
	case model.PUBACK:
		return &Puback{Ack{ReasonCode: Absent}}, nil
	case model.PUBREC:
		return &Pubrec{Ack{ReasonCode: Absent}}, nil
	case model.PUBREL:
		return &Pubrel{Ack{ReasonCode: Absent}}, nil
	case model.PUBCOMP:
		return &Pubcomp{Ack{ReasonCode: Absent}}, nil
	case model.PINGREQ:
		return &Pingreq{}, nil
	case model.PINGRESP:
		return &Pingresp{}, nil
	case model.DISCONNECT:
		return NewDisconnect(), nil
	}
	return nil, protocolError("unsupported packet type %s (%d)", model.PacketName(first), first>>4)
}

// Decode decodes the packet at the start of buf.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) == 0 {
		return nil, 0, malformed("empty buffer")
	}
	p, err := New(buf[0])
	if err != nil {
		return nil, 0, err
	}
	n, err := p.Decode(buf)
	if err != nil {
		return nil, 0, err
	}
	return p, n, nil
}

// Append encodes p onto the end of dst.
func Append(dst []byte, p Packet) []byte {
	n := p.Size()
	l := len(dst)
	if cap(dst)-l < n {
		grown := make([]byte, l, l+n)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:l+n]
	if _, err := p.Encode(dst[l:]); err != nil {
		return dst[:l]
	}
	return dst
}

// FrameLen reports the length of the first complete packet in buf,
// or 0 when more bytes are needed.
func FrameLen(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, nil
	}
	rl, n, err := ReadVarInt(buf[1:])
	if err != nil {
		if errors.Cause(err) == ErrMalformedPacket {
			return 0, nil // length bytes still arriving
		}
		return 0, err
	}
	if total := 1 + n + rl; len(buf) >= total {
		return total, nil
	}
	return 0, nil
}

// header checks the fixed header of buf and returns the flag nibble,
// a cursor over exactly the packet body, and the full packet length.
func header(buf []byte, typ byte) (byte, cursor, int, error) {
	if len(buf) < 2 {
		return 0, cursor{}, 0, malformed("fixed header")
	}
	if buf[0]&0xF0 != typ {
		return 0, cursor{}, 0, errors.Wrapf(ErrWrongPacketType, "expected %s, got %s", model.PacketName(typ), model.PacketName(buf[0]))
	}
	rl, n, err := ReadVarInt(buf[1:])
	if err != nil {
		return 0, cursor{}, 0, err
	}
	end := 1 + n + rl
	if len(buf) < end {
		return 0, cursor{}, 0, malformed("remaining length overruns buffer")
	}
	return buf[0] & 0x0F, cursor{b: buf[:end:end], pos: 1 + n}, end, nil
}

// encode sizes body, then writes the fixed header and body into buf.
func encode(buf []byte, first byte, body func(w *writer)) (int, error) {
	var cw writer
	body(&cw)
	rl := cw.pos
	if rl > MaxVarInt {
		return 0, errors.Errorf("remaining length %d exceeds %d", rl, MaxVarInt)
	}
	n := 1 + VarIntSize(rl) + rl
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	w := writer{buf: buf}
	w.byte(first)
	w.varInt(rl)
	body(&w)
	return n, nil
}

func size(body func(w *writer)) int {
	var cw writer
	body(&cw)
	return 1 + VarIntSize(cw.pos) + cw.pos
}

// finish fails unless the body was consumed exactly.
func finish(c *cursor, name string) error {
	if c.remaining() != 0 {
		return protocolError("%d trailing bytes in %s", c.remaining(), name)
	}
	return nil
}
