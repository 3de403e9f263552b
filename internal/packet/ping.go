package packet

import "github.com/RoanBrand/goingest/internal/model"

// Pingreq is the PINGREQ packet.
type Pingreq struct{}

func (*Pingreq) isPacket()                      {}
func (*Pingreq) Type() byte                     { return model.PINGREQ }
func (*Pingreq) Reset()                         {}
func (*Pingreq) Size() int                      { return 2 }
func (*Pingreq) Decode(buf []byte) (int, error) { return decodeEmpty(buf, model.PINGREQ) }
func (*Pingreq) Encode(buf []byte) (int, error) { return encodeEmpty(buf, model.PINGREQ) }

// Pingresp is the PINGRESP packet.
type Pingresp struct{}

func (*Pingresp) isPacket()                      {}
func (*Pingresp) Type() byte                     { return model.PINGRESP }
func (*Pingresp) Reset()                         {}
func (*Pingresp) Size() int                      { return 2 }
func (*Pingresp) Decode(buf []byte) (int, error) { return decodeEmpty(buf, model.PINGRESP) }
func (*Pingresp) Encode(buf []byte) (int, error) { return encodeEmpty(buf, model.PINGRESP) }

func decodeEmpty(buf []byte, typ byte) (int, error) {
	flags, r, n, err := header(buf, typ)
	if err != nil {
		return 0, err
	}
	if flags != 0 {
		return 0, protocolError("%s fixed header flags must be 0", model.PacketName(typ))
	}
	if r.remaining() != 0 {
		return 0, malformed(model.PacketName(typ) + " remaining length must be 0")
	}
	return n, nil
}

func encodeEmpty(buf []byte, typ byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrShortBuffer
	}
	buf[0], buf[1] = typ, 0
	return 2, nil
}
