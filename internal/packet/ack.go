package packet

import "github.com/RoanBrand/goingest/internal/model"

var ackProps = propsOf(model.ReasonString, model.UserProperty)

// Ack is the variable header shared by PUBACK, PUBREC, PUBREL and PUBCOMP.
// A ReasonCode of Absent is the short form, where Success is implied.
type Ack struct {
	PacketID       uint16
	ReasonCode     int
	ReasonString   []byte
	UserProperties []UserProperty

	// EmptyProperties writes a zero length property section when
	// there are no properties to send.
	EmptyProperties bool

	order propOrder
}

func (a *Ack) reset() {
	*a = Ack{ReasonCode: Absent, UserProperties: a.UserProperties[:0], order: a.order[:0]}
}

// Reason is the reason code on the wire, or Success when omitted.
func (a *Ack) Reason() byte {
	if a.ReasonCode == Absent {
		return model.Success
	}
	return byte(a.ReasonCode)
}

func (a *Ack) decode(buf []byte, typ, wantFlags byte) (int, error) {
	a.reset()
	flags, r, n, err := header(buf, typ)
	if err != nil {
		return 0, err
	}
	if flags != wantFlags {
		return 0, protocolError("%s fixed header flags 0x%x", model.PacketName(typ), flags) // [MQTT-3.6.1-1]
	}
	if a.PacketID, err = r.uint16(); err != nil {
		return 0, err
	}
	if a.PacketID == 0 {
		return 0, protocolError("%s packet identifier 0", model.PacketName(typ))
	}
	if r.remaining() == 0 {
		return n, nil
	}
	rc, err := r.byte()
	if err != nil {
		return 0, err
	}
	a.ReasonCode = int(rc)
	if r.remaining() == 0 {
		return n, nil
	}
	if err = decodeProperties(&r, ackProps, &a.order, a.setProperty); err != nil {
		return 0, err
	}
	a.EmptyProperties = a.ReasonString == nil && len(a.UserProperties) == 0
	return n, finish(&r, model.PacketName(typ))
}

func (a *Ack) setProperty(p *property) error {
	switch p.id {
	case model.ReasonString:
		a.ReasonString = p.val
	case model.UserProperty:
		a.UserProperties = append(a.UserProperties, UserProperty{p.key, p.val})
	}
	return nil
}

func (a *Ack) body(w *writer) {
	w.uint16(a.PacketID)
	props := a.EmptyProperties || a.ReasonString != nil || len(a.UserProperties) > 0
	if a.ReasonCode == Absent && !props {
		return
	}
	w.byte(a.Reason())
	if props {
		w.properties(a.order, func(w *writer) {
			w.strProp(model.ReasonString, a.ReasonString)
			w.userProps(a.UserProperties)
		})
	}
}

// Puback is the PUBACK packet.
type Puback struct{ Ack }

// NewPuback returns a PUBACK carrying reason and an empty property section.
func NewPuback(id uint16, reason byte) *Puback {
	return &Puback{Ack{PacketID: id, ReasonCode: int(reason), EmptyProperties: true}}
}

func (*Puback) isPacket()   {}
func (*Puback) Type() byte { return model.PUBACK }
func (p *Puback) Reset()    { p.reset() }
func (p *Puback) Size() int { return size(p.body) }

func (p *Puback) Decode(buf []byte) (int, error) { return p.decode(buf, model.PUBACK, 0) }
func (p *Puback) Encode(buf []byte) (int, error) { return encode(buf, model.PUBACK, p.body) }

// Pubrec is the PUBREC packet.
type Pubrec struct{ Ack }

// NewPubrec returns a PUBREC carrying reason and an empty property section.
func NewPubrec(id uint16, reason byte) *Pubrec {
	return &Pubrec{Ack{PacketID: id, ReasonCode: int(reason), EmptyProperties: true}}
}

func (*Pubrec) isPacket()   {}
func (*Pubrec) Type() byte { return model.PUBREC }
func (p *Pubrec) Reset()    { p.reset() }
func (p *Pubrec) Size() int { return size(p.body) }

func (p *Pubrec) Decode(buf []byte) (int, error) { return p.decode(buf, model.PUBREC, 0) }
func (p *Pubrec) Encode(buf []byte) (int, error) { return encode(buf, model.PUBREC, p.body) }

// Pubrel is the PUBREL packet.
type Pubrel struct{ Ack }

// NewPubrel returns a PUBREL carrying reason and an empty property section.
func NewPubrel(id uint16, reason byte) *Pubrel {
	return &Pubrel{Ack{PacketID: id, ReasonCode: int(reason), EmptyProperties: true}}
}

func (*Pubrel) isPacket()   {}
func (*Pubrel) Type() byte { return model.PUBREL }
func (p *Pubrel) Reset()    { p.reset() }
func (p *Pubrel) Size() int { return size(p.body) }

func (p *Pubrel) Decode(buf []byte) (int, error) { return p.decode(buf, model.PUBREL, 2) }
func (p *Pubrel) Encode(buf []byte) (int, error) { return encode(buf, model.PUBRELSend, p.body) }

// Pubcomp is the PUBCOMP packet.
type Pubcomp struct{ Ack }

// NewPubcomp returns a PUBCOMP carrying reason and an empty property section.
func NewPubcomp(id uint16, reason byte) *Pubcomp {
	return &Pubcomp{Ack{PacketID: id, ReasonCode: int(reason), EmptyProperties: true}}
}

func (*Pubcomp) isPacket()   {}
func (*Pubcomp) Type() byte { return model.PUBCOMP }
func (p *Pubcomp) Reset()    { p.reset() }
func (p *Pubcomp) Size() int { return size(p.body) }

func (p *Pubcomp) Decode(buf []byte) (int, error) { return p.decode(buf, model.PUBCOMP, 0) }
func (p *Pubcomp) Encode(buf []byte) (int, error) { return encode(buf, model.PUBCOMP, p.body) }
