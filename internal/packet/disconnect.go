package packet

import "github.com/RoanBrand/goingest/internal/model"

var disconnectProps = propsOf(model.SessionExpiryInterval, model.ReasonString, model.UserProperty,
	model.ServerReference)

// Disconnect is the DISCONNECT packet. A ReasonCode of Absent is the
// minimal form with remaining length 0.
type Disconnect struct {
	ReasonCode            int
	SessionExpiryInterval int64
	ReasonString          []byte
	UserProperties        []UserProperty
	ServerReference       []byte

	// EmptyProperties writes a zero length property section when
	// there are no properties to send.
	EmptyProperties bool

	order propOrder
}

// NewDisconnect returns a minimal DISCONNECT.
func NewDisconnect() *Disconnect {
	d := &Disconnect{}
	d.Reset()
	return d
}

func (*Disconnect) isPacket()  {}
func (*Disconnect) Type() byte { return model.DISCONNECT }

func (d *Disconnect) Reset() {
	*d = Disconnect{
		ReasonCode:            Absent,
		SessionExpiryInterval: Absent,
		UserProperties:        d.UserProperties[:0],
		order:                 d.order[:0],
	}
}

// Reason is the reason code, or Normal Disconnection when omitted.
func (d *Disconnect) Reason() byte {
	if d.ReasonCode == Absent {
		return model.NormalDisconnection
	}
	return byte(d.ReasonCode)
}

func (d *Disconnect) Decode(buf []byte) (int, error) {
	d.Reset()
	flags, r, n, err := header(buf, model.DISCONNECT)
	if err != nil {
		return 0, err
	}
	if flags != 0 {
		return 0, protocolError("DISCONNECT fixed header flags must be 0")
	}
	if r.remaining() == 0 {
		return n, nil
	}
	rc, err := r.byte()
	if err != nil {
		return 0, err
	}
	d.ReasonCode = int(rc)
	if r.remaining() == 0 {
		return n, nil
	}
	if err = decodeProperties(&r, disconnectProps, &d.order, d.setProperty); err != nil {
		return 0, err
	}
	d.EmptyProperties = !d.hasProperties()
	return n, finish(&r, "DISCONNECT")
}

func (d *Disconnect) setProperty(p *property) error {
	switch p.id {
	case model.SessionExpiryInterval:
		d.SessionExpiryInterval = p.num
	case model.ReasonString:
		d.ReasonString = p.val
	case model.UserProperty:
		d.UserProperties = append(d.UserProperties, UserProperty{p.key, p.val})
	case model.ServerReference:
		d.ServerReference = p.val
	}
	return nil
}

func (d *Disconnect) Encode(buf []byte) (int, error) { return encode(buf, model.DISCONNECT, d.body) }
func (d *Disconnect) Size() int                      { return size(d.body) }

func (d *Disconnect) hasProperties() bool {
	return d.SessionExpiryInterval != Absent || d.ReasonString != nil || len(d.UserProperties) > 0 ||
		d.ServerReference != nil
}

func (d *Disconnect) body(w *writer) {
	props := d.EmptyProperties || d.hasProperties()
	if d.ReasonCode == Absent && !props {
		return
	}
	w.byte(d.Reason())
	if props {
		w.properties(d.order, func(w *writer) {
			w.fourByteProp(model.SessionExpiryInterval, d.SessionExpiryInterval)
			w.strProp(model.ReasonString, d.ReasonString)
			w.userProps(d.UserProperties)
			w.strProp(model.ServerReference, d.ServerReference)
		})
	}
}
