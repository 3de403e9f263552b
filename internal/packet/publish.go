package packet

import "github.com/RoanBrand/goingest/internal/model"

var publishProps = propsOf(model.PayloadFormatIndicator, model.MessageExpiryInterval, model.TopicAlias,
	model.ResponseTopic, model.CorrelationData, model.UserProperty, model.SubscriptionIdentifier,
	model.ContentType)

// Publish is the PUBLISH packet. PacketID is only on the wire for QoS > 0.
type Publish struct {
	Dup       bool
	QoS       uint8
	Retain    bool
	TopicName []byte
	PacketID  uint16

	PayloadFormatIndicator  int
	MessageExpiryInterval   int64
	TopicAlias              int
	ResponseTopic           []byte
	CorrelationData         []byte
	UserProperties          []UserProperty
	SubscriptionIdentifiers []int
	ContentType             []byte

	Payload []byte

	order propOrder
}

// NewPublish returns a QoS 0 PUBLISH with every property absent.
func NewPublish() *Publish {
	p := &Publish{}
	p.Reset()
	return p
}

func (*Publish) isPacket()  {}
func (*Publish) Type() byte { return model.PUBLISH }

func (p *Publish) Reset() {
	*p = Publish{
		PayloadFormatIndicator:  Absent,
		MessageExpiryInterval:   Absent,
		TopicAlias:              Absent,
		UserProperties:          p.UserProperties[:0],
		SubscriptionIdentifiers: p.SubscriptionIdentifiers[:0],
		order:                   p.order[:0],
	}
}

// UTF8 reports whether the payload is declared UTF-8 character data.
func (p *Publish) UTF8() bool { return p.PayloadFormatIndicator == 1 }

func (p *Publish) Decode(buf []byte) (int, error) {
	p.Reset()
	flags, r, n, err := header(buf, model.PUBLISH)
	if err != nil {
		return 0, err
	}
	p.Dup = flags&0x08 != 0
	p.QoS = (flags & 0x06) >> 1
	p.Retain = flags&0x01 != 0
	if p.QoS > 2 {
		return 0, protocolError("PUBLISH QoS 3") // [MQTT-3.3.1-4]
	}
	if p.Dup && p.QoS == 0 {
		return 0, protocolError("DUP set on QoS 0 PUBLISH") // [MQTT-3.3.1-2]
	}

	if p.TopicName, err = r.bin(); err != nil {
		return 0, err
	}
	if err = checkUTF8(p.TopicName, true); err != nil {
		return 0, err
	}
	if p.QoS > 0 {
		if p.PacketID, err = r.uint16(); err != nil {
			return 0, err
		}
		if p.PacketID == 0 {
			return 0, protocolError("PUBLISH packet identifier 0") // [MQTT-2.2.1-3]
		}
	}
	if err = decodeProperties(&r, publishProps, &p.order, p.setProperty); err != nil {
		return 0, err
	}
	if len(p.TopicName) == 0 && p.TopicAlias == Absent {
		return 0, protocolError("empty topic name without topic alias") // [MQTT-3.3.2-1]
	}
	p.Payload = r.rest()
	return n, nil
}

func (p *Publish) setProperty(pr *property) error {
	switch pr.id {
	case model.PayloadFormatIndicator:
		p.PayloadFormatIndicator = int(pr.num)
	case model.MessageExpiryInterval:
		p.MessageExpiryInterval = pr.num
	case model.TopicAlias:
		p.TopicAlias = int(pr.num)
	case model.ResponseTopic:
		if err := checkUTF8(pr.val, true); err != nil {
			return err // [MQTT-3.3.2-14]
		}
		p.ResponseTopic = pr.val
	case model.CorrelationData:
		p.CorrelationData = pr.val
	case model.UserProperty:
		p.UserProperties = append(p.UserProperties, UserProperty{pr.key, pr.val})
	case model.SubscriptionIdentifier:
		p.SubscriptionIdentifiers = append(p.SubscriptionIdentifiers, int(pr.num))
	case model.ContentType:
		p.ContentType = pr.val
	}
	return nil
}

func (p *Publish) Encode(buf []byte) (int, error) {
	return encode(buf, model.PUBLISH|p.flags(), p.body)
}

func (p *Publish) Size() int { return size(p.body) }

func (p *Publish) flags() byte {
	f := (p.QoS & 3) << 1
	if p.Dup {
		f |= 0x08
	}
	if p.Retain {
		f |= 0x01
	}
	return f
}

func (p *Publish) body(w *writer) {
	w.str(p.TopicName)
	if p.QoS > 0 {
		w.uint16(p.PacketID)
	}
	w.properties(p.order, func(w *writer) {
		w.byteProp(model.PayloadFormatIndicator, p.PayloadFormatIndicator)
		w.fourByteProp(model.MessageExpiryInterval, p.MessageExpiryInterval)
		w.twoByteProp(model.TopicAlias, p.TopicAlias)
		w.strProp(model.ResponseTopic, p.ResponseTopic)
		w.strProp(model.CorrelationData, p.CorrelationData)
		w.userProps(p.UserProperties)
		for _, id := range p.SubscriptionIdentifiers {
			w.varIntProp(model.SubscriptionIdentifier, id)
		}
		w.strProp(model.ContentType, p.ContentType)
	})
	w.raw(p.Payload)
}
