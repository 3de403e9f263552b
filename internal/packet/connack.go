package packet

import "github.com/RoanBrand/goingest/internal/model"

var connackProps = propsOf(model.SessionExpiryInterval, model.ReceiveMaximum, model.MaximumQoS,
	model.RetainAvailable, model.MaximumPacketSize, model.AssignedClientIdentifier, model.TopicAliasMaximum,
	model.ReasonString, model.UserProperty, model.WildcardSubscriptionAvailable,
	model.SubscriptionIdentifierAvailable, model.SharedSubscriptionsAvailable, model.ServerKeepAlive,
	model.ResponseInformation, model.ServerReference, model.AuthenticationMethod, model.AuthenticationData)

// Connack is the CONNACK packet.
type Connack struct {
	SessionPresent bool
	ReasonCode     byte

	SessionExpiryInterval            int64
	ReceiveMaximum                   int
	MaximumQoS                       int
	RetainAvailable                  int
	MaximumPacketSize                int64
	AssignedClientIdentifier         []byte
	TopicAliasMaximum                int
	ReasonString                     []byte
	UserProperties                   []UserProperty
	WildcardSubscriptionAvailable    int
	SubscriptionIdentifiersAvailable int
	SharedSubscriptionAvailable      int
	ServerKeepAlive                  int
	ResponseInformation              []byte
	ServerReference                  []byte
	AuthenticationMethod             []byte
	AuthenticationData               []byte

	order propOrder
}

// NewConnack returns a CONNACK with every property absent.
func NewConnack() *Connack {
	c := &Connack{}
	c.Reset()
	return c
}

// Success sets the fields of the CONNACK sent for an accepted CONNECT.
func (c *Connack) Success() {
	c.Reset()
	c.ReasonCode = model.Success
	c.ReceiveMaximum = 1
	c.MaximumQoS = 2
	c.RetainAvailable = 0
}

func (*Connack) isPacket()  {}
func (*Connack) Type() byte { return model.CONNACK }

func (c *Connack) Reset() {
	*c = Connack{
		SessionExpiryInterval:            Absent,
		ReceiveMaximum:                   Absent,
		MaximumQoS:                       Absent,
		RetainAvailable:                  Absent,
		MaximumPacketSize:                Absent,
		TopicAliasMaximum:                Absent,
		WildcardSubscriptionAvailable:    Absent,
		SubscriptionIdentifiersAvailable: Absent,
		SharedSubscriptionAvailable:      Absent,
		ServerKeepAlive:                  Absent,
		UserProperties:                   c.UserProperties[:0],
		order:                            c.order[:0],
	}
}

func (c *Connack) Decode(buf []byte) (int, error) {
	c.Reset()
	flags, r, n, err := header(buf, model.CONNACK)
	if err != nil {
		return 0, err
	}
	if flags != 0 {
		return 0, protocolError("CONNACK fixed header flags must be 0")
	}
	af, err := r.byte()
	if err != nil {
		return 0, err
	}
	if af&0xFE != 0 {
		return 0, protocolError("CONNACK reserved acknowledge flags set") // [MQTT-3.2.2-1]
	}
	c.SessionPresent = af&1 != 0
	if c.ReasonCode, err = r.byte(); err != nil {
		return 0, err
	}
	if r.remaining() > 0 {
		if err = decodeProperties(&r, connackProps, &c.order, c.setProperty); err != nil {
			return 0, err
		}
	}
	return n, finish(&r, "CONNACK")
}

func (c *Connack) setProperty(p *property) error {
	switch p.id {
	case model.SessionExpiryInterval:
		c.SessionExpiryInterval = p.num
	case model.ReceiveMaximum:
		c.ReceiveMaximum = int(p.num)
	case model.MaximumQoS:
		if p.num > 2 {
			return protocolError("maximum qos %d", p.num)
		}
		c.MaximumQoS = int(p.num)
	case model.RetainAvailable:
		c.RetainAvailable = int(p.num)
	case model.MaximumPacketSize:
		c.MaximumPacketSize = p.num
	case model.AssignedClientIdentifier:
		c.AssignedClientIdentifier = p.val
	case model.TopicAliasMaximum:
		c.TopicAliasMaximum = int(p.num)
	case model.ReasonString:
		c.ReasonString = p.val
	case model.UserProperty:
		c.UserProperties = append(c.UserProperties, UserProperty{p.key, p.val})
	case model.WildcardSubscriptionAvailable:
		c.WildcardSubscriptionAvailable = int(p.num)
	case model.SubscriptionIdentifierAvailable:
		c.SubscriptionIdentifiersAvailable = int(p.num)
	case model.SharedSubscriptionsAvailable:
		c.SharedSubscriptionAvailable = int(p.num)
	case model.ServerKeepAlive:
		c.ServerKeepAlive = int(p.num)
	case model.ResponseInformation:
		c.ResponseInformation = p.val
	case model.ServerReference:
		c.ServerReference = p.val
	case model.AuthenticationMethod:
		c.AuthenticationMethod = p.val
	case model.AuthenticationData:
		c.AuthenticationData = p.val
	}
	return nil
}

func (c *Connack) Encode(buf []byte) (int, error) { return encode(buf, model.CONNACK, c.body) }
func (c *Connack) Size() int                      { return size(c.body) }

func (c *Connack) body(w *writer) {
	if c.SessionPresent {
		w.byte(1)
	} else {
		w.byte(0)
	}
	w.byte(c.ReasonCode)
	w.properties(c.order, func(w *writer) {
		w.fourByteProp(model.SessionExpiryInterval, c.SessionExpiryInterval)
		w.twoByteProp(model.ReceiveMaximum, c.ReceiveMaximum)
		w.byteProp(model.MaximumQoS, c.MaximumQoS)
		w.byteProp(model.RetainAvailable, c.RetainAvailable)
		w.fourByteProp(model.MaximumPacketSize, c.MaximumPacketSize)
		w.strProp(model.AssignedClientIdentifier, c.AssignedClientIdentifier)
		w.twoByteProp(model.TopicAliasMaximum, c.TopicAliasMaximum)
		w.strProp(model.ReasonString, c.ReasonString)
		w.userProps(c.UserProperties)
		w.byteProp(model.WildcardSubscriptionAvailable, c.WildcardSubscriptionAvailable)
		w.byteProp(model.SubscriptionIdentifierAvailable, c.SubscriptionIdentifiersAvailable)
		w.byteProp(model.SharedSubscriptionsAvailable, c.SharedSubscriptionAvailable)
		w.twoByteProp(model.ServerKeepAlive, c.ServerKeepAlive)
		w.strProp(model.ResponseInformation, c.ResponseInformation)
		w.strProp(model.ServerReference, c.ServerReference)
		w.strProp(model.AuthenticationMethod, c.AuthenticationMethod)
		w.strProp(model.AuthenticationData, c.AuthenticationData)
	})
}
