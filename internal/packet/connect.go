package packet

import (
	"bytes"

	"github.com/RoanBrand/goingest/internal/model"
)

var protocolName = []byte{0, 4, 'M', 'Q', 'T', 'T'}

// ProtocolVersion is the only protocol level accepted.
const ProtocolVersion = 5

var (
	connectProps = propsOf(model.SessionExpiryInterval, model.ReceiveMaximum, model.MaximumPacketSize,
		model.TopicAliasMaximum, model.RequestResponseInformation, model.RequestProblemInformation,
		model.UserProperty, model.AuthenticationMethod, model.AuthenticationData)
	willProps = propsOf(model.WillDelayInterval, model.PayloadFormatIndicator, model.MessageExpiryInterval,
		model.ContentType, model.ResponseTopic, model.CorrelationData, model.UserProperty)
)

// Connect is the CONNECT packet. Username and Password are nil when
// their flag is not set.
type Connect struct {
	ProtocolVersion byte
	CleanStart      bool
	WillFlag        bool
	WillQoS         uint8
	WillRetain      bool
	KeepAlive       uint16

	SessionExpiryInterval      int64
	ReceiveMaximum             int
	MaximumPacketSize          int64
	TopicAliasMaximum          int
	RequestResponseInformation int
	RequestProblemInformation  int
	UserProperties             []UserProperty
	AuthenticationMethod       []byte
	AuthenticationData         []byte

	ClientID []byte

	WillDelayInterval   int64
	WillPayloadFormat   int
	WillMessageExpiry   int64
	WillContentType     []byte
	WillResponseTopic   []byte
	WillCorrelationData []byte
	WillUserProperties  []UserProperty
	WillTopic           []byte
	WillPayload         []byte

	Username []byte
	Password []byte

	order, willOrder propOrder
}

// NewConnect returns a CONNECT with every optional field absent.
func NewConnect() *Connect {
	c := &Connect{}
	c.Reset()
	return c
}

func (*Connect) isPacket()  {}
func (*Connect) Type() byte { return model.CONNECT }

func (c *Connect) Reset() {
	*c = Connect{
		ProtocolVersion:            ProtocolVersion,
		SessionExpiryInterval:      Absent,
		ReceiveMaximum:             Absent,
		MaximumPacketSize:          Absent,
		TopicAliasMaximum:          Absent,
		RequestResponseInformation: Absent,
		RequestProblemInformation:  Absent,
		WillDelayInterval:          Absent,
		WillPayloadFormat:          Absent,
		WillMessageExpiry:          Absent,
		UserProperties:             c.UserProperties[:0],
		WillUserProperties:         c.WillUserProperties[:0],
		order:                      c.order[:0],
		willOrder:                  c.willOrder[:0],
	}
}

func (c *Connect) Decode(buf []byte) (int, error) {
	c.Reset()
	flags, r, n, err := header(buf, model.CONNECT)
	if err != nil {
		return 0, err
	}
	if flags != 0 {
		return 0, protocolError("CONNECT fixed header flags must be 0") // [MQTT-2.1.3-1]
	}

	if r.remaining() < len(protocolName) || !bytes.Equal(r.b[r.pos:r.pos+len(protocolName)], protocolName) {
		return 0, protocolError("protocol name is not MQTT") // [MQTT-3.1.2-1]
	}
	r.pos += len(protocolName)
	if c.ProtocolVersion, err = r.byte(); err != nil {
		return 0, err
	}
	if c.ProtocolVersion != ProtocolVersion {
		return 0, protocolError("unsupported protocol version %d", c.ProtocolVersion) // [MQTT-3.1.2-2]
	}

	cf, err := r.byte()
	if err != nil {
		return 0, err
	}
	if cf&0x01 != 0 {
		return 0, protocolError("CONNECT reserved flag set") // [MQTT-3.1.2-3]
	}
	c.CleanStart = cf&0x02 != 0
	c.WillFlag = cf&0x04 != 0
	c.WillQoS = (cf & 0x18) >> 3
	c.WillRetain = cf&0x20 != 0
	hasPassword, hasUsername := cf&0x40 != 0, cf&0x80 != 0
	if c.WillQoS > 2 {
		return 0, protocolError("will QoS %d", c.WillQoS) // [MQTT-3.1.2-12]
	}
	if !c.WillFlag && (c.WillQoS != 0 || c.WillRetain) {
		return 0, protocolError("will QoS or retain set without will flag") // [MQTT-3.1.2-11] [MQTT-3.1.2-13]
	}

	if c.KeepAlive, err = r.uint16(); err != nil {
		return 0, err
	}
	if err = decodeProperties(&r, connectProps, &c.order, c.setProperty); err != nil {
		return 0, err
	}

	if c.ClientID, err = r.str(); err != nil {
		return 0, err
	}
	if c.WillFlag {
		if err = decodeProperties(&r, willProps, &c.willOrder, c.setWillProperty); err != nil {
			return 0, err
		}
		if c.WillTopic, err = r.str(); err != nil {
			return 0, err
		}
		if c.WillPayload, err = r.bin(); err != nil {
			return 0, err
		}
	}
	if hasUsername {
		if c.Username, err = r.str(); err != nil {
			return 0, err
		}
	}
	if hasPassword {
		if c.Password, err = r.bin(); err != nil {
			return 0, err
		}
	}
	return n, finish(&r, "CONNECT")
}

func (c *Connect) setProperty(p *property) error {
	switch p.id {
	case model.SessionExpiryInterval:
		c.SessionExpiryInterval = p.num
	case model.ReceiveMaximum:
		c.ReceiveMaximum = int(p.num)
	case model.MaximumPacketSize:
		c.MaximumPacketSize = p.num
	case model.TopicAliasMaximum:
		c.TopicAliasMaximum = int(p.num)
	case model.RequestResponseInformation:
		c.RequestResponseInformation = int(p.num)
	case model.RequestProblemInformation:
		c.RequestProblemInformation = int(p.num)
	case model.UserProperty:
		c.UserProperties = append(c.UserProperties, UserProperty{p.key, p.val})
	case model.AuthenticationMethod:
		c.AuthenticationMethod = p.val
	case model.AuthenticationData:
		c.AuthenticationData = p.val
	}
	return nil
}

func (c *Connect) setWillProperty(p *property) error {
	switch p.id {
	case model.WillDelayInterval:
		c.WillDelayInterval = p.num
	case model.PayloadFormatIndicator:
		c.WillPayloadFormat = int(p.num)
	case model.MessageExpiryInterval:
		c.WillMessageExpiry = p.num
	case model.ContentType:
		c.WillContentType = p.val
	case model.ResponseTopic:
		c.WillResponseTopic = p.val
	case model.CorrelationData:
		c.WillCorrelationData = p.val
	case model.UserProperty:
		c.WillUserProperties = append(c.WillUserProperties, UserProperty{p.key, p.val})
	}
	return nil
}

func (c *Connect) Encode(buf []byte) (int, error) { return encode(buf, model.CONNECT, c.body) }
func (c *Connect) Size() int                      { return size(c.body) }

func (c *Connect) body(w *writer) {
	w.raw(protocolName)
	w.byte(c.ProtocolVersion)

	var cf byte
	if c.CleanStart {
		cf |= 0x02
	}
	if c.WillFlag {
		cf |= 0x04 | (c.WillQoS&3)<<3
		if c.WillRetain {
			cf |= 0x20
		}
	}
	if c.Password != nil {
		cf |= 0x40
	}
	if c.Username != nil {
		cf |= 0x80
	}
	w.byte(cf)
	w.uint16(c.KeepAlive)

	w.properties(c.order, func(w *writer) {
		w.fourByteProp(model.SessionExpiryInterval, c.SessionExpiryInterval)
		w.twoByteProp(model.ReceiveMaximum, c.ReceiveMaximum)
		w.fourByteProp(model.MaximumPacketSize, c.MaximumPacketSize)
		w.twoByteProp(model.TopicAliasMaximum, c.TopicAliasMaximum)
		w.byteProp(model.RequestResponseInformation, c.RequestResponseInformation)
		w.byteProp(model.RequestProblemInformation, c.RequestProblemInformation)
		w.userProps(c.UserProperties)
		w.strProp(model.AuthenticationMethod, c.AuthenticationMethod)
		w.strProp(model.AuthenticationData, c.AuthenticationData)
	})
	w.str(c.ClientID)

	if c.WillFlag {
		w.properties(c.willOrder, func(w *writer) {
			w.fourByteProp(model.WillDelayInterval, c.WillDelayInterval)
			w.byteProp(model.PayloadFormatIndicator, c.WillPayloadFormat)
			w.fourByteProp(model.MessageExpiryInterval, c.WillMessageExpiry)
			w.strProp(model.ContentType, c.WillContentType)
			w.strProp(model.ResponseTopic, c.WillResponseTopic)
			w.strProp(model.CorrelationData, c.WillCorrelationData)
			w.userProps(c.WillUserProperties)
		})
		w.str(c.WillTopic)
		w.str(c.WillPayload)
	}
	if c.Username != nil {
		w.str(c.Username)
	}
	if c.Password != nil {
		w.str(c.Password)
	}
}
