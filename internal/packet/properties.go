package packet

import (
	"github.com/pkg/errors"

	"github.com/RoanBrand/goingest/internal/model"
)

type propType uint8

const (
	propByte propType = iota + 1
	propTwoByte
	propFourByte
	propVarInt
	propString
	propBinary
	propStringPair
)

type propInfo struct {
	name    string
	typ     propType
	multi   bool // may repeat; all others are unique per packet
	nonZero bool
	boolean bool // only 0 or 1
}

var propTable = [model.SharedSubscriptionsAvailable + 1]propInfo{
	model.PayloadFormatIndicator:          {name: "payload format indicator", typ: propByte, boolean: true},
	model.MessageExpiryInterval:           {name: "message expiry interval", typ: propFourByte},
	model.ContentType:                     {name: "content type", typ: propString},
	model.ResponseTopic:                   {name: "response topic", typ: propString},
	model.CorrelationData:                 {name: "correlation data", typ: propBinary},
	model.SubscriptionIdentifier:          {name: "subscription identifier", typ: propVarInt, multi: true, nonZero: true},
	model.SessionExpiryInterval:           {name: "session expiry interval", typ: propFourByte},
	model.AssignedClientIdentifier:        {name: "assigned client identifier", typ: propString},
	model.ServerKeepAlive:                 {name: "server keep alive", typ: propTwoByte},
	model.AuthenticationMethod:            {name: "authentication method", typ: propString},
	model.AuthenticationData:              {name: "authentication data", typ: propBinary},
	model.RequestProblemInformation:       {name: "request problem information", typ: propByte, boolean: true},
	model.WillDelayInterval:               {name: "will delay interval", typ: propFourByte},
	model.RequestResponseInformation:      {name: "request response information", typ: propByte, boolean: true},
	model.ResponseInformation:             {name: "response information", typ: propString},
	model.ServerReference:                 {name: "server reference", typ: propString},
	model.ReasonString:                    {name: "reason string", typ: propString},
	model.ReceiveMaximum:                  {name: "receive maximum", typ: propTwoByte, nonZero: true},
	model.TopicAliasMaximum:               {name: "topic alias maximum", typ: propTwoByte},
	model.TopicAlias:                      {name: "topic alias", typ: propTwoByte, nonZero: true},
	model.MaximumQoS:                      {name: "maximum qos", typ: propByte},
	model.RetainAvailable:                 {name: "retain available", typ: propByte, boolean: true},
	model.UserProperty:                    {name: "user property", typ: propStringPair, multi: true},
	model.MaximumPacketSize:               {name: "maximum packet size", typ: propFourByte, nonZero: true},
	model.WildcardSubscriptionAvailable:   {name: "wildcard subscription available", typ: propByte, boolean: true},
	model.SubscriptionIdentifierAvailable: {name: "subscription identifiers available", typ: propByte, boolean: true},
	model.SharedSubscriptionsAvailable:    {name: "shared subscription available", typ: propByte, boolean: true},
}

// propSet is a bitmask of property identifiers. All identifiers are below 64.
type propSet uint64

func propsOf(ids ...byte) propSet {
	var s propSet
	for _, id := range ids {
		s |= 1 << id
	}
	return s
}

func (s propSet) has(id byte) bool { return s&(1<<id) != 0 }

// UserProperty is one name/value pair. Order and duplicates are kept.
type UserProperty struct {
	Key, Value []byte
}

type property struct {
	id  byte
	num int64
	val []byte
	key []byte // user property name
}

// propOrder is the wire order of a decoded property section, one id per
// property. Encoding follows it while it still matches the fields set.
type propOrder []byte

func (o propOrder) count(id byte) int {
	n := 0
	for _, v := range o {
		if v == id {
			n++
		}
	}
	return n
}

// matches reports whether fn writes exactly the properties in o.
func (o propOrder) matches(fn func(w *writer)) bool {
	for i, id := range o {
		cw := writer{only: true, id: id, nth: o[:i].count(id)}
		fn(&cw)
		if cw.props != 1 {
			return false
		}
	}
	return true
}

// decodeProperties runs the TLV loop over one property section at c.
// fn sees every property in allowed, and order records their ids.
// Known properties outside allowed are skipped.
func decodeProperties(c *cursor, allowed propSet, order *propOrder, fn func(p *property) error) error {
	l, err := c.varInt()
	if err != nil {
		return err
	}
	if l > c.remaining() {
		return malformed("property length overruns packet")
	}
	end := c.pos + l
	sec := cursor{b: c.b[:end], pos: c.pos}
	var seen propSet
	for sec.pos < end {
		id, _ := sec.byte()
		if int(id) >= len(propTable) || propTable[id].typ == 0 {
			return protocolError("unknown property 0x%02x", id)
		}
		info := &propTable[id]
		p := property{id: id}
		switch info.typ {
		case propByte:
			var v byte
			v, err = sec.byte()
			p.num = int64(v)
		case propTwoByte:
			var v uint16
			v, err = sec.uint16()
			p.num = int64(v)
		case propFourByte:
			var v uint32
			v, err = sec.uint32()
			p.num = int64(v)
		case propVarInt:
			var v int
			v, err = sec.varInt()
			p.num = int64(v)
		case propString:
			p.val, err = sec.str()
		case propBinary:
			p.val, err = sec.bin()
		case propStringPair:
			if p.key, err = sec.str(); err == nil {
				p.val, err = sec.str()
			}
		}
		if err != nil {
			if errors.Cause(err) == ErrMalformedPacket {
				return protocolError("%s overruns property section", info.name)
			}
			return err
		}

		if !info.multi {
			if seen.has(id) {
				return protocolError("duplicate %s", info.name)
			}
			seen |= 1 << id
		}
		if info.nonZero && p.num == 0 && info.typ != propString {
			return protocolError("%s must not be 0", info.name)
		}
		if info.boolean && p.num > 1 {
			return protocolError("%s must be 0 or 1", info.name)
		}

		if allowed.has(id) {
			if err = fn(&p); err != nil {
				return err
			}
			*order = append(*order, id)
		}
	}
	c.pos = end
	return nil
}

// properties writes a property section: its length, then what fn writes.
// fn writes in a fixed order, unless order lists exactly the
// properties fn writes, in which case they are written in that order.
func (w *writer) properties(order propOrder, fn func(w *writer)) {
	var cw writer
	fn(&cw)
	w.varInt(cw.pos)
	if len(order) == 0 || cw.props != len(order) || !order.matches(fn) {
		fn(w)
		return
	}
	for i, id := range order {
		w.only, w.id, w.nth = true, id, order[:i].count(id)
		fn(w)
	}
	w.only = false
}

// want reports whether the property id should be written now, and
// counts it when it is.
func (w *writer) want(id byte) bool {
	if w.only {
		if id != w.id {
			return false
		}
		w.nth--
		if w.nth != -1 {
			return false
		}
	}
	w.props++
	return true
}

func (w *writer) byteProp(id byte, v int) {
	if v != Absent && w.want(id) {
		w.byte(id)
		w.byte(byte(v))
	}
}

func (w *writer) twoByteProp(id byte, v int) {
	if v != Absent && w.want(id) {
		w.byte(id)
		w.uint16(uint16(v))
	}
}

func (w *writer) fourByteProp(id byte, v int64) {
	if v != Absent && w.want(id) {
		w.byte(id)
		w.uint32(uint32(v))
	}
}

func (w *writer) varIntProp(id byte, v int) {
	if v != Absent && w.want(id) {
		w.byte(id)
		w.varInt(v)
	}
}

// strProp writes a string or binary property. nil is absent.
func (w *writer) strProp(id byte, s []byte) {
	if s != nil && w.want(id) {
		w.byte(id)
		w.str(s)
	}
}

func (w *writer) userProps(ps []UserProperty) {
	for i := range ps {
		if !w.want(model.UserProperty) {
			continue
		}
		w.byte(model.UserProperty)
		w.str(ps[i].Key)
		w.str(ps[i].Value)
	}
}
