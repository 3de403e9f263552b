package store

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

// Key value backends store a row under
// "mqtt" | timestamp (8 bytes) | row id (8 bytes), big-endian,
// so iteration order is time order.
var rowPrefix = []byte(TableName)

type rowIDs struct {
	n atomic.Uint64
}

func (ids *rowIDs) key(ts int64) []byte {
	k := make([]byte, len(rowPrefix)+16)
	n := copy(k, rowPrefix)
	binary.BigEndian.PutUint64(k[n:], uint64(ts))
	binary.BigEndian.PutUint64(k[n+8:], ids.n.Add(1))
	return k
}

const (
	hasBinary = 1 << iota
	hasVarchar
)

// encodeRecord writes r as a sequence of protobuf wire values.
func encodeRecord(r *Record) []byte {
	b := proto.NewBuffer(make([]byte, 0, 32+len(r.Topic)+len(r.ClientID)+len(r.PayloadBinary)+len(r.PayloadVarchar)))
	var present uint64
	if r.PayloadBinary != nil {
		present |= hasBinary
	}
	if r.PayloadVarchar != nil {
		present |= hasVarchar
	}
	retain := uint64(0)
	if r.Retain {
		retain = 1
	}
	b.EncodeVarint(uint64(r.Timestamp))
	b.EncodeStringBytes(r.Topic)
	b.EncodeVarint(uint64(r.QoS))
	b.EncodeVarint(retain)
	b.EncodeStringBytes(r.ClientID)
	b.EncodeVarint(present)
	b.EncodeRawBytes(r.PayloadBinary)
	b.EncodeRawBytes(r.PayloadVarchar)
	return b.Bytes()
}

func decodeRecord(v []byte) (Record, error) {
	var r Record
	b := proto.NewBuffer(v)
	ts, err := b.DecodeVarint()
	if err != nil {
		return r, errors.Wrap(err, "timestamp")
	}
	r.Timestamp = int64(ts)
	if r.Topic, err = b.DecodeStringBytes(); err != nil {
		return r, errors.Wrap(err, "topic")
	}
	qos, err := b.DecodeVarint()
	if err != nil {
		return r, errors.Wrap(err, "qos")
	}
	r.QoS = byte(qos)
	retain, err := b.DecodeVarint()
	if err != nil {
		return r, errors.Wrap(err, "retain")
	}
	r.Retain = retain != 0
	if r.ClientID, err = b.DecodeStringBytes(); err != nil {
		return r, errors.Wrap(err, "client id")
	}
	present, err := b.DecodeVarint()
	if err != nil {
		return r, errors.Wrap(err, "null flags")
	}
	bin, err := b.DecodeRawBytes(false)
	if err != nil {
		return r, errors.Wrap(err, "payload")
	}
	str, err := b.DecodeRawBytes(false)
	if err != nil {
		return r, errors.Wrap(err, "payload")
	}
	if present&hasBinary != 0 {
		r.PayloadBinary = append(make([]byte, 0, len(bin)), bin...)
	}
	if present&hasVarchar != 0 {
		r.PayloadVarchar = append(make([]byte, 0, len(str)), str...)
	}
	return r, nil
}
