package packet

import (
	"github.com/pkg/errors"

	"github.com/RoanBrand/goingest/internal/model"
)

var (
	// ErrMalformedInteger is returned for a Variable Byte Integer longer than
	// 4 bytes or not in its shortest form.
	ErrMalformedInteger = errors.New("malformed variable byte integer")
	// ErrMalformedPacket is returned when a packet is truncated or overruns its remaining length.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrProtocol is returned when a packet breaks an MQTT rule.
	ErrProtocol = errors.New("protocol error")
	// ErrWrongPacketType is returned when a codec is handed another packet type.
	ErrWrongPacketType = errors.New("wrong packet type")
	// ErrShortBuffer is returned when an encode destination is too small.
	ErrShortBuffer = errors.New("buffer too small")

	errInvalidUTF        = errors.Wrap(ErrProtocol, "invalid UTF-8 string")
	errContainsWildCards = errors.Wrap(ErrProtocol, "topic name contains wildcards")
)

func protocolError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

func malformed(what string) error {
	return errors.Wrap(ErrMalformedPacket, what)
}

// ReasonCode maps a decode error to the reason code reported to the client.
func ReasonCode(err error) byte {
	switch errors.Cause(err) {
	case nil:
		return model.Success
	case ErrMalformedInteger, ErrMalformedPacket:
		return model.MalformedPacket
	case ErrProtocol, ErrWrongPacketType:
		return model.ProtocolError
	}
	return model.UnspecifiedError
}
