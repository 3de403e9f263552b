package packet

import (
	"encoding/binary"
	"unicode/utf8"
)

// MaxVarInt is the largest value a Variable Byte Integer can hold.
const MaxVarInt = 268435455

// Absent marks an optional numeric field that is not on the wire.
const Absent = -1

// ReadTwoByteInt decodes a big-endian uint16 from the start of b.
func ReadTwoByteInt(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, malformed("two byte integer")
	}
	return binary.BigEndian.Uint16(b), nil
}

// PutTwoByteInt writes v into b and returns 2.
func PutTwoByteInt(b []byte, v uint16) int {
	binary.BigEndian.PutUint16(b, v)
	return 2
}

// ReadFourByteInt decodes a big-endian uint32 from the start of b.
func ReadFourByteInt(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, malformed("four byte integer")
	}
	return binary.BigEndian.Uint32(b), nil
}

// PutFourByteInt writes v into b and returns 4.
func PutFourByteInt(b []byte, v uint32) int {
	binary.BigEndian.PutUint32(b, v)
	return 4
}

// ReadVarInt decodes a Variable Byte Integer from the start of b.
// It returns the value and the number of bytes consumed.
// A continuation bit on the 4th byte, or more bytes than the value
// needs, is ErrMalformedInteger.
func ReadVarInt(b []byte) (int, int, error) {
	v, mul := 0, 1
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, malformed("variable byte integer")
		}
		v += int(b[i]&127) * mul
		if b[i]&128 == 0 {
			if i > 0 && b[i] == 0 {
				return 0, 0, ErrMalformedInteger // [MQTT-1.5.5-1]
			}
			return v, i + 1, nil
		}
		mul *= 128
	}
	return 0, 0, ErrMalformedInteger
}

// PutVarInt writes v as a Variable Byte Integer and returns the bytes written.
// b must have room for VarIntSize(v) bytes.
func PutVarInt(b []byte, v int) int {
	i := 0
	for {
		eb := byte(v % 128)
		v /= 128
		if v > 0 {
			eb |= 128
		}
		b[i] = eb
		i++
		if v <= 0 {
			return i
		}
	}
}

// AppendVarInt appends v as a Variable Byte Integer.
func AppendVarInt(b []byte, v int) []byte {
	var tmp [4]byte
	n := PutVarInt(tmp[:], v)
	return append(b, tmp[:n]...)
}

// VarIntSize returns the encoded size of v.
func VarIntSize(v int) int {
	switch {
	case v < 128:
		return 1
	case v < 16384:
		return 2
	case v < 2097152:
		return 3
	default:
		return 4
	}
}

// ReadString decodes a length-prefixed UTF-8 string and returns a view
// into b, not a copy. Validity of the view ends when b is reused.
func ReadString(b []byte) ([]byte, int, error) {
	s, n, err := ReadBinary(b)
	if err != nil {
		return nil, 0, err
	}
	if err := checkUTF8(s, false); err != nil {
		return nil, 0, err
	}
	return s, n, nil
}

// ReadBinary decodes length-prefixed binary data and returns a view into b.
func ReadBinary(b []byte) ([]byte, int, error) {
	l, err := ReadTwoByteInt(b)
	if err != nil {
		return nil, 0, err
	}
	end := 2 + int(l)
	if len(b) < end {
		return nil, 0, malformed("string length overruns packet")
	}
	return b[2:end:end], end, nil
}

// PutString writes s with its 2-byte length prefix and returns the bytes written.
func PutString(b []byte, s []byte) int {
	PutTwoByteInt(b, uint16(len(s)))
	return 2 + copy(b[2:], s)
}

// checkUTF8 checks the MQTT string rules: well formed UTF-8 without
// U+0000 [MQTT-1.5.4-1] [MQTT-1.5.4-2]. With topic set, wildcards
// are refused as well [MQTT-3.3.2-2].
func checkUTF8(str []byte, topic bool) error {
	for i := 0; i < len(str); {
		if str[i] == 0 {
			return errInvalidUTF
		}

		if topic && (str[i] == '+' || str[i] == '#') {
			return errContainsWildCards
		} else if str[i]&0x80 == 0 {
			i++
		} else {
			r, size := utf8.DecodeRune(str[i:])
			if r == utf8.RuneError && size == 1 {
				return errInvalidUTF
			}
			i += size
		}
	}
	return nil
}
