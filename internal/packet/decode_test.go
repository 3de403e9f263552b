package packet

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/RoanBrand/goingest/internal/model"
)

func TestDecodeDispatch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		b   []byte
		typ byte
	}{
		{frame(0x10, connectHeader, []byte{0, 0, 10, 0, 0, 0}), model.CONNECT},
		{[]byte{0x20, 0x03, 0, 0, 0}, model.CONNACK},
		{[]byte{0x30, 0x04, 0, 1, 't', 0}, model.PUBLISH},
		{[]byte{0x40, 0x02, 0, 1}, model.PUBACK},
		{[]byte{0x50, 0x02, 0, 1}, model.PUBREC},
		{[]byte{0x62, 0x02, 0, 1}, model.PUBREL},
		{[]byte{0x70, 0x02, 0, 1}, model.PUBCOMP},
		{[]byte{0xC0, 0x00}, model.PINGREQ},
		{[]byte{0xD0, 0x00}, model.PINGRESP},
		{[]byte{0xE0, 0x00}, model.DISCONNECT},
	}
	for _, c := range cases {
		p, n, err := Decode(c.b)
		if err != nil {
			t.Fatalf("%s: %v", model.PacketName(c.typ), err)
		}
		if p.Type() != c.typ || n != len(c.b) {
			t.Fatalf("%s: decoded as %s, %d bytes", model.PacketName(c.typ), model.PacketName(p.Type()), n)
		}
		if got := Append(nil, p); !bytes.Equal(got, c.b) {
			t.Fatalf("%s: round trip mismatch\n got % x\nwant % x", model.PacketName(c.typ), got, c.b)
		}
	}
}

func TestDecodeUnsupported(t *testing.T) {
	t.Parallel()
	// SUBSCRIBE
	if _, _, err := Decode([]byte{0x82, 0x00}); errors.Cause(err) != ErrProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestPingRemainingLength(t *testing.T) {
	t.Parallel()
	if _, err := (&Pingreq{}).Decode([]byte{0xC0, 0x01, 0}); errors.Cause(err) != ErrMalformedPacket {
		t.Fatalf("expected malformed packet, got %v", err)
	}
	if ReasonCode(errors.Wrap(ErrMalformedPacket, "x")) != model.MalformedPacket {
		t.Fatal("bad reason code mapping")
	}
}

func TestDisconnectForms(t *testing.T) {
	t.Parallel()
	d := NewDisconnect()
	if _, err := d.Decode([]byte{0xE0, 0x00}); err != nil {
		t.Fatal(err)
	}
	if d.Reason() != model.NormalDisconnection {
		t.Fatalf("got reason %d", d.Reason())
	}

	d.Reset()
	d.ReasonCode = model.ProtocolError
	d.ReasonString = []byte("bad")
	b := Append(nil, d)
	want := []byte{0xE0, 0x08, 0x82, 0x06, 0x1F, 0, 3, 'b', 'a', 'd'}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x\nwant % x", b, want)
	}
	e := NewDisconnect()
	if _, err := e.Decode(b); err != nil {
		t.Fatal(err)
	}
	if e.Reason() != model.ProtocolError || string(e.ReasonString) != "bad" {
		t.Fatalf("bad decode: %+v", e)
	}
}
