package packet

// cursor walks a packet body. Every read is bounds checked against b.
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.b) - c.pos }

func (c *cursor) byte() (byte, error) {
	if c.pos >= len(c.b) {
		return 0, malformed("byte")
	}
	v := c.b[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) uint16() (uint16, error) {
	v, err := ReadTwoByteInt(c.b[c.pos:])
	if err == nil {
		c.pos += 2
	}
	return v, err
}

func (c *cursor) uint32() (uint32, error) {
	v, err := ReadFourByteInt(c.b[c.pos:])
	if err == nil {
		c.pos += 4
	}
	return v, err
}

func (c *cursor) varInt() (int, error) {
	v, n, err := ReadVarInt(c.b[c.pos:])
	if err == nil {
		c.pos += n
	}
	return v, err
}

func (c *cursor) str() ([]byte, error) {
	v, n, err := ReadString(c.b[c.pos:])
	if err == nil {
		c.pos += n
	}
	return v, err
}

func (c *cursor) bin() ([]byte, error) {
	v, n, err := ReadBinary(c.b[c.pos:])
	if err == nil {
		c.pos += n
	}
	return v, err
}

// rest returns everything left in the body.
func (c *cursor) rest() []byte {
	v := c.b[c.pos:len(c.b):len(c.b)]
	c.pos = len(c.b)
	return v
}

// writer encodes into buf. With a nil buf it only counts, so one encode
// routine yields both the size and the bytes.
type writer struct {
	buf []byte
	pos int

	// With only set, every property except occurrence nth of id is dropped.
	only  bool
	id    byte
	nth   int
	props int // properties written
}

func (w *writer) byte(v byte) {
	if w.buf != nil {
		w.buf[w.pos] = v
	}
	w.pos++
}

func (w *writer) uint16(v uint16) {
	if w.buf != nil {
		PutTwoByteInt(w.buf[w.pos:], v)
	}
	w.pos += 2
}

func (w *writer) uint32(v uint32) {
	if w.buf != nil {
		PutFourByteInt(w.buf[w.pos:], v)
	}
	w.pos += 4
}

func (w *writer) varInt(v int) {
	if w.buf != nil {
		w.pos += PutVarInt(w.buf[w.pos:], v)
		return
	}
	w.pos += VarIntSize(v)
}

func (w *writer) str(s []byte) {
	if w.buf != nil {
		PutString(w.buf[w.pos:], s)
	}
	w.pos += 2 + len(s)
}

func (w *writer) raw(b []byte) {
	if w.buf != nil {
		copy(w.buf[w.pos:], b)
	}
	w.pos += len(b)
}
