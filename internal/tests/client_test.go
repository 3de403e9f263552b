package tests_test

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/packet"
)

// client is a blocking MQTT v5 publisher.
type client struct {
	conn net.Conn
	r    *bufio.Reader
	tx   []byte
	pID  uint16
}

func dial(addr, clientId string) (*client, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return nil, err
	}
	c := &client{conn: conn, r: bufio.NewReader(conn)}

	cp := packet.NewConnect()
	cp.CleanStart = true
	cp.KeepAlive = 30
	cp.ClientID = []byte(clientId)
	if err = c.write(cp); err != nil {
		conn.Close()
		return nil, err
	}
	p, err := c.readPacket()
	if err != nil {
		conn.Close()
		return nil, err
	}
	ack, ok := p.(*packet.Connack)
	if !ok || ack.ReasonCode != model.Success {
		conn.Close()
		return nil, fmt.Errorf("connect refused: %+v", p)
	}
	return c, nil
}

func (c *client) write(p packet.Packet) error {
	c.tx = packet.Append(c.tx[:0], p)
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write(c.tx)
	return err
}

func (c *client) readPacket() (packet.Packet, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hdr := make([]byte, 1, 5)
	var err error
	if hdr[0], err = c.r.ReadByte(); err != nil {
		return nil, err
	}
	for i := 0; i < 4; i++ {
		b, err := c.r.ReadByte()
		if err != nil {
			return nil, err
		}
		hdr = append(hdr, b)
		if b&0x80 == 0 {
			break
		}
	}
	rl, _, err := packet.ReadVarInt(hdr[1:])
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(hdr)+rl)
	copy(buf, hdr)
	if _, err = io.ReadFull(c.r, buf[len(hdr):]); err != nil {
		return nil, err
	}
	p, _, err := packet.Decode(buf)
	return p, err
}

func (c *client) nextID() uint16 {
	c.pID++
	if c.pID == 0 {
		c.pID = 1
	}
	return c.pID
}

// publish sends one message and waits for its flow to complete.
func (c *client) publish(topic string, qos uint8, payload []byte) error {
	p := packet.NewPublish()
	p.QoS = qos
	p.TopicName = []byte(topic)
	p.Payload = payload
	if qos > 0 {
		p.PacketID = c.nextID()
	}
	if err := c.write(p); err != nil {
		return err
	}

	switch qos {
	case 1:
		return c.expectAck(model.PUBACK, p.PacketID)
	case 2:
		if err := c.expectAck(model.PUBREC, p.PacketID); err != nil {
			return err
		}
		if err := c.write(packet.NewPubrel(p.PacketID, model.Success)); err != nil {
			return err
		}
		return c.expectAck(model.PUBCOMP, p.PacketID)
	}
	return nil
}

func (c *client) expectAck(typ byte, id uint16) error {
	p, err := c.readPacket()
	if err != nil {
		return err
	}
	if p.Type() != typ {
		return errors.Errorf("expected %s, got %s", model.PacketName(typ), model.PacketName(p.Type()))
	}
	var a *packet.Ack
	switch p := p.(type) {
	case *packet.Puback:
		a = &p.Ack
	case *packet.Pubrec:
		a = &p.Ack
	case *packet.Pubcomp:
		a = &p.Ack
	}
	if a.PacketID != id || a.Reason() != model.Success {
		return errors.Errorf("%s for %d: id %d reason 0x%x", model.PacketName(typ), id, a.PacketID, a.Reason())
	}
	return nil
}

// ping round trips a PINGREQ, so every earlier QoS 0 PUBLISH has been handled.
func (c *client) ping() error {
	if err := c.write(&packet.Pingreq{}); err != nil {
		return err
	}
	p, err := c.readPacket()
	if err != nil {
		return err
	}
	if p.Type() != model.PINGRESP {
		return errors.Errorf("expected PINGRESP, got %s", model.PacketName(p.Type()))
	}
	return nil
}

func (c *client) stop() {
	c.write(packet.NewDisconnect())
	c.conn.Close()
}
