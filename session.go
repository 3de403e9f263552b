package goingest

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/packet"
	"github.com/RoanBrand/goingest/internal/pool"
)

var aLongTimeAgo = time.Unix(1, 0) // used for cancellation

const (
	rxChunk = 4096

	// maxConnectSize caps packets read before CONNACK, when no maximum
	// packet size has been announced to the client yet.
	maxConnectSize = 1 << 20

	writeTimeout     = 10 * time.Second
	stopWriteTimeout = time.Second // for the DISCONNECT of a stopped session
)

const (
	stateConnecting int32 = iota
	stateConnected
	stateClosed
)

type session struct {
	srv    *Server
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	state       atomic.Int32
	clientId    string // owned copy, outlives every receive buffer
	assignedCId bool
	gotConnect  bool
	keepAlive   time.Duration

	// QoS 2 packet ids answered with PUBREC and awaiting PUBREL.
	pending map[uint16]pool.Receipt
	// Topic aliases set by the client. Topics are owned copies.
	aliases map[uint16][]byte

	rx []byte

	txLock sync.Mutex
	tx     []byte

	onlyOnce sync.Once

	// Decode targets, reused for every packet.
	connect    packet.Connect
	connack    packet.Connack
	publish    packet.Publish
	puback     packet.Puback
	pubrec     packet.Pubrec
	pubrel     packet.Pubrel
	pubcomp    packet.Pubcomp
	pingreq    packet.Pingreq
	pingresp   packet.Pingresp
	disconnect packet.Disconnect
}

func (s *Server) newSession(conn net.Conn) *session {
	ctx, cancel := context.WithCancel(s.ctx)
	return &session{
		srv:     s,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint16]pool.Receipt, s.MQTT.ReceiveMaximum),
		rx:      make([]byte, 0, rxChunk),
		tx:      make([]byte, 0, 64),
	}
}

func (s *Server) startSession(conn net.Conn) {
	ses := s.newSession(conn)
	s.trackSession(ses, true)
	defer func() {
		ses.end()
		s.trackSession(ses, false)
	}()

	ses.updateTimeout(time.Duration(s.MQTT.ConnectTimeoutSec) * time.Second) // CONNECT packet timeout

	buf := make([]byte, rxChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			ses.rx = append(ses.rx, buf[:n]...)
			if perr := ses.feed(); perr != nil {
				ses.handleParseError(perr)
				return
			}
			if ses.state.Load() == stateConnected {
				ses.updateTimeout(ses.keepAlive)
			}
		}
		if err != nil {
			ses.readError(err)
			return
		}
	}
}

// feed handles every complete packet in rx and keeps the remainder.
func (ses *session) feed() error {
	off := 0
	for {
		buf := ses.rx[off:]
		if err := ses.checkPacketSize(buf); err != nil {
			return err
		}
		n, err := packet.FrameLen(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if err = ses.srv.handlePacket(ses, buf[:n]); err != nil {
			return err
		}
		off += n
	}
	if off > 0 {
		ses.rx = append(ses.rx[:0], ses.rx[off:]...)
	}
	return nil
}

// checkPacketSize refuses a packet larger than the advertised maximum
// as soon as its remaining length is known. Before CONNACK the limit is
// maxConnectSize.
func (ses *session) checkPacketSize(buf []byte) error {
	if len(buf) < 2 {
		return nil
	}
	connected := ses.state.Load() == stateConnected
	limit := maxConnectSize
	if connected {
		if limit = ses.srv.MQTT.MaxPacketSize; limit <= 0 {
			return nil
		}
	}
	rl, n, err := packet.ReadVarInt(buf[1:])
	if err != nil {
		return nil // FrameLen reports it
	}
	if 1+n+rl > limit {
		if !connected {
			ses.gotConnect = buf[0]&0xF0 == model.CONNECT
		}
		return protocolViolation(model.PacketTooLarge, "packet exceeds maximum packet size")
	}
	return nil
}

// decode parses frame into the session's record for its type.
func (ses *session) decode(frame []byte) (packet.Packet, error) {
	var p packet.Packet
	switch frame[0] & 0xF0 {
	case model.CONNECT:
		p = &ses.connect
	case model.CONNACK:
		p = &ses.connack
	case model.PUBLISH:
		p = &ses.publish
	case model.PUBACK:
		p = &ses.puback
	case model.PUBREC:
		p = &ses.pubrec
	case model.PUBREL:
		p = &ses.pubrel
	case model.PUBCOMP:
		p = &ses.pubcomp
	case model.PINGREQ:
		p = &ses.pingreq
	case model.PINGRESP:
		p = &ses.pingresp
	case model.DISCONNECT:
		p = &ses.disconnect
	default:
		return nil, errors.Wrapf(packet.ErrProtocol, "unsupported packet type %s", model.PacketName(frame[0]))
	}
	if _, err := p.Decode(frame); err != nil {
		return nil, err
	}
	return p, nil
}

func (ses *session) readError(err error) {
	if err == io.EOF || errors.Is(err, net.ErrClosed) {
		return
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		if ses.ctx.Err() != nil {
			return // because of session ended
		}

		l := log.WithFields(log.Fields{
			"ClientId": ses.clientId,
		})
		if ses.state.Load() == stateConnected {
			l.Debug("KeepAlive timeout. Dropping connection")
			ses.sendDisconnect(model.KeepAliveTimeout)
		} else {
			l.Debug("Timeout waiting for CONNECT. Dropping connection")
		}
		return
	}

	log.WithFields(log.Fields{
		"ClientId": ses.clientId,
		"err":      err,
	}).Error("RX error")
}

// handleParseError reports err to the client, during CONNECT with a
// CONNACK and afterwards with a DISCONNECT.
func (ses *session) handleParseError(err error) {
	if err == errCleanExit {
		return
	}

	code := reasonCode(err)
	state := ses.state.Load()
	if state == stateClosed || ses.ctx.Err() != nil {
		return
	}

	lf := log.Fields{
		"ClientId": ses.clientId,
		"code":     code,
		"err":      err,
	}
	if code == model.ImplementationSpecificError {
		log.WithFields(lf).Error("Storage failure")
	} else {
		log.WithFields(lf).Warn("Client failure")
	}

	if state == stateConnecting {
		if ses.gotConnect {
			ses.sendConnackFail(code)
		}
		return
	}
	ses.sendDisconnect(code)
}

// updateTimeout sets the read deadline, unless the session was stopped.
func (ses *session) updateTimeout(d time.Duration) {
	if ses.ctx.Err() != nil {
		return
	}
	if d > 0 {
		ses.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		ses.conn.SetReadDeadline(time.Time{})
	}
	if ses.ctx.Err() != nil {
		ses.conn.SetReadDeadline(aLongTimeAgo)
	}
}

// end releases the connection. Called once the read loop has returned.
func (ses *session) end() {
	ses.onlyOnce.Do(func() {
		ses.state.Store(stateClosed)
		ses.cancel()

		ses.txLock.Lock()
		ses.conn.Close()
		ses.txLock.Unlock()

		ses.srv.removeSession(ses)
		if len(ses.pending) > 0 {
			log.WithFields(log.Fields{
				"ClientId": ses.clientId,
				"pending":  len(ses.pending),
			}).Debug("Session ended with QoS 2 messages awaiting PUBREL")
		}
	})
}

// stop ends the session from another goroutine, telling a connected
// client why. A write blocked on a client that does not read is cut
// short after stopWriteTimeout.
func (ses *session) stop(rc byte) {
	connected := ses.state.Load() == stateConnected
	ses.cancel()
	ses.conn.SetWriteDeadline(time.Now().Add(stopWriteTimeout))
	if connected {
		if err := ses.sendDisconnect(rc); err != nil {
			log.WithFields(log.Fields{
				"ClientId": ses.clientId,
				"err":      err,
			}).Debug("failed to send DISCONNECT")
		}
	}
	ses.conn.SetReadDeadline(aLongTimeAgo)
}

func (ses *session) writePacket(p packet.Packet) error {
	ses.txLock.Lock()
	defer ses.txLock.Unlock()

	if ses.state.Load() == stateClosed {
		return net.ErrClosed
	}
	ses.setWriteDeadline()
	ses.tx = packet.Append(ses.tx[:0], p)
	_, err := ses.conn.Write(ses.tx)
	return err
}

// setWriteDeadline bounds the next write, tighter once stop has run.
func (ses *session) setWriteDeadline() {
	if ses.ctx.Err() == nil {
		ses.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if ses.ctx.Err() == nil {
			return
		}
	}
	ses.conn.SetWriteDeadline(time.Now().Add(stopWriteTimeout))
}

func (ses *session) sendConnackFail(rc byte) error {
	ses.connack.Reset()
	ses.connack.ReasonCode = rc
	return ses.writePacket(&ses.connack)
}

func (ses *session) sendDisconnect(rc byte) error {
	d := packet.NewDisconnect()
	d.ReasonCode = int(rc)
	return ses.writePacket(d)
}
