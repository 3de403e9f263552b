package goingest

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/packet"
	"github.com/RoanBrand/goingest/internal/pool"
)

var errCleanExit = errors.New("cleanExit")

// violation is a failure the client is told about with reason code code.
type violation struct {
	code byte
	err  error
}

func (v *violation) Error() string { return v.err.Error() }
func (v *violation) Unwrap() error { return v.err }

func protocolViolation(code byte, msg string) error {
	return &violation{code: code, err: errors.New("client protocol violation: " + msg)}
}

func storageFailure(err error) error {
	if errors.Cause(err) == pool.ErrClosed {
		return &violation{code: model.ServerShuttingDown, err: err}
	}
	return &violation{code: model.ImplementationSpecificError, err: errors.Wrap(err, "storage")}
}

// reasonCode is the code reported to the client for err.
func reasonCode(err error) byte {
	var v *violation
	if errors.As(err, &v) {
		return v.code
	}
	return packet.ReasonCode(err)
}

// handlePacket runs the session state machine for one complete packet.
func (s *Server) handlePacket(ses *session, frame []byte) error {
	if ses.state.Load() == stateConnecting {
		if frame[0]&0xF0 != model.CONNECT { // [MQTT-3.1.0-1]
			return protocolViolation(model.ProtocolError, "first packet not CONNECT")
		}
		ses.gotConnect = true
		p, err := ses.decode(frame)
		if err != nil {
			if v := ses.connect.ProtocolVersion; v != 0 && v != packet.ProtocolVersion {
				return &violation{code: model.UnsupportedProtocolVersion, err: err} // [MQTT-3.1.2-2]
			}
			return err
		}
		return s.handleConnect(ses, p.(*packet.Connect))
	}

	p, err := ses.decode(frame)
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case *packet.Connect: // [MQTT-3.1.0-2]
		return protocolViolation(model.ProtocolError, "second CONNECT packet")
	case *packet.Publish:
		return s.handlePublish(ses, p)
	case *packet.Pubrel:
		return s.handlePubrel(ses, p)
	case *packet.Pingreq:
		return ses.writePacket(&ses.pingresp)
	case *packet.Disconnect:
		return ses.handleDisconnect(p)
	case *packet.Puback, *packet.Pubrec, *packet.Pubcomp:
		// Nothing is ever published to clients.
		log.WithFields(log.Fields{
			"ClientId": ses.clientId,
			"packet":   model.PacketName(p.Type()),
		}).Debug("Ignoring acknowledgement for unknown packet identifier")
		return nil
	case *packet.Connack, *packet.Pingresp:
		return protocolViolation(model.ProtocolError, model.PacketName(p.Type())+" sent by client")
	default:
		return protocolViolation(model.ProtocolError, "unexpected packet")
	}
}

func (s *Server) handleConnect(ses *session, c *packet.Connect) error {
	if len(c.ClientID) == 0 {
		ses.clientId = uuid.NewString() // [MQTT-3.1.3-6]
		ses.assignedCId = true
	} else {
		ses.clientId = string(c.ClientID)
	}

	if s.Auther != nil {
		if err := s.Auther.AuthUser(ses.clientId, c.Username, c.Password); err != nil {
			rc := byte(model.NotAuthorized)
			if c.Username != nil || c.Password != nil {
				rc = model.BadUserNameOrPassword
			}
			return &violation{code: rc, err: errors.Wrap(err, "authentication failed")}
		}
	}

	ses.keepAlive = time.Duration(c.KeepAlive) * time.Second * 3 / 2 // [MQTT-3.1.2-22]
	if ses.aliases == nil && s.MQTT.TopicAliasMaximum > 0 {
		ses.aliases = make(map[uint16][]byte, 4)
	}

	ack := &ses.connack
	ack.Success()
	ack.ReceiveMaximum = s.MQTT.ReceiveMaximum
	if s.MQTT.MaxPacketSize > 0 {
		ack.MaximumPacketSize = int64(s.MQTT.MaxPacketSize)
	}
	if ses.assignedCId {
		ack.AssignedClientIdentifier = []byte(ses.clientId)
	}
	if s.MQTT.TopicAliasMaximum > 0 {
		ack.TopicAliasMaximum = s.MQTT.TopicAliasMaximum
	}

	if err := ses.writePacket(ack); err != nil {
		return err
	}
	ses.state.Store(stateConnected)
	s.addSession(ses)

	log.WithFields(log.Fields{
		"ClientId":  ses.clientId,
		"KeepAlive": c.KeepAlive,
		"assigned":  ses.assignedCId,
	}).Info("New session")
	return nil
}

func (s *Server) handlePublish(ses *session, p *packet.Publish) error {
	topic, err := ses.resolveTopic(p)
	if err != nil {
		return err
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		lf := log.Fields{
			"ClientId":  ses.clientId,
			"topicName": string(topic),
			"QoS":       p.QoS,
			"payload":   string(p.Payload),
		}
		if p.Dup {
			lf["duplicate"] = true
		}
		if p.Retain {
			lf["retain"] = true
		}
		log.WithFields(lf).Debug("Got PUBLISH packet")
	}

	if p.QoS == 2 {
		if _, ok := ses.pending[p.PacketID]; ok {
			// Already stored. Acknowledge the resend again.
			return ses.writePacket(packet.NewPubrec(p.PacketID, model.Success))
		}
		if len(ses.pending) >= s.MQTT.ReceiveMaximum {
			return protocolViolation(model.ReceiveMaximumExceeded, "too many QoS 2 PUBLISH awaiting PUBREL")
		}
	}

	if rc := s.refusePublish(ses, p, topic); rc != model.Success {
		return ses.ack(p, rc)
	}

	row := model.Row{
		ClientID: ses.clientId,
		Topic:    topic,
		Payload:  p.Payload,
		QoS:      p.QoS,
		Retain:   p.Retain,
		UTF8:     p.UTF8(),
	}
	rec, err := s.pool.AppendRow(&row)
	if err != nil {
		return storageFailure(err)
	}
	if p.QoS == 2 {
		ses.pending[p.PacketID] = rec
	}
	return ses.ack(p, model.Success)
}

// resolveTopic applies and records topic aliases.
func (ses *session) resolveTopic(p *packet.Publish) ([]byte, error) {
	if p.TopicAlias == packet.Absent {
		return p.TopicName, nil
	}
	limit := ses.srv.MQTT.TopicAliasMaximum
	if p.TopicAlias == 0 || p.TopicAlias > limit { // [MQTT-3.3.2-8] [MQTT-3.3.2-9]
		return nil, protocolViolation(model.TopicAliasInvalid, "topic alias out of range")
	}
	alias := uint16(p.TopicAlias)
	if len(p.TopicName) > 0 {
		ses.aliases[alias] = append(ses.aliases[alias][:0], p.TopicName...)
		return p.TopicName, nil
	}
	t, ok := ses.aliases[alias]
	if !ok {
		return nil, protocolViolation(model.ProtocolError, "unknown topic alias")
	}
	return t, nil
}

// refusePublish reports why p must not be stored, or Success.
func (s *Server) refusePublish(ses *session, p *packet.Publish, topic []byte) byte {
	if p.UTF8() && !utf8.Valid(p.Payload) {
		log.WithFields(log.Fields{
			"ClientId":  ses.clientId,
			"topicName": string(topic),
		}).Info("Refusing PUBLISH with invalid UTF-8 payload")
		return model.PayloadFormatInvalid
	}
	if s.Auther != nil {
		if err := s.Auther.AuthPublish(ses.clientId, topic); err != nil {
			log.WithFields(log.Fields{
				"ClientId":  ses.clientId,
				"topicName": string(topic),
				"err":       err,
			}).Info("Refusing unauthorized PUBLISH")
			return model.NotAuthorized
		}
	}
	return model.Success
}

// ack answers p with rc. QoS 0 has no answer.
func (ses *session) ack(p *packet.Publish, rc byte) error {
	switch p.QoS {
	case 1:
		return ses.writePacket(packet.NewPuback(p.PacketID, rc))
	case 2:
		return ses.writePacket(packet.NewPubrec(p.PacketID, rc))
	}
	return nil
}

// handlePubrel answers with PUBCOMP once the message is committed.
func (s *Server) handlePubrel(ses *session, p *packet.Pubrel) error {
	rec, ok := ses.pending[p.PacketID]
	if !ok {
		return ses.writePacket(packet.NewPubcomp(p.PacketID, model.PacketIdentifierNotFound))
	}
	if err := s.pool.WaitCommitted(ses.ctx, rec); err != nil {
		if ses.ctx.Err() != nil {
			return err
		}
		return storageFailure(err)
	}
	delete(ses.pending, p.PacketID)
	return ses.writePacket(packet.NewPubcomp(p.PacketID, model.Success))
}

func (ses *session) handleDisconnect(p *packet.Disconnect) error {
	lf := log.Fields{
		"ClientId": ses.clientId,
	}
	switch p.Reason() {
	case model.NormalDisconnection:
		lf["Reason"] = "Normal disconnection"
	case model.DisconnectWithWill:
		lf["Reason"] = "Disconnect with Will Msg"
	default:
		lf["Reason Code"] = p.Reason()
	}
	if p.ReasonString != nil {
		lf["Reason String"] = string(p.ReasonString)
	}
	log.WithFields(lf).Debug("DISCONNECT received")
	return errCleanExit
}
