// Package goingest is an MQTT v5 server that writes every accepted
// PUBLISH to an append-only table. QoS 2 messages are acknowledged with
// PUBCOMP only once committed.
package goingest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest/auth"
	"github.com/RoanBrand/goingest/internal/admin"
	"github.com/RoanBrand/goingest/internal/config"
	"github.com/RoanBrand/goingest/internal/logging"
	"github.com/RoanBrand/goingest/internal/model"
	"github.com/RoanBrand/goingest/internal/packet"
	"github.com/RoanBrand/goingest/internal/pool"
	"github.com/RoanBrand/goingest/internal/store"
	"github.com/RoanBrand/goingest/internal/websocket"
)

type Server struct {
	config.Config

	// Auther optionally authenticates clients and authorizes publishes.
	Auther auth.Auther
	// Table optionally replaces the configured store backend.
	// The server closes it on Shutdown.
	Table store.Table

	errs          chan error
	tcpL          net.Listener
	wsSrv, adminS *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	pool   *pool.Pool

	sesLock  sync.Mutex
	sessions map[string]*session   // connected, by clientId
	live     map[*session]struct{} // every open connection
	sesWG    sync.WaitGroup
	connSem  chan struct{}

	startOnce, stopOnce sync.Once
	startErr            error
}

// Run starts the server and blocks until a listener fails or Shutdown.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	return <-s.errs
}

// Start opens the store and listeners and returns.
func (s *Server) Start() error {
	s.startOnce.Do(func() {
		s.startErr = s.start()
	})
	return s.startErr
}

func (s *Server) start() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := logging.Setup(s.Log.File, s.Log.Level); err != nil {
		return err
	}

	s.errs = make(chan error, 3)
	s.sessions = make(map[string]*session, 16)
	s.live = make(map[*session]struct{}, 16)
	if s.MQTT.MaxConnections > 0 {
		s.connSem = make(chan struct{}, s.MQTT.MaxConnections)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.Table == nil {
		t, err := store.Open(s.Store)
		if err != nil {
			return errors.Wrap(err, "open store")
		}
		s.Table = t
	}
	p, err := pool.New(s.Table, s.poolOptions())
	if err != nil {
		s.Table.Close()
		return err
	}
	s.pool = p

	if err := s.setupTCP(); err != nil {
		s.Shutdown()
		return err
	}
	if err := s.setupWebsocket(); err != nil {
		s.Shutdown()
		return err
	}
	if err := s.setupAdmin(); err != nil {
		s.Shutdown()
		return err
	}

	lf := make(log.Fields, 5)
	if s.TCP.Address != "" {
		lf["tcp_address"] = s.TCP.Address
	}
	if s.WS.Address != "" {
		lf["ws_address"] = s.WS.Address
	}
	if s.HTTP.Address != "" {
		lf["http_address"] = s.HTTP.Address
	}
	lf["store"] = s.Store.Backend
	lf["slots"] = s.pool.Len()
	log.WithFields(lf).Info("Starting MQTT ingest server")
	return nil
}

func (s *Server) poolOptions() pool.Options {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return pool.Options{
		Slots:          s.Pool.Slots,
		MinCommitLag:   us(s.Pool.MinCommitLagUs),
		MaxCommitLag:   us(s.Pool.MaxCommitLagUs),
		AcquireTimeout: us(s.Pool.AcquireTimeoutUs),
	}
}

// Shutdown stops accepting connections, disconnects every client,
// then commits and closes the store.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		log.Info("Shutting down MQTT server")
		if s.tcpL != nil {
			s.tcpL.Close()
		}
		if s.wsSrv != nil {
			s.wsSrv.Close()
		}
		if s.adminS != nil {
			s.adminS.Close()
		}

		if s.cancel != nil {
			s.cancel()
		}
		s.sesLock.Lock()
		live := make([]*session, 0, len(s.live))
		for ses := range s.live {
			live = append(live, ses)
		}
		s.sesLock.Unlock()

		var stopWG sync.WaitGroup
		stopWG.Add(len(live))
		for _, ses := range live {
			go func(ses *session) {
				defer stopWG.Done()
				ses.stop(model.ServerShuttingDown)
			}(ses)
		}
		stopWG.Wait()
		s.sesWG.Wait()

		if s.pool != nil {
			if err := s.pool.Close(); err != nil {
				log.WithError(err).Error("Final commit failed")
			}
		}
		if s.Table != nil {
			if err := s.Table.Close(); err != nil {
				log.WithError(err).Error("Closing store failed")
			}
		}
	})
}

// Addr is the TCP listener's address, once started.
func (s *Server) Addr() net.Addr {
	if s.tcpL == nil {
		return nil
	}
	return s.tcpL.Addr()
}

// Stats reports every commit slot.
func (s *Server) Stats() []pool.Stats {
	return s.pool.Stats()
}

// Sessions is the number of connected clients.
func (s *Server) Sessions() int {
	s.sesLock.Lock()
	defer s.sesLock.Unlock()
	return len(s.sessions)
}

func (s *Server) setupTCP() error {
	if s.TCP.Address == "" {
		return nil
	}

	l, err := net.Listen("tcp", s.TCP.Address)
	if err != nil {
		return err
	}

	s.tcpL = l
	go s.startDispatcher(l)
	return nil
}

func (s *Server) setupWebsocket() error {
	if s.WS.Address == "" {
		return nil
	}

	srv, err := websocket.Setup(s.WS.Address, s.WS.CheckOrigin, s.dispatch, s.errs)
	if err != nil {
		return err
	}
	s.wsSrv = srv
	return nil
}

func (s *Server) setupAdmin() error {
	if s.HTTP.Address == "" {
		return nil
	}

	srv, err := admin.Setup(s.HTTP.Address, s, s.errs)
	if err != nil {
		return err
	}
	s.adminS = srv
	return nil
}

func (s *Server) startDispatcher(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed") {
				err = nil
			}
			s.errs <- err
			return
		}

		s.dispatch(conn)
	}
}

// dispatch starts a session on conn unless shutting down or full.
func (s *Server) dispatch(conn net.Conn) {
	if s.ctx.Err() != nil {
		conn.Close()
		return
	}
	if s.connSem != nil {
		select {
		case s.connSem <- struct{}{}:
		default:
			log.WithFields(log.Fields{
				"remote": conn.RemoteAddr().String(),
				"limit":  s.MQTT.MaxConnections,
			}).Warn("Connection limit reached")
			refuse(conn, model.ServerBusy)
			return
		}
	}

	s.sesWG.Add(1)
	go func() {
		defer s.sesWG.Done()
		if s.connSem != nil {
			defer func() { <-s.connSem }()
		}
		s.startSession(conn)
	}()
}

func refuse(conn net.Conn, rc byte) {
	ack := packet.NewConnack()
	ack.ReasonCode = rc
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.Write(packet.Append(nil, ack))
	conn.Close()
}

func (s *Server) trackSession(ses *session, open bool) {
	s.sesLock.Lock()
	if open {
		s.live[ses] = struct{}{}
	} else {
		delete(s.live, ses)
	}
	s.sesLock.Unlock()
}

// addSession registers a connected session, ending any older session
// with the same clientId.
func (s *Server) addSession(ses *session) {
	s.sesLock.Lock()
	old := s.sessions[ses.clientId] // [MQTT-3.1.4-3]
	s.sessions[ses.clientId] = ses
	s.sesLock.Unlock()

	if old != nil {
		log.WithFields(log.Fields{
			"ClientId": ses.clientId,
		}).Debug("Old session present. Taking over")
		old.stop(model.SessionTakenOver)
	}
}

func (s *Server) removeSession(ses *session) {
	s.sesLock.Lock()
	defer s.sesLock.Unlock()
	// check if another new session has not taken over already
	if cur, ok := s.sessions[ses.clientId]; ok && cur == ses {
		delete(s.sessions, ses.clientId)
	}
}
