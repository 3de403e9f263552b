// Package websocket carries MQTT over WebSocket binary messages.
package websocket

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var errNotBinary = errors.New("not binary message")

// Setup serves the MQTT WebSocket endpoint on address and hands every
// upgraded connection to dispatch. Serve errors are sent on errs.
func Setup(address string, checkOrigin bool, dispatch func(net.Conn), errs chan<- error) (*http.Server, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: Handler(checkOrigin, dispatch)}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()
	return srv, nil
}

func Handler(checkOrigin bool, dispatch func(net.Conn)) http.Handler {
	up := websocket.Upgrader{
		Subprotocols: []string{"mqtt"}, // [MQTT-6.0.0-4]
	}
	if !checkOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if protos := websocket.Subprotocols(r); len(protos) == 0 || protos[0] != "mqtt" { // [MQTT-6.0.0-3]
			http.Error(w, "websocket client not supported. sub protocol must be 'mqtt'", http.StatusNotAcceptable)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied
			return
		}

		dispatch(&wsConn{Conn: conn})
	})
}

type wsConn struct {
	*websocket.Conn
	r io.Reader
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read treats consecutive messages as one byte stream; a packet may
// span messages.
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage { // [MQTT-6.0.0-1]
				return 0, errNotBinary
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}
