// Package front is the Front Door: the stateless HTTP/WebSocket boundary
// that terminates client connections, verifies join tokens, and routes
// each attached socket to the Room instance identified by its roomId. It
// is grounded on the teacher's internal/v1/session.Hub.ServeWs and
// internal/v1/session.Client, adapted from the teacher's Auth0/protobuf
// transport to this service's HMAC join tokens and JSON wire protocol.
package front

import (
	"sync"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/wire"

	"github.com/gorilla/websocket"
)

const (
	// sendBufferCapacity bounds the per-socket outbound queue. A full
	// channel on a non-blocking send is the backpressure signal per spec
	// §5; the teacher's session.Client.send uses the same capacity.
	sendBufferCapacity = 256

	// writeWait bounds a single WriteMessage/WriteControl call, mirroring
	// the teacher's client.go writePump deadline.
	writeWait = 10 * time.Second

	// maxMessageSize bounds a single inbound frame so a misbehaving or
	// malicious client cannot exhaust memory with one oversized message.
	maxMessageSize = 64 * 1024
)

// closeRequest is what Close enqueues for writePump to act on. Routing the
// close through the same goroutine that owns conn.WriteMessage keeps every
// write to the connection single-threaded, since gorilla/websocket forbids
// concurrent writers.
type closeRequest struct {
	code   int
	reason string
}

// wsSocket adapts a *websocket.Conn to the room.Socket contract: a
// non-blocking Send and a Close that carries a WebSocket close code.
// Reading and pumping frames belongs here, not in the Room, per
// internal/v1/room/socket.go's doc comment.
type wsSocket struct {
	conn *websocket.Conn

	send    chan []byte
	closeCh chan closeRequest

	closeOnce sync.Once
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{
		conn:    conn,
		send:    make(chan []byte, sendBufferCapacity),
		closeCh: make(chan closeRequest, 1),
	}
}

// Send implements room.Socket. It never blocks: a full buffer reports
// backpressure to the caller instead of stalling the Room actor, and
// closes the connection, so readPump's exit reports the departure.
func (s *wsSocket) Send(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		s.Close(websocket.CloseInternalServerErr, "send buffer full")
		return false
	}
}

// Close implements room.Socket. It is safe to call more than once or
// concurrently with writePump; only the first call is honored.
func (s *wsSocket) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		select {
		case s.closeCh <- closeRequest{code: code, reason: reason}:
		default:
		}
	})
}

// writePump is the connection's sole writer, draining send until Close is
// called or a write fails. Grounded on the teacher's client.go writePump,
// generalized to also honor an externally requested close code instead of
// only closing when the channel is closed by the sender side.
func (s *wsSocket) writePump() {
	defer s.conn.Close()

	for {
		select {
		case req := <-s.closeCh:
			deadline := time.Now().Add(writeWait)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), deadline)
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readPump reads frames off the connection until it errors or closes,
// handing each decoded text frame to onMessage and calling onClose exactly
// once on the way out. Binary frames are rejected in-band per spec §6
// rather than silently dropped.
func (s *wsSocket) readPump(onMessage func([]byte), onClose func()) {
	defer func() {
		s.Close(websocket.CloseNormalClosure, "")
		onClose()
	}()

	s.conn.SetReadLimit(maxMessageSize)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			onMessage(data)
		case websocket.BinaryMessage:
			s.Send(wire.Error(wire.CodeBadMessage, "binary frames are not supported", ""))
		}
	}
}
