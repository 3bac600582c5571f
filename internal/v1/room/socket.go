package room

// Socket is the narrow interface the Room actor needs from an attached
// transport connection: a non-blocking send and a close with a WebSocket
// close code. It mirrors the teacher's wsConnection interface in
// internal/v1/session/client.go (ReadMessage/WriteMessage/Close), trimmed
// down to what a single-writer Room is allowed to touch — everything about
// reading frames and pumping goroutines belongs to the concrete
// implementation in internal/v1/front, not to the Room itself.
type Socket interface {
	// Send enqueues data for the client. It must never block the calling
	// goroutine (the Room actor). A false return means the implementation's
	// outbound buffer is over its high-water mark; per the backpressure
	// policy the caller SHOULD treat that connection as departed, which it
	// does on its own by closing and reporting a depart, not by any action
	// the Room takes here.
	Send(data []byte) bool

	// Close closes the connection with the given WebSocket close code.
	Close(code int, reason string)
}
