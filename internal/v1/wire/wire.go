// Package wire implements the client-server JSON protocol: typed message
// envelopes with a string "type" discriminant, decoded from a raw text
// frame and encoded back for each server-originated variant. The teacher
// service carries a protobuf envelope (gen/proto, generated from a .proto
// this pack does not include) over binary WebSocket frames; this service's
// wire contract is UTF-8 JSON text frames (binary frames are rejected by
// the Front Door), so the envelope here follows the teacher's Message{Event,
// Payload} shape translated to encoding/json instead of proto.Marshal.
package wire

import (
	"encoding/json"
	"fmt"
)

// Client-to-server message types.
const (
	TypeHeartbeatPing    = "heartbeat.ping"
	TypeDiscoveryClaim   = "discovery.claim"
	TypeDiscoveryResolve = "discovery.resolve"
	TypeSignalSend       = "signal.send"
	TypeSignalAck        = "signal.ack"
)

// Server-to-client message types.
const (
	TypeSessionWelcome    = "session.welcome"
	TypePresenceJoined    = "presence.joined"
	TypePresenceLeft      = "presence.left"
	TypeDiscoveryClaimed  = "discovery.claimed"
	TypeDiscoveryResolved = "discovery.resolved"
	TypeSignalMessage     = "signal.message"
	TypeSignalAcked       = "signal.acked"
	TypeHeartbeatPong     = "heartbeat.pong"
	TypeError             = "error"
)

// Error codes carried in error{code,...} frames.
const (
	CodeBadMessage     = "BAD_MESSAGE"
	CodeUnboundSocket  = "UNBOUND_SOCKET"
	CodeSessionGone    = "SESSION_NOT_FOUND"
	CodeUnsupported    = "UNSUPPORTED"
	CodeAliasInvalid   = "ALIAS_INVALID"
	CodeAliasTaken     = "ALIAS_TAKEN"
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	CodeStorage        = "STORAGE"
)

// envelope is the wire shape shared by every inbound and outbound message:
// a type discriminant plus the rest of the fields flattened alongside it.
type envelope struct {
	Type string `json:"type"`
}

// ClientMessage is a decoded inbound frame. Only the fields relevant to
// Type are populated; callers switch on Type before reading the rest.
type ClientMessage struct {
	Type      string
	RequestID string

	// heartbeat.ping
	Ts int64

	// discovery.claim / discovery.resolve
	Name string

	// signal.send
	ToPeerID   string
	Payload    json.RawMessage
	DeliveryID string

	// signal.ack reuses ToPeerID and DeliveryID above.
}

type clientWire struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"requestId,omitempty"`
	Ts         int64           `json:"ts,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToPeerID   string          `json:"toPeerId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DeliveryID string          `json:"deliveryId,omitempty"`
}

// Decode parses a raw client frame into a ClientMessage. An unknown or
// missing "type" is reported via the returned error; callers translate
// that into an error{code=UNSUPPORTED} or error{code=BAD_MESSAGE} frame.
func Decode(raw []byte) (*ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	switch env.Type {
	case TypeHeartbeatPing, TypeDiscoveryClaim, TypeDiscoveryResolve, TypeSignalSend, TypeSignalAck:
	case "":
		return nil, fmt.Errorf("wire: missing type")
	default:
		return nil, &UnsupportedTypeError{Type: env.Type}
	}

	var w clientWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}

	msg := &ClientMessage{
		Type:       w.Type,
		RequestID:  w.RequestID,
		Ts:         w.Ts,
		Name:       w.Name,
		ToPeerID:   w.ToPeerID,
		Payload:    w.Payload,
		DeliveryID: w.DeliveryID,
	}

	switch msg.Type {
	case TypeSignalSend:
		if msg.ToPeerID == "" || len(msg.Payload) == 0 {
			return nil, fmt.Errorf("wire: signal.send missing toPeerId or payload")
		}
	case TypeSignalAck:
		if msg.ToPeerID == "" || msg.DeliveryID == "" {
			return nil, fmt.Errorf("wire: signal.ack missing toPeerId or deliveryId")
		}
	case TypeDiscoveryClaim, TypeDiscoveryResolve:
		if msg.Name == "" {
			return nil, fmt.Errorf("wire: %s missing name", msg.Type)
		}
	}

	return msg, nil
}

// UnsupportedTypeError is returned by Decode for a well-formed envelope
// whose type the server does not recognize.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("wire: unsupported type %q", e.Type)
}

// PeerSummary is the shape of a peer as embedded in session.welcome and
// presence.joined frames.
type PeerSummary struct {
	PeerID string  `json:"peerId"`
	UserID string  `json:"userId"`
	RoomID string  `json:"roomId"`
	Name   *string `json:"name"`
}

func marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every outbound type here is built from known-good fields; a
		// marshal failure would indicate a programming error, not bad
		// input, so surface it as an error{} frame the client can ignore.
		return []byte(`{"type":"error","code":"BAD_MESSAGE","message":"internal encode failure"}`)
	}
	return b
}

// SessionWelcome encodes the session.welcome frame sent to an attaching socket.
func SessionWelcome(peerID, userID, roomID, resumeToken string, resumeExpiresAt int64, peers []PeerSummary) []byte {
	return marshal(struct {
		Type            string        `json:"type"`
		PeerID          string        `json:"peerId"`
		UserID          string        `json:"userId"`
		RoomID          string        `json:"roomId"`
		ResumeToken     string        `json:"resumeToken"`
		ResumeExpiresAt int64         `json:"resumeExpiresAt"`
		Peers           []PeerSummary `json:"peers"`
	}{TypeSessionWelcome, peerID, userID, roomID, resumeToken, resumeExpiresAt, peers})
}

// PresenceJoined encodes the presence.joined broadcast.
func PresenceJoined(peer PeerSummary) []byte {
	return marshal(struct {
		Type string      `json:"type"`
		Peer PeerSummary `json:"peer"`
	}{TypePresenceJoined, peer})
}

// PresenceLeft encodes the presence.left broadcast.
func PresenceLeft(peerID, userID string) []byte {
	return marshal(struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
		UserID string `json:"userId"`
	}{TypePresenceLeft, peerID, userID})
}

// DiscoveryClaimed encodes a successful discovery.claim response.
func DiscoveryClaimed(name, userID, requestID string) []byte {
	return marshal(struct {
		Type      string `json:"type"`
		Name      string `json:"name"`
		UserID    string `json:"userId"`
		RequestID string `json:"requestId,omitempty"`
	}{TypeDiscoveryClaimed, name, userID, requestID})
}

// DiscoveryResolved encodes a discovery.resolve response.
func DiscoveryResolved(name, requestID string, peers []PeerSummary) []byte {
	return marshal(struct {
		Type      string        `json:"type"`
		Name      string        `json:"name"`
		RequestID string        `json:"requestId,omitempty"`
		Peers     []PeerSummary `json:"peers"`
	}{TypeDiscoveryResolved, name, requestID, peers})
}

// SignalMessage encodes a relayed signaling payload.
func SignalMessage(deliveryID, fromPeerID, fromUserID, toPeerID string, payload json.RawMessage, sentAt int64) []byte {
	return marshal(struct {
		Type       string          `json:"type"`
		DeliveryID string          `json:"deliveryId"`
		FromPeerID string          `json:"fromPeerId"`
		FromUserID string          `json:"fromUserId"`
		ToPeerID   string          `json:"toPeerId"`
		Payload    json.RawMessage `json:"payload"`
		SentAt     int64           `json:"sentAt"`
	}{TypeSignalMessage, deliveryID, fromPeerID, fromUserID, toPeerID, payload, sentAt})
}

// SignalAcked encodes a delivery acknowledgement, sent once on admission
// (byPeerId=sender) and once on recipient confirmation (byPeerId=recipient).
func SignalAcked(deliveryID, byPeerID string, at int64) []byte {
	return marshal(struct {
		Type       string `json:"type"`
		DeliveryID string `json:"deliveryId"`
		ByPeerID   string `json:"byPeerId"`
		At         int64  `json:"at"`
	}{TypeSignalAcked, deliveryID, byPeerID, at})
}

// HeartbeatPong encodes the heartbeat reply, echoing the client's ts.
func HeartbeatPong(ts int64) []byte {
	return marshal(struct {
		Type string `json:"type"`
		Ts   int64  `json:"ts"`
	}{TypeHeartbeatPong, ts})
}

// Error encodes a free-standing or request-correlated error frame.
func Error(code, message, requestID string) []byte {
	return marshal(struct {
		Type      string `json:"type"`
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId,omitempty"`
	}{TypeError, code, message, requestID})
}
