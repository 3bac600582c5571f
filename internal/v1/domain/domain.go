// Package domain defines the shared data model for the signaling service:
// the Peer, ResumeRecord, AliasBinding and PendingDelivery records a Room
// instance owns, plus the small set of sentinel identifiers that thread
// through the Front Door, Room, and wire codec without creating import
// cycles between them.
package domain

import (
	"encoding/json"
	"time"
)

// PeerID is a server-assigned identifier, stable across resume within TTL.
type PeerID string

// RoomID is the room-scoped broadcast domain identifier.
type RoomID string

// UserID comes from the join token's "sub" claim.
type UserID string

const (
	// ResumeTTL is the window during which a detached Peer may be re-adopted.
	ResumeTTL = 30 * time.Second
	// RetryInterval is how long the Room waits between delivery attempts.
	RetryInterval = 1500 * time.Millisecond
	// MaxAttempts bounds how many times a PendingDelivery is retried.
	MaxAttempts = 12
	// MaxDeliveryAge bounds how long a PendingDelivery may live.
	MaxDeliveryAge = 90 * time.Second
)

// Peer is a live or recently live presence in one room.
type Peer struct {
	PeerID          PeerID
	UserID          UserID
	RoomID          RoomID
	Alias           string // "" means unclaimed
	ResumeToken     string
	ResumeExpiresAt time.Time
	Connected       bool
	LastSeenAt      time.Time
}

// ResumeRecord is the ledger row that makes a detached Peer resumable.
type ResumeRecord struct {
	Token     string
	PeerID    PeerID
	UserID    UserID
	RoomID    RoomID
	Alias     string
	ExpiresAt time.Time
}

// PendingDelivery is a signaling message awaiting recipient confirmation.
type PendingDelivery struct {
	DeliveryID  string
	FromPeerID  PeerID
	FromUserID  UserID
	ToPeerID    PeerID
	Payload     json.RawMessage
	SentAt      time.Time
	Attempts    int
	NextRetryAt time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the delivery's deadline has passed as of now.
func (d *PendingDelivery) Expired(now time.Time) bool {
	return !d.ExpiresAt.After(now)
}
