// Package room implements the Room State Machine: the per-room authority
// that owns peer sessions, the alias registry, pending deliveries with
// retry, resume records, and timer-driven maintenance. Per Design Note §9,
// a Room serializes every state mutation through a bounded-capacity inbound
// command channel consumed by one goroutine — this generalizes the
// teacher's mutex-guarded internal/v1/session.Room (locks taken per-call)
// into a true single-writer actor, since no runtime primitive here enforces
// per-instance serialization the way the teacher's sync.RWMutex does.
package room

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/logging"
	"github.com/roomrelay/signaling-server/internal/v1/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// commandQueueCapacity bounds the Room's inbound command channel per
// Design Note §9's "bounded-capacity inbound command channel".
const commandQueueCapacity = 256

// ErrRoomClosed is returned by the public entry points once Stop has run.
var ErrRoomClosed = errors.New("room: closed")

// JoinIdentity is the trusted identity a Front Door hands to AttachSocket
// after verifying a join token: the claims the token carried, decoupled
// from the token package's wire format so Room has no dependency on how
// the token was signed.
type JoinIdentity struct {
	UserID domain.UserID
	Name   string
}

// AttachResult is returned to the Front Door once a socket is attached.
type AttachResult struct {
	PeerID          domain.PeerID
	ResumeToken     string
	ResumeExpiresAt time.Time
	AliasConflict   bool
}

type command interface{ isCommand() }

type attachCmd struct {
	identity    JoinIdentity
	socket      Socket
	resumeToken string
	resultCh    chan attachOutcome
}

func (attachCmd) isCommand() {}

type attachOutcome struct {
	result AttachResult
}

type messageCmd struct {
	peerID domain.PeerID
	socket Socket
	raw    []byte
}

func (messageCmd) isCommand() {}

type departCmd struct {
	peerID domain.PeerID
	socket Socket
}

func (departCmd) isCommand() {}

type tickCmd struct{ now time.Time }

func (tickCmd) isCommand() {}

// syncCmd is a test-only barrier: processing it is a no-op beyond closing
// doneCh, so waiting on doneCh proves every command enqueued before it has
// been applied.
type syncCmd struct{ doneCh chan struct{} }

func (syncCmd) isCommand() {}

// Room is the single-writer actor owning one room's Peer, Alias, Delivery,
// and Resume tables. All state access happens inside run(), executed by
// exactly one goroutine started by NewRoom.
type Room struct {
	id    domain.RoomID
	store store.Store

	cmd     chan command
	stopCh  chan struct{}
	stopped bool

	peers   map[domain.PeerID]*domain.Peer
	aliases map[string]domain.PeerID
	sockets map[domain.PeerID]Socket

	timer    *time.Timer
	nextWake time.Time

	onEmpty func(domain.RoomID)

	// empty mirrors isEmpty()'s result for any goroutine outside the actor
	// (namely the Hub's reap timer) to read without touching r.peers, which
	// only the actor goroutine may access. Written by the actor, read
	// atomically by anyone.
	empty atomic.Bool
}

// NewRoom constructs a Room and starts its actor goroutine. onEmpty, if
// non-nil, is invoked (off the actor goroutine) whenever tick or depart
// observes the room has no connected peers left (detached peers awaiting
// resume do not count), so a Hub can reap it.
func NewRoom(id domain.RoomID, st store.Store, onEmpty func(domain.RoomID)) *Room {
	r := &Room{
		id:      id,
		store:   st,
		cmd:     make(chan command, commandQueueCapacity),
		stopCh:  make(chan struct{}),
		peers:   make(map[domain.PeerID]*domain.Peer),
		aliases: make(map[string]domain.PeerID),
		sockets: make(map[domain.PeerID]Socket),
		onEmpty: onEmpty,
	}
	r.empty.Store(true)
	go r.run()
	return r
}

// IsEmpty reports whether the room last observed itself with no connected
// peers. Safe to call from any goroutine: it reads an atomic snapshot the
// actor maintains, never r.peers itself, which only the actor goroutine may
// touch.
func (r *Room) IsEmpty() bool { return r.empty.Load() }

// ID returns the room identifier.
func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) run() {
	for {
		select {
		case c := <-r.cmd:
			switch v := c.(type) {
			case attachCmd:
				r.handleAttach(v)
			case messageCmd:
				r.handleMessage(v.peerID, v.socket, v.raw)
			case departCmd:
				r.handleDepart(v.peerID, v.socket)
			case tickCmd:
				r.tick(v.now)
			case syncCmd:
				close(v.doneCh)
			}
		case <-r.stopCh:
			if r.timer != nil {
				r.timer.Stop()
			}
			return
		}
	}
}

// Stop shuts the Room's actor goroutine down. Queued commands are
// discarded; callers already blocked in AttachSocket observe ErrRoomClosed.
func (r *Room) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}

// AttachSocket is the Front Door's entry point for a verified WebSocket
// upgrade. It blocks until the Room actor has processed the attach or ctx
// is cancelled.
func (r *Room) AttachSocket(ctx context.Context, identity JoinIdentity, socket Socket, resumeToken string) (*AttachResult, error) {
	resultCh := make(chan attachOutcome, 1)
	select {
	case r.cmd <- attachCmd{identity: identity, socket: socket, resumeToken: resumeToken, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopCh:
		return nil, ErrRoomClosed
	}

	select {
	case out := <-resultCh:
		return &out.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopCh:
		return nil, ErrRoomClosed
	}
}

// Submit hands a decoded-on-arrival raw frame to the Room actor for
// dispatch. socket is carried alongside so handlers can reply even if the
// peer turns out to be unbound.
func (r *Room) Submit(peerID domain.PeerID, socket Socket, raw []byte) {
	select {
	case r.cmd <- messageCmd{peerID: peerID, socket: socket, raw: raw}:
	case <-r.stopCh:
	}
}

// flush blocks until every command enqueued before this call has been
// applied by the actor goroutine. It exists for deterministic tests of the
// fire-and-forget Submit/Depart entry points, which otherwise race the
// actor loop.
func (r *Room) flush() {
	done := make(chan struct{})
	select {
	case r.cmd <- syncCmd{doneCh: done}:
	case <-r.stopCh:
		return
	}
	select {
	case <-done:
	case <-r.stopCh:
	}
}

// Depart reports that socket (the one currently or formerly attached for
// peerID) closed or errored.
func (r *Room) Depart(peerID domain.PeerID, socket Socket) {
	select {
	case r.cmd <- departCmd{peerID: peerID, socket: socket}:
	case <-r.stopCh:
	}
}

// generateResumeToken mints an unpredictable, cryptographically random
// bearer token per Design Note §9 ("Resume token as capability").
func generateResumeToken() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; a uuid fallback keeps this total without panicking.
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

// scheduleWakeAt arms (or tightens) the maintenance timer so tick runs no
// later than at, per Design Note §9's timer-coalescing scheme: one "next
// wake" value per room, re-armed to the minimum on every mutation.
func (r *Room) scheduleWakeAt(at time.Time) {
	if at.IsZero() {
		return
	}
	if !r.nextWake.IsZero() && !at.Before(r.nextWake) {
		return
	}
	r.armTimer(at)
}

// rearmAfterSweep replaces the timer with one for exactly min (or cancels
// it if min is zero), called once tick has recomputed the true minimum
// across all surviving pending deliveries and resume records.
func (r *Room) rearmAfterSweep(min time.Time) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.nextWake = time.Time{}
	if !min.IsZero() {
		r.armTimer(min)
	}
}

func (r *Room) armTimer(at time.Time) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.nextWake = at
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	r.timer = time.AfterFunc(d, func() {
		select {
		case r.cmd <- tickCmd{now: time.Now()}:
		case <-r.stopCh:
		}
	})
}

func (r *Room) logFields() []zap.Field {
	return []zap.Field{zap.String("room_id", string(r.id))}
}

func (r *Room) logCtx() context.Context {
	return context.WithValue(context.Background(), logging.RoomIDKey, string(r.id))
}
