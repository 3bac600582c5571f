package room

import (
	"context"
	"sync"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/logging"
	"github.com/roomrelay/signaling-server/internal/v1/metrics"
	"github.com/roomrelay/signaling-server/internal/v1/store"

	"go.uber.org/zap"
)

// defaultCleanupGrace mirrors the teacher's session.Hub cleanup grace
// period: a reconnect arriving within this window after a room goes empty
// cancels the pending reap rather than racing a brand-new room into being.
const defaultCleanupGrace = 5 * time.Second

// StoreFactory builds the durable Store a newly created Room should own.
// The Hub never touches a Room's store directly; it only hands one over at
// construction time, same division of responsibility as spec §5's "owned
// by the Room actor; no other thread mutates them".
type StoreFactory func(roomID domain.RoomID) store.Store

// Hub is the top-level room registry: it creates Room actors on demand,
// hands callers the Room for a roomId (attach/submit/depart calls then go
// to that Room directly), and reaps rooms that have sat empty past the
// grace period. Grounded on the teacher's
// session.Hub (map[RoomIdType]*Room, mutex, pendingRoomCleanups timers),
// generalized so each Room protects its own state via its actor rather
// than the Hub's mutex ever reaching into Room internals.
type Hub struct {
	mu              sync.Mutex
	rooms           map[domain.RoomID]*Room
	pendingCleanups map[domain.RoomID]*time.Timer
	newStore        StoreFactory
	cleanupGrace    time.Duration
}

// NewHub constructs an empty Hub. newStore is called once per room, the
// first time a peer attaches to it.
func NewHub(newStore StoreFactory) *Hub {
	return &Hub{
		rooms:           make(map[domain.RoomID]*Room),
		pendingCleanups: make(map[domain.RoomID]*time.Timer),
		newStore:        newStore,
		cleanupGrace:    defaultCleanupGrace,
	}
}

// GetOrCreateRoom returns the Room for roomID, creating and registering a
// fresh actor if none exists yet, and cancelling any pending reap timer if
// a reconnect beat the grace period.
func (h *Hub) GetOrCreateRoom(roomID domain.RoomID) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		if timer, pending := h.pendingCleanups[roomID]; pending {
			timer.Stop()
			delete(h.pendingCleanups, roomID)
		}
		return r
	}

	r := NewRoom(roomID, h.newStore(roomID), h.reapAfterGrace)
	h.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	return r
}

// Lookup returns the Room for roomID without creating one.
func (h *Hub) Lookup(roomID domain.RoomID) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// reapAfterGrace is the onEmpty callback a Room invokes when it observes it
// has no connected peers. It schedules (or replaces) a deletion timer
// rather than deleting immediately, so a resume arriving moments later
// doesn't race a freshly-created room into existence for the same id.
func (h *Hub) reapAfterGrace(roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.pendingCleanups[roomID]; ok {
		existing.Stop()
		delete(h.pendingCleanups, roomID)
	}

	h.pendingCleanups[roomID] = time.AfterFunc(h.cleanupGrace, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		r, ok := h.rooms[roomID]
		if !ok {
			delete(h.pendingCleanups, roomID)
			return
		}
		if !r.IsEmpty() {
			delete(h.pendingCleanups, roomID)
			return
		}

		r.Stop()
		delete(h.rooms, roomID)
		delete(h.pendingCleanups, roomID)
		metrics.ActiveRooms.Dec()
		logging.Info(context.Background(), "reaped empty room", zap.String("room_id", string(roomID)))
	})
}

// Shutdown stops every live Room actor, for use during graceful process
// shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, timer := range h.pendingCleanups {
		timer.Stop()
		delete(h.pendingCleanups, id)
	}
	for id, r := range h.rooms {
		r.Stop()
		delete(h.rooms, id)
		metrics.ActiveRooms.Dec()
	}
}

// RoomCount reports how many rooms are currently registered, for health
// checks and tests.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
