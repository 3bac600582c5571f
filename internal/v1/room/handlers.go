package room

import (
	"context"
	"errors"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/logging"
	"github.com/roomrelay/signaling-server/internal/v1/metrics"
	"github.com/roomrelay/signaling-server/internal/v1/store"
	"github.com/roomrelay/signaling-server/internal/v1/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleAttach implements the Room's attachSocket contract: resume-or-create
// the Peer, supersede any prior socket, (re)claim the requested alias,
// announce presence, and replay anything still waiting for this peer.
func (r *Room) handleAttach(c attachCmd) {
	ctx := r.logCtx()
	now := time.Now()

	var peer *domain.Peer
	if c.resumeToken != "" {
		rec, err := r.store.GetResumeRecord(ctx, c.resumeToken)
		switch {
		case err == nil:
			if rec.UserID == c.identity.UserID && rec.RoomID == r.id {
				if p, ok := r.peers[rec.PeerID]; ok {
					peer = p
				}
				if err := r.store.DeleteResumeRecord(ctx, c.resumeToken); err == nil {
					metrics.ResumeRecordsActive.Dec()
				}
			}
		case errors.Is(err, store.ErrNotFound):
			// No record: the token may still be the current one of a peer
			// whose previous socket has not departed yet, which makes this
			// attach a supersession. Otherwise the token is unknown or
			// already expired: treat as a fresh connect.
			for _, p := range r.peers {
				if p.Connected && p.ResumeToken == c.resumeToken && p.UserID == c.identity.UserID {
					peer = p
					break
				}
			}
		default:
			logging.Error(ctx, "resume lookup failed", append(r.logFields(), zap.Error(err))...)
		}
	}

	wasConnected := peer != nil && peer.Connected

	if peer == nil {
		peer = &domain.Peer{
			PeerID: domain.PeerID(uuid.NewString()),
			UserID: c.identity.UserID,
			RoomID: r.id,
		}
		r.peers[peer.PeerID] = peer
	}

	if old, bound := r.sockets[peer.PeerID]; bound && old != c.socket {
		old.Close(1012, "superseded")
		metrics.PeerEvents.WithLabelValues("superseded").Inc()
	}
	r.sockets[peer.PeerID] = c.socket

	peer.ResumeToken = generateResumeToken()
	peer.ResumeExpiresAt = now.Add(domain.ResumeTTL)
	peer.Connected = true
	peer.LastSeenAt = now

	aliasConflict := false
	if c.identity.Name != "" {
		if _, result := r.tryClaimAlias(peer.PeerID, c.identity.Name); result != aliasClaimed {
			aliasConflict = true
		}
	}

	c.socket.Send(wire.SessionWelcome(
		string(peer.PeerID), string(peer.UserID), string(r.id),
		peer.ResumeToken, peer.ResumeExpiresAt.UnixMilli(),
		r.connectedPeerSummaries(peer.PeerID),
	))

	if aliasConflict {
		c.socket.Send(wire.Error(wire.CodeAliasTaken, "requested alias already claimed", ""))
	}

	if !wasConnected {
		r.broadcastExcept(peer.PeerID, wire.PresenceJoined(r.peerSummary(peer)))
		metrics.ConnectedPeers.Inc()
		metrics.PeerEvents.WithLabelValues("attached").Inc()
	}

	// Refresh the off-actor empty snapshot: a room the Hub is counting down
	// to reap just gained a connected peer.
	r.isEmpty()

	r.replayPending(ctx, peer.PeerID, now)

	if c.resultCh != nil {
		c.resultCh <- attachOutcome{result: AttachResult{
			PeerID:          peer.PeerID,
			ResumeToken:     peer.ResumeToken,
			ResumeExpiresAt: peer.ResumeExpiresAt,
			AliasConflict:   aliasConflict,
		}}
	}
}

// handleMessage dispatches one decoded client frame per the wire protocol.
func (r *Room) handleMessage(peerID domain.PeerID, socket Socket, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		var unsupported *wire.UnsupportedTypeError
		if errors.As(err, &unsupported) {
			socket.Send(wire.Error(wire.CodeUnsupported, err.Error(), ""))
			return
		}
		socket.Send(wire.Error(wire.CodeBadMessage, err.Error(), ""))
		return
	}

	peer, bound := r.peers[peerID]
	if !bound {
		socket.Send(wire.Error(wire.CodeSessionGone, "peer not found", msg.RequestID))
		return
	}
	if cur, ok := r.sockets[peerID]; !ok || cur != socket {
		socket.Send(wire.Error(wire.CodeUnboundSocket, "socket not bound to a peer", msg.RequestID))
		return
	}

	now := time.Now()
	peer.LastSeenAt = now

	switch msg.Type {
	case wire.TypeHeartbeatPing:
		socket.Send(wire.HeartbeatPong(msg.Ts))
	case wire.TypeDiscoveryClaim:
		r.handleDiscoveryClaim(peer, socket, msg)
	case wire.TypeDiscoveryResolve:
		r.handleDiscoveryResolve(socket, msg)
	case wire.TypeSignalSend:
		r.handleSignalSend(r.logCtx(), peer, socket, msg, now)
	case wire.TypeSignalAck:
		r.handleSignalAck(r.logCtx(), peer, msg, now)
	default:
		socket.Send(wire.Error(wire.CodeUnsupported, "unsupported type", msg.RequestID))
	}
}

func (r *Room) handleDiscoveryClaim(peer *domain.Peer, socket Socket, msg *wire.ClientMessage) {
	name, result := r.tryClaimAlias(peer.PeerID, msg.Name)
	switch result {
	case aliasInvalid:
		socket.Send(wire.Error(wire.CodeAliasInvalid, "invalid alias", msg.RequestID))
		return
	case aliasTaken:
		socket.Send(wire.Error(wire.CodeAliasTaken, "alias already claimed", msg.RequestID))
		return
	}
	socket.Send(wire.DiscoveryClaimed(name, string(peer.UserID), msg.RequestID))
	r.broadcastExcept(peer.PeerID, wire.PresenceJoined(r.peerSummary(peer)))
}

func (r *Room) handleDiscoveryResolve(socket Socket, msg *wire.ClientMessage) {
	name, ok := normalizeAlias(msg.Name)
	var peers []wire.PeerSummary
	if ok {
		if ownerID, exists := r.aliases[name]; exists {
			if owner, exists2 := r.peers[ownerID]; exists2 && owner.Connected {
				peers = append(peers, r.peerSummary(owner))
			}
		}
	}
	socket.Send(wire.DiscoveryResolved(name, msg.RequestID, peers))
}

func (r *Room) handleSignalSend(ctx context.Context, peer *domain.Peer, socket Socket, msg *wire.ClientMessage, now time.Time) {
	toPeerID := domain.PeerID(msg.ToPeerID)
	if _, exists := r.peers[toPeerID]; !exists {
		socket.Send(wire.Error(wire.CodeTargetNotFound, "target not found", msg.RequestID))
		return
	}

	deliveryID := msg.DeliveryID
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	d := domain.PendingDelivery{
		DeliveryID:  deliveryID,
		FromPeerID:  peer.PeerID,
		FromUserID:  peer.UserID,
		ToPeerID:    toPeerID,
		Payload:     msg.Payload,
		SentAt:      now,
		NextRetryAt: now.Add(domain.RetryInterval),
		ExpiresAt:   now.Add(domain.MaxDeliveryAge),
	}

	if err := r.store.PutPendingDelivery(ctx, d); err != nil {
		logging.Error(ctx, "put pending delivery failed", append(r.logFields(), zap.Error(err))...)
		socket.Send(wire.Error(wire.CodeStorage, "storage failure", msg.RequestID))
		return
	}

	r.attemptDelivery(&d)
	socket.Send(wire.SignalAcked(deliveryID, string(peer.PeerID), now.UnixMilli()))
	r.scheduleWakeAt(now.Add(domain.RetryInterval))
}

// handleSignalAck looks up the PendingDelivery keyed by (this acking peer,
// deliveryId) — msg.ToPeerID names the original sender, who the Room
// already knows from the stored record's FromPeerID, so it is not read
// here at all: neither as the store lookup key nor as a check.
func (r *Room) handleSignalAck(ctx context.Context, peer *domain.Peer, msg *wire.ClientMessage, now time.Time) {
	d, err := r.store.GetPendingDelivery(ctx, peer.PeerID, msg.DeliveryID)
	if err != nil {
		return
	}
	_ = r.store.DeletePendingDelivery(ctx, peer.PeerID, msg.DeliveryID)

	sender, ok := r.peers[d.FromPeerID]
	if !ok || !sender.Connected {
		return
	}
	if sock, bound := r.sockets[d.FromPeerID]; bound {
		sock.Send(wire.SignalAcked(msg.DeliveryID, string(peer.PeerID), now.UnixMilli()))
	}
}

// handleDepart implements the Room's handleDepart contract for the given
// socket. A stale depart for a socket that was already superseded is a
// no-op, since the current socket's own departure will fire separately.
func (r *Room) handleDepart(peerID domain.PeerID, socket Socket) {
	ctx := r.logCtx()
	now := time.Now()

	if cur, bound := r.sockets[peerID]; !bound || cur != socket {
		return
	}
	delete(r.sockets, peerID)

	peer, ok := r.peers[peerID]
	if !ok || !peer.Connected {
		return
	}

	peer.Connected = false
	peer.LastSeenAt = now
	peer.ResumeExpiresAt = now.Add(domain.ResumeTTL)

	rec := domain.ResumeRecord{
		Token:     peer.ResumeToken,
		PeerID:    peer.PeerID,
		UserID:    peer.UserID,
		RoomID:    r.id,
		Alias:     peer.Alias,
		ExpiresAt: peer.ResumeExpiresAt,
	}
	if err := r.store.PutResumeRecord(ctx, rec); err != nil {
		logging.Error(ctx, "put resume record failed", append(r.logFields(), zap.Error(err))...)
	} else {
		metrics.ResumeRecordsActive.Inc()
	}

	metrics.ConnectedPeers.Dec()
	metrics.PeerEvents.WithLabelValues("departed").Inc()

	r.broadcastExcept(peerID, wire.PresenceLeft(string(peerID), string(peer.UserID)))
	r.scheduleWakeAt(peer.ResumeExpiresAt)
	r.maybeSignalEmpty()
}

// tick runs the maintenance sweep: expire/retry PendingDeliveries, expire
// ResumeRecords (freeing the backing Peer and its alias once one does), and
// re-arm the timer at the new overall minimum wake time.
func (r *Room) tick(now time.Time) {
	ctx := r.logCtx()
	var nextWake time.Time
	track := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if nextWake.IsZero() || t.Before(nextWake) {
			nextWake = t
		}
	}

	pending, err := r.store.ListAllPending(ctx)
	if err != nil {
		logging.Error(ctx, "tick: list pending failed", append(r.logFields(), zap.Error(err))...)
	}
	for _, d := range pending {
		d := d
		if d.Expired(now) {
			_ = r.store.DeletePendingDelivery(ctx, d.ToPeerID, d.DeliveryID)
			metrics.DeliveryOutcomes.WithLabelValues("expired").Inc()
			continue
		}
		if !d.NextRetryAt.After(now) {
			if d.Attempts >= domain.MaxAttempts {
				_ = r.store.DeletePendingDelivery(ctx, d.ToPeerID, d.DeliveryID)
				metrics.DeliveryOutcomes.WithLabelValues("attempts_exhausted").Inc()
				continue
			}
			r.attemptDelivery(&d)
			d.Attempts++
			d.NextRetryAt = now.Add(domain.RetryInterval)
			metrics.DeliveryOutcomes.WithLabelValues("retried").Inc()
			if err := r.store.PutPendingDelivery(ctx, d); err != nil {
				logging.Error(ctx, "tick: re-persist pending delivery failed", append(r.logFields(), zap.Error(err))...)
			}
		}
		track(minTime(d.NextRetryAt, d.ExpiresAt))
	}
	metrics.PendingDeliveries.Set(float64(len(pending)))

	resumes, err := r.store.ListResumeRecords(ctx)
	if err != nil {
		logging.Error(ctx, "tick: list resume records failed", append(r.logFields(), zap.Error(err))...)
	}
	for _, rec := range resumes {
		if !rec.ExpiresAt.After(now) {
			_ = r.store.DeleteResumeRecord(ctx, rec.Token)
			metrics.ResumeRecordsActive.Dec()
			if peer, ok := r.peers[rec.PeerID]; ok && !peer.Connected && peer.ResumeToken == rec.Token {
				if peer.Alias != "" {
					delete(r.aliases, peer.Alias)
				}
				delete(r.peers, rec.PeerID)
			}
			continue
		}
		track(rec.ExpiresAt)
	}

	r.rearmAfterSweep(nextWake)
	r.maybeSignalEmpty()
}

// attemptDelivery sends d to its recipient if currently connected. It
// returns false for an absent/disconnected recipient or a backpressured
// socket; in every false case the caller leaves the record for next tick.
func (r *Room) attemptDelivery(d *domain.PendingDelivery) bool {
	peer, ok := r.peers[d.ToPeerID]
	if !ok || !peer.Connected {
		return false
	}
	sock, bound := r.sockets[d.ToPeerID]
	if !bound {
		return false
	}
	return sock.Send(wire.SignalMessage(d.DeliveryID, string(d.FromPeerID), string(d.FromUserID), string(d.ToPeerID), d.Payload, d.SentAt.UnixMilli()))
}

// replayPending resends every unexpired delivery addressed to peerID, in
// the order the store lists them (insertion order for store.Memory, key
// order for store.Redis), once a socket attaches for it.
func (r *Room) replayPending(ctx context.Context, peerID domain.PeerID, now time.Time) {
	deliveries, err := r.store.ListPendingFor(ctx, peerID)
	if err != nil {
		logging.Error(ctx, "replay pending failed", append(r.logFields(), zap.Error(err))...)
		return
	}
	for _, d := range deliveries {
		d := d
		if d.Expired(now) {
			continue
		}
		r.attemptDelivery(&d)
	}
}

// broadcastExcept sends data to every connected peer in the room other
// than except.
func (r *Room) broadcastExcept(except domain.PeerID, data []byte) {
	for id, peer := range r.peers {
		if id == except || !peer.Connected {
			continue
		}
		if sock, ok := r.sockets[id]; ok {
			sock.Send(data)
		}
	}
}

func (r *Room) peerSummary(p *domain.Peer) wire.PeerSummary {
	var name *string
	if p.Alias != "" {
		alias := p.Alias
		name = &alias
	}
	return wire.PeerSummary{PeerID: string(p.PeerID), UserID: string(p.UserID), RoomID: string(r.id), Name: name}
}

func (r *Room) connectedPeerSummaries(except domain.PeerID) []wire.PeerSummary {
	var out []wire.PeerSummary
	for id, p := range r.peers {
		if id == except || !p.Connected {
			continue
		}
		out = append(out, r.peerSummary(p))
	}
	return out
}

// isEmpty reports whether the room currently has no connected peers. Peers
// only detached (awaiting resume) don't keep a room "occupied" for Hub
// reaping purposes; their own TTL is tracked independently by tick. Must
// only be called from the actor goroutine, since it ranges r.peers; it also
// publishes its result to r.empty so Room.IsEmpty can answer off-actor
// callers without touching the map itself.
func (r *Room) isEmpty() bool {
	empty := true
	for _, p := range r.peers {
		if p.Connected {
			empty = false
			break
		}
	}
	r.empty.Store(empty)
	return empty
}

func (r *Room) maybeSignalEmpty() {
	if r.onEmpty != nil && r.isEmpty() {
		go r.onEmpty(r.id)
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
