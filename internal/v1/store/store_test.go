package store

import (
	"context"
	"testing"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery(to domain.PeerID, id string) domain.PendingDelivery {
	now := time.Now()
	return domain.PendingDelivery{
		DeliveryID: id,
		FromPeerID: "sender",
		ToPeerID:   to,
		Payload:    []byte(`{"kind":"offer"}`),
		SentAt:     now,
		ExpiresAt:  now.Add(domain.MaxDeliveryAge),
	}
}

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.PutPendingDelivery(ctx, testDelivery("p1", "d1")))
	require.NoError(t, s.PutPendingDelivery(ctx, testDelivery("p1", "d2")))
	require.NoError(t, s.PutPendingDelivery(ctx, testDelivery("p2", "d3")))

	got, err := s.ListPendingFor(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DeliveryID)
	assert.Equal(t, "d2", got[1].DeliveryID)

	all, err := s.ListAllPending(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := s.GetPendingDelivery(ctx, "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", one.DeliveryID)

	require.NoError(t, s.DeletePendingDelivery(ctx, "p1", "d1"))
	_, err = s.GetPendingDelivery(ctx, "p1", "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := domain.ResumeRecord{Token: "tok1", PeerID: "p1", RoomID: "R", ExpiresAt: time.Now().Add(domain.ResumeTTL)}
	require.NoError(t, s.PutResumeRecord(ctx, rec))

	gotRec, err := s.GetResumeRecord(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("p1"), gotRec.PeerID)

	recs, err := s.ListResumeRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, s.DeleteResumeRecord(ctx, "tok1"))
	_, err = s.GetResumeRecord(ctx, "tok1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestRedisStore_Contract(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "room-1", time.Minute)

	runStoreContract(t, s)
}

func TestRedisStore_Namespacing(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewRedis(client, "room-a", time.Minute)
	b := NewRedis(client, "room-b", time.Minute)

	ctx := context.Background()
	require.NoError(t, a.PutPendingDelivery(ctx, testDelivery("p1", "d1")))

	all, err := b.ListAllPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "room-b must not see room-a's pending deliveries")
}
