// Package store implements the durable keyed stores a Room owns per the
// persisted-state layout: "pending:{toPeerId}:{deliveryId}" -> PendingDelivery
// and "resume:{token}" -> ResumeRecord. It is grounded on the teacher's
// internal/v1/bus.Service, which wraps a redis/go-redis/v9 client behind a
// sony/gobreaker circuit breaker — but where bus degrades gracefully (drop
// and keep serving) when Redis is unavailable, this store must not: a
// storage failure on PutPendingDelivery is specified as fatal to the
// admission that triggered it, so the Redis-backed implementation here
// surfaces breaker-open and write errors to the caller instead of
// swallowing them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrNotFound is returned by Get* when no record exists for the given key.
var ErrNotFound = errors.New("store: not found")

// Store is the durable state a single Room instance owns. Implementations
// must be safe for the Room actor's single-writer goroutine to call
// sequentially; they are not required to be safe for concurrent callers,
// since nothing outside the owning Room ever touches them.
type Store interface {
	PutPendingDelivery(ctx context.Context, d domain.PendingDelivery) error
	GetPendingDelivery(ctx context.Context, toPeerID domain.PeerID, deliveryID string) (*domain.PendingDelivery, error)
	DeletePendingDelivery(ctx context.Context, toPeerID domain.PeerID, deliveryID string) error
	// ListPendingFor returns deliveries addressed to toPeerID in the
	// store's own iteration order: insertion order for Memory, sorted key
	// (deliveryId) order for Redis.
	ListPendingFor(ctx context.Context, toPeerID domain.PeerID) ([]domain.PendingDelivery, error)
	// ListAllPending returns every pending delivery this store holds, for
	// the maintenance tick's expiry/retry sweep.
	ListAllPending(ctx context.Context) ([]domain.PendingDelivery, error)

	PutResumeRecord(ctx context.Context, r domain.ResumeRecord) error
	GetResumeRecord(ctx context.Context, token string) (*domain.ResumeRecord, error)
	DeleteResumeRecord(ctx context.Context, token string) error
	ListResumeRecords(ctx context.Context) ([]domain.ResumeRecord, error)

	Ping(ctx context.Context) error
}

func pendingKey(toPeerID domain.PeerID, deliveryID string) string {
	return fmt.Sprintf("pending:%s:%s", toPeerID, deliveryID)
}

func resumeKey(token string) string {
	return fmt.Sprintf("resume:%s", token)
}

// Memory is an in-process Store backed by ordered maps, used for rooms
// running on a single process with no external durability requirement,
// and as the substrate for tests.
type Memory struct {
	mu      sync.Mutex
	pending map[string]domain.PendingDelivery
	order   []string // insertion order of pending keys, for ListPendingFor/ListAllPending
	resumes map[string]domain.ResumeRecord
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		pending: make(map[string]domain.PendingDelivery),
		resumes: make(map[string]domain.ResumeRecord),
	}
}

func (m *Memory) PutPendingDelivery(_ context.Context, d domain.PendingDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pendingKey(d.ToPeerID, d.DeliveryID)
	if _, exists := m.pending[key]; !exists {
		m.order = append(m.order, key)
	}
	m.pending[key] = d
	return nil
}

func (m *Memory) GetPendingDelivery(_ context.Context, toPeerID domain.PeerID, deliveryID string) (*domain.PendingDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.pending[pendingKey(toPeerID, deliveryID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) DeletePendingDelivery(_ context.Context, toPeerID domain.PeerID, deliveryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pendingKey(toPeerID, deliveryID)
	if _, ok := m.pending[key]; !ok {
		return nil
	}
	delete(m.pending, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) ListPendingFor(_ context.Context, toPeerID domain.PeerID) ([]domain.PendingDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("pending:%s:", toPeerID)
	var out []domain.PendingDelivery
	for _, key := range m.order {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, m.pending[key])
		}
	}
	return out, nil
}

func (m *Memory) ListAllPending(_ context.Context) ([]domain.PendingDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingDelivery, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.pending[key])
	}
	return out, nil
}

func (m *Memory) PutResumeRecord(_ context.Context, r domain.ResumeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes[resumeKey(r.Token)] = r
	return nil
}

func (m *Memory) GetResumeRecord(_ context.Context, token string) (*domain.ResumeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resumes[resumeKey(token)]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) DeleteResumeRecord(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resumes, resumeKey(token))
	return nil
}

func (m *Memory) ListResumeRecords(_ context.Context) ([]domain.ResumeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ResumeRecord, 0, len(m.resumes))
	for _, r := range m.resumes {
		out = append(out, r)
	}
	// Deterministic order for tests and for tick's minimum-expiry scan.
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

// Redis is a Store backed by a shared redis/go-redis/v9 client, namespaced
// by roomID so multiple Room instances can share one Redis deployment. A
// sony/gobreaker circuit breaker wraps every round trip; unlike the
// teacher's bus.Service, Execute errors (including gobreaker.ErrOpenState)
// are returned to the caller rather than swallowed, since callers here
// must treat storage failure as fatal to the operation in progress.
type Redis struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	roomID string
	ttl    time.Duration
}

// NewRedis wraps client for roomID. ttl is the Redis key expiry set on
// every write of a pending delivery or resume record, counted from that
// write rather than from the record's own expiresAt, as a backstop against
// orphaned keys if a room's tick ever stops running.
func NewRedis(client *redis.Client, roomID string, ttl time.Duration) *Redis {
	st := gobreaker.Settings{
		Name:        "store-redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("store-redis").Set(stateVal)
		},
	}
	return &Redis{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		roomID: roomID,
		ttl:    ttl,
	}
}

func (r *Redis) namespaced(key string) string {
	return fmt.Sprintf("room:%s:%s", r.roomID, key)
}

func (r *Redis) setIndex(kind string) string {
	return fmt.Sprintf("room:%s:index:%s", r.roomID, kind)
}

func (r *Redis) execute(fn func() (interface{}, error)) error {
	_, err := r.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("store-redis").Inc()
		}
		return err
	}
	return nil
}

// getRaw fetches the value at key through the breaker. A redis.Nil miss is
// a benign, expected outcome (every duplicate signal.ack does one), not a
// backend failure, so it's surfaced to fn as a successful empty result and
// only translated back to ErrNotFound once outside the breaker's own
// success/failure accounting.
func (r *Redis) getRaw(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var missing bool
	err := r.execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			missing = true
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		data = b
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, ErrNotFound
	}
	return data, nil
}

func (r *Redis) PutPendingDelivery(ctx context.Context, d domain.PendingDelivery) error {
	key := pendingKey(d.ToPeerID, d.DeliveryID)
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("store: marshal pending delivery: %w", err)
	}
	return r.execute(func() (interface{}, error) {
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, r.namespaced(key), data, r.ttl)
		pipe.SAdd(ctx, r.setIndex("pending"), key)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
}

func (r *Redis) GetPendingDelivery(ctx context.Context, toPeerID domain.PeerID, deliveryID string) (*domain.PendingDelivery, error) {
	key := pendingKey(toPeerID, deliveryID)
	data, err := r.getRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var out domain.PendingDelivery
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Redis) DeletePendingDelivery(ctx context.Context, toPeerID domain.PeerID, deliveryID string) error {
	key := pendingKey(toPeerID, deliveryID)
	return r.execute(func() (interface{}, error) {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, r.namespaced(key))
		pipe.SRem(ctx, r.setIndex("pending"), key)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
}

func (r *Redis) listPendingKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.execute(func() (interface{}, error) {
		ks, err := r.client.SMembers(ctx, r.setIndex("pending")).Result()
		keys = ks
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) ListPendingFor(ctx context.Context, toPeerID domain.PeerID) ([]domain.PendingDelivery, error) {
	keys, err := r.listPendingKeys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("pending:%s:", toPeerID)
	var out []domain.PendingDelivery
	for _, key := range keys {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		d, err := r.getByRawKey(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *Redis) ListAllPending(ctx context.Context) ([]domain.PendingDelivery, error) {
	keys, err := r.listPendingKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PendingDelivery, 0, len(keys))
	for _, key := range keys {
		d, err := r.getByRawKey(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *Redis) getByRawKey(ctx context.Context, key string) (*domain.PendingDelivery, error) {
	data, err := r.getRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var out domain.PendingDelivery
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Redis) PutResumeRecord(ctx context.Context, rec domain.ResumeRecord) error {
	key := resumeKey(rec.Token)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal resume record: %w", err)
	}
	return r.execute(func() (interface{}, error) {
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, r.namespaced(key), data, r.ttl)
		pipe.SAdd(ctx, r.setIndex("resume"), key)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
}

func (r *Redis) GetResumeRecord(ctx context.Context, token string) (*domain.ResumeRecord, error) {
	key := resumeKey(token)
	data, err := r.getRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var out domain.ResumeRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Redis) DeleteResumeRecord(ctx context.Context, token string) error {
	key := resumeKey(token)
	return r.execute(func() (interface{}, error) {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, r.namespaced(key))
		pipe.SRem(ctx, r.setIndex("resume"), key)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
}

func (r *Redis) ListResumeRecords(ctx context.Context) ([]domain.ResumeRecord, error) {
	var keys []string
	err := r.execute(func() (interface{}, error) {
		ks, err := r.client.SMembers(ctx, r.setIndex("resume")).Result()
		keys = ks
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	out := make([]domain.ResumeRecord, 0, len(keys))
	for _, key := range keys {
		data, err := r.getRaw(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		var rec domain.ResumeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.execute(func() (interface{}, error) {
		return nil, r.client.Ping(ctx).Err()
	})
}
