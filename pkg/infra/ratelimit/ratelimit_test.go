package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/metrics"
	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreakers() *breaker.Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return breaker.NewRegistry(logger, metrics.NewNopSink(), breaker.DefaultConfig())
}

func TestKey_String(t *testing.T) {
	k := Key{Client: "10.0.0.1", Route: "/login", Window: time.Minute}
	assert.Equal(t, "ratelimit:10.0.0.1:/login:60000", k.String())
}

func TestRedisStore_Increment(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	key := Key{Client: "c1", Route: "api", Window: time.Minute}

	mock.ExpectEval(incrementScript, []string{key.String()}, int64(60000)).
		SetVal([]interface{}{int64(3), int64(42000)})

	c, err := store.Increment(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Count)
	assert.Equal(t, 42*time.Second, c.TTL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_IncrementError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	key := Key{Client: "c1", Route: "api", Window: time.Minute}

	mock.ExpectEval(incrementScript, []string{key.String()}, int64(60000)).
		SetErr(errors.New("connection refused"))

	_, err := store.Increment(context.Background(), key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment ratelimit:c1:api:60000")
}

func TestRedisStore_UnexpectedResult(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	key := Key{Client: "c1", Route: "api", Window: time.Second}

	mock.ExpectEval(incrementScript, []string{key.String()}, int64(1000)).SetVal("OK")

	_, err := store.Increment(context.Background(), key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected script result")
}

func TestMemoryStore_WindowResets(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	key := Key{Client: "c1", Route: "api", Window: time.Minute}

	for i := 1; i <= 3; i++ {
		c, err := store.Increment(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, int64(i), c.Count)
	}

	current = current.Add(30 * time.Second)
	c, _ := store.Increment(context.Background(), key)
	assert.Equal(t, int64(4), c.Count)
	assert.Equal(t, 30*time.Second, c.TTL)

	current = current.Add(31 * time.Second)
	c, _ = store.Increment(context.Background(), key)
	assert.Equal(t, int64(1), c.Count)
	assert.Equal(t, time.Minute, c.TTL)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	store.now = func() time.Time { return current }

	_, _ = store.Increment(context.Background(), Key{Client: "a", Route: "r", Window: time.Second})
	_, _ = store.Increment(context.Background(), Key{Client: "b", Route: "r", Window: time.Hour})

	current = current.Add(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Sweep())
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), newBreakers())
	rule := Rule{Name: "login", Route: "/login", Limit: 2, Window: time.Minute}
	ctx := context.Background()

	r, err := limiter.Allow(ctx, "10.0.0.1", rule)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, int64(1), r.Remaining)

	r, _ = limiter.Allow(ctx, "10.0.0.1", rule)
	assert.True(t, r.Allowed)
	assert.Equal(t, int64(0), r.Remaining)

	r, _ = limiter.Allow(ctx, "10.0.0.1", rule)
	assert.False(t, r.Allowed)
	assert.True(t, r.FirstDenied())
	assert.Equal(t, int64(0), r.Remaining)
	assert.Equal(t, int64(2), r.Limit)
	assert.True(t, r.ResetAfter > 0)

	r, _ = limiter.Allow(ctx, "10.0.0.1", rule)
	assert.False(t, r.Allowed)
	assert.False(t, r.FirstDenied())

	r, _ = limiter.Allow(ctx, "10.0.0.2", rule)
	assert.True(t, r.Allowed)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, Key) (Counter, error) {
	return Counter{}, errors.New("redis down")
}

func TestLimiter_StoreErrorAllows(t *testing.T) {
	limiter := NewLimiter(failingStore{}, newBreakers())
	r, err := limiter.Allow(context.Background(), "c", Rule{Route: "r", Limit: 1, Window: time.Second})
	require.Error(t, err)
	assert.True(t, r.Allowed)
}
