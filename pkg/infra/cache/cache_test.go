package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLMap_Expiry(t *testing.T) {
	m := NewTTLMap[int](time.Minute)
	current := time.Now()
	m.now = func() time.Time { return current }

	m.Set("a", 1)
	m.SetWithTTL("b", 2, time.Hour)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	current = current.Add(2 * time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok)
	v, ok = m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}

func TestTTLMap_UpdateAndPurge(t *testing.T) {
	m := NewTTLMap[int](time.Minute)
	current := time.Now()
	m.now = func() time.Time { return current }

	incr := func(v int, _ bool) int { return v + 1 }
	m.Update("hits", incr)
	assert.Equal(t, 2, m.Update("hits", incr))

	m.Set("stale", 9)
	current = current.Add(2 * time.Minute)
	assert.Equal(t, 1, m.Update("hits", incr))

	assert.Equal(t, 1, m.Purge())
	assert.Equal(t, 1, m.Len())
	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestRedisEventPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisEventPublisher(NewFromRedis(db), BlocklistChannel, "instance-a")
	ev := BlocklistEvent{Subject: "10.0.0.9", Kind: "ip", Reason: "sql_injection"}

	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	envelope, err := json.Marshal(RedisMessage{Type: BlocklistEventBlock, Origin: "instance-a", Event: payload})
	require.NoError(t, err)
	mock.ExpectPublish(string(BlocklistChannel), envelope).SetVal(1)

	require.NoError(t, pub.Publish(context.Background(), BlocklistEventBlock, ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisEventPublisher_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	pub := NewRedisEventPublisher(NewFromRedis(db), BlocklistChannel, "instance-a")
	ev := BlocklistEvent{Subject: "10.0.0.9", Kind: "ip"}

	payload, _ := json.Marshal(ev)
	envelope, _ := json.Marshal(RedisMessage{Type: BlocklistEventUnblock, Origin: "instance-a", Event: payload})
	mock.ExpectPublish(string(BlocklistChannel), envelope).SetErr(errors.New("connection refused"))

	err := pub.Publish(context.Background(), BlocklistEventUnblock, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish unblock event")
}

func TestRedisEventListener_HandleMessage(t *testing.T) {
	logger := logrus.New()
	l := &redisEventListener{logger: logger, channel: BlocklistChannel, origin: "self"}

	var got []BlocklistEvent
	handler := func(_ context.Context, eventType string, ev BlocklistEvent) error {
		assert.Equal(t, BlocklistEventBlock, eventType)
		got = append(got, ev)
		return nil
	}

	encode := func(origin string) string {
		payload, _ := json.Marshal(BlocklistEvent{Subject: "1.1.1.1", Kind: "ip"})
		b, _ := json.Marshal(RedisMessage{Type: BlocklistEventBlock, Origin: origin, Event: payload})
		return string(b)
	}

	l.handleMessage(context.Background(), encode("peer"), handler)
	l.handleMessage(context.Background(), encode("self"), handler)
	l.handleMessage(context.Background(), "{not json", handler)

	require.Len(t, got, 1)
	assert.Equal(t, "1.1.1.1", got[0].Subject)
}
