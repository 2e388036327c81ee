package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKeyValueStore exercises the behaviour every backend must share.
func testKeyValueStore(t *testing.T, s KeyValueStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "cart:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "cart:a", []byte(`[{"id":1}]`)))
	got, err := s.Get(ctx, "cart:a")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(got))

	require.NoError(t, s.Set(ctx, "cart:a", []byte(`[]`)))
	got, err = s.Get(ctx, "cart:a")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	require.NoError(t, s.Remove(ctx, "cart:a"))
	_, err = s.Get(ctx, "cart:a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Remove(ctx, "cart:never-set"))
}

func TestMemoryStore(t *testing.T) {
	testKeyValueStore(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	testKeyValueStore(t, s)
}

func TestBadgerStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "cart:x", []byte("[]")))
	require.NoError(t, s.Close())

	reopened, err := OpenBadger(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "cart:x")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
}

// setupTestRedis creates a miniredis server and returns a client pointing at it
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisStore(t *testing.T) {
	client, _ := setupTestRedis(t)
	testKeyValueStore(t, NewRedisStore(client, 0, nil))
}

func TestRedisStore_TTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewRedisStore(client, time.Hour, nil)

	require.NoError(t, s.Set(context.Background(), "cart:ttl", []byte("[]")))
	assert.Equal(t, time.Hour, mr.TTL("cart:ttl"))
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func TestRedisStore_WatchSkipsOwnWrites(t *testing.T) {
	client, mr := setupTestRedis(t)
	tabA := NewRedisStore(client, 0, nil)
	tabB := NewRedisStore(client, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen eventLog
	go tabA.Watch(ctx, "cart:s1", seen.add)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(eventChannel("cart:s1"))[eventChannel("cart:s1")] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, tabA.Set(ctx, "cart:s1", []byte(`[1]`)))
	require.NoError(t, tabB.Set(ctx, "cart:s1", []byte(`[2]`)))
	require.NoError(t, tabB.Remove(ctx, "cart:s1"))

	require.Eventually(t, func() bool { return len(seen.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	events := seen.snapshot()
	assert.Equal(t, tabB.Writer(), events[0].Writer)
	assert.Equal(t, "[2]", string(events[0].Value))
	assert.Nil(t, events[1].Value)
}

func TestMemoryStore_WatchSkipsOwnWrites(t *testing.T) {
	backend := NewMemoryBackend()
	tabA, tabB := backend.Tab(), backend.Tab()

	ctx, cancel := context.WithCancel(context.Background())
	var seen eventLog
	done := make(chan struct{})
	go func() {
		tabA.Watch(ctx, "cart:s1", seen.add)
		close(done)
	}()
	require.Eventually(t, func() bool { return backend.Watchers("cart:s1") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, tabA.Set(ctx, "cart:s1", []byte(`[1]`)))
	require.NoError(t, tabB.Set(ctx, "cart:s1", []byte(`[2]`)))
	require.NoError(t, tabB.Set(ctx, "cart:other", []byte(`[3]`)))

	require.NoError(t, tabB.Remove(ctx, "cart:s1"))

	require.Eventually(t, func() bool { return len(seen.snapshot()) == 2 }, time.Second, time.Millisecond)
	events := seen.snapshot()
	assert.Equal(t, "[2]", string(events[0].Value))
	assert.Equal(t, tabB.Writer(), events[0].Writer)
	assert.Nil(t, events[1].Value)

	cancel()
	<-done
	assert.Zero(t, backend.Watchers("cart:s1"))
}

func TestMemoryStore_WritersDoNotWaitForWatchers(t *testing.T) {
	backend := NewMemoryBackend()
	tabA, tabB := backend.Tab(), backend.Tab()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var seen eventLog
	go tabA.Watch(ctx, "cart:s1", func(ev Event) {
		<-release
		seen.add(ev)
	})
	require.Eventually(t, func() bool { return backend.Watchers("cart:s1") == 1 }, time.Second, time.Millisecond)

	// the watcher is stuck in its callback; writes still return
	for i := 0; i < 5; i++ {
		require.NoError(t, tabB.Set(ctx, "cart:s1", []byte(fmt.Sprintf("[%d]", i))))
	}
	close(release)

	require.Eventually(t, func() bool { return len(seen.snapshot()) == 5 }, time.Second, time.Millisecond)
	for i, ev := range seen.snapshot() {
		assert.Equal(t, fmt.Sprintf("[%d]", i), string(ev.Value))
	}
}
