package proxypool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steam-sessions/internal/throttle"
)

func newTestPool(cooldown time.Duration) (*Pool, *throttle.Throttle) {
	th := throttle.New(throttle.NewMemoryStore(nil), throttle.Options{
		Cooldown:     cooldown,
		PollInterval: 2 * time.Millisecond,
	})
	return New(th), th
}

func TestNormalizeList(t *testing.T) {
	got := NormalizeList([]string{" http://a:1/ ", "", "http://a:1", "socks5://b:2", "http://a:1/"})
	assert.Equal(t, []string{"http://a:1", "socks5://b:2"}, got)
}

func TestSetProxiesIgnoresEmptyList(t *testing.T) {
	pool, _ := newTestPool(time.Second)
	pool.SetProxies([]string{"http://a:1", "http://b:2"})
	pool.SetProxies(nil)
	assert.Equal(t, 2, pool.Count())
}

func TestAcquireEmptyPoolReturnsImmediately(t *testing.T) {
	pool, _ := newTestPool(time.Hour)
	id, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestAcquireRoundRobinSkipsThrottled(t *testing.T) {
	ctx := context.Background()
	pool, th := newTestPool(time.Hour)
	pool.SetProxies([]string{"http://a:1", "http://b:2", "http://c:3"})

	require.NoError(t, th.Throttle(ctx, "http://b:2", time.Hour))

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx)
	require.NoError(t, err)

	assert.Equal(t, "http://a:1", first)
	assert.Equal(t, "http://c:3", second)
	assert.True(t, th.IsThrottled(ctx, first))
	assert.True(t, th.IsThrottled(ctx, second))
}

func TestStaleSearchDoesNotMoveCursorOfNewList(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(time.Hour)
	pool.SetProxies([]string{"http://a:1", "http://b:2", "http://c:3"})

	pool.mu.Lock()
	staleGen := pool.gen
	pool.mu.Unlock()

	pool.SetProxies([]string{"http://x:1", "http://y:2"})
	pool.advance(staleGen, 0, 3)

	id, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://x:1", id)
}

func TestAcquireWaitsWhenAllThrottled(t *testing.T) {
	ctx := context.Background()
	pool, th := newTestPool(30 * time.Millisecond)
	pool.SetProxies([]string{"http://a:1"})

	_, err := pool.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	id, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://a:1", id)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, th.IsThrottled(ctx, id))

	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(short)
	assert.Error(t, err)
}

func TestAcquireNeverHandsOutSameProxyTwiceInCooldown(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(time.Hour)
	pool.SetProxies([]string{"http://a:1", "http://b:2", "http://c:3", "http://d:4"})

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := pool.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			seen[id]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, 4)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "proxy %s handed out %d times", id, n)
	}
}
