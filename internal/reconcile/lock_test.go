package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker) {
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "task:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)

	t.Run("other keys do not block", func(t *testing.T) {
		unlock, err := l.Lock(context.Background(), "task:1")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlock2, err := l.Lock(ctx, "task:2")
		require.NoError(t, err)
		unlock2()
	})

	t.Run("waiting honours the context", func(t *testing.T) {
		unlock, err := l.Lock(context.Background(), "task:3")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "task:3")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	exerciseLocker(t, l)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.slots, "released keys must not linger")
}

func TestLocalLocker_DropsSlots(t *testing.T) {
	l := NewLocalLocker()
	slots := func() int {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.slots)
	}

	for i := 0; i < 100; i++ {
		unlock, err := l.Lock(context.Background(), fmt.Sprintf("task:%d", i))
		require.NoError(t, err)
		unlock()
		unlock()
	}
	assert.Zero(t, slots())

	unlock, err := l.Lock(context.Background(), "task:1")
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		u, err := l.Lock(context.Background(), "task:1")
		if err == nil {
			u()
		}
		waited <- err
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "task:1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, slots(), "holder and waiter share one slot")

	unlock()
	require.NoError(t, <-waited)
	assert.Zero(t, slots())
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLocker(client, time.Minute)
	exerciseLocker(t, l)

	unlock, err := l.Lock(context.Background(), "task:9")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:task:9"))
	unlock()
	assert.False(t, mr.Exists("lock:task:9"))
}
