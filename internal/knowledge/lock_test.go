package knowledge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

// exerciseMutualExclusion runs workers that each hold key briefly and
// fails if two ever hold it at once.
func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "dataset:x")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestLocalLocker(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) {
		exerciseMutualExclusion(t, NewLocalLocker())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		l := NewLocalLocker()
		unlockA, err := l.Lock(context.Background(), "a")
		if err != nil {
			t.Fatal(err)
		}
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		if err != nil {
			t.Fatalf("Lock(b) error = %v", err)
		}
		unlockB()
	})

	t.Run("context cancels wait", func(t *testing.T) {
		l := NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "a")
		if err != nil {
			t.Fatal(err)
		}
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := l.Lock(ctx, "a"); err == nil {
			t.Error("expected timeout while key is held")
		}
	})

	t.Run("unlock is idempotent and frees key", func(t *testing.T) {
		l := NewLocalLocker()
		unlock, _ := l.Lock(context.Background(), "a")
		unlock()
		unlock()
		if len(l.keys) != 0 {
			t.Errorf("keys not cleaned up: %d", len(l.keys))
		}
	})
}

func TestRedisLocker(t *testing.T) {
	t.Run("acquire sets owned key and release deletes it", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		l := NewRedisLocker(RedisLockerConfig{Client: client, TTL: time.Second})

		unlock, err := l.Lock(context.Background(), "dataset:x")
		if err != nil {
			t.Fatalf("Lock() error = %v", err)
		}
		if !mr.Exists(redisLockPrefix + "dataset:x") {
			t.Fatal("lock key not set")
		}
		if ttl := mr.TTL(redisLockPrefix + "dataset:x"); ttl <= 0 {
			t.Errorf("lock key has no TTL: %v", ttl)
		}
		unlock()
		if mr.Exists(redisLockPrefix + "dataset:x") {
			t.Error("lock key still present after unlock")
		}
	})

	t.Run("second holder waits until context ends", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		l := NewRedisLocker(RedisLockerConfig{Client: client, RetryInterval: 5 * time.Millisecond})

		unlock, err := l.Lock(context.Background(), "k")
		if err != nil {
			t.Fatal(err)
		}
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if _, err := l.Lock(ctx, "k"); err == nil {
			t.Error("expected second Lock to fail while held")
		}
	})

	t.Run("release does not delete a key owned by another token", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		l := NewRedisLocker(RedisLockerConfig{Client: client})

		unlock, err := l.Lock(context.Background(), "k")
		if err != nil {
			t.Fatal(err)
		}
		// Simulate expiry followed by another process taking the key.
		mr.Set(redisLockPrefix+"k", "someone-else")
		unlock()

		got, err := mr.Get(redisLockPrefix + "k")
		if err != nil || got != "someone-else" {
			t.Errorf("foreign lock was released: %q, %v", got, err)
		}
	})

	t.Run("mutual exclusion", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		exerciseMutualExclusion(t, NewRedisLocker(RedisLockerConfig{Client: client, RetryInterval: time.Millisecond}))
	})

	t.Run("ping", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		l := NewRedisLocker(RedisLockerConfig{Client: client})
		if err := l.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
	})
}
