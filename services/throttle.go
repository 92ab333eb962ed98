package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kataras/golog"
)

// SyncThrottle limits how often one user's reads trigger calendar reconciliation.
type SyncThrottle interface {
	Allow(ctx context.Context, userID uint) bool
}

// MemoryThrottle is local to one process.
type MemoryThrottle struct {
	mu     sync.Mutex
	window time.Duration
	last   map[uint]time.Time
	now    func() time.Time
}

func NewMemoryThrottle(window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{window: window, last: make(map[uint]time.Time), now: time.Now}
}

func (t *MemoryThrottle) Allow(_ context.Context, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[userID]; ok && now.Sub(last) < t.window {
		return false
	}
	t.last[userID] = now

	// drop stale entries so the map does not grow with every user ever seen
	if len(t.last) > 10000 {
		for id, at := range t.last {
			if now.Sub(at) >= t.window {
				delete(t.last, id)
			}
		}
	}
	return true
}

// RedisThrottle shares the throttle across instances. Redis errors allow the sync.
type RedisThrottle struct {
	client *redis.Client
	window time.Duration
}

func NewRedisThrottle(client *redis.Client, window time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, window: window}
}

func (t *RedisThrottle) Allow(ctx context.Context, userID uint) bool {
	key := fmt.Sprintf("calendar_sync_throttle:%d", userID)
	ok, err := t.client.SetNX(ctx, key, "1", t.window).Result()
	if err != nil {
		golog.Warnf("⚠️ sync throttle unavailable: %v", err)
		return true
	}
	return ok
}
