package natsx

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	"PPLink/tools/clock"

	"github.com/redis/go-redis/v9"
)

// IdemStore remembers message ids for ttl.
type IdemStore interface {
	// SeenOnce records key and reports whether it was already recorded.
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----

type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	clk clock.Clock
}

func NewMemIdem(clk clock.Clock) *MemIdem {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemIdem{m: make(map[string]time.Time), clk: clk}
}

func (mi *MemIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := mi.clk.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// Sweep drops expired keys.
func (mi *MemIdem) Sweep() int {
	now := mi.clk.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	n := 0
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
			n++
		}
	}
	return n
}

// ----- Redis 实现（多实例共享） -----

type RedisIdem struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string) *RedisIdem {
	if prefix == "" {
		prefix = "idem:"
	}
	return &RedisIdem{rdb: rdb, prefix: prefix}
}

func (ri *RedisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// MsgID reads the publisher supplied id; without one it hashes subject and body.
func MsgID(msg Message) string {
	for _, k := range []string{"Nats-Msg-Id", "X-Msg-Id"} {
		if v := msg.Header[k]; v != "" {
			return v
		}
	}
	sum := sha1.Sum(append([]byte(msg.Subject+"|"), msg.Data...))
	return hex.EncodeToString(sum[:])
}

// Idempotent skips messages already seen within ttl. A store failure lets
// the message through.
func Idempotent(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			if seen, err := store.SeenOnce(ctx, MsgID(msg), ttl); err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
