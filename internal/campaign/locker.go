package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/foxzi/outreach/internal/models"
)

// Locker serializes transitions of a single campaign.
// Lock blocks until the key is held or ctx ends; losing the wait yields
// ErrConcurrentModification.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is an in-process keyed mutex
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires the per-key lock
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.ch
				l.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("%w: campaign %s is locked: %v", models.ErrConcurrentModification, key, ctx.Err())
	}
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// releaseScript deletes the lock only when it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockerConfig contains distributed lock settings
type RedisLockerConfig struct {
	Prefix        string
	TTL           time.Duration // lock expiry if the holder dies
	Wait          time.Duration // max time to wait for a held lock
	RetryInterval time.Duration
}

// RedisLocker is a lock shared by every process using the same Redis,
// for running several API instances against one campaign set
type RedisLocker struct {
	client *redis.Client
	cfg    RedisLockerConfig
	logger *slog.Logger
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "outreach:campaign-lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock acquires the distributed lock for key
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.New().String()

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.cfg.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// A lost release holds the key until the TTL expires
					if err := releaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err(); err != nil {
						l.logger.Error("failed to release campaign lock", "key", redisKey, "ttl", l.cfg.TTL, "error", err)
					}
				})
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: campaign %s is locked", models.ErrConcurrentModification, key)
		case <-ticker.C:
		}
	}
}
