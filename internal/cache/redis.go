package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/auction/config"
)

// releaseScript deletes the lease only while it still holds our token so an
// expired lease re-acquired by another replica is left alone
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short leases so only one replica runs a job at a time.
// When Redis is disabled every Acquire succeeds.
type Locker struct {
	client  *redis.Client
	enabled bool

	mu     sync.Mutex
	tokens map[string]string
}

// NewLocker connects to Redis when it is enabled
func NewLocker(cfg config.RedisConfig) (*Locker, error) {
	if !cfg.Enabled {
		return &Locker{enabled: false, tokens: make(map[string]string)}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &Locker{client: client, enabled: true, tokens: make(map[string]string)}, nil
}

// Acquire takes the lease on key for ttl. It reports false when another
// holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !l.enabled {
		return true, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, LeaseKey(key), token, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire lease %s", key)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

// Release gives the lease on key back if we still hold it
func (l *Locker) Release(ctx context.Context, key string) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{LeaseKey(key)}, token).Err(); err != nil && err != redis.Nil {
		return errors.Wrapf(err, "failed to release lease %s", key)
	}
	return nil
}

// LeaseKey namespaces a lease name
func LeaseKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

// Close closes the Redis connection
func (l *Locker) Close() error {
	if !l.enabled || l.client == nil {
		return nil
	}
	return l.client.Close()
}
