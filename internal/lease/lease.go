// Package lease grants short named leases so that only one gateway replica runs
// a maintenance job at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken over.
var ErrNotHeld = errors.New("lease: not held")

// Locker hands out named leases.
type Locker interface {
	// Acquire returns ok=false when another holder owns the name.
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error)
}

// Lease is a held lease. Release is safe to call more than once.
type Lease struct {
	Name  string
	Token string

	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

// Release gives up the lease if it is still held by this token.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker stores leases as SET NX PX keys.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker constructs a RedisLocker. Keys are namespaced by prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "gateway:lease:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if r == nil || r.client == nil {
		return nil, false, errors.New("lease: nil redis client")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease: invalid ttl %s", ttl)
	}
	key := r.prefix + name
	token := uuid.NewString()
	ok, errSet := r.client.SetNX(ctx, key, token, ttl).Result()
	if errSet != nil {
		return nil, false, fmt.Errorf("lease: acquire %s: %w", name, errSet)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{
		Name:  name,
		Token: token,
		release: func(ctx context.Context) error {
			deleted, errRun := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
			if errRun != nil {
				return fmt.Errorf("lease: release %s: %w", name, errRun)
			}
			if deleted == 0 {
				return ErrNotHeld
			}
			return nil
		},
	}, true, nil
}

// LocalLocker grants leases within a single process.
type LocalLocker struct {
	mu     sync.Mutex
	held   map[string]localEntry
	nowFun func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker constructs an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held:   make(map[string]localEntry),
		nowFun: time.Now,
	}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil {
		return nil, false, errors.New("lease: nil local locker")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease: invalid ttl %s", ttl)
	}
	now := l.nowFun()

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[name]; ok && now.Before(entry.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[name] = localEntry{token: token, expires: now.Add(ttl)}

	return &Lease{
		Name:  name,
		Token: token,
		release: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			entry, ok := l.held[name]
			if !ok || entry.token != token {
				return ErrNotHeld
			}
			delete(l.held, name)
			return nil
		},
	}, true, nil
}
