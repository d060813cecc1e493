// Package lock serialises work on a single approval session.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// ErrNotObtained is returned when the lock could not be taken before the context expired.
var ErrNotObtained = errors.New("session lock not obtained")

// Locker hands out exclusive locks keyed by an arbitrary string.
type Locker interface {
	Obtain(ctx context.Context, key string) (Unlock, error)
}

// Unlock releases a lock obtained from a Locker.
type Unlock func()

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Obtain blocks until the key is free or ctx is done.
func (l *LocalLocker) Obtain(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.drop(key, e)
		return nil, fmt.Errorf("%w: %v", ErrNotObtained, ctx.Err())
	}
}

func (l *LocalLocker) release(key string, e *entry) {
	<-e.ch
	l.drop(key, e)
}

func (l *LocalLocker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLocker takes the lock in Redis so several replicas serialise on the same session.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker wraps a redislock client. ttl bounds how long a crashed holder blocks others.
func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Obtain retries until the lock is free or ctx is done.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (Unlock, error) {
	lk, err := l.client.Obtain(ctx, "lock:approval-session:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotObtained, ctx.Err())
		}
		return nil, err
	}
	return func() {
		_ = lk.Release(context.Background())
	}, nil
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
