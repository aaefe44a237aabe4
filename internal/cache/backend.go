package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// keyPrefix namespaces answer entries in shared backends. Compute locks live
// under lockPrefix so Clear never sees them.
const (
	keyPrefix  = "cv:answer:"
	lockPrefix = "cv:lock:"
)

// Backend stores encoded entries by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every answer entry.
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Locker is implemented by backends shared between processes. Locks are
// taken per fingerprint; Lock returns acquired=false when another holder owns it.
type Locker interface {
	Lock(ctx context.Context, fingerprint string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, fingerprint, token string) error
}
