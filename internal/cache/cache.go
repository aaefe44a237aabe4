// Package cache stores generated answers keyed by a fingerprint of the
// question, configuration and retrieved chunk set.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"cv-screener/internal/contextutil"
)

// Source is a cited source as returned to clients.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Entry is an immutable cached answer.
type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Answer      string        `json:"answer"`
	Sources     []Source      `json:"sources"`
	Model       string        `json:"model"`
	Violations  []string      `json:"violations,omitempty"`
	Degraded    bool          `json:"degraded,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past CreatedAt+TTL. A zero TTL never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// Outcome says how GetOrCompute produced its entry.
type Outcome int

const (
	// Computed means this caller ran compute.
	Computed Outcome = iota
	// Hit means the entry came from the backend.
	Hit
	// Shared means another in-flight caller computed the entry.
	Shared
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Shared:
		return "shared"
	default:
		return "computed"
	}
}

// ComputeFunc produces an entry on a miss. store=false keeps the entry out
// of the backend, for degraded answers.
type ComputeFunc func(ctx context.Context) (entry *Entry, store bool, err error)

// Stats are counters since the cache was created.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Sets   uint64 `json:"sets"`
	Shared uint64 `json:"shared"`
	Errors uint64 `json:"errors"`
}

// Options configures a Cache.
type Options struct {
	TTL time.Duration
	// LockTTL bounds how long a cross-process compute lock is held.
	LockTTL time.Duration
	// PollInterval is how often a process that lost the lock checks for the value.
	PollInterval time.Duration
}

// Cache implements block-and-share: concurrent callers with one fingerprint
// wait for a single compute and all receive its result. Across processes
// this holds only when the backend implements Locker.
type Cache struct {
	backend Backend
	opts    Options
	group   singleflight.Group
	now     func() time.Time

	hits, misses, sets, shared, errs atomic.Uint64
}

// New creates a Cache over backend.
func New(backend Backend, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Cache{backend: backend, opts: opts, now: time.Now}
}

// Get returns a live entry or ErrMiss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	raw, err := c.backend.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "dropping undecodable cache entry", "fingerprint", fingerprint, "error", err)
		_ = c.backend.Delete(ctx, keyPrefix+fingerprint)
		return nil, ErrMiss
	}
	if entry.Expired(c.now()) {
		_ = c.backend.Delete(ctx, keyPrefix+fingerprint)
		return nil, ErrMiss
	}
	return &entry, nil
}

// Put stores entry under its fingerprint, filling CreatedAt and TTL when unset.
func (c *Cache) Put(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if entry.TTL <= 0 {
		entry.TTL = c.opts.TTL
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.backend.Set(ctx, keyPrefix+entry.Fingerprint, raw, entry.TTL); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	c.sets.Add(1)
	return nil
}

type flightResult struct {
	entry *Entry
	hit   bool
}

// GetOrCompute returns the cached entry for fingerprint, or runs compute
// once for all concurrent callers and stores its result. compute runs
// detached from the leader's cancellation so waiters are not failed by it;
// it must bound its own duration.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (*Entry, Outcome, error) {
	logger := contextutil.LoggerFromContext(ctx)

	entry, err := c.Get(ctx, fingerprint)
	if err == nil {
		c.hits.Add(1)
		return entry, Hit, nil
	}
	if !errors.Is(err, ErrMiss) {
		// A broken cache must not take answers down with it.
		c.errs.Add(1)
		logger.WarnContext(ctx, "cache read failed", "fingerprint", fingerprint, "error", err)
	}

	leader := false
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		leader = true
		return c.fill(context.WithoutCancel(ctx), fingerprint, compute)
	})

	select {
	case <-ctx.Done():
		return nil, Computed, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, Computed, res.Err
		}
		fr := res.Val.(flightResult)
		switch {
		case fr.hit:
			c.hits.Add(1)
			return fr.entry, Hit, nil
		case leader:
			return fr.entry, Computed, nil
		default:
			c.shared.Add(1)
			return fr.entry, Shared, nil
		}
	}
}

// fill runs in the single flight for fingerprint.
func (c *Cache) fill(ctx context.Context, fingerprint string, compute ComputeFunc) (flightResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	// An earlier flight may have stored the value between our read and now.
	if entry, err := c.Get(ctx, fingerprint); err == nil {
		return flightResult{entry: entry, hit: true}, nil
	}

	if locker, ok := c.backend.(Locker); ok {
		token, acquired, err := locker.Lock(ctx, fingerprint, c.opts.LockTTL)
		switch {
		case err != nil:
			c.errs.Add(1)
			logger.WarnContext(ctx, "cache lock failed, computing without it", "fingerprint", fingerprint, "error", err)
		case !acquired:
			if entry, ok := c.waitForValue(ctx, fingerprint); ok {
				return flightResult{entry: entry, hit: true}, nil
			}
			logger.WarnContext(ctx, "cache lock holder produced no value, computing", "fingerprint", fingerprint)
		default:
			defer func() {
				if err := locker.Unlock(ctx, fingerprint, token); err != nil {
					logger.WarnContext(ctx, "cache unlock failed", "fingerprint", fingerprint, "error", err)
				}
			}()
		}
	}

	c.misses.Add(1)
	entry, store, err := compute(ctx)
	if err != nil {
		return flightResult{}, err
	}
	if entry == nil {
		return flightResult{}, fmt.Errorf("compute returned no entry")
	}
	entry.Fingerprint = fingerprint

	if store {
		if err := c.Put(ctx, entry); err != nil {
			c.errs.Add(1)
			logger.WarnContext(ctx, "cache write failed", "fingerprint", fingerprint, "error", err)
		}
	}
	return flightResult{entry: entry}, nil
}

// waitForValue polls until another process stores the value or its lock
// would have expired.
func (c *Cache) waitForValue(ctx context.Context, fingerprint string) (*Entry, bool) {
	deadline := time.NewTimer(c.opts.LockTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
			if entry, err := c.Get(ctx, fingerprint); err == nil {
				return entry, true
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
		Shared: c.shared.Load(),
		Errors: c.errs.Load(),
	}
}

// Clear removes every cached answer.
func (c *Cache) Clear(ctx context.Context) error {
	return c.backend.Clear(ctx)
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
