// Package cache holds the per-user routine snapshots the UI renders from.
// It is the only state shared across the editor, the sync controller and
// reads; everything else goes back to the remote store.
package cache

import (
	"alcyxob/trainer-console/internal/domain"
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrMiss is returned by a Store when no entry exists for the owner.
var ErrMiss = errors.New("cache miss")

// DefaultTTL is the freshness window after which a hit is served stale and a
// background refresh is scheduled.
const DefaultTTL = 5 * time.Minute

// Store is the persisted cache tier. It survives process restarts; the
// in-memory tier does not.
type Store interface {
	Load(ctx context.Context, ownerID string) ([]domain.Routine, time.Time, error)
	Save(ctx context.Context, ownerID string, routines []domain.Routine, stamp time.Time) error
	Delete(ctx context.Context, ownerID string) error
}

type entry struct {
	routines []domain.Routine
	stamp    time.Time
}

// RoutineCache is a two-tier, keyed, timestamped snapshot of each user's
// routines. Reads check memory first, then the persisted store; a persisted
// hit repopulates memory and fires the revalidate hook without blocking the
// caller. Entries past the TTL are still returned (stale-while-revalidate)
// with fresh=false.
type RoutineCache struct {
	mu           sync.RWMutex
	mem          map[string]entry
	store        Store // may be nil: memory-only operation
	ttl          time.Duration
	onRevalidate func(ownerID string)
	now          func() time.Time
}

// NewRoutineCache creates a cache over the given persisted store. A nil
// store means memory-only. ttl <= 0 selects DefaultTTL.
func NewRoutineCache(store Store, ttl time.Duration) *RoutineCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RoutineCache{
		mem:   make(map[string]entry),
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// OnRevalidate registers the hook fired when a read needs a background
// freshness check. The sync controller wires its coalesced Refresh here.
func (c *RoutineCache) OnRevalidate(fn func(ownerID string)) {
	c.mu.Lock()
	c.onRevalidate = fn
	c.mu.Unlock()
}

// Get returns the cached routine list for an owner. fresh reports whether
// the entry is within the TTL; ok reports whether any entry was found at
// all. Stale persisted-tier reads and stale memory hits both schedule a
// revalidation; neither blocks.
func (c *RoutineCache) Get(ctx context.Context, ownerID string) (routines []domain.Routine, fresh bool, ok bool) {
	c.mu.RLock()
	e, hit := c.mem[ownerID]
	c.mu.RUnlock()

	if hit {
		fresh = c.now().Sub(e.stamp) <= c.ttl
		if !fresh {
			c.scheduleRevalidate(ownerID)
		}
		return e.routines, fresh, true
	}

	if c.store == nil {
		return nil, false, false
	}

	routines, stamp, err := c.store.Load(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Printf("WARN: cache store read for %s failed: %v", ownerID, err)
		}
		return nil, false, false
	}

	c.mu.Lock()
	c.mem[ownerID] = entry{routines: routines, stamp: stamp}
	c.mu.Unlock()

	// A persisted hit may be arbitrarily old relative to remote state, so it
	// always triggers a background freshness check.
	c.scheduleRevalidate(ownerID)
	return routines, c.now().Sub(stamp) <= c.ttl, true
}

// Set replaces an owner's entry wholesale and stamps it with the current
// time. Persisted-tier failures are logged and never surfaced; the memory
// tier is authoritative for the running process.
func (c *RoutineCache) Set(ctx context.Context, ownerID string, routines []domain.Routine) {
	stamp := c.now()
	c.mu.Lock()
	c.mem[ownerID] = entry{routines: routines, stamp: stamp}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(ctx, ownerID, routines, stamp); err != nil {
			log.Printf("WARN: cache store write for %s failed: %v", ownerID, err)
		}
	}
}

// Invalidate drops an owner's entry from both tiers.
func (c *RoutineCache) Invalidate(ctx context.Context, ownerID string) {
	c.mu.Lock()
	delete(c.mem, ownerID)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, ownerID); err != nil {
			log.Printf("WARN: cache store delete for %s failed: %v", ownerID, err)
		}
	}
}

// Restamp marks an owner's memory entry as verified just now, without
// rewriting the persisted tier. The drift check calls this on every clean
// poll tick, so a store write here would be one Redis SET per owner per
// tick for data that has not changed.
func (c *RoutineCache) Restamp(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.mem[ownerID]; ok {
		e.stamp = c.now()
		c.mem[ownerID] = e
	}
}

// Fresh reports whether a memory-tier entry exists and is within the TTL.
// No side effects; the sync controller uses it to decide whether a
// non-forced refresh can be skipped.
func (c *RoutineCache) Fresh(ownerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.mem[ownerID]
	return ok && c.now().Sub(e.stamp) <= c.ttl
}

// Snapshot returns the memory-tier entry without touching the persisted
// tier or scheduling revalidation. Used by the drift check, which must not
// re-trigger itself.
func (c *RoutineCache) Snapshot(ownerID string) ([]domain.Routine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.mem[ownerID]
	return e.routines, ok
}

func (c *RoutineCache) scheduleRevalidate(ownerID string) {
	c.mu.RLock()
	fn := c.onRevalidate
	c.mu.RUnlock()
	if fn != nil {
		go fn(ownerID)
	}
}
