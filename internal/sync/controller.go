// Package sync reconciles the local routine cache with the remote store.
// The remote can change out-of-band (another process or an AI agent writing
// rows directly), so the cache is never trusted for long: explicit refresh,
// polling, and an optional change feed all funnel into one coalesced
// refresh path.
package sync

import (
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"log"
	"sync"
	"time"
)

// DefaultPollInterval is the fallback poll cadence used when the change feed
// is unavailable (it stays on even when the feed works; feeds are not
// guaranteed delivery in every transport).
const DefaultPollInterval = 5 * time.Second

// remoteReadTimeout bounds the shared remote read behind a coalesced
// refresh. The read serves every attached caller, so it cannot run on any
// single caller's context.
const remoteReadTimeout = 30 * time.Second

// refreshHandle is one in-flight refresh. Followers wait on done and read
// err afterwards; err is written exactly once, before done is closed.
type refreshHandle struct {
	done chan struct{}
	err  error
}

// Controller keeps the cache coherent with the remote store. All triggers —
// explicit user action, poll tick, visibility regain, change-feed event,
// stale-cache revalidation — go through Refresh, which de-duplicates
// concurrent calls per owner.
type Controller struct {
	repo    repository.RoutineRepository
	watcher repository.RoutineWatcher // nil when the transport has no feed
	cache   *cache.RoutineCache
	poll    time.Duration

	mu       sync.Mutex
	inflight map[string]*refreshHandle
	baseCtx  context.Context // lifetime of background loops, set by Start
	running  map[string]struct{}
}

// NewController wires a controller over the repository and cache, and hooks
// the cache's revalidation callback to the drift check.
func NewController(repo repository.RoutineRepository, watcher repository.RoutineWatcher, c *cache.RoutineCache, poll time.Duration) *Controller {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctrl := &Controller{
		repo:     repo,
		watcher:  watcher,
		cache:    c,
		poll:     poll,
		inflight: make(map[string]*refreshHandle),
		running:  make(map[string]struct{}),
	}
	c.OnRevalidate(func(ownerID string) {
		ctrl.Revalidate(context.Background(), ownerID)
	})
	return ctrl
}

// Refresh reloads an owner's routines from the remote store into the cache.
// When force is false and the cache is still fresh, nothing happens.
// Concurrent calls for the same owner coalesce: one remote read runs, every
// caller gets its result. A failed refresh leaves the previous cache
// untouched — there are no partial applications.
func (ctrl *Controller) Refresh(ctx context.Context, ownerID string, force bool) error {
	if !force && ctrl.cache.Fresh(ownerID) {
		return nil
	}

	ctrl.mu.Lock()
	if h, ok := ctrl.inflight[ownerID]; ok {
		ctrl.mu.Unlock()
		select {
		case <-h.done:
			return h.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := &refreshHandle{done: make(chan struct{})}
	ctrl.inflight[ownerID] = h
	ctrl.mu.Unlock()

	// Detached context: a leader whose request dies mid-read must not fail
	// the followers attached to this handle.
	readCtx, cancelRead := context.WithTimeout(context.Background(), remoteReadTimeout)
	routines, err := ctrl.repo.GetByOwnerID(readCtx, ownerID)
	if err == nil {
		ctrl.cache.Set(readCtx, ownerID, routines)
	}
	cancelRead()

	h.err = err
	close(h.done)

	ctrl.mu.Lock()
	delete(ctrl.inflight, ownerID)
	ctrl.mu.Unlock()

	return err
}

// CheckDrift compares the cached snapshot against a lightweight remote
// metadata read. Any mismatch in count, identity or name means another
// writer touched the routines, and a forced refresh follows. A match
// restamps the cache: the snapshot was just verified against the remote.
func (ctrl *Controller) CheckDrift(ctx context.Context, ownerID string) (bool, error) {
	cached, ok := ctrl.cache.Snapshot(ownerID)
	if !ok {
		// Nothing cached; an ordinary refresh will populate it.
		return false, ctrl.Refresh(ctx, ownerID, false)
	}

	metas, err := ctrl.repo.Metadata(ctx, ownerID)
	if err != nil {
		return false, err
	}

	if !ctrl.matches(cached, metas) {
		return true, ctrl.Refresh(ctx, ownerID, true)
	}

	ctrl.cache.Restamp(ownerID)
	return false, nil
}

// matches reports whether cached routines line up with remote metadata.
// Both sides are ordered newest-first, so a positional compare suffices.
func (ctrl *Controller) matches(cached []domain.Routine, metas []domain.RoutineMeta) bool {
	if len(cached) != len(metas) {
		return false
	}
	for i := range metas {
		if cached[i].ID != metas[i].ID || cached[i].Name != metas[i].Name {
			return false
		}
	}
	return true
}

// Revalidate is the background freshness check behind stale cache hits.
// Failures are logged and retried on the next trigger, never surfaced.
func (ctrl *Controller) Revalidate(ctx context.Context, ownerID string) {
	drifted, err := ctrl.CheckDrift(ctx, ownerID)
	if err != nil {
		log.Printf("WARN: revalidation for %s failed: %v", ownerID, err)
		return
	}
	if drifted {
		log.Printf("Cache drift detected for %s, refreshed", ownerID)
	}
}

// Start records the lifetime context for background loops started lazily
// via EnsureRunning. Call once before serving.
func (ctrl *Controller) Start(ctx context.Context) {
	ctrl.mu.Lock()
	ctrl.baseCtx = ctx
	ctrl.mu.Unlock()
}

// EnsureRunning starts the background loop for an owner the first time that
// owner shows up; later calls are no-ops. Owners are only known as they
// authenticate, so the loops cannot be started up front.
func (ctrl *Controller) EnsureRunning(ownerID string) {
	ctrl.mu.Lock()
	if _, ok := ctrl.running[ownerID]; ok {
		ctrl.mu.Unlock()
		return
	}
	ctrl.running[ownerID] = struct{}{}
	ctx := ctrl.baseCtx
	ctrl.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	go ctrl.Run(ctx, ownerID)
}

// Run drives the background triggers for one owner until ctx is cancelled:
// the poll ticker (drift check each tick) and, when the transport supports
// it, the change feed (forced refresh per event). Both funnel into the same
// coalesced Refresh, so overlap between them is safe by construction.
func (ctrl *Controller) Run(ctx context.Context, ownerID string) {
	var events <-chan repository.ChangeEvent
	if ctrl.watcher != nil {
		ch, err := ctrl.watcher.Watch(ctx, ownerID)
		if err != nil {
			log.Printf("WARN: change feed unavailable for %s, polling only: %v", ownerID, err)
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(ctrl.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Revalidate(ctx, ownerID)
		case event, open := <-events:
			if !open {
				// Feed dropped; the ticker keeps covering us.
				events = nil
				continue
			}
			if err := ctrl.Refresh(ctx, ownerID, true); err != nil {
				log.Printf("WARN: refresh after %s event for %s failed: %v", event.Operation, ownerID, err)
			}
		}
	}
}
