package sync

import (
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoutineRepo implements repository.RoutineRepository with call counts,
// an injectable failure, and a gate to hold reads open for coalescing tests.
type fakeRoutineRepo struct {
	mu        sync.Mutex
	routines  map[string][]domain.Routine
	loadErr   error
	gate      chan struct{} // when non-nil, GetByOwnerID blocks until closed
	loadCalls atomic.Int32
	metaCalls atomic.Int32
}

func newFakeRoutineRepo() *fakeRoutineRepo {
	return &fakeRoutineRepo{routines: make(map[string][]domain.Routine)}
}

func (f *fakeRoutineRepo) setRoutines(ownerID string, routines []domain.Routine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routines[ownerID] = routines
}

func (f *fakeRoutineRepo) GetByOwnerID(ctx context.Context, ownerID string) ([]domain.Routine, error) {
	f.loadCalls.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.routines[ownerID], nil
}

func (f *fakeRoutineRepo) Metadata(_ context.Context, ownerID string) ([]domain.RoutineMeta, error) {
	f.metaCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	metas := make([]domain.RoutineMeta, 0, len(f.routines[ownerID]))
	for _, r := range f.routines[ownerID] {
		metas = append(metas, domain.RoutineMeta{ID: r.ID, Name: r.Name})
	}
	return metas, nil
}

func (f *fakeRoutineRepo) Create(context.Context, *domain.Routine) (string, error) { return "", nil }
func (f *fakeRoutineRepo) GetByID(context.Context, string) (*domain.Routine, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRoutineRepo) Update(context.Context, *domain.Routine) error  { return nil }
func (f *fakeRoutineRepo) Delete(context.Context, string, string) error   { return nil }
func (f *fakeRoutineRepo) AddExercise(context.Context, *domain.BlockExercise) (string, error) {
	return "", nil
}
func (f *fakeRoutineRepo) UpdateExercise(context.Context, *domain.BlockExercise) error { return nil }
func (f *fakeRoutineRepo) RemoveExercise(context.Context, string) error                { return nil }

func ownerRoutines() []domain.Routine {
	return []domain.Routine{
		{ID: "r-1", OwnerID: "owner-1", Name: "Push Day", Blocks: []domain.Block{}},
		{ID: "r-2", OwnerID: "owner-1", Name: "Pull Day", Blocks: []domain.Block{}},
	}
}

func TestRefreshPopulatesCache(t *testing.T) {
	repo := newFakeRoutineRepo()
	repo.setRoutines("owner-1", ownerRoutines())
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)

	require.NoError(t, ctrl.Refresh(context.Background(), "owner-1", false))

	got, fresh, ok := c.Get(context.Background(), "owner-1")
	require.True(t, ok)
	assert.True(t, fresh)
	assert.Equal(t, ownerRoutines(), got)
	assert.Equal(t, int32(1), repo.loadCalls.Load())
}

func TestRefreshSkipsWhenCacheFresh(t *testing.T) {
	repo := newFakeRoutineRepo()
	repo.setRoutines("owner-1", ownerRoutines())
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	require.NoError(t, ctrl.Refresh(ctx, "owner-1", false))
	require.NoError(t, ctrl.Refresh(ctx, "owner-1", false))
	assert.Equal(t, int32(1), repo.loadCalls.Load(), "fresh cache should skip the remote read")

	require.NoError(t, ctrl.Refresh(ctx, "owner-1", true))
	assert.Equal(t, int32(2), repo.loadCalls.Load(), "force always reads")
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	repo := newFakeRoutineRepo()
	repo.setRoutines("owner-1", ownerRoutines())
	gate := make(chan struct{})
	repo.gate = gate
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	// Leader starts and blocks inside the remote read.
	errs := make(chan error, 5)
	go func() { errs <- ctrl.Refresh(ctx, "owner-1", true) }()
	require.Eventually(t, func() bool { return repo.loadCalls.Load() == 1 }, time.Second, time.Millisecond)

	// Followers arrive while the leader is in flight.
	for i := 0; i < 4; i++ {
		go func() { errs <- ctrl.Refresh(ctx, "owner-1", true) }()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 5; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), repo.loadCalls.Load(), "followers must attach to the in-flight read")

	got, _, ok := c.Get(ctx, "owner-1")
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestRefreshSurvivesLeaderCancellation(t *testing.T) {
	repo := newFakeRoutineRepo()
	repo.setRoutines("owner-1", ownerRoutines())
	gate := make(chan struct{})
	repo.gate = gate
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() { leaderErr <- ctrl.Refresh(leaderCtx, "owner-1", true) }()
	require.Eventually(t, func() bool { return repo.loadCalls.Load() == 1 }, time.Second, time.Millisecond)

	followerErr := make(chan error, 1)
	go func() { followerErr <- ctrl.Refresh(context.Background(), "owner-1", true) }()

	// The leader's request dies mid-read. The shared read runs detached, so
	// the follower still gets its result.
	cancelLeader()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	require.NoError(t, <-leaderErr)
	require.NoError(t, <-followerErr)
	assert.Equal(t, int32(1), repo.loadCalls.Load())

	got, ok := c.Snapshot("owner-1")
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestRefreshFailureLeavesCacheUntouched(t *testing.T) {
	repo := newFakeRoutineRepo()
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	previous := ownerRoutines()
	c.Set(ctx, "owner-1", previous)

	repo.mu.Lock()
	repo.loadErr = errors.New("store unreachable")
	repo.mu.Unlock()

	err := ctrl.Refresh(ctx, "owner-1", true)
	require.Error(t, err)

	got, ok := c.Snapshot("owner-1")
	require.True(t, ok)
	assert.Equal(t, previous, got, "a failed refresh must not partially apply")
}

func TestCheckDriftMismatchForcesRefresh(t *testing.T) {
	repo := newFakeRoutineRepo()
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	// Cache believes in two routines; the remote has a third, written by
	// another process.
	c.Set(ctx, "owner-1", ownerRoutines())
	remote := append(ownerRoutines(), domain.Routine{ID: "r-3", OwnerID: "owner-1", Name: "Ai Day", Blocks: []domain.Block{}})
	repo.setRoutines("owner-1", remote)

	drifted, err := ctrl.CheckDrift(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, drifted)

	got, ok := c.Snapshot("owner-1")
	require.True(t, ok)
	assert.Equal(t, remote, got)
}

func TestCheckDriftRenameDetected(t *testing.T) {
	repo := newFakeRoutineRepo()
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	c.Set(ctx, "owner-1", ownerRoutines())
	renamed := ownerRoutines()
	renamed[0].Name = "Push Day v2"
	repo.setRoutines("owner-1", renamed)

	drifted, err := ctrl.CheckDrift(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, drifted)
}

func TestCheckDriftMatchDoesNotRefresh(t *testing.T) {
	repo := newFakeRoutineRepo()
	routines := ownerRoutines()
	repo.setRoutines("owner-1", routines)
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	c.Set(ctx, "owner-1", routines)

	drifted, err := ctrl.CheckDrift(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, drifted)
	assert.Equal(t, int32(1), repo.metaCalls.Load())
	assert.Equal(t, int32(0), repo.loadCalls.Load(), "a metadata match needs no full read")
}

// countingStore counts persisted-tier writes; drift-check ticks that find
// nothing changed must not produce any.
type countingStore struct {
	mu    sync.Mutex
	saves int
}

func (s *countingStore) Load(context.Context, string) ([]domain.Routine, time.Time, error) {
	return nil, time.Time{}, cache.ErrMiss
}

func (s *countingStore) Save(context.Context, string, []domain.Routine, time.Time) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *countingStore) Delete(context.Context, string) error { return nil }

func (s *countingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestCheckDriftMatchSkipsPersistedTier(t *testing.T) {
	repo := newFakeRoutineRepo()
	routines := ownerRoutines()
	repo.setRoutines("owner-1", routines)
	store := &countingStore{}
	c := cache.NewRoutineCache(store, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)
	ctx := context.Background()

	c.Set(ctx, "owner-1", routines)
	require.Equal(t, 1, store.saveCount())

	// Three clean poll ticks: memory gets restamped, Redis stays quiet.
	for i := 0; i < 3; i++ {
		drifted, err := ctrl.CheckDrift(ctx, "owner-1")
		require.NoError(t, err)
		require.False(t, drifted)
	}
	assert.Equal(t, 1, store.saveCount(), "a matching drift check writes nothing downstream")
	assert.True(t, c.Fresh("owner-1"))
}

func TestCheckDriftWithEmptyCacheRefreshes(t *testing.T) {
	repo := newFakeRoutineRepo()
	repo.setRoutines("owner-1", ownerRoutines())
	c := cache.NewRoutineCache(nil, time.Minute)
	ctrl := NewController(repo, nil, c, time.Second)

	drifted, err := ctrl.CheckDrift(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.False(t, drifted)

	_, ok := c.Snapshot("owner-1")
	assert.True(t, ok, "an empty cache gets populated instead of drift-compared")
}
