package editor

import (
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRoutineRepo is an in-memory RoutineRepository that mimics the store's
// destructive-replace update: children get fresh identities on every write.
type memRoutineRepo struct {
	mu          sync.Mutex
	routines    map[string]*domain.Routine
	nextID      int
	createCalls int
	updateCalls int
	createErr   error
	updateErr   error
}

func newMemRoutineRepo() *memRoutineRepo {
	return &memRoutineRepo{routines: make(map[string]*domain.Routine)}
}

func (m *memRoutineRepo) mint(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// stamp assigns fresh identities to every child row, the way the real store
// recreates the hierarchy on a full write.
func (m *memRoutineRepo) stamp(routine *domain.Routine) {
	for bi := range routine.Blocks {
		block := &routine.Blocks[bi]
		block.ID = m.mint("blk")
		block.RoutineID = routine.ID
		for xi := range block.Exercises {
			ex := &block.Exercises[xi]
			ex.ID = m.mint("bex")
			ex.BlockID = block.ID
			for si := range ex.Sets {
				ex.Sets[si].ID = m.mint("set")
				ex.Sets[si].BlockExerciseID = ex.ID
			}
		}
	}
}

func (m *memRoutineRepo) Create(_ context.Context, routine *domain.Routine) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return "", m.createErr
	}
	stored := *routine
	stored.ID = m.mint("rt")
	m.stamp(&stored)
	m.routines[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memRoutineRepo) GetByID(_ context.Context, id string) (*domain.Routine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routines[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memRoutineRepo) GetByOwnerID(_ context.Context, ownerID string) ([]domain.Routine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Routine
	for _, r := range m.routines {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRoutineRepo) Update(_ context.Context, routine *domain.Routine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.routines[routine.ID]; !ok {
		return repository.ErrNotFound
	}
	stored := *routine
	m.stamp(&stored)
	m.routines[stored.ID] = &stored
	return nil
}

func (m *memRoutineRepo) Delete(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routines, id)
	return nil
}

func (m *memRoutineRepo) AddExercise(context.Context, *domain.BlockExercise) (string, error) {
	return "", nil
}
func (m *memRoutineRepo) UpdateExercise(context.Context, *domain.BlockExercise) error { return nil }
func (m *memRoutineRepo) RemoveExercise(context.Context, string) error                { return nil }

func (m *memRoutineRepo) Metadata(_ context.Context, ownerID string) ([]domain.RoutineMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RoutineMeta
	for _, r := range m.routines {
		if r.OwnerID == ownerID {
			out = append(out, domain.RoutineMeta{ID: r.ID, Name: r.Name})
		}
	}
	return out, nil
}

// fakeCatalog resolves only the identities it was seeded with.
type fakeCatalog struct {
	known    map[string]bool
	getCalls int
}

func newFakeCatalog(ids ...string) *fakeCatalog {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &fakeCatalog{known: known}
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*domain.CatalogExercise, error) {
	f.getCalls++
	if !f.known[id] {
		return nil, repository.ErrNotFound
	}
	return &domain.CatalogExercise{ID: id, Name: "Exercise " + id}, nil
}

func (f *fakeCatalog) Search(context.Context, string, domain.CatalogFilter, int) ([]domain.CatalogExercise, bool, error) {
	return nil, false, nil
}

func (f *fakeCatalog) CreateCustom(context.Context, *domain.CatalogExercise) (string, error) {
	return "", nil
}

type fakeRefresher struct {
	calls  int
	owners []string
	forced []bool
}

func (f *fakeRefresher) Refresh(_ context.Context, ownerID string, force bool) error {
	f.calls++
	f.owners = append(f.owners, ownerID)
	f.forced = append(f.forced, force)
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func newTestEditor(t *testing.T) (*Editor, *memRoutineRepo, *fakeCatalog, *fakeRefresher) {
	t.Helper()
	repo := newMemRoutineRepo()
	catalog := newFakeCatalog("sq-1", "bp-1", "dl-1")
	syncer := &fakeRefresher{}
	return NewEditor(repo, catalog, syncer), repo, catalog, syncer
}

func TestStartNewMintsDraftIdentity(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)

	require.NoError(t, ed.StartNew("trainer-1"))
	assert.Equal(t, StateDrafting, ed.State())

	draft := ed.Draft()
	require.NotNil(t, draft)
	assert.True(t, draft.IsDraft())
	assert.True(t, strings.HasPrefix(draft.ID, domain.DraftIDPrefix))
	assert.Equal(t, "trainer-1", draft.OwnerID)
	require.Len(t, draft.Blocks, 1, "a new draft gets one working block")

	assert.ErrorIs(t, ed.StartNew("trainer-1"), ErrAlreadyDrafting)
}

func TestStartEditHydratesShallowRoutine(t *testing.T) {
	ed, repo, _, _ := newTestEditor(t)

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Push Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "bp-1",
		Sets:       []domain.ExerciseSet{{Reps: "8"}},
	}, false))
	id, err := ed.Commit(context.Background())
	require.NoError(t, err)

	// Reopen from just the identity; the editor must hydrate the rest.
	require.NoError(t, ed.StartEdit(context.Background(), &domain.Routine{ID: id}))
	draft := ed.Draft()
	require.NotNil(t, draft)
	assert.Equal(t, "Push Day", draft.Name)
	require.Len(t, draft.Blocks, 1)
	require.Len(t, draft.Blocks[0].Exercises, 1)
	assert.Equal(t, 1, repo.createCalls)
}

func TestBlankNameFailsValidationWithoutRepositoryCalls(t *testing.T) {
	ed, repo, catalog, syncer := newTestEditor(t)

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	_, err := ed.Commit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")

	assert.Equal(t, 0, repo.createCalls, "an invalid draft never reaches the store")
	assert.Equal(t, 0, catalog.getCalls, "the name check runs before any remote lookup")
	assert.Equal(t, 0, syncer.calls)
	assert.Equal(t, StateDrafting, ed.State(), "the draft survives a failed validation")
}

func TestUnresolvableExerciseFailsValidation(t *testing.T) {
	ed, repo, _, _ := newTestEditor(t)

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "ghost-99",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	_, err := ed.Commit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "blocks[0].exercises[0].exerciseId")
	assert.Equal(t, 0, repo.createCalls)
}

func TestEmptyRepsFailsValidation(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}, {Reps: "  "}},
	}, false))

	_, err := ed.Commit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "blocks[0].exercises[0].sets[1].reps")
}

func TestIdenticalSetsCopyFirstSet(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)
	require.NoError(t, ed.StartNew("trainer-1"))

	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets: []domain.ExerciseSet{
			{Reps: "10", Load: floatPtr(40), Unit: domain.UnitKg, RestSeconds: intPtr(90)},
			{},
			{},
		},
	}, true))

	sets := ed.Draft().Blocks[0].Exercises[0].Sets
	require.Len(t, sets, 3)
	for i, s := range sets {
		assert.Equal(t, i+1, s.SetIndex)
		assert.Equal(t, "10", s.Reps)
		require.NotNil(t, s.Load)
		assert.Equal(t, 40.0, *s.Load)
		assert.Equal(t, domain.UnitKg, s.Unit)
		require.NotNil(t, s.RestSeconds)
		assert.Equal(t, 90, *s.RestSeconds)
	}
}

func TestIdenticalSetsDefaultFromPreviousExercise(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)
	require.NoError(t, ed.StartNew("trainer-1"))

	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets: []domain.ExerciseSet{
			{Reps: "8", Load: floatPtr(60), Unit: domain.UnitKg},
			{Reps: "12", Load: floatPtr(50), Unit: domain.UnitKg},
		},
	}, false))

	// Second exercise with blank sets inherits the previous exercise's
	// LAST set, not its first.
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "bp-1",
		Sets:       []domain.ExerciseSet{{}, {}},
	}, true))

	sets := ed.Draft().Blocks[0].Exercises[1].Sets
	require.Len(t, sets, 2)
	for _, s := range sets {
		assert.Equal(t, "12", s.Reps)
		require.NotNil(t, s.Load)
		assert.Equal(t, 50.0, *s.Load)
	}
}

func TestSetsStayIndependentlyEditable(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)
	require.NoError(t, ed.StartNew("trainer-1"))

	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}, {}, {}},
	}, true))

	sets := ed.Draft().Blocks[0].Exercises[0].Sets
	sets[2].Reps = "6"
	assert.Equal(t, "10", sets[0].Reps)
	assert.Equal(t, "10", sets[1].Reps)
	assert.Equal(t, "6", sets[2].Reps)
}

func TestRemoveExerciseRenumbers(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)
	require.NoError(t, ed.StartNew("trainer-1"))

	for _, id := range []string{"sq-1", "bp-1", "dl-1"} {
		require.NoError(t, ed.AddExercise(domain.BlockExercise{
			ExerciseID: id,
			Sets:       []domain.ExerciseSet{{Reps: "5"}},
		}, false))
	}

	require.NoError(t, ed.RemoveExercise(1))

	exercises := ed.Draft().Blocks[0].Exercises
	require.Len(t, exercises, 2)
	assert.Equal(t, "sq-1", exercises[0].ExerciseID)
	assert.Equal(t, "dl-1", exercises[1].ExerciseID)
	assert.Equal(t, 1, exercises[0].DisplayOrder)
	assert.Equal(t, 2, exercises[1].DisplayOrder)

	assert.ErrorIs(t, ed.RemoveExercise(5), ErrExerciseIndex)
}

func TestCommitRoutesDraftToCreateAndPersistedToUpdate(t *testing.T) {
	ed, repo, _, syncer := newTestEditor(t)
	ctx := context.Background()

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	id, err := ed.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(id, domain.DraftIDPrefix), "commit replaces the draft identity")
	assert.Equal(t, 1, repo.createCalls)
	assert.Equal(t, 0, repo.updateCalls)
	assert.Equal(t, StateIdle, ed.State())
	assert.Nil(t, ed.Draft())
	require.Equal(t, 1, syncer.calls)
	assert.True(t, syncer.forced[0], "a commit always forces the cache refresh")

	// Second commit of the same routine goes through Update.
	require.NoError(t, ed.StartEdit(ctx, &domain.Routine{ID: id}))
	require.NoError(t, ed.SetName("Leg Day v2"))
	id2, err := ed.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "updates keep the routine identity")
	assert.Equal(t, 1, repo.createCalls)
	assert.Equal(t, 1, repo.updateCalls)
}

func TestUpdateReplacesChildIdentities(t *testing.T) {
	ed, repo, _, _ := newTestEditor(t)
	ctx := context.Background()

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))
	id, err := ed.Commit(ctx)
	require.NoError(t, err)

	before, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	beforeExID := before.Blocks[0].Exercises[0].ID

	require.NoError(t, ed.StartEdit(ctx, &domain.Routine{ID: id}))
	_, err = ed.Commit(ctx)
	require.NoError(t, err)

	after, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, beforeExID, after.Blocks[0].Exercises[0].ID,
		"a full write recreates children under new identities")
}

// scribblingRepo overwrites the argument's identity before delegating, the
// way a store that mints IDs in place would.
type scribblingRepo struct {
	*memRoutineRepo
}

func (r *scribblingRepo) Create(ctx context.Context, routine *domain.Routine) (string, error) {
	routine.ID = "rt-scribbled"
	return r.memRoutineRepo.Create(ctx, routine)
}

func TestFailedCreateKeepsDraftIdentity(t *testing.T) {
	base := newMemRoutineRepo()
	ed := NewEditor(&scribblingRepo{memRoutineRepo: base}, newFakeCatalog("sq-1"), nil)
	ctx := context.Background()

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	base.createErr = errors.New("store unreachable")
	_, err := ed.Commit(ctx)
	require.Error(t, err)

	require.NotNil(t, ed.Draft())
	assert.True(t, ed.Draft().IsDraft(),
		"a failed create must leave the draft identity untouched")

	// The retry must re-issue the full create, never route to update.
	base.createErr = nil
	_, err = ed.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, base.createCalls)
	assert.Equal(t, 0, base.updateCalls)
}

func TestStartEditCopiesServedRoutine(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)
	c := cache.NewRoutineCache(nil, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "trainer-1", []domain.Routine{{
		ID: "rt-1", OwnerID: "trainer-1", Name: "Push Day",
		Blocks: []domain.Block{{
			ID: "blk-1", RoutineID: "rt-1", Name: "Workout", Order: 1,
			Exercises: []domain.BlockExercise{
				{ID: "bex-1", BlockID: "blk-1", ExerciseID: "sq-1", DisplayOrder: 1,
					Sets: []domain.ExerciseSet{{ID: "set-1", SetIndex: 1, Reps: "10"}}},
				{ID: "bex-2", BlockID: "blk-1", ExerciseID: "bp-1", DisplayOrder: 2,
					Sets: []domain.ExerciseSet{{ID: "set-2", SetIndex: 1, Reps: "8"}}},
			},
		}},
	}})

	// Open a draft straight over the cache-served hierarchy and edit it.
	served, _, ok := c.Get(ctx, "trainer-1")
	require.True(t, ok)
	require.NoError(t, ed.StartEdit(ctx, &served[0]))
	require.NoError(t, ed.RemoveExercise(0))
	ed.Draft().Blocks[0].Exercises[0].Sets[0].Reps = "5"

	cached, ok := c.Snapshot("trainer-1")
	require.True(t, ok)
	exercises := cached[0].Blocks[0].Exercises
	require.Len(t, exercises, 2, "draft edits must never reach the cached entry")
	assert.Equal(t, "bex-1", exercises[0].ID)
	assert.Equal(t, "bex-2", exercises[1].ID)
	assert.Equal(t, "10", exercises[0].Sets[0].Reps)
	assert.Equal(t, "8", exercises[1].Sets[0].Reps)
}

func TestCommitFailureKeepsDraft(t *testing.T) {
	ed, repo, _, _ := newTestEditor(t)
	repo.createErr = errors.New("store unreachable")

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	_, err := ed.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDrafting, ed.State())
	require.NotNil(t, ed.Draft())
	assert.Equal(t, "Leg Day", ed.Draft().Name)

	// Retry after the store recovers.
	repo.createErr = nil
	_, err = ed.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, ed.State())
}

func TestCommitResultDeliveredToCallback(t *testing.T) {
	ed, repo, _, _ := newTestEditor(t)

	var results []CommitResult
	ed.OnResult(func(r CommitResult) { results = append(results, r) })

	require.NoError(t, ed.StartNew("trainer-1"))
	require.NoError(t, ed.SetName("Leg Day"))
	require.NoError(t, ed.AddExercise(domain.BlockExercise{
		ExerciseID: "sq-1",
		Sets:       []domain.ExerciseSet{{Reps: "10"}},
	}, false))

	repo.createErr = errors.New("store unreachable")
	_, err := ed.Commit(context.Background())
	require.Error(t, err)

	repo.createErr = nil
	id, err := ed.Commit(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2, "every commit outcome is observed, success or not")
	assert.Error(t, results[0].Err)
	assert.Equal(t, id, results[1].RoutineID)
	assert.NoError(t, results[1].Err)
}

func TestOperationsRequireDraft(t *testing.T) {
	ed, _, _, _ := newTestEditor(t)

	assert.ErrorIs(t, ed.SetName("x"), ErrNoDraft)
	assert.ErrorIs(t, ed.AddExercise(domain.BlockExercise{}, false), ErrNoDraft)
	assert.ErrorIs(t, ed.RemoveExercise(0), ErrNoDraft)
	assert.ErrorIs(t, ed.ClearExercises(), ErrNoDraft)
	_, err := ed.Commit(context.Background())
	assert.ErrorIs(t, err, ErrNoDraft)
}
