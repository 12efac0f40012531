package repository

import (
	"alcyxob/trainer-console/internal/domain"
	"context"
	"fmt"
)

// Error constants for the repository layer.
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrDeleteFailed = RepositoryError("delete failed")
	ErrDuplicate    = RepositoryError("duplicate row")
)

// RepositoryError helps distinguish repository errors.
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// PartialWriteError reports a multi-document write that failed after some
// earlier rows were already committed. The store offers no multi-statement
// transactions, so there is no rollback; Step names how far the write got so
// the caller can report precisely what happened.
type PartialWriteError struct {
	Step string // e.g. "insert block 2", "recreate exercises"
	Err  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write at %s: %v", e.Step, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// ChangeEvent is one entry from the routine change feed.
type ChangeEvent struct {
	Operation string // "insert" | "update" | "delete"
	RoutineID string
}

// RoutineRepository persists the full routine hierarchy. Writes are ordered
// parent-first and awaited sequentially; a child insert needs the parent's
// identity from the step before it.
type RoutineRepository interface {
	// Create inserts the routine, then every block, exercise and set, in
	// dependency order. Returns the new routine identity. A failure after
	// the first insert is a *PartialWriteError. The argument is never
	// mutated: store-minted identities are only visible through the
	// returned ID and later reads, and a failed create leaves the caller's
	// routine, draft identity included, exactly as passed.
	Create(ctx context.Context, routine *domain.Routine) (string, error)
	// GetByID returns the fully hydrated routine: blocks sorted by order,
	// exercises by display order within block, sets by index. ErrNotFound
	// when absent.
	GetByID(ctx context.Context, id string) (*domain.Routine, error)
	// GetByOwnerID returns all hydrated routines for a user, newest first.
	GetByOwnerID(ctx context.Context, ownerID string) ([]domain.Routine, error)
	// Update replaces the routine wholesale: scalar fields updated, all
	// existing child rows deleted, then recreated from the supplied blocks.
	// Child identities are NOT preserved across an update; the argument
	// itself is never mutated.
	Update(ctx context.Context, routine *domain.Routine) error
	// Delete removes the routine and, best-effort and deepest-first, every
	// set, exercise, block and assignment referencing it. The ownerID must
	// match the stored owner.
	Delete(ctx context.Context, id, ownerID string) error

	// Fine-grained mutators for incremental editing outside a full replace.
	AddExercise(ctx context.Context, exercise *domain.BlockExercise) (string, error)
	UpdateExercise(ctx context.Context, exercise *domain.BlockExercise) error
	RemoveExercise(ctx context.Context, exerciseID string) error

	// Metadata returns id+name pairs for a user's routines, cheap enough to
	// poll for drift detection.
	Metadata(ctx context.Context, ownerID string) ([]domain.RoutineMeta, error)
}

// RoutineWatcher is the optional push channel: a subscribe-by-owner feed of
// routine-table changes. Stores without change-stream support simply don't
// implement it; polling covers the gap.
type RoutineWatcher interface {
	Watch(ctx context.Context, ownerID string) (<-chan ChangeEvent, error)
}

// AssignmentRepository persists trainee↔routine associations.
type AssignmentRepository interface {
	// Create inserts the assignment. Returns ErrDuplicate when the unique
	// (trainee_id, routine_id) index rejects the row.
	Create(ctx context.Context, assignment *domain.TraineeRoutine) (string, error)
	GetByID(ctx context.Context, id string) (*domain.TraineeRoutine, error)
	GetByTraineeID(ctx context.Context, traineeID string) ([]domain.TraineeRoutine, error)
	// ExistsForPair reports whether an assignment already exists for the
	// (trainee, routine) pair.
	ExistsForPair(ctx context.Context, traineeID, routineID string) (bool, error)
	Delete(ctx context.Context, id string) error
	// CountByRoutineIDs groups assignment rows by routine identity for the
	// given routines ("assigned to N students").
	CountByRoutineIDs(ctx context.Context, routineIDs []string) (map[string]int, error)
}

// CatalogRepository is the read contract of the external exercise library.
// Identities returned here are the foreign keys BlockExercise rows carry.
type CatalogRepository interface {
	// Search returns one page of matching exercises plus whether more pages
	// exist. Page is 1-based.
	Search(ctx context.Context, term string, filter domain.CatalogFilter, page int) ([]domain.CatalogExercise, bool, error)
	GetByID(ctx context.Context, id string) (*domain.CatalogExercise, error)
	// CreateCustom is the pass-through for trainer-defined exercises; it is
	// the only write this core issues against the catalog.
	CreateCustom(ctx context.Context, exercise *domain.CatalogExercise) (string, error)
}
