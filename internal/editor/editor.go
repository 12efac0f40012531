// Package editor holds the in-memory draft of a routine under edit and the
// single commit path that replaces the remote hierarchy.
package editor

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// State is the editor lifecycle: Idle → Drafting → Saving → {Idle, Drafting}.
type State int

const (
	StateIdle State = iota
	StateDrafting
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrafting:
		return "drafting"
	case StateSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// --- Error Definitions ---
var (
	ErrNoDraft          = errors.New("no draft in progress")
	ErrAlreadyDrafting  = errors.New("a draft is already in progress")
	ErrCommitInProgress = errors.New("a commit is already in progress")
	ErrExerciseIndex    = errors.New("exercise index out of range")
)

// ValidationError reports pre-commit draft violations per field. A draft
// that fails validation never reaches the repository.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// CommitResult is delivered on the result callback after every commit,
// whether or not the caller that issued it is still around to look.
type CommitResult struct {
	RoutineID string
	Err       error
}

// Refresher is the slice of the sync controller the editor needs.
type Refresher interface {
	Refresh(ctx context.Context, ownerID string, force bool) error
}

// Editor is the routine draft state machine. A draft routine carries a
// reserved draft- identity until its first successful commit; such a
// routine must never be assigned or exported. An Editor models a single
// authoring session and is not safe for concurrent use.
type Editor struct {
	repo     repository.RoutineRepository
	catalog  repository.CatalogRepository
	syncer   Refresher
	state    State
	draft    *domain.Routine
	onResult func(CommitResult)
}

// NewEditor creates an idle editor.
func NewEditor(repo repository.RoutineRepository, catalog repository.CatalogRepository, syncer Refresher) *Editor {
	return &Editor{
		repo:    repo,
		catalog: catalog,
		syncer:  syncer,
		state:   StateIdle,
	}
}

// OnResult registers a callback that receives every commit outcome. It
// outlives any single caller, so a commit whose initiator navigated away is
// still observed rather than silently dropped.
func (e *Editor) OnResult(fn func(CommitResult)) {
	e.onResult = fn
}

// State returns the current lifecycle state.
func (e *Editor) State() State {
	return e.state
}

// Draft returns the current draft, or nil when idle.
func (e *Editor) Draft() *domain.Routine {
	return e.draft
}

// StartNew opens a fresh draft with a locally generated draft identity and
// one implicit working block.
func (e *Editor) StartNew(ownerID string) error {
	if e.state == StateSaving {
		return ErrCommitInProgress
	}
	if e.state == StateDrafting {
		return ErrAlreadyDrafting
	}

	e.draft = &domain.Routine{
		ID:      domain.DraftIDPrefix + uuid.NewString(),
		OwnerID: ownerID,
		Blocks: []domain.Block{
			{Name: "Workout", Order: 1, Exercises: []domain.BlockExercise{}},
		},
	}
	e.state = StateDrafting
	return nil
}

// StartEdit opens a draft over an existing routine. A shallow routine (no
// hydrated blocks) is loaded in full from the repository first.
func (e *Editor) StartEdit(ctx context.Context, routine *domain.Routine) error {
	if e.state == StateSaving {
		return ErrCommitInProgress
	}
	if e.state == StateDrafting {
		return ErrAlreadyDrafting
	}
	if routine == nil || routine.ID == "" {
		return errors.New("an existing routine is required")
	}

	if len(routine.Blocks) == 0 {
		hydrated, err := e.repo.GetByID(ctx, routine.ID)
		if err != nil {
			return err
		}
		routine = hydrated
	}

	// Deep copy: the routine may be served straight from the cache, and
	// draft edits must never reach a shared hierarchy.
	draft := routine.Clone()
	if len(draft.Blocks) == 0 {
		draft.Blocks = []domain.Block{{Name: "Workout", Order: 1, Exercises: []domain.BlockExercise{}}}
	}
	e.draft = draft
	e.state = StateDrafting
	return nil
}

// SetName updates the draft's name.
func (e *Editor) SetName(name string) error {
	if e.state != StateDrafting {
		return ErrNoDraft
	}
	e.draft.Name = name
	return nil
}

// SetDescription updates the draft's description.
func (e *Editor) SetDescription(text string) error {
	if e.state != StateDrafting {
		return ErrNoDraft
	}
	e.draft.Description = text
	return nil
}

// AddExercise appends a BlockExercise with its sets to the draft's working
// block. In identical-sets mode every set copies the first one's values
// (reps, load, unit, rest), defaulting that template from the previous
// exercise's last set when the first set is blank; each set stays
// independently editable afterwards. Identity fields on the argument are
// ignored; the repository mints them at commit.
func (e *Editor) AddExercise(exercise domain.BlockExercise, identicalSets bool) error {
	if e.state != StateDrafting {
		return ErrNoDraft
	}

	block := &e.draft.Blocks[0]
	sets := exercise.Sets

	if identicalSets && len(sets) > 0 {
		template := sets[0]
		if template.Reps == "" {
			if prior := e.lastSetOfPreviousExercise(); prior != nil {
				template = *prior
			}
		}
		for i := range sets {
			sets[i].Reps = template.Reps
			sets[i].Load = template.Load
			sets[i].Unit = template.Unit
			sets[i].RestSeconds = template.RestSeconds
		}
	}
	for i := range sets {
		sets[i].SetIndex = i + 1
	}

	block.Exercises = append(block.Exercises, domain.BlockExercise{
		ExerciseID:    exercise.ExerciseID,
		DisplayOrder:  len(block.Exercises) + 1,
		SupersetGroup: exercise.SupersetGroup,
		Notes:         exercise.Notes,
		Sets:          sets,
	})
	return nil
}

// ClearExercises empties the working block, for an update that replaces the
// routine's content wholesale.
func (e *Editor) ClearExercises() error {
	if e.state != StateDrafting {
		return ErrNoDraft
	}
	e.draft.Blocks[0].Exercises = []domain.BlockExercise{}
	return nil
}

func (e *Editor) lastSetOfPreviousExercise() *domain.ExerciseSet {
	exercises := e.draft.Blocks[0].Exercises
	for i := len(exercises) - 1; i >= 0; i-- {
		if n := len(exercises[i].Sets); n > 0 {
			return &exercises[i].Sets[n-1]
		}
	}
	return nil
}

// RemoveExercise drops the exercise at the given index from the working
// block and renumbers the remainder.
func (e *Editor) RemoveExercise(index int) error {
	if e.state != StateDrafting {
		return ErrNoDraft
	}
	block := &e.draft.Blocks[0]
	if index < 0 || index >= len(block.Exercises) {
		return ErrExerciseIndex
	}
	block.Exercises = append(block.Exercises[:index], block.Exercises[index+1:]...)
	for i := range block.Exercises {
		block.Exercises[i].DisplayOrder = i + 1
	}
	return nil
}

// validate runs the pre-commit checks: non-blank name, resolvable catalog
// reference per exercise, non-empty reps per set. The name check needs no
// I/O and runs first, so a blank-name draft costs zero remote calls.
func (e *Editor) validate(ctx context.Context) *ValidationError {
	fields := make(map[string]string)

	if strings.TrimSpace(e.draft.Name) == "" {
		fields["name"] = "routine name must not be empty"
		return &ValidationError{Fields: fields}
	}

	for bi, block := range e.draft.Blocks {
		for xi, ex := range block.Exercises {
			field := fmt.Sprintf("blocks[%d].exercises[%d]", bi, xi)
			if ex.ExerciseID == "" {
				fields[field+".exerciseId"] = "exercise reference is required"
			} else if e.catalog != nil {
				if _, err := e.catalog.GetByID(ctx, ex.ExerciseID); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						fields[field+".exerciseId"] = "exercise not found in catalog"
					} else {
						fields[field+".exerciseId"] = "exercise could not be verified"
					}
				}
			}
			for si, set := range ex.Sets {
				if strings.TrimSpace(set.Reps) == "" {
					fields[fmt.Sprintf("%s.sets[%d].reps", field, si)] = "reps must not be empty"
				}
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Commit validates the draft and replaces the remote hierarchy: a draft
// identity routes to Create, a persisted one to Update. Success clears the
// draft, forces a cache refresh and returns to Idle. Failure keeps the
// draft intact in Drafting so no work is lost; the caller may simply retry.
func (e *Editor) Commit(ctx context.Context) (string, error) {
	if e.state == StateSaving {
		return "", ErrCommitInProgress
	}
	if e.state != StateDrafting {
		return "", ErrNoDraft
	}

	if verr := e.validate(ctx); verr != nil {
		return "", verr
	}

	e.state = StateSaving
	draft := e.draft

	// The store gets a copy; the draft and its identity stay intact until
	// the outcome is known, so a failed create retries as a create.
	var routineID string
	var err error
	if draft.IsDraft() {
		routineID, err = e.repo.Create(ctx, draft.Clone())
	} else {
		routineID = draft.ID
		err = e.repo.Update(ctx, draft.Clone())
	}

	if err != nil {
		// Remote hierarchy may hold a partial routine now; the draft stays
		// so a retry re-issues the full write.
		e.state = StateDrafting
		e.emit(CommitResult{Err: err})
		return "", err
	}

	ownerID := draft.OwnerID
	e.draft = nil
	e.state = StateIdle

	if e.syncer != nil {
		if rerr := e.syncer.Refresh(ctx, ownerID, true); rerr != nil {
			log.Printf("WARN: post-commit refresh for %s failed: %v", ownerID, rerr)
		}
	}

	e.emit(CommitResult{RoutineID: routineID})
	return routineID, nil
}

func (e *Editor) emit(result CommitResult) {
	if e.onResult != nil {
		e.onResult(result)
	}
}
