package domain

import (
	"strings"
	"time"
)

// DraftIDPrefix marks a routine identity that only exists in the editor and
// has never been persisted. A routine carrying this prefix must never be
// assigned or exported.
const DraftIDPrefix = "draft-"

// LoadUnit is the unit of a set's load value.
type LoadUnit string

const (
	UnitKg         LoadUnit = "kg"
	UnitLb         LoadUnit = "lb"
	UnitBodyweight LoadUnit = "bodyweight"
)

// Routine is a named, ordered program of exercises a trainer authors and can
// assign to trainees. It owns its blocks top-down: deleting a routine implies
// deleting every descendant block, exercise and set.
type Routine struct {
	ID          string    `bson:"_id" json:"id"`
	OwnerID     string    `bson:"owner_id" json:"ownerId"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	CreatedOn   time.Time `bson:"created_on" json:"createdOn"`
	Blocks      []Block   `bson:"-" json:"blocks"` // hydrated from routine_block, not embedded
}

// IsDraft reports whether the routine has an editor-local identity that has
// not been persisted yet.
func (r *Routine) IsDraft() bool {
	return strings.HasPrefix(r.ID, DraftIDPrefix)
}

// Clone returns a deep copy of the routine down to its sets. Mutating the
// copy never reaches the original, so hydrated routines can be shared
// between the cache, the editor and the repositories.
func (r *Routine) Clone() *Routine {
	if r == nil {
		return nil
	}
	out := *r
	out.Blocks = make([]Block, len(r.Blocks))
	for bi, block := range r.Blocks {
		copied := block
		copied.Exercises = make([]BlockExercise, len(block.Exercises))
		for xi, ex := range block.Exercises {
			copiedEx := ex
			copiedEx.Sets = append([]ExerciseSet(nil), ex.Sets...)
			copied.Exercises[xi] = copiedEx
		}
		out.Blocks[bi] = copied
	}
	return &out
}

// Block is a named grouping of exercises within a routine. Order is 1-based
// and unique within the routine; density is not required.
type Block struct {
	ID        string          `bson:"_id" json:"id"`
	RoutineID string          `bson:"routine_id" json:"routineId"`
	Name      string          `bson:"name" json:"name"`
	Order     int             `bson:"block_order" json:"order"`
	Notes     string          `bson:"notes,omitempty" json:"notes,omitempty"`
	Exercises []BlockExercise `bson:"-" json:"exercises"`
}

// BlockExercise is one exercise occurrence within a block. ExerciseID refers
// to a catalog exercise owned outside this core; it is treated as an opaque
// foreign key.
type BlockExercise struct {
	ID            string        `bson:"_id" json:"id"`
	BlockID       string        `bson:"block_id" json:"blockId"`
	ExerciseID    string        `bson:"exercise_id" json:"exerciseId"`
	DisplayOrder  int           `bson:"display_order" json:"displayOrder"`
	SupersetGroup string        `bson:"superset_group,omitempty" json:"supersetGroup,omitempty"`
	Notes         string        `bson:"notes,omitempty" json:"notes,omitempty"`
	Sets          []ExerciseSet `bson:"-" json:"sets"`
}

// ExerciseSet is one prescribed unit of work within a BlockExercise.
// Reps is free-form text so ranges like "8-12" survive round-trips.
type ExerciseSet struct {
	ID              string   `bson:"_id" json:"id"`
	BlockExerciseID string   `bson:"block_exercise_id" json:"blockExerciseId"`
	SetIndex        int      `bson:"set_index" json:"setIndex"`
	Reps            string   `bson:"reps" json:"reps"`
	Load            *float64 `bson:"load_kg,omitempty" json:"load,omitempty"`
	Unit            LoadUnit `bson:"unit,omitempty" json:"unit,omitempty"`
	RestSeconds     *int     `bson:"rest_seconds,omitempty" json:"restSeconds,omitempty"`
	Notes           string   `bson:"notes,omitempty" json:"notes,omitempty"`
}

// RoutineMeta is the lightweight projection used by the sync controller's
// drift check: enough to tell that something changed, cheap to read.
type RoutineMeta struct {
	ID   string `bson:"_id" json:"id"`
	Name string `bson:"name" json:"name"`
}
