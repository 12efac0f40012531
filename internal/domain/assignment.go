package domain

import "time"

// TraineeRoutine associates a persisted routine with a trainee. At most one
// active assignment may exist per (trainee, routine) pair; the repository
// backs this with a unique index and the service pre-checks before insert.
type TraineeRoutine struct {
	ID         string    `bson:"_id" json:"id"`
	TraineeID  string    `bson:"trainee_id" json:"traineeId"`
	RoutineID  string    `bson:"routine_id" json:"routineId"`
	TrainerID  string    `bson:"trainer_id" json:"trainerId"` // denormalized for trainer-scoped queries
	Notes      string    `bson:"notes,omitempty" json:"notes,omitempty"`
	AssignedOn time.Time `bson:"assigned_on" json:"assignedOn"`
}

// AssignmentView is a TraineeRoutine joined with the routine's display
// fields, for listing on the trainee side. The join happens at the service
// layer, not in the store.
type AssignmentView struct {
	TraineeRoutine
	RoutineName        string `json:"routineName"`
	RoutineDescription string `json:"routineDescription,omitempty"`
}
