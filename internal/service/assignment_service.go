package service

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
)

// --- Error Definitions ---
var (
	ErrRoutineNotSaved  = errors.New("routine must be saved before it can be assigned")
	ErrRoutineNotFound  = errors.New("routine not found")
	ErrRoutineNotOwned  = errors.New("routine does not belong to this trainer")
	ErrAlreadyAssigned  = errors.New("routine is already assigned to this trainee")
	ErrAssignmentAbsent = errors.New("assignment not found")
)

// AssignmentService associates persisted routines with trainees, enforcing
// at most one active assignment per (trainee, routine) pair.
type AssignmentService interface {
	Assign(ctx context.Context, routine *domain.Routine, traineeID, trainerID, notes string) (*domain.TraineeRoutine, error)
	ListByTrainee(ctx context.Context, traineeID string) ([]domain.AssignmentView, error)
	Unassign(ctx context.Context, assignmentID string) error
	// CountsByTrainer returns routineID → assignment count for every routine
	// the trainer owns. Read-only aggregation.
	CountsByTrainer(ctx context.Context, trainerID string) (map[string]int, error)
}

type assignmentService struct {
	assignmentRepo repository.AssignmentRepository
	routineRepo    repository.RoutineRepository
}

// NewAssignmentService creates a new assignmentService.
func NewAssignmentService(assignmentRepo repository.AssignmentRepository, routineRepo repository.RoutineRepository) AssignmentService {
	return &assignmentService{
		assignmentRepo: assignmentRepo,
		routineRepo:    routineRepo,
	}
}

// Assign links a routine to a trainee. Drafts are rejected outright — a
// routine that was never committed has no remote identity to reference.
// The friendly existence pre-check handles the common duplicate case; the
// store's unique pair index catches the race the check cannot.
func (s *assignmentService) Assign(ctx context.Context, routine *domain.Routine, traineeID, trainerID, notes string) (*domain.TraineeRoutine, error) {
	if routine == nil || routine.ID == "" || traineeID == "" || trainerID == "" {
		return nil, errors.New("routine, trainee ID and trainer ID are required")
	}
	if routine.IsDraft() {
		return nil, ErrRoutineNotSaved
	}
	if routine.OwnerID != "" && routine.OwnerID != trainerID {
		return nil, ErrRoutineNotOwned
	}

	exists, err := s.assignmentRepo.ExistsForPair(ctx, traineeID, routine.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyAssigned
	}

	assignment := &domain.TraineeRoutine{
		TraineeID: traineeID,
		RoutineID: routine.ID,
		TrainerID: trainerID,
		Notes:     notes,
	}
	assignmentID, err := s.assignmentRepo.Create(ctx, assignment)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyAssigned
		}
		return nil, err
	}
	assignment.ID = assignmentID
	return assignment, nil
}

// ListByTrainee returns a trainee's assignments with routine name and
// description joined in for display. The join runs here, per assignment,
// rather than in the store; assignments whose routine disappeared are
// skipped instead of failing the whole list.
func (s *assignmentService) ListByTrainee(ctx context.Context, traineeID string) ([]domain.AssignmentView, error) {
	if traineeID == "" {
		return nil, errors.New("trainee ID is required")
	}

	assignments, err := s.assignmentRepo.GetByTraineeID(ctx, traineeID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.AssignmentView, 0, len(assignments))
	for _, a := range assignments {
		routine, err := s.routineRepo.GetByID(ctx, a.RoutineID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue // routine deleted out-of-band; its assignment is dangling
			}
			return nil, err
		}
		views = append(views, domain.AssignmentView{
			TraineeRoutine:     a,
			RoutineName:        routine.Name,
			RoutineDescription: routine.Description,
		})
	}
	return views, nil
}

// Unassign deletes a single assignment.
func (s *assignmentService) Unassign(ctx context.Context, assignmentID string) error {
	if assignmentID == "" {
		return errors.New("assignment ID is required")
	}
	err := s.assignmentRepo.Delete(ctx, assignmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAssignmentAbsent
	}
	return err
}

// CountsByTrainer computes the "assigned to N students" figure per routine,
// scoped to routines the trainer owns.
func (s *assignmentService) CountsByTrainer(ctx context.Context, trainerID string) (map[string]int, error) {
	if trainerID == "" {
		return nil, errors.New("trainer ID is required")
	}

	metas, err := s.routineRepo.Metadata(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	routineIDs := make([]string, len(metas))
	for i, m := range metas {
		routineIDs[i] = m.ID
	}
	return s.assignmentRepo.CountByRoutineIDs(ctx, routineIDs)
}
