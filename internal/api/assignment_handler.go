package api

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"alcyxob/trainer-console/internal/service"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// AssignmentHandler holds the assignment service dependency.
type AssignmentHandler struct {
	assignmentService service.AssignmentService
	routineRepo       repository.RoutineRepository
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(assignmentService service.AssignmentService, routineRepo repository.RoutineRepository) *AssignmentHandler {
	return &AssignmentHandler{
		assignmentService: assignmentService,
		routineRepo:       routineRepo,
	}
}

// --- DTOs for API (Data Transfer Objects) ---

// AssignRoutineRequest assigns a routine to a trainee.
type AssignRoutineRequest struct {
	TraineeID string `json:"traineeId" binding:"required"`
	Notes     string `json:"notes,omitempty"`
}

// AssignmentResponse is the DTO for a single assignment.
type AssignmentResponse struct {
	ID                 string    `json:"id"`
	TraineeID          string    `json:"traineeId"`
	RoutineID          string    `json:"routineId"`
	TrainerID          string    `json:"trainerId"`
	Notes              string    `json:"notes,omitempty"`
	AssignedOn         time.Time `json:"assignedOn"`
	RoutineName        string    `json:"routineName,omitempty"`
	RoutineDescription string    `json:"routineDescription,omitempty"`
}

// MapAssignmentToResponse converts a domain.TraineeRoutine to a DTO.
func MapAssignmentToResponse(a *domain.TraineeRoutine) AssignmentResponse {
	if a == nil {
		return AssignmentResponse{}
	}
	return AssignmentResponse{
		ID:         a.ID,
		TraineeID:  a.TraineeID,
		RoutineID:  a.RoutineID,
		TrainerID:  a.TrainerID,
		Notes:      a.Notes,
		AssignedOn: a.AssignedOn,
	}
}

// MapAssignmentViewsToResponse converts joined assignment views to DTOs.
func MapAssignmentViewsToResponse(views []domain.AssignmentView) []AssignmentResponse {
	responses := make([]AssignmentResponse, len(views))
	for i, v := range views {
		responses[i] = MapAssignmentToResponse(&v.TraineeRoutine)
		responses[i].RoutineName = v.RoutineName
		responses[i].RoutineDescription = v.RoutineDescription
	}
	return responses
}

// --- Handler Methods ---

// AssignRoutine assigns a persisted routine to a trainee on behalf of the
// authenticated trainer.
func (h *AssignmentHandler) AssignRoutine(c *gin.Context) {
	var req AssignRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	trainerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify trainer from token.")
		return
	}

	routine, err := h.routineRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Routine not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to load routine.")
		return
	}

	assignment, err := h.assignmentService.Assign(c.Request.Context(), routine, req.TraineeID, trainerID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyAssigned):
			abortWithError(c, http.StatusConflict, "Routine is already assigned to this trainee.")
		case errors.Is(err, service.ErrRoutineNotSaved):
			abortWithError(c, http.StatusBadRequest, "Routine must be saved before assigning.")
		case errors.Is(err, service.ErrRoutineNotOwned):
			abortWithError(c, http.StatusForbidden, "Routine belongs to another trainer.")
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to assign routine.")
		}
		return
	}

	c.JSON(http.StatusCreated, MapAssignmentToResponse(assignment))
}

// ListTraineeAssignments returns a trainee's assignments with routine
// display fields joined in.
func (h *AssignmentHandler) ListTraineeAssignments(c *gin.Context) {
	views, err := h.assignmentService.ListByTrainee(c.Request.Context(), c.Param("traineeId"))
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to load assignments.")
		return
	}
	c.JSON(http.StatusOK, MapAssignmentViewsToResponse(views))
}

// Unassign deletes one assignment.
func (h *AssignmentHandler) Unassign(c *gin.Context) {
	err := h.assignmentService.Unassign(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAssignmentAbsent) {
			abortWithError(c, http.StatusNotFound, "Assignment not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to unassign routine.")
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignmentCounts returns the assigned-to-N-students figure for every
// routine the authenticated trainer owns.
func (h *AssignmentHandler) AssignmentCounts(c *gin.Context) {
	trainerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify trainer from token.")
		return
	}

	counts, err := h.assignmentService.CountsByTrainer(c.Request.Context(), trainerID)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to load assignment counts.")
		return
	}
	c.JSON(http.StatusOK, counts)
}
