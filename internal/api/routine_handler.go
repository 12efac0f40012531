package api

import (
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/editor"
	"alcyxob/trainer-console/internal/repository"
	routinesync "alcyxob/trainer-console/internal/sync"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RoutineHandler exposes the authoring engine over HTTP. Reads come from the
// cache (through the sync controller); saves go through a per-request editor
// so validation and commit semantics match the in-process flow.
type RoutineHandler struct {
	repo        repository.RoutineRepository
	catalogRepo repository.CatalogRepository
	cache       *cache.RoutineCache
	controller  *routinesync.Controller
}

// NewRoutineHandler creates a new RoutineHandler.
func NewRoutineHandler(
	repo repository.RoutineRepository,
	catalogRepo repository.CatalogRepository,
	routineCache *cache.RoutineCache,
	controller *routinesync.Controller,
) *RoutineHandler {
	return &RoutineHandler{
		repo:        repo,
		catalogRepo: catalogRepo,
		cache:       routineCache,
		controller:  controller,
	}
}

// --- DTOs for API (Data Transfer Objects) ---

// SetRequest is one prescribed set in a save request.
type SetRequest struct {
	Reps        string   `json:"reps"`
	Load        *float64 `json:"load,omitempty"`
	Unit        string   `json:"unit,omitempty" binding:"omitempty,oneof=kg lb bodyweight"`
	RestSeconds *int     `json:"restSeconds,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// ExerciseRequest is one exercise entry in a save request.
type ExerciseRequest struct {
	ExerciseID    string       `json:"exerciseId" binding:"required"`
	SupersetGroup string       `json:"supersetGroup,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	Sets          []SetRequest `json:"sets"`
	IdenticalSets bool         `json:"identicalSets,omitempty"`
}

// SaveRoutineRequest creates or fully replaces a routine.
type SaveRoutineRequest struct {
	Name        string            `json:"name" binding:"required"`
	Description string            `json:"description,omitempty"`
	Exercises   []ExerciseRequest `json:"exercises"`
}

// SetResponse mirrors domain.ExerciseSet for output.
type SetResponse struct {
	ID          string   `json:"id"`
	SetIndex    int      `json:"setIndex"`
	Reps        string   `json:"reps"`
	Load        *float64 `json:"load,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	RestSeconds *int     `json:"restSeconds,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// ExerciseResponse mirrors domain.BlockExercise for output.
type ExerciseResponse struct {
	ID            string        `json:"id"`
	ExerciseID    string        `json:"exerciseId"`
	DisplayOrder  int           `json:"displayOrder"`
	SupersetGroup string        `json:"supersetGroup,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Sets          []SetResponse `json:"sets"`
}

// BlockResponse mirrors domain.Block for output.
type BlockResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Order     int                `json:"order"`
	Notes     string             `json:"notes,omitempty"`
	Exercises []ExerciseResponse `json:"exercises"`
}

// RoutineResponse is the DTO for returning a hydrated routine.
type RoutineResponse struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CreatedOn   time.Time       `json:"createdOn"`
	Blocks      []BlockResponse `json:"blocks"`
}

// MapRoutineToResponse converts a domain.Routine to RoutineResponse DTO.
func MapRoutineToResponse(r *domain.Routine) RoutineResponse {
	if r == nil {
		return RoutineResponse{}
	}
	blocks := make([]BlockResponse, len(r.Blocks))
	for bi, block := range r.Blocks {
		exercises := make([]ExerciseResponse, len(block.Exercises))
		for xi, ex := range block.Exercises {
			sets := make([]SetResponse, len(ex.Sets))
			for si, set := range ex.Sets {
				sets[si] = SetResponse{
					ID:          set.ID,
					SetIndex:    set.SetIndex,
					Reps:        set.Reps,
					Load:        set.Load,
					Unit:        string(set.Unit),
					RestSeconds: set.RestSeconds,
					Notes:       set.Notes,
				}
			}
			exercises[xi] = ExerciseResponse{
				ID:            ex.ID,
				ExerciseID:    ex.ExerciseID,
				DisplayOrder:  ex.DisplayOrder,
				SupersetGroup: ex.SupersetGroup,
				Notes:         ex.Notes,
				Sets:          sets,
			}
		}
		blocks[bi] = BlockResponse{
			ID:        block.ID,
			Name:      block.Name,
			Order:     block.Order,
			Notes:     block.Notes,
			Exercises: exercises,
		}
	}
	return RoutineResponse{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Description: r.Description,
		CreatedOn:   r.CreatedOn,
		Blocks:      blocks,
	}
}

// MapRoutinesToResponse converts a slice of domain.Routine to DTOs.
func MapRoutinesToResponse(routines []domain.Routine) []RoutineResponse {
	responses := make([]RoutineResponse, len(routines))
	for i := range routines {
		responses[i] = MapRoutineToResponse(&routines[i])
	}
	return responses
}

func mapRequestExercise(req ExerciseRequest) domain.BlockExercise {
	sets := make([]domain.ExerciseSet, len(req.Sets))
	for i, s := range req.Sets {
		sets[i] = domain.ExerciseSet{
			Reps:        s.Reps,
			Load:        s.Load,
			Unit:        domain.LoadUnit(s.Unit),
			RestSeconds: s.RestSeconds,
			Notes:       s.Notes,
		}
	}
	return domain.BlockExercise{
		ExerciseID:    req.ExerciseID,
		SupersetGroup: req.SupersetGroup,
		Notes:         req.Notes,
		Sets:          sets,
	}
}

// --- Handler Methods ---

// ListRoutines returns the caller's routines from the cache, refreshing it
// first when needed. A stale cache is still served when the remote read
// fails — stale beats empty for a list view.
func (h *RoutineHandler) ListRoutines(c *gin.Context) {
	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	h.controller.EnsureRunning(ownerID)

	force := c.Query("refresh") == "true"
	if err := h.controller.Refresh(c.Request.Context(), ownerID, force); err != nil {
		if routines, _, ok := h.cache.Get(c.Request.Context(), ownerID); ok {
			c.JSON(http.StatusOK, MapRoutinesToResponse(routines))
			return
		}
		abortWithError(c, http.StatusBadGateway, "Failed to load routines.")
		return
	}

	routines, _, _ := h.cache.Get(c.Request.Context(), ownerID)
	if routines == nil {
		routines = []domain.Routine{}
	}
	c.JSON(http.StatusOK, MapRoutinesToResponse(routines))
}

// GetRoutine returns one fully hydrated routine.
func (h *RoutineHandler) GetRoutine(c *gin.Context) {
	routine, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Routine not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to load routine.")
		return
	}
	c.JSON(http.StatusOK, MapRoutineToResponse(routine))
}

// CreateRoutine commits a new routine through a fresh editor session.
func (h *RoutineHandler) CreateRoutine(c *gin.Context) {
	var req SaveRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	ed := editor.NewEditor(h.repo, h.catalogRepo, h.controller)
	if err := ed.StartNew(ownerID); err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to open draft.")
		return
	}
	h.saveDraft(c, ed, req, http.StatusCreated)
}

// UpdateRoutine replaces an existing routine's content wholesale through an
// editor session. Child identities are not preserved.
func (h *RoutineHandler) UpdateRoutine(c *gin.Context) {
	var req SaveRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	ed := editor.NewEditor(h.repo, h.catalogRepo, h.controller)
	err = ed.StartEdit(c.Request.Context(), &domain.Routine{ID: c.Param("id"), OwnerID: ownerID})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Routine not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to open draft.")
		return
	}
	if ed.Draft().OwnerID != ownerID {
		abortWithError(c, http.StatusForbidden, "Routine belongs to another user.")
		return
	}
	if err := ed.ClearExercises(); err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to open draft.")
		return
	}
	h.saveDraft(c, ed, req, http.StatusOK)
}

// saveDraft applies the request to the draft and commits, translating
// editor failures into responses.
func (h *RoutineHandler) saveDraft(c *gin.Context, ed *editor.Editor, req SaveRoutineRequest, successCode int) {
	_ = ed.SetName(req.Name)
	_ = ed.SetDescription(req.Description)
	for _, exReq := range req.Exercises {
		if err := ed.AddExercise(mapRequestExercise(exReq), exReq.IdenticalSets); err != nil {
			abortWithError(c, http.StatusInternalServerError, "Failed to build draft.")
			return
		}
	}

	routineID, err := ed.Commit(c.Request.Context())
	if err != nil {
		var verr *editor.ValidationError
		var perr *repository.PartialWriteError
		switch {
		case errors.As(err, &verr):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Validation failed.", "fields": verr.Fields})
		case errors.As(err, &perr):
			// Earlier rows may remain on the remote; the caller should retry
			// the full save.
			abortWithError(c, http.StatusBadGateway, "Save failed partway through: "+perr.Step+". Please retry.")
		default:
			abortWithError(c, http.StatusInternalServerError, "Failed to save routine.")
		}
		return
	}

	routine, err := h.repo.GetByID(c.Request.Context(), routineID)
	if err != nil {
		// Saved but could not re-read; return the identity at least.
		c.JSON(successCode, gin.H{"id": routineID})
		return
	}
	c.JSON(successCode, MapRoutineToResponse(routine))
}

// DeleteRoutine removes a routine and all of its descendants and
// assignments, then drops the caller's cache entry.
func (h *RoutineHandler) DeleteRoutine(c *gin.Context) {
	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	if err := h.repo.Delete(c.Request.Context(), c.Param("id"), ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Routine not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to delete routine.")
		return
	}

	h.cache.Invalidate(c.Request.Context(), ownerID)
	c.Status(http.StatusNoContent)
}

// AddExerciseToBlock is the fine-grained mutator for incremental edits
// outside a full routine replace.
func (h *RoutineHandler) AddExerciseToBlock(c *gin.Context) {
	var req ExerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	exercise := mapRequestExercise(req)
	exercise.BlockID = c.Param("blockId")
	exerciseID, err := h.repo.AddExercise(c.Request.Context(), &exercise)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to add exercise.")
		return
	}

	h.cache.Invalidate(c.Request.Context(), ownerID)
	c.JSON(http.StatusCreated, gin.H{"id": exerciseID})
}

// UpdateBlockExercise updates a single exercise row and replaces its sets.
func (h *RoutineHandler) UpdateBlockExercise(c *gin.Context) {
	var req ExerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	exercise := mapRequestExercise(req)
	exercise.ID = c.Param("id")
	if err := h.repo.UpdateExercise(c.Request.Context(), &exercise); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Exercise not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to update exercise.")
		return
	}

	h.cache.Invalidate(c.Request.Context(), ownerID)
	c.Status(http.StatusNoContent)
}

// RemoveBlockExercise deletes a single exercise row and its sets.
func (h *RoutineHandler) RemoveBlockExercise(c *gin.Context) {
	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	if err := h.repo.RemoveExercise(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, "Exercise not found.")
			return
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to remove exercise.")
		return
	}

	h.cache.Invalidate(c.Request.Context(), ownerID)
	c.Status(http.StatusNoContent)
}
