package api

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/service"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CatalogHandler exposes the consumed exercise-library search. Debouncing
// happens client-side in embedded use; over HTTP each request is already a
// settled query, so this goes straight to Search.
type CatalogHandler struct {
	catalogService service.CatalogService
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalogService service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// --- DTOs for API (Data Transfer Objects) ---

// CreateCustomExerciseRequest defines the create-custom pass-through input.
type CreateCustomExerciseRequest struct {
	Name      string `json:"name" binding:"required"`
	Category  string `json:"category,omitempty"`
	Equipment string `json:"equipment,omitempty"`
}

// CatalogPageResponse is one page of search results.
type CatalogPageResponse struct {
	Exercises []domain.CatalogExercise `json:"exercises"`
	Page      int                      `json:"page"`
	HasMore   bool                     `json:"hasMore"`
}

// --- Handler Methods ---

// SearchCatalog returns one page of exercises matching the query.
func (h *CatalogHandler) SearchCatalog(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	filter := domain.CatalogFilter{
		Category:  c.Query("category"),
		Equipment: c.Query("equipment"),
	}

	exercises, hasMore, err := h.catalogService.Search(c.Request.Context(), c.Query("q"), filter, page)
	if err != nil {
		abortWithError(c, http.StatusBadGateway, "Failed to search exercise catalog.")
		return
	}
	if exercises == nil {
		exercises = []domain.CatalogExercise{}
	}
	c.JSON(http.StatusOK, CatalogPageResponse{Exercises: exercises, Page: page, HasMore: hasMore})
}

// CreateCustomExercise is the pass-through for trainer-defined exercises.
func (h *CatalogHandler) CreateCustomExercise(c *gin.Context) {
	var req CreateCustomExerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	ownerID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify user from token.")
		return
	}

	exercise := &domain.CatalogExercise{
		Name:      req.Name,
		Category:  req.Category,
		Equipment: req.Equipment,
		OwnerID:   ownerID,
	}
	exerciseID, err := h.catalogService.CreateCustomExercise(c.Request.Context(), exercise)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to create exercise.")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": exerciseID})
}
