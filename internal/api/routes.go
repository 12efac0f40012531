package api

import (
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/repository"
	"alcyxob/trainer-console/internal/service"
	routinesync "alcyxob/trainer-console/internal/sync"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes wires the routine engine's HTTP surface. The surrounding
// console (roster, calendar, chat) mounts its own routes elsewhere; only the
// authoring/sync/assignment core lives here.
func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	routineRepo repository.RoutineRepository,
	catalogRepo repository.CatalogRepository,
	routineCache *cache.RoutineCache,
	controller *routinesync.Controller,
	assignmentService service.AssignmentService,
	catalogService service.CatalogService,
) {
	routineHandler := NewRoutineHandler(routineRepo, catalogRepo, routineCache, controller)
	assignmentHandler := NewAssignmentHandler(assignmentService, routineRepo)
	catalogHandler := NewCatalogHandler(catalogService)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	protected := apiV1.Group("")
	protected.Use(AuthMiddleware(jwtSecret))
	{
		// --- Routine Routes ---
		routineGroup := protected.Group("/routines")
		{
			routineGroup.GET("", routineHandler.ListRoutines)
			routineGroup.POST("", routineHandler.CreateRoutine)
			routineGroup.GET("/assignment-counts", assignmentHandler.AssignmentCounts)
			routineGroup.GET("/:id", routineHandler.GetRoutine)
			routineGroup.PUT("/:id", routineHandler.UpdateRoutine)
			routineGroup.DELETE("/:id", routineHandler.DeleteRoutine)
			routineGroup.POST("/:id/assign", assignmentHandler.AssignRoutine)
		}

		// --- Fine-grained exercise edits (incremental, outside a full replace) ---
		protected.POST("/blocks/:blockId/exercises", routineHandler.AddExerciseToBlock)
		protected.PUT("/exercises/:id", routineHandler.UpdateBlockExercise)
		protected.DELETE("/exercises/:id", routineHandler.RemoveBlockExercise)

		// --- Assignment Routes ---
		protected.GET("/trainees/:traineeId/assignments", assignmentHandler.ListTraineeAssignments)
		protected.DELETE("/assignments/:id", assignmentHandler.Unassign)

		// --- Exercise Catalog (consumed, not owned) ---
		catalogGroup := protected.Group("/catalog")
		{
			catalogGroup.GET("/exercises", catalogHandler.SearchCatalog)
			catalogGroup.POST("/exercises", catalogHandler.CreateCustomExercise)
		}
	}
}
