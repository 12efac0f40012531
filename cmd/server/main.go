package main

import (
	"alcyxob/trainer-console/internal/api"
	"alcyxob/trainer-console/internal/cache"
	"alcyxob/trainer-console/internal/config"
	"alcyxob/trainer-console/internal/repository"
	"alcyxob/trainer-console/internal/repository/mongo"
	"alcyxob/trainer-console/internal/service"
	routinesync "alcyxob/trainer-console/internal/sync"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("Starting Trainer Console Server...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		log.Println("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Println("Database connection established.")

	// --- Ensure Indexes ---
	log.Println("Ensuring database indexes...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		mongo.EnsureRoutineIndexes(ctx, appDB)
		mongo.EnsureAssignmentIndexes(ctx, appDB.Collection("trainee_routine"))
		mongo.EnsureCatalogIndexes(ctx, appDB.Collection("exercise_catalog"))
		log.Println("Index creation process completed.")
	}()

	// --- Initialize Cache ---
	var store cache.Store
	if cfg.Cache.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.Cache.RedisURL, 12*cfg.Cache.TTL)
		if err != nil {
			log.Fatalf("FATAL: Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
		log.Println("Persisted cache tier enabled (Redis).")
	} else {
		log.Println("No redis_url configured; cache is memory-only.")
	}
	routineCache := cache.NewRoutineCache(store, cfg.Cache.TTL)

	// --- Initialize Repositories ---
	log.Println("Initializing repositories...")
	routineRepo := mongo.NewMongoRoutineRepository(appDB)
	assignmentRepo := mongo.NewMongoAssignmentRepository(appDB)
	catalogRepo := mongo.NewMongoCatalogRepository(appDB)

	// --- Initialize Sync Controller ---
	var watcher repository.RoutineWatcher
	if cfg.Sync.ChangeFeed {
		// The mongo repo doubles as the change feed when the deployment
		// supports change streams; otherwise polling carries everything.
		if w, ok := routineRepo.(repository.RoutineWatcher); ok {
			watcher = w
		}
	}
	controller := routinesync.NewController(routineRepo, watcher, routineCache, cfg.Sync.PollInterval)

	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()
	controller.Start(syncCtx)

	// --- Initialize Services ---
	log.Println("Initializing services...")
	assignmentService := service.NewAssignmentService(assignmentRepo, routineRepo)
	catalogService := service.NewCatalogService(catalogRepo, cfg.Catalog.Debounce)

	// --- Initialize Gin Engine ---
	// gin.SetMode(gin.ReleaseMode) // Uncomment for production
	router := gin.Default() // Includes Logger and Recovery middleware

	// --- Setup Routes ---
	log.Println("Setting up API routes...")
	api.SetupRoutes(router, cfg.JWT.Secret, routineRepo, catalogRepo, routineCache, controller, assignmentService, catalogService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancelSync() // stop background sync loops before the server drains

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
