package service

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultDebounce is the delay that coalesces keystroke-level catalog
// searches into one request.
const DefaultDebounce = 300 * time.Millisecond

// SearchResult is one page of catalog matches, delivered to the debounced
// search callback.
type SearchResult struct {
	Exercises []domain.CatalogExercise
	HasMore   bool
	Err       error
}

// CatalogService is the consumed read surface of the external exercise
// library. Catalog identities are opaque foreign keys; the only write is the
// create-custom pass-through.
type CatalogService interface {
	Search(ctx context.Context, term string, filter domain.CatalogFilter, page int) ([]domain.CatalogExercise, bool, error)
	// SearchDebounced coalesces rapid successive calls: only the last call
	// within the debounce window reaches the repository, and only its result
	// is delivered. Earlier pending calls are simply superseded.
	SearchDebounced(ctx context.Context, term string, filter domain.CatalogFilter, page int, deliver func(SearchResult))
	CreateCustomExercise(ctx context.Context, exercise *domain.CatalogExercise) (string, error)
}

type catalogService struct {
	repo  repository.CatalogRepository
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewCatalogService creates a catalog client with the given debounce delay.
// delay <= 0 selects DefaultDebounce.
func NewCatalogService(repo repository.CatalogRepository, delay time.Duration) CatalogService {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &catalogService{repo: repo, delay: delay}
}

// Search issues one catalog page read immediately.
func (s *catalogService) Search(ctx context.Context, term string, filter domain.CatalogFilter, page int) ([]domain.CatalogExercise, bool, error) {
	return s.repo.Search(ctx, term, filter, page)
}

// SearchDebounced resets the shared debounce timer on every call; the
// repository sees a single request once input goes quiet for the delay.
// The surviving call's ctx governs the eventual read.
func (s *catalogService) SearchDebounced(ctx context.Context, term string, filter domain.CatalogFilter, page int, deliver func(SearchResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		exercises, hasMore, err := s.repo.Search(ctx, term, filter, page)
		deliver(SearchResult{Exercises: exercises, HasMore: hasMore, Err: err})
	})
}

// CreateCustomExercise delegates wholly to the catalog store. Custom
// exercises belong to the creating trainer; nothing else in this core
// treats them differently from library rows.
func (s *catalogService) CreateCustomExercise(ctx context.Context, exercise *domain.CatalogExercise) (string, error) {
	if exercise == nil || exercise.Name == "" {
		return "", errors.New("exercise name is required")
	}
	return s.repo.CreateCustom(ctx, exercise)
}
