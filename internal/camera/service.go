package camera

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry fetches the full camera list from its source of record.
type Registry interface {
	FetchCameras(ctx context.Context) (*Snapshot, error)
}

// ServiceConfig holds configuration for the camera service.
type ServiceConfig struct {
	// Registry is the camera source.
	Registry Registry

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long a fetched registry stays fresh (default: 5 minutes).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving an old registry on fetch errors (default: 30 minutes).
	StaleIfErrorTTL time.Duration
}

// Service provides camera metadata with caching.
type Service struct {
	registry        Registry
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration

	mu          sync.RWMutex
	snapshot    *Snapshot
	cacheExpiry time.Time
}

// NewService creates a new camera service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 30 * time.Minute
	}

	return &Service{
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
	}
}

// Snapshot returns the current registry, refreshing it when expired.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

// Cameras returns every registered camera.
func (s *Service) Cameras(ctx context.Context) ([]Camera, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Cameras, nil
}

// MapCameras returns the cameras that can be placed on a map.
func (s *Service) MapCameras(ctx context.Context) ([]Camera, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Placeable(), nil
}

// ByDistrict returns the cameras of a district. An empty district returns all.
func (s *Service) ByDistrict(ctx context.Context, district string) ([]Camera, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if district == "" {
		return snapshot.Cameras, nil
	}
	return snapshot.InDistrict(district), nil
}

// Get returns a camera by key.
func (s *Service) Get(ctx context.Context, key string) (Camera, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return Camera{}, err
	}
	c, ok := snapshot.Get(key)
	if !ok {
		return Camera{}, ErrCameraNotFound
	}
	return c, nil
}

// Districts returns the distinct districts covered by the registry.
func (s *Service) Districts(ctx context.Context) ([]string, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Districts(), nil
}

// Invalidate clears the cached registry.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.cacheExpiry = time.Time{}
}

// CacheStatus represents the current state of the registry cache.
type CacheStatus struct {
	HasData     bool
	FetchedAt   time.Time
	ExpiresAt   time.Time
	IsExpired   bool
	IsStale     bool
	CameraCount int
	Source      string
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return CacheStatus{}
	}

	now := time.Now()
	return CacheStatus{
		HasData:     true,
		FetchedAt:   s.snapshot.FetchedAt,
		ExpiresAt:   s.cacheExpiry,
		IsExpired:   now.After(s.cacheExpiry),
		IsStale:     now.After(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)),
		CameraCount: len(s.snapshot.Cameras),
		Source:      s.snapshot.Source,
	}
}

func (s *Service) refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if s.snapshot != nil && time.Now().Before(s.cacheExpiry) {
		return s.snapshot, nil
	}

	s.logger.Debug().Msg("refreshing camera registry")

	snapshot, err := s.registry.FetchCameras(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch camera registry")

		if s.snapshot != nil && time.Now().Before(s.snapshot.FetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", s.snapshot.FetchedAt).
				Msg("serving stale camera registry due to fetch error")
			return s.snapshot, nil
		}

		return nil, ErrRegistryUnavailable
	}

	if unplaced := len(snapshot.Cameras) - len(snapshot.Placeable()); unplaced > 0 {
		s.logger.Warn().
			Int("cameras", len(snapshot.Cameras)).
			Int("unplaced", unplaced).
			Msg("cameras without a usable location are hidden from the map")
	}

	s.snapshot = snapshot
	s.cacheExpiry = time.Now().Add(s.cacheTTL)

	s.logger.Info().
		Int("cameras", len(snapshot.Cameras)).
		Str("source", snapshot.Source).
		Msg("camera registry refreshed")

	return snapshot, nil
}
