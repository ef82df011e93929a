package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"retailsync/internal/cache"
	"retailsync/internal/model"
	"retailsync/internal/repository"
)

const summaryCacheKey = "stats:summary"

// StatsService serves dashboard aggregates through the cache. Writers call
// Invalidate so the next read recomputes.
type StatsService struct {
	store  *repository.Store
	loader *cache.Loader
	ttl    time.Duration
}

// NewStatsService creates a stats service. A nil cache disables caching.
func NewStatsService(store *repository.Store, c cache.Cache, ttl time.Duration) *StatsService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	s := &StatsService{store: store, ttl: ttl}
	if c != nil {
		s.loader = cache.NewLoader(c)
	}
	return s
}

// Summary returns the cached aggregates, computing them on a miss.
func (s *StatsService) Summary(ctx context.Context) (*model.Summary, error) {
	if s.loader == nil {
		return s.store.Summary(ctx)
	}

	data, err := s.loader.Load(ctx, summaryCacheKey, s.ttl, func(ctx context.Context) ([]byte, error) {
		sum, err := s.store.Summary(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	})
	if err != nil {
		return nil, err
	}

	var sum model.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Invalidate drops the cached summary. Safe on a nil receiver.
func (s *StatsService) Invalidate(ctx context.Context) {
	if s == nil || s.loader == nil {
		return
	}
	if err := s.loader.Invalidate(ctx, summaryCacheKey); err != nil {
		log.Printf("[StatsService] Failed to invalidate summary: %v", err)
	}
}
