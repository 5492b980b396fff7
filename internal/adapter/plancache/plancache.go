// Package plancache decorates a planstore.Store with an in-process cache.
// Plans are immutable during execution, so the phase executor reads them
// through this cache on every wave without hitting the database.
package plancache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/helmsmanhq/helmsman/internal/domain/plan"
	"github.com/helmsmanhq/helmsman/internal/port/cache"
	"github.com/helmsmanhq/helmsman/internal/port/planstore"
)

// Store wraps a planstore.Store with cache-aside reads.
type Store struct {
	inner planstore.Store
	cache cache.Cache
	ttl   time.Duration
}

// New creates the caching decorator.
func New(inner planstore.Store, c cache.Cache, ttl time.Duration) *Store {
	return &Store{inner: inner, cache: c, ttl: ttl}
}

func cacheKey(projectID string) string {
	return "plan:" + projectID
}

// GetPlan returns the cached plan if present, otherwise loads it from the
// inner store and populates the cache. Cache failures are logged, never
// returned: the inner store stays authoritative.
func (s *Store) GetPlan(ctx context.Context, projectID string) (*plan.ExecutionPlan, error) {
	key := cacheKey(projectID)

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var p plan.ExecutionPlan
		if unmarshalErr := json.Unmarshal(data, &p); unmarshalErr == nil {
			return &p, nil
		}
		// A corrupt entry falls through to the inner store.
		_ = s.cache.Delete(ctx, key)
	}

	p, err := s.inner.GetPlan(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if data, marshalErr := json.Marshal(p); marshalErr == nil {
		if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
			slog.Debug("plan cache set failed", "project_id", projectID, "error", setErr)
		}
	}
	return p, nil
}

// Invalidate drops the cached plan for a project.
func (s *Store) Invalidate(ctx context.Context, projectID string) {
	_ = s.cache.Delete(ctx, cacheKey(projectID))
}
