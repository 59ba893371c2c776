// Package redis persists the reconciler's applied route set so a restart
// does not begin with a blind spot between startup and the first pass.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/snadboy/dockmon/internal/domain"
)

// Store handles Redis operations for route state.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// SaveApplied replaces the persisted applied route snapshot. No TTL: the
// snapshot stays valid until the next save overwrites it.
func (s *Store) SaveApplied(ctx context.Context, routes []domain.Route) error {
	data, err := json.Marshal(routes)
	if err != nil {
		return fmt.Errorf("failed to marshal applied routes: %w", err)
	}
	if err := s.client.Set(ctx, KeyAppliedRoutes, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save applied routes: %w", err)
	}
	return nil
}

// LoadApplied returns the persisted snapshot, or nil when none exists yet.
func (s *Store) LoadApplied(ctx context.Context) ([]domain.Route, error) {
	data, err := s.client.Get(ctx, KeyAppliedRoutes).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load applied routes: %w", err)
	}

	var routes []domain.Route
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal applied routes: %w", err)
	}
	return routes, nil
}
