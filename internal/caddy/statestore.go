package caddy

import (
	"context"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
)

// idPrefix marks the routes this service owns inside a shared proxy config.
const idPrefix = "dockmon-"

// StateStore recovers the applied route set from the proxy itself when no
// external store is configured. The live config already is the record, so
// saves are no-ops; loads adopt the routes this service owns by id prefix,
// which makes leftovers from a previous run deletable on the first pass.
type StateStore struct {
	client *Client
}

func NewStateStore(client *Client) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) SaveApplied(ctx context.Context, routes []domain.Route) error {
	return nil
}

func (s *StateStore) LoadApplied(ctx context.Context) ([]domain.Route, error) {
	cfgs, err := s.client.GetRoutes(ctx)
	if err != nil {
		return nil, err
	}

	var routes []domain.Route
	for _, cfg := range cfgs {
		if !strings.HasPrefix(cfg.ID, idPrefix) {
			continue
		}
		if r, ok := adoptRoute(cfg); ok {
			routes = append(routes, r)
		}
	}
	return routes, nil
}

// adoptRoute rebuilds as much of a route as the proxy config retains.
// Provenance is not in the config, so adopted routes never compare equal to
// desired ones and get re-asserted on the first pass; what the adoption
// buys is that orphaned routes become visible and deletable.
func adoptRoute(cfg RouteConfig) (domain.Route, bool) {
	if len(cfg.Match) == 0 || len(cfg.Match[0].Host) == 0 {
		return domain.Route{}, false
	}

	key := domain.RouteKey{Domain: cfg.Match[0].Host[0], Path: "/"}
	if p := cfg.Match[0].Path; len(p) > 0 {
		key.Path = strings.TrimSuffix(p[0], "*")
	}

	r := domain.Route{Key: key, Scheme: "http"}
	for _, h := range cfg.Handle {
		switch h["handler"] {
		case "static_response":
			r.SSLForce = true
		case "reverse_proxy":
			if ups, ok := h["upstreams"].([]any); ok && len(ups) > 0 {
				if u, ok := ups[0].(map[string]any); ok {
					r.Upstream, _ = u["dial"].(string)
				}
			}
		}
	}
	return r, true
}
