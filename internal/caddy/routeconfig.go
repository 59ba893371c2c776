package caddy

import "github.com/snadboy/dockmon/internal/domain"

// Match is a Caddy route matcher: all listed conditions must hold.
type Match struct {
	Host []string `json:"host"`
	Path []string `json:"path,omitempty"`
}

// Handler is one element of a route's handler chain. Caddy handlers are
// heterogeneous, so they stay schemaless here.
type Handler map[string]any

// RouteConfig is the JSON body pushed to the admin API for one route. The
// @id object identifier makes later upserts and deletes idempotent,
// independent of the route's position in the server's route array.
type RouteConfig struct {
	ID     string    `json:"@id"`
	Match  []Match   `json:"match"`
	Handle []Handler `json:"handle"`
}

// BuildRoute translates a desired route into Caddy configuration.
func BuildRoute(r domain.Route) RouteConfig {
	cfg := RouteConfig{
		ID:    r.Key.ID(),
		Match: []Match{{Host: []string{r.Key.Domain}}},
	}
	if r.Key.Path != "" && r.Key.Path != "/" {
		cfg.Match[0].Path = []string{r.Key.Path + "*"}
	}

	// A forced-SSL http route only redirects; the https sibling serves.
	if r.SSLForce && r.Scheme == "http" {
		cfg.Handle = []Handler{{
			"handler": "static_response",
			"headers": map[string][]string{
				"Location": {"https://" + r.Key.Domain + "{http.request.uri}"},
			},
			"status_code": 301,
		}}
		return cfg
	}

	for _, mw := range r.Middlewares {
		if h := middlewareHandler(mw); h != nil {
			cfg.Handle = append(cfg.Handle, h)
		}
	}

	cfg.Handle = append(cfg.Handle, proxyHandler(r))
	return cfg
}

func middlewareHandler(name string) Handler {
	switch name {
	case "auth":
		return Handler{"handler": "authentication"}
	case "compress":
		return Handler{"handler": "encode", "encodings": map[string]any{"gzip": map[string]any{}}}
	case "rate_limit":
		return Handler{"handler": "rate_limit"}
	default:
		return nil
	}
}

func proxyHandler(r domain.Route) Handler {
	set := map[string][]string{
		"Host":              {"{http.request.host}"},
		"X-Real-IP":         {"{http.request.remote.host}"},
		"X-Forwarded-For":   {"{http.request.remote}"},
		"X-Forwarded-Proto": {r.Scheme},
	}

	h := Handler{
		"handler":   "reverse_proxy",
		"upstreams": []map[string]string{{"dial": r.Upstream}},
		"headers": map[string]any{
			"request": map[string]any{"set": set},
		},
	}

	if r.WebSocket {
		set["Connection"] = []string{"Upgrade"}
		set["Upgrade"] = []string{"websocket"}
		set["Sec-WebSocket-Protocol"] = []string{"{http.request.header.Sec-WebSocket-Protocol}"}
		set["Sec-WebSocket-Version"] = []string{"{http.request.header.Sec-WebSocket-Version}"}
		h["transport"] = map[string]any{
			"protocol": "http",
			"versions": []string{"1.1", "2"},
		}
	}

	return h
}
