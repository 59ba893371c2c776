package domain

import (
	"fmt"
	"strings"
)

// RouteKey identifies one proxy route. Two containers declaring the same
// domain+path collide; the reconciler picks a deterministic winner.
type RouteKey struct {
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

func (k RouteKey) String() string {
	if k.Path == "" || k.Path == "/" {
		return k.Domain
	}
	return k.Domain + k.Path
}

// ID returns the stable identifier the proxy control API keys this route
// by. Slashes are flattened so the id is safe in a URL path segment.
func (k RouteKey) ID() string {
	path := strings.Trim(k.Path, "/")
	if path == "" {
		return "dockmon-" + k.Domain
	}
	return "dockmon-" + k.Domain + "-" + strings.ReplaceAll(path, "/", "-")
}

// Route is one entry of the desired (or applied) route set: a concrete
// mapping from domain+path to an upstream address.
type Route struct {
	Key      RouteKey `json:"key"`
	Scheme   string   `json:"scheme"`
	Upstream string   `json:"upstream"` // host:port the proxy dials

	WebSocket   bool     `json:"websocket"`
	SSLForce    bool     `json:"ssl_force"`
	Middlewares []string `json:"middlewares,omitempty"`

	// Provenance, used for collision tie-breaks and observability.
	SourceHost      string `json:"source_host"`
	SourceContainer string `json:"source_container"`
	SourceInstance  string `json:"source_instance"`
}

// Equal reports whether two routes would produce the same proxy
// configuration. Provenance is included so a winner change re-applies.
func (r Route) Equal(o Route) bool {
	if r.Key != o.Key || r.Scheme != o.Scheme || r.Upstream != o.Upstream ||
		r.WebSocket != o.WebSocket || r.SSLForce != o.SSLForce ||
		r.SourceHost != o.SourceHost || r.SourceContainer != o.SourceContainer {
		return false
	}
	if len(r.Middlewares) != len(o.Middlewares) {
		return false
	}
	for i := range r.Middlewares {
		if r.Middlewares[i] != o.Middlewares[i] {
			return false
		}
	}
	return true
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> %s://%s", r.Key, r.Scheme, r.Upstream)
}

// RouteState is the read-only desired-versus-applied view exposed to the
// API layer.
type RouteState struct {
	Desired []Route `json:"desired"`
	Applied []Route `json:"applied"`
}
