package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/snadboy/dockmon/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready          bool `json:"ready"`
	ConnectedHosts int  `json:"connected_hosts"`
	Degraded       bool `json:"degraded"`
}

// Readyz reports ready once at least one host is connected. A long error
// streak on any (host, op) pair flags the instance degraded without
// flipping readiness, so a single flapping host does not pull the monitor
// out of rotation.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connected := d.Supervisor.ConnectedCount()
		resp := readyzResponse{
			Ready:          connected > 0,
			ConnectedHosts: connected,
			Degraded:       d.Tracker.Degraded(d.DegradedThreshold),
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
