package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/snadboy/dockmon/internal/httpserver/deps"
)

// Hosts returns the per-host connection state.
func Hosts(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Supervisor.Snapshot())
	}
}

// Containers returns the current inventory.
func Containers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Inv.All())
	}
}

// Routes returns the desired-versus-applied route state.
func Routes(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Reconciler.State())
	}
}

// Errors returns the active error streaks.
func Errors(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Tracker.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
