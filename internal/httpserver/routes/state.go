package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/snadboy/dockmon/internal/httpserver/deps"
	"github.com/snadboy/dockmon/internal/httpserver/handlers"
)

func init() { Register(registerState) }

func registerState(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Get("/hosts", handlers.Hosts(d))
		api.Get("/containers", handlers.Containers(d))
		api.Get("/routes", handlers.Routes(d))
		api.Get("/errors", handlers.Errors(d))
	})
}
