package main

import (
	"log"

	"github.com/snadboy/dockmon/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("dockmon failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("dockmon failed: %v", err)
	}
}
