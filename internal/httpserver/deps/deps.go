package deps

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/logger"
	"github.com/snadboy/dockmon/internal/reconciler"
	"github.com/snadboy/dockmon/internal/supervisor"
)

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string

	Supervisor *supervisor.Supervisor
	Inv        *inventory.Inventory
	Tracker    *errtrack.Tracker
	Reconciler *reconciler.Reconciler

	// Registry carries the process metrics; exposed on /metrics.
	Registry *prometheus.Registry

	// DegradedThreshold is the error streak length at which readiness
	// reports degraded.
	DegradedThreshold int
}
