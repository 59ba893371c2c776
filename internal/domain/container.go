package domain

import "time"

// Container lifecycle statuses as tracked by the inventory. The runtime
// reports many more event actions; the watcher folds them into these two,
// and removal deletes the entry outright.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Container is one container observed on one host. Identity is unique only
// within its host, so the inventory key is (host, id).
type Container struct {
	// Host is the name of the owning HostSpec.
	Host string `json:"host"`

	// ID is the full runtime-assigned container id.
	ID string `json:"id"`

	// ShortID is the 12-character prefix used in logs.
	ShortID string `json:"short_id"`

	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`

	// Labels is the raw label mapping; descriptors are always recomputed
	// from it, never stored alongside.
	Labels map[string]string `json:"labels"`

	// HostIP is the machine address upstream routes dial, not the
	// container-internal address.
	HostIP string `json:"host_ip,omitempty"`

	// Version orders writes for this container. Events carry the runtime
	// timestamp in nanoseconds; full polls stamp the poll start. A write
	// with a version at or below the stored one is discarded.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the inventory key for c.
func (c Container) Key() string {
	return c.Host + ":" + c.ID
}

// ContainerEvent is one normalized entry from a host's event stream.
type ContainerEvent struct {
	ContainerID string
	Action      string
	TimeNano    int64
}
