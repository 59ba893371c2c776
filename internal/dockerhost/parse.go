package dockerhost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
)

// inspectEntry is the subset of `docker inspect` output the monitor needs.
type inspectEntry struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
	} `json:"State"`
	Config struct {
		Image  string            `json:"Image"`
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

// eventEntry is one line of `docker events --format '{{json .}}'`.
type eventEntry struct {
	Type   string `json:"Type"`
	Action string `json:"Action"`
	Actor  struct {
		ID string `json:"ID"`
	} `json:"Actor"`
	TimeNano int64 `json:"timeNano"`
}

// parseInspect decodes the JSON array printed by `docker inspect id...`.
func parseInspect(data []byte) ([]inspectEntry, error) {
	var entries []inspectEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode inspect output: %w", err)
	}
	return entries, nil
}

// parseEvent decodes one event stream line. Non-container events decode
// fine but are filtered by the caller on Type.
func parseEvent(line []byte) (eventEntry, error) {
	var e eventEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return eventEntry{}, fmt.Errorf("decode event line: %w", err)
	}
	return e, nil
}

// toContainer maps an inspect entry onto the inventory model. Version is
// left zero; the caller stamps it with the event timestamp or poll start.
func (e inspectEntry) toContainer(host, hostIP string) domain.Container {
	return domain.Container{
		Host:    host,
		ID:      e.ID,
		ShortID: shortID(e.ID),
		Name:    strings.TrimPrefix(e.Name, "/"),
		Image:   e.Config.Image,
		Status:  foldStatus(e.State.Status),
		Labels:  e.Config.Labels,
		HostIP:  hostIP,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// foldStatus collapses the runtime's status vocabulary into the three
// states the inventory tracks. Anything not running is stopped; removal is
// only ever observed through destroy events.
func foldStatus(status string) string {
	if status == "running" {
		return domain.StatusRunning
	}
	return domain.StatusStopped
}

// EventEffect is what an event action means for the inventory.
type EventEffect int

const (
	// EffectNone: the action carries no lifecycle meaning for the monitor.
	EffectNone EventEffect = iota
	// EffectInspect: labels or state may have changed; re-inspect and upsert.
	EffectInspect
	// EffectStop: the container still exists but no longer serves traffic.
	EffectStop
	// EffectRemove: the container is gone from the runtime.
	EffectRemove
)

// ClassifyAction folds the runtime's event vocabulary into effects. Actions
// like health_status arrive with a colon-separated suffix, so only the part
// before the colon is compared.
func ClassifyAction(action string) EventEffect {
	base, _, _ := strings.Cut(action, ":")
	switch strings.TrimSpace(base) {
	case "create", "start", "restart", "unpause", "update":
		return EffectInspect
	case "stop", "kill", "die", "pause", "oom":
		return EffectStop
	case "destroy":
		return EffectRemove
	default:
		return EffectNone
	}
}
