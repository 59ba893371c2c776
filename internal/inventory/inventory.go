// Package inventory holds the in-memory view of every container observed
// across all monitored hosts. Writers are the per-host watchers and the
// supervisor; the reconciler and the API layer only read.
package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/snadboy/dockmon/internal/domain"
)

// Inventory is safe for concurrent use.
type Inventory struct {
	mu         sync.RWMutex
	containers map[string]*domain.Container // Key() -> container
	hostStale  map[string]time.Time         // host -> stale since

	// changes coalesces update notifications. Buffered with capacity 1 so
	// a burst of writes wakes the reconciler exactly once.
	changes chan struct{}

	now func() time.Time
}

func New() *Inventory {
	return &Inventory{
		containers: make(map[string]*domain.Container),
		hostStale:  make(map[string]time.Time),
		changes:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Changes returns the notification channel. Exactly one receiver (the
// reconciler) drains it; each receive means "something changed since your
// last pass", not "one thing changed".
func (inv *Inventory) Changes() <-chan struct{} {
	return inv.changes
}

func (inv *Inventory) notify() {
	select {
	case inv.changes <- struct{}{}:
	default:
	}
}

// Upsert stores c unless a newer or equal version is already present.
// It returns whether the write was accepted. Stale writes happen when a
// full poll races an event that fired after the poll started.
func (inv *Inventory) Upsert(c domain.Container) bool {
	inv.mu.Lock()
	existing, ok := inv.containers[c.Key()]
	if ok && c.Version <= existing.Version {
		inv.mu.Unlock()
		return false
	}
	c.UpdatedAt = inv.now()
	inv.containers[c.Key()] = &c
	inv.mu.Unlock()

	inv.notify()
	return true
}

// SetStatus updates only the status of an already-tracked container,
// subject to the same version ordering as Upsert.
func (inv *Inventory) SetStatus(host, id, status string, version int64) bool {
	inv.mu.Lock()
	key := host + ":" + id
	existing, ok := inv.containers[key]
	if !ok || version <= existing.Version {
		inv.mu.Unlock()
		return false
	}
	existing.Status = status
	existing.Version = version
	existing.UpdatedAt = inv.now()
	inv.mu.Unlock()

	inv.notify()
	return true
}

// Remove drops the container from the inventory. Removal is terminal, so
// it ignores version ordering.
func (inv *Inventory) Remove(host, id string) bool {
	inv.mu.Lock()
	key := host + ":" + id
	_, ok := inv.containers[key]
	if ok {
		delete(inv.containers, key)
	}
	inv.mu.Unlock()

	if ok {
		inv.notify()
	}
	return ok
}

// SyncHost replaces the host's whole container set with the result of a
// full poll. Version ordering still applies per container, so an event
// that arrived during the poll is not clobbered; containers absent from
// the poll are dropped outright.
func (inv *Inventory) SyncHost(host string, containers []domain.Container) {
	inv.mu.Lock()

	seen := make(map[string]bool, len(containers))
	for _, c := range containers {
		seen[c.Key()] = true
		existing, ok := inv.containers[c.Key()]
		if ok && c.Version <= existing.Version {
			continue
		}
		cc := c
		cc.UpdatedAt = inv.now()
		inv.containers[cc.Key()] = &cc
	}

	for key, c := range inv.containers {
		if c.Host == host && !seen[key] {
			delete(inv.containers, key)
		}
	}

	delete(inv.hostStale, host)
	inv.mu.Unlock()

	inv.notify()
}

// MarkStale flags every container of host as potentially outdated, starting
// the grace window. Containers stay in the inventory; the reconciler
// decides how long to keep trusting them.
func (inv *Inventory) MarkStale(host string) {
	inv.mu.Lock()
	if _, ok := inv.hostStale[host]; !ok {
		inv.hostStale[host] = inv.now()
	}
	inv.mu.Unlock()

	inv.notify()
}

// StaleSince returns when host went stale, or false if its data is fresh.
func (inv *Inventory) StaleSince(host string) (time.Time, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	since, ok := inv.hostStale[host]
	return since, ok
}

// All returns a copy of every tracked container, ordered by key for stable
// output.
func (inv *Inventory) All() []domain.Container {
	inv.mu.RLock()
	out := make([]domain.Container, 0, len(inv.containers))
	for _, c := range inv.containers {
		out = append(out, *c)
	}
	inv.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ByHost returns a copy of host's containers, ordered by id.
func (inv *Inventory) ByHost(host string) []domain.Container {
	inv.mu.RLock()
	var out []domain.Container
	for _, c := range inv.containers {
		if c.Host == host {
			out = append(out, *c)
		}
	}
	inv.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the container for (host, id) if tracked.
func (inv *Inventory) Get(host, id string) (domain.Container, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	c, ok := inv.containers[host+":"+id]
	if !ok {
		return domain.Container{}, false
	}
	return *c, true
}

// Count returns the number of tracked containers.
func (inv *Inventory) Count() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.containers)
}
