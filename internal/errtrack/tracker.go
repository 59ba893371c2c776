// Package errtrack keeps the set of active failure streaks, one per
// (host, operation) pair. A streak starts on the first failure, grows on
// repeats, and disappears on the next success of the same operation.
package errtrack

import (
	"sort"
	"sync"
	"time"

	"github.com/snadboy/dockmon/internal/domain"
)

type key struct {
	host string
	op   domain.OpKind
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records map[key]*domain.ErrorRecord
	now     func() time.Time
}

func New() *Tracker {
	return &Tracker{
		records: make(map[key]*domain.ErrorRecord),
		now:     time.Now,
	}
}

// Record notes a failure of op on host. A repeat of an already-tracked pair
// bumps the count and replaces the message; it never creates a second entry.
func (t *Tracker) Record(host string, op domain.OpKind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{host: host, op: op}
	if rec, ok := t.records[k]; ok {
		rec.Count++
		rec.Message = msg
		rec.LastAt = t.now()
		return
	}
	t.records[k] = &domain.ErrorRecord{
		Host:    host,
		Op:      op,
		Message: msg,
		Count:   1,
		LastAt:  t.now(),
	}
}

// Clear removes the streak for (host, op). Clearing an untracked pair is a
// no-op; success paths call this unconditionally.
func (t *Tracker) Clear(host string, op domain.OpKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, key{host: host, op: op})
}

// ClearHost removes every streak for host, used when a host reconnects.
func (t *Tracker) ClearHost(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.records {
		if k.host == host {
			delete(t.records, k)
		}
	}
}

// Snapshot returns a copy of all active records, ordered by host then
// operation for stable API output.
func (t *Tracker) Snapshot() []domain.ErrorRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.ErrorRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// Degraded reports whether any streak has reached threshold consecutive
// failures. The readiness endpoint uses it to flag a persistently failing
// dependency without flapping on single errors.
func (t *Tracker) Degraded(threshold int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.records {
		if rec.Count >= threshold {
			return true
		}
	}
	return false
}

// Len returns the number of active streaks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
