package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/logger"
)

type fakeAPI struct {
	mu         sync.Mutex
	name       string
	containers map[string]domain.Container
	listErr    error

	events chan domain.ContainerEvent
	errc   chan error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		name:       "nas",
		containers: make(map[string]domain.Container),
		events:     make(chan domain.ContainerEvent),
		errc:       make(chan error, 1),
	}
}

func (f *fakeAPI) set(c domain.Container) {
	f.mu.Lock()
	f.containers[c.ID] = c
	f.mu.Unlock()
}

func (f *fakeAPI) Name() string                 { return f.name }
func (f *fakeAPI) Kind() domain.HostKind        { return domain.HostSSH }
func (f *fakeAPI) HostIP() string               { return "10.0.0.5" }
func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) List(ctx context.Context) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeAPI) Inspect(ctx context.Context, id string) (domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return domain.Container{}, errors.New("no such container")
	}
	return c, nil
}

func (f *fakeAPI) Events(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error) {
	return f.events, f.errc
}

func mk(id string) domain.Container {
	return domain.Container{
		Host:    "nas",
		ID:      id,
		ShortID: id,
		Name:    "c-" + id,
		Status:  domain.StatusRunning,
		HostIP:  "10.0.0.5",
	}
}

func newTestWatcher(api *fakeAPI, inv *inventory.Inventory) *Watcher {
	return New(Options{
		API:          api,
		Inv:          inv,
		Tracker:      errtrack.New(),
		Logger:       logger.New("error", false),
		PollInterval: time.Hour, // tests drive events explicitly
		CallTimeout:  time.Second,
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitialSync(t *testing.T) {
	api := newFakeAPI()
	api.set(mk("c1"))
	api.set(mk("c2"))

	inv := inventory.New()
	w := newTestWatcher(api, inv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(domain.OpKind, error) {})
		close(done)
	}()

	waitFor(t, func() bool { return inv.Count() == 2 }, "initial sync never populated the inventory")

	c, ok := inv.Get("nas", "c1")
	if !ok || c.Version == 0 {
		t.Errorf("container = %+v, want poll-stamped version", c)
	}

	cancel()
	<-done
}

func TestInitialSyncFailureReports(t *testing.T) {
	api := newFakeAPI()
	api.listErr = errors.New("exit status 255")

	var gotOp domain.OpKind
	var gotErr error
	w := newTestWatcher(api, inventory.New())
	w.Run(context.Background(), func(op domain.OpKind, err error) {
		gotOp, gotErr = op, err
	})

	if gotOp != domain.OpList || gotErr == nil {
		t.Fatalf("onFailure(%v, %v), want list failure", gotOp, gotErr)
	}
}

func TestEventLifecycle(t *testing.T) {
	api := newFakeAPI()
	inv := inventory.New()
	w := newTestWatcher(api, inv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(domain.OpKind, error) {})
		close(done)
	}()

	// start: inspect and upsert.
	api.set(mk("c1"))
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "start", TimeNano: 1000}
	waitFor(t, func() bool { _, ok := inv.Get("nas", "c1"); return ok }, "start event not applied")

	c, _ := inv.Get("nas", "c1")
	if c.Version != 1000 {
		t.Errorf("Version = %d, want event timestamp", c.Version)
	}

	// die: status only.
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "die", TimeNano: 2000}
	waitFor(t, func() bool {
		c, _ := inv.Get("nas", "c1")
		return c.Status == domain.StatusStopped
	}, "die event not applied")

	// destroy: removed entirely.
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "destroy", TimeNano: 3000}
	waitFor(t, func() bool { _, ok := inv.Get("nas", "c1"); return !ok }, "destroy event not applied")

	cancel()
	<-done
}

func TestStaleEventIsNoOp(t *testing.T) {
	api := newFakeAPI()
	inv := inventory.New()
	w := newTestWatcher(api, inv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(domain.OpKind, error) {})

	api.set(mk("c1"))
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "start", TimeNano: 5000}
	waitFor(t, func() bool { _, ok := inv.Get("nas", "c1"); return ok }, "event not applied")

	// An older duplicate must not regress the stored state.
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "die", TimeNano: 4000}
	time.Sleep(50 * time.Millisecond)

	c, _ := inv.Get("nas", "c1")
	if c.Status != domain.StatusRunning || c.Version != 5000 {
		t.Errorf("container = %+v, stale event should be dropped", c)
	}
}

func TestNonLifecycleEventsIgnored(t *testing.T) {
	api := newFakeAPI()
	inv := inventory.New()
	w := newTestWatcher(api, inv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(domain.OpKind, error) {})

	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "exec_create", TimeNano: 1000}
	api.events <- domain.ContainerEvent{ContainerID: "c1", Action: "health_status: healthy", TimeNano: 2000}
	time.Sleep(50 * time.Millisecond)

	if inv.Count() != 0 {
		t.Errorf("Count() = %d, non-lifecycle events should not create containers", inv.Count())
	}
}

func TestStreamLossReportsToSupervisor(t *testing.T) {
	api := newFakeAPI()
	w := newTestWatcher(api, inventory.New())

	failures := make(chan domain.OpKind, 1)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), func(op domain.OpKind, err error) {
			failures <- op
		})
		close(done)
	}()

	api.errc <- errors.New("connection reset")

	select {
	case op := <-failures:
		if op != domain.OpEvents {
			t.Errorf("failure op = %v, want events", op)
		}
	case <-time.After(time.Second):
		t.Fatal("stream loss never reported")
	}
	<-done
}
