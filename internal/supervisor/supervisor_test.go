package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snadboy/dockmon/internal/backoff"
	"github.com/snadboy/dockmon/internal/dockerhost"
	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/logger"
)

type fakeAPI struct {
	mu      sync.Mutex
	name    string
	pingErr error
}

func (f *fakeAPI) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeAPI) Name() string          { return f.name }
func (f *fakeAPI) Kind() domain.HostKind { return domain.HostSSH }
func (f *fakeAPI) HostIP() string        { return "10.0.0.5" }

func (f *fakeAPI) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAPI) List(ctx context.Context) ([]domain.Container, error) {
	return nil, nil
}

func (f *fakeAPI) Inspect(ctx context.Context, id string) (domain.Container, error) {
	return domain.Container{}, nil
}

func (f *fakeAPI) Events(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error) {
	events := make(chan domain.ContainerEvent)
	errc := make(chan error, 1)
	go func() {
		<-ctx.Done()
		close(events)
		errc <- nil
		close(errc)
	}()
	return events, errc
}

func noJitter(base time.Duration) backoff.Policy {
	p := backoff.New(base, 0)
	p.Rand = func() float64 { return 0 }
	return p
}

func newTestSupervisor(api dockerhost.API, watch WatchFunc) (*Supervisor, *errtrack.Tracker, *inventory.Inventory) {
	tracker := errtrack.New()
	inv := inventory.New()
	s := New(Options{
		Hosts:        []dockerhost.API{api},
		Policy:       noJitter(2 * time.Second),
		Watch:        watch,
		Logger:       logger.New("error", false),
		Tracker:      tracker,
		Inv:          inv,
		TickInterval: 10 * time.Millisecond,
		CallTimeout:  time.Second,
	})
	return s, tracker, inv
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

func TestConnectStartsWatcher(t *testing.T) {
	api := &fakeAPI{name: "nas"}
	watching := make(chan struct{}, 1)
	s, tracker, _ := newTestSupervisor(api, func(ctx context.Context, a dockerhost.API, _ func(domain.OpKind, error)) {
		watching <- struct{}{}
		<-ctx.Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.connect(ctx, "nas")

	if got := s.State("nas"); got != domain.StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	select {
	case <-watching:
	case <-time.After(time.Second):
		t.Fatal("watcher never started")
	}
	if tracker.Len() != 0 {
		t.Errorf("tracker has %d records after clean connect", tracker.Len())
	}

	cancel()
	s.Stop()
}

func TestBackoffProgression(t *testing.T) {
	api := &fakeAPI{name: "nas", pingErr: errors.New("dial refused")}
	s, tracker, inv := newTestSupervisor(api, nil)

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	var retries []time.Time
	for i := 1; i <= 3; i++ {
		s.connect(ctx, "nas")
		snap := s.Snapshot()[0]
		if snap.State != "backoff" {
			t.Fatalf("attempt %d: state = %s, want backoff", i, snap.State)
		}
		if snap.Failures != i {
			t.Fatalf("attempt %d: failures = %d, want %d", i, snap.Failures, i)
		}
		retries = append(retries, snap.NextRetryAt)
	}

	// Scheduled retry times grow strictly with the failure count.
	for i := 1; i < len(retries); i++ {
		if !retries[i].After(retries[i-1]) {
			t.Errorf("retry %d (%v) not after retry %d (%v)", i, retries[i], i-1, retries[i-1])
		}
	}

	if _, stale := inv.StaleSince("nas"); !stale {
		t.Error("host not marked stale after connect failure")
	}

	snap := tracker.Snapshot()
	if len(snap) != 1 || snap[0].Count != 3 {
		t.Fatalf("tracker = %+v, want one connect record with count 3", snap)
	}

	// One success resets the streak.
	api.setPingErr(nil)
	s.connect(ctx, "nas")
	st := s.Snapshot()[0]
	if st.State != "connected" || st.Failures != 0 {
		t.Fatalf("after recovery: %+v", st)
	}
	if tracker.Len() != 0 {
		t.Error("connect record survived recovery")
	}
	s.Stop()
}

func TestConnectSkippedWhileBackoffPending(t *testing.T) {
	api := &fakeAPI{name: "nas", pingErr: errors.New("down")}
	s, _, _ := newTestSupervisor(api, nil)

	ctx := context.Background()
	s.connect(ctx, "nas")

	// tick must not retry before the scheduled time.
	s.tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if got := s.Snapshot()[0].Failures; got != 1 {
		t.Fatalf("failures = %d, want 1 (no early retry)", got)
	}

	// Once the retry time elapses, tick reconnects.
	api.setPingErr(nil)
	s.mu.Lock()
	s.hosts["nas"].nextRetry = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.tick(ctx)
	waitFor(t, func() bool { return s.State("nas") == domain.StateConnected },
		"host never reconnected after due retry")
	s.Stop()
}

func TestReportFailure(t *testing.T) {
	api := &fakeAPI{name: "nas"}
	stopped := make(chan struct{})
	s, tracker, inv := newTestSupervisor(api, func(ctx context.Context, a dockerhost.API, _ func(domain.OpKind, error)) {
		<-ctx.Done()
		close(stopped)
	})

	ctx := context.Background()
	s.connect(ctx, "nas")
	if s.State("nas") != domain.StateConnected {
		t.Fatal("precondition: host not connected")
	}

	s.ReportFailure("nas", domain.OpEvents, errors.New("stream reset"))

	if got := s.State("nas"); got != domain.StateBackoff {
		t.Fatalf("state = %v, want backoff", got)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("watcher not cancelled after failure report")
	}
	if _, stale := inv.StaleSince("nas"); !stale {
		t.Error("host not marked stale")
	}
	recs := tracker.Snapshot()
	if len(recs) != 1 || recs[0].Op != domain.OpEvents {
		t.Fatalf("tracker = %+v", recs)
	}

	// A second report for a host already out of Connected is a no-op.
	s.ReportFailure("nas", domain.OpEvents, errors.New("again"))
	if got := s.Snapshot()[0].Failures; got != 1 {
		t.Errorf("failures = %d, duplicate report should be ignored", got)
	}
	s.Stop()
}

func TestReconnectClearsAllHostStreaks(t *testing.T) {
	api := &fakeAPI{name: "nas"}
	s, tracker, _ := newTestSupervisor(api, nil)

	// Streaks accumulated during the outage, across several operations.
	tracker.Record("nas", domain.OpEvents, "stream reset")
	tracker.Record("nas", domain.OpList, "timeout")
	tracker.Record("other", domain.OpConnect, "down")

	s.connect(context.Background(), "nas")
	if s.State("nas") != domain.StateConnected {
		t.Fatal("precondition: host not connected")
	}

	recs := tracker.Snapshot()
	if len(recs) != 1 || recs[0].Host != "other" {
		t.Fatalf("tracker = %+v, want only the unrelated host's record left", recs)
	}
	s.Stop()
}

func TestStartConnectsAllHostsInParallel(t *testing.T) {
	a := &fakeAPI{name: "a"}
	b := &fakeAPI{name: "b", pingErr: errors.New("down")}

	tracker := errtrack.New()
	s := New(Options{
		Hosts:        []dockerhost.API{a, b},
		Policy:       noJitter(time.Second),
		Logger:       logger.New("error", false),
		Tracker:      tracker,
		Inv:          inventory.New(),
		TickInterval: time.Hour,
		CallTimeout:  time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if s.State("a") != domain.StateConnected {
		t.Errorf("host a state = %v, want connected", s.State("a"))
	}
	if s.State("b") != domain.StateBackoff {
		t.Errorf("host b state = %v, want backoff", s.State("b"))
	}
	if s.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount() = %d, want 1", s.ConnectedCount())
	}
}
