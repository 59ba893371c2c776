// Package supervisor owns the connection lifecycle of every monitored
// host. Each host moves through Disconnected, Connecting, Connected and
// Backoff; only this package mutates that state. Watchers report stream
// failures back here instead of retrying themselves.
package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snadboy/dockmon/internal/backoff"
	"github.com/snadboy/dockmon/internal/dockerhost"
	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/logger"
)

// WatchFunc runs a host's event watcher until ctx is cancelled. onFailure
// must be called at most once, when the subscription is lost.
type WatchFunc func(ctx context.Context, api dockerhost.API, onFailure func(op domain.OpKind, err error))

type Options struct {
	Hosts   []dockerhost.API
	Policy  backoff.Policy
	Watch   WatchFunc
	Logger  logger.Logger
	Tracker *errtrack.Tracker
	Inv     *inventory.Inventory

	// TickInterval is the retry scheduler period.
	TickInterval time.Duration
	// CallTimeout bounds each connect probe.
	CallTimeout time.Duration
}

type hostState struct {
	api dockerhost.API

	state       domain.ConnState
	failures    int
	lastErr     string
	nextRetry   time.Time
	lastContact time.Time

	// cancelWatch stops the running watcher; nil unless Connected.
	cancelWatch context.CancelFunc
}

type Supervisor struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	order []string

	policy  backoff.Policy
	watch   WatchFunc
	log     logger.Logger
	tracker *errtrack.Tracker
	inv     *inventory.Inventory

	tickInterval time.Duration
	callTimeout  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		hosts:        make(map[string]*hostState, len(opts.Hosts)),
		policy:       opts.Policy,
		watch:        opts.Watch,
		log:          opts.Logger,
		tracker:      opts.Tracker,
		inv:          opts.Inv,
		tickInterval: opts.TickInterval,
		callTimeout:  opts.CallTimeout,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
	for _, api := range opts.Hosts {
		s.hosts[api.Name()] = &hostState{api: api, state: domain.StateDisconnected}
		s.order = append(s.order, api.Name())
	}
	return s
}

// Start attempts an initial connect of every host in parallel, then runs
// the retry scheduler until ctx is cancelled or Stop is called. Connect
// failures at startup are not fatal; the hosts simply begin in Backoff.
func (s *Supervisor) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.order {
		name := name
		g.Go(func() error {
			s.connect(gctx, name)
			return nil
		})
	}
	g.Wait()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels all watchers and the scheduler, then waits for them.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	for _, h := range s.hosts {
		if h.cancelWatch != nil {
			h.cancelWatch()
			h.cancelWatch = nil
		}
		h.state = domain.StateDisconnected
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// tick retries every host in Backoff whose scheduled retry time has
// elapsed. Retries run concurrently so a hung host never delays others.
func (s *Supervisor) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []string
	for name, h := range s.hosts {
		if h.state == domain.StateBackoff && !h.nextRetry.After(now) {
			due = append(due, name)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		name := name
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.connect(ctx, name)
		}()
	}
}

// connect drives one attempt of the state machine for name. The probe
// itself runs without the lock held.
func (s *Supervisor) connect(ctx context.Context, name string) {
	s.mu.Lock()
	h, ok := s.hosts[name]
	if !ok || h.state == domain.StateConnecting || h.state == domain.StateConnected {
		s.mu.Unlock()
		return
	}
	h.state = domain.StateConnecting
	s.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err := h.api.Ping(probeCtx)
	cancel()

	if err != nil {
		s.onConnectFailure(name, err)
		return
	}
	s.onConnected(ctx, name)
}

func (s *Supervisor) onConnected(ctx context.Context, name string) {
	s.mu.Lock()
	h := s.hosts[name]
	h.state = domain.StateConnected
	h.failures = 0
	h.lastErr = ""
	h.nextRetry = time.Time{}
	h.lastContact = s.now()

	watchCtx, cancel := context.WithCancel(ctx)
	h.cancelWatch = cancel
	s.mu.Unlock()

	// A fresh connection invalidates every streak the outage produced,
	// not just the connect one.
	s.tracker.ClearHost(name)
	s.log.Info("host connected", logger.String("host", name))

	if s.watch != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watch(watchCtx, h.api, func(op domain.OpKind, err error) {
				s.ReportFailure(name, op, err)
			})
		}()
	}
}

func (s *Supervisor) onConnectFailure(name string, err error) {
	s.mu.Lock()
	h := s.hosts[name]
	h.state = domain.StateBackoff
	h.failures++
	h.lastErr = err.Error()
	delay := s.policy.Delay(h.failures)
	h.nextRetry = s.now().Add(delay)
	failures := h.failures
	s.mu.Unlock()

	s.tracker.Record(name, domain.OpConnect, err.Error())
	s.inv.MarkStale(name)
	s.log.Warn("host connect failed",
		logger.String("host", name),
		logger.Int("failures", failures),
		logger.Duration("retry_in", delay),
		logger.Error(err))
}

// ReportFailure is called by a host's watcher when its event subscription
// or poll breaks. It forces the host out of Connected and into the same
// backoff cycle as a failed connect. Reports for hosts not currently
// Connected are ignored; the state machine already handled them.
func (s *Supervisor) ReportFailure(name string, op domain.OpKind, err error) {
	s.mu.Lock()
	h, ok := s.hosts[name]
	if !ok || h.state != domain.StateConnected {
		s.mu.Unlock()
		return
	}
	if h.cancelWatch != nil {
		h.cancelWatch()
		h.cancelWatch = nil
	}
	h.state = domain.StateBackoff
	h.failures++
	h.lastErr = err.Error()
	delay := s.policy.Delay(h.failures)
	h.nextRetry = s.now().Add(delay)
	s.mu.Unlock()

	s.tracker.Record(name, op, err.Error())
	s.inv.MarkStale(name)
	s.log.Warn("host lost",
		logger.String("host", name),
		logger.String("op", string(op)),
		logger.Duration("retry_in", delay),
		logger.Error(err))
}

// MarkContact refreshes the host's last-successful-contact timestamp.
// Watchers call it after each successful poll.
func (s *Supervisor) MarkContact(name string) {
	s.mu.Lock()
	if h, ok := s.hosts[name]; ok {
		h.lastContact = s.now()
	}
	s.mu.Unlock()
}

// State returns the host's current connection state.
func (s *Supervisor) State(name string) domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hosts[name]; ok {
		return h.state
	}
	return domain.StateDisconnected
}

// ConnectedCount returns how many hosts are currently Connected.
func (s *Supervisor) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hosts {
		if h.state == domain.StateConnected {
			n++
		}
	}
	return n
}

// Snapshot returns the per-host status view, in configuration order.
func (s *Supervisor) Snapshot() []domain.HostStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.HostStatus, 0, len(s.order))
	for _, name := range s.order {
		h := s.hosts[name]
		out = append(out, domain.HostStatus{
			Name:          name,
			Kind:          h.api.Kind(),
			State:         h.state.String(),
			Failures:      h.failures,
			LastError:     h.lastErr,
			NextRetryAt:   h.nextRetry,
			LastContactAt: h.lastContact,
		})
	}
	return out
}
