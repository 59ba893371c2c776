// Package reconciler converges the reverse proxy onto the route set implied
// by the current inventory. Each pass recomputes the desired set from
// container labels, diffs it against the last-confirmed applied set, and
// issues only the calls needed to close the gap.
package reconciler

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snadboy/dockmon/internal/backoff"
	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/labels"
	"github.com/snadboy/dockmon/internal/logger"
)

// proxyName keys proxy-side failures in the error tracker.
const proxyName = "caddy"

// ProxyAPI is the control surface of the reverse proxy. Both calls are
// idempotent, so retrying a lost response is always safe.
type ProxyAPI interface {
	UpsertRoute(ctx context.Context, route domain.Route) error
	DeleteRoute(ctx context.Context, key domain.RouteKey) error
}

// Store persists the applied route set across restarts. Optional; without
// it the reconciler starts from an empty applied set and converges through
// idempotent upserts.
type Store interface {
	SaveApplied(ctx context.Context, routes []domain.Route) error
	LoadApplied(ctx context.Context) ([]domain.Route, error)
}

type Options struct {
	Inv       *inventory.Inventory
	Proxy     ProxyAPI
	Extractor *labels.Extractor
	Tracker   *errtrack.Tracker
	Logger    logger.Logger
	Policy    backoff.Policy
	Store     Store

	// Interval is the periodic pass period; inventory changes trigger
	// additional passes after Debounce.
	Interval time.Duration
	Debounce time.Duration

	// StaleGrace is how long a disconnected host's containers keep
	// contributing to the desired set.
	StaleGrace time.Duration

	// CallTimeout bounds each proxy API call.
	CallTimeout time.Duration
}

// retryState tracks backoff for one failing route apply.
type retryState struct {
	failures    int
	nextAttempt time.Time
}

type Reconciler struct {
	inv       *inventory.Inventory
	proxy     ProxyAPI
	extractor *labels.Extractor
	tracker   *errtrack.Tracker
	log       logger.Logger
	policy    backoff.Policy
	store     Store

	interval    time.Duration
	debounce    time.Duration
	staleGrace  time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	applied map[domain.RouteKey]domain.Route
	retries map[domain.RouteKey]*retryState

	passes        atomic.Uint64
	applyFailures atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(opts Options) *Reconciler {
	return &Reconciler{
		inv:         opts.Inv,
		proxy:       opts.Proxy,
		extractor:   opts.Extractor,
		tracker:     opts.Tracker,
		log:         opts.Logger,
		policy:      opts.Policy,
		store:       opts.Store,
		interval:    opts.Interval,
		debounce:    opts.Debounce,
		staleGrace:  opts.StaleGrace,
		callTimeout: opts.CallTimeout,
		applied:     make(map[domain.RouteKey]domain.Route),
		retries:     make(map[domain.RouteKey]*retryState),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Start recovers the persisted applied set, runs one immediate pass, then
// keeps reconciling on the periodic schedule and on debounced inventory
// changes until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.recover(ctx)
	r.Reconcile(ctx)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)

		case <-r.inv.Changes():
			// Let a burst of changes settle into one pass.
			select {
			case <-time.After(r.debounce):
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			}
			r.Reconcile(ctx)

		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconciler) recover(ctx context.Context) {
	if r.store == nil {
		return
	}
	routes, err := r.store.LoadApplied(ctx)
	if err != nil {
		r.log.Warn("applied route recovery failed", logger.Error(err))
		return
	}

	r.mu.Lock()
	for _, route := range routes {
		r.applied[route.Key] = route
	}
	r.mu.Unlock()

	r.log.Info("applied routes recovered", logger.Int("routes", len(routes)))
}

// Reconcile runs one full pass. Safe to call concurrently with the loop;
// passes serialize on the reconciler lock.
func (r *Reconciler) Reconcile(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.passes.Add(1)
	now := r.now()
	ds := r.desired(now)
	r.recordExtraction(ds)
	desired := ds.routes

	// Removes go first so a moved route never serves from two upstreams.
	var toRemove []domain.RouteKey
	for key := range r.applied {
		if _, ok := desired[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i].String() < toRemove[j].String() })

	var toApply []domain.Route
	for key, route := range desired {
		if current, ok := r.applied[key]; !ok || !current.Equal(route) {
			toApply = append(toApply, route)
		}
	}
	sort.Slice(toApply, func(i, j int) bool { return toApply[i].Key.String() < toApply[j].Key.String() })

	failed := false
	for _, key := range toRemove {
		if !r.due(key, now) {
			failed = true
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.proxy.DeleteRoute(callCtx, key)
		cancel()
		if err != nil {
			r.noteFailure(key, now, err)
			failed = true
			continue
		}
		delete(r.applied, key)
		delete(r.retries, key)
		r.log.Info("route removed", logger.String("route", key.String()))
	}

	for _, route := range toApply {
		if !r.due(route.Key, now) {
			failed = true
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		err := r.proxy.UpsertRoute(callCtx, route)
		cancel()
		if err != nil {
			r.noteFailure(route.Key, now, err)
			failed = true
			continue
		}
		r.applied[route.Key] = route
		delete(r.retries, route.Key)
		r.log.Info("route applied", logger.String("route", route.String()))
	}

	if !failed {
		r.tracker.Clear(proxyName, domain.OpReconcile)
	}

	r.persist(ctx)
}

// due reports whether the route's backoff window has elapsed.
func (r *Reconciler) due(key domain.RouteKey, now time.Time) bool {
	rs, ok := r.retries[key]
	return !ok || !rs.nextAttempt.After(now)
}

func (r *Reconciler) noteFailure(key domain.RouteKey, now time.Time, err error) {
	rs := r.retries[key]
	if rs == nil {
		rs = &retryState{}
		r.retries[key] = rs
	}
	rs.failures++
	rs.nextAttempt = now.Add(r.policy.Delay(rs.failures))

	r.applyFailures.Add(1)
	r.tracker.Record(proxyName, domain.OpReconcile, key.String()+": "+err.Error())
	r.log.Error("route apply failed",
		logger.String("route", key.String()),
		logger.Int("failures", rs.failures),
		logger.Error(err))
}

func (r *Reconciler) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	routes := make([]domain.Route, 0, len(r.applied))
	for _, route := range r.applied {
		routes = append(routes, route)
	}
	if err := r.store.SaveApplied(ctx, routes); err != nil {
		r.log.Warn("applied route persistence failed", logger.Error(err))
	}
}

// desiredState is one computed route set plus the extraction failures
// observed while building it. Computing it has no side effects, so the
// read-only API and metrics scrapes can share the code path with passes.
type desiredState struct {
	routes      map[domain.RouteKey]domain.Route
	extractErrs map[string][]string // host -> failure messages
	hosts       map[string]bool     // hosts that contributed containers
}

// desired computes the route set implied by the current inventory. Only
// running containers on fresh hosts, or on hosts stale for less than the
// grace window, contribute. Collisions on domain+path resolve to the
// candidate with the lowest (host, container id), which is stable across
// passes with unchanged input.
func (r *Reconciler) desired(now time.Time) desiredState {
	ds := desiredState{
		routes:      make(map[domain.RouteKey]domain.Route),
		extractErrs: make(map[string][]string),
		hosts:       make(map[string]bool),
	}

	for _, c := range r.inv.All() {
		ds.hosts[c.Host] = true

		if c.Status != domain.StatusRunning {
			continue
		}
		if since, stale := r.inv.StaleSince(c.Host); stale && now.Sub(since) > r.staleGrace {
			continue
		}

		descriptors, errs := r.extractor.Extract(c.Labels)
		for _, err := range errs {
			ds.extractErrs[c.Host] = append(ds.extractErrs[c.Host], c.Name+": "+err.Error())
		}

		for _, d := range descriptors {
			if d.Type != domain.ServiceTypeRevp {
				continue
			}
			route := routeFromDescriptor(c, d)
			if winner, ok := ds.routes[route.Key]; ok && !beats(route, winner) {
				continue
			}
			ds.routes[route.Key] = route
		}
	}

	return ds
}

// recordExtraction feeds extraction outcomes into the error tracker. Only
// reconciliation passes call it; read paths compute the desired set without
// touching the tracker.
func (r *Reconciler) recordExtraction(ds desiredState) {
	for host, msgs := range ds.extractErrs {
		for _, msg := range msgs {
			r.tracker.Record(host, domain.OpExtract, msg)
		}
	}
	for host := range ds.hosts {
		if len(ds.extractErrs[host]) == 0 {
			r.tracker.Clear(host, domain.OpExtract)
		}
	}
}

func routeFromDescriptor(c domain.Container, d domain.Descriptor) domain.Route {
	return domain.Route{
		Key:             domain.RouteKey{Domain: d.Domain, Path: d.Path},
		Scheme:          d.Scheme,
		Upstream:        c.HostIP + ":" + strconv.Itoa(d.Port),
		WebSocket:       d.WebSocket,
		SSLForce:        d.SSLForce,
		Middlewares:     d.Middlewares,
		SourceHost:      c.Host,
		SourceContainer: c.ID,
		SourceInstance:  d.Instance,
	}
}

// beats reports whether a wins a domain+path collision against b: the
// lowest (host, container id) pair takes the route, deterministically.
func beats(a, b domain.Route) bool {
	if a.SourceHost != b.SourceHost {
		return a.SourceHost < b.SourceHost
	}
	return a.SourceContainer < b.SourceContainer
}

// State returns the desired-versus-applied view for the API layer. It is
// read-only: the error tracker is untouched no matter what extraction finds.
func (r *Reconciler) State() domain.RouteState {
	r.mu.Lock()
	defer r.mu.Unlock()

	desired := r.desired(r.now()).routes
	state := domain.RouteState{
		Desired: make([]domain.Route, 0, len(desired)),
		Applied: make([]domain.Route, 0, len(r.applied)),
	}
	for _, route := range desired {
		state.Desired = append(state.Desired, route)
	}
	for _, route := range r.applied {
		state.Applied = append(state.Applied, route)
	}
	sort.Slice(state.Desired, func(i, j int) bool {
		return state.Desired[i].Key.String() < state.Desired[j].Key.String()
	})
	sort.Slice(state.Applied, func(i, j int) bool {
		return state.Applied[i].Key.String() < state.Applied[j].Key.String()
	})
	return state
}

// Passes returns how many reconciliation passes have run.
func (r *Reconciler) Passes() uint64 { return r.passes.Load() }

// ApplyFailures returns how many individual proxy calls have failed.
func (r *Reconciler) ApplyFailures() uint64 { return r.applyFailures.Load() }
