// Package watcher feeds the inventory for one connected host: an initial
// full sync, a live event subscription, and a periodic full poll that
// covers events missed while disconnected. A watcher never reconnects on
// its own; it reports stream loss upward and exits.
package watcher

import (
	"context"
	"time"

	"github.com/snadboy/dockmon/internal/dockerhost"
	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/logger"
)

type Options struct {
	API     dockerhost.API
	Inv     *inventory.Inventory
	Tracker *errtrack.Tracker
	Logger  logger.Logger

	// PollInterval is the period of the catch-up full poll.
	PollInterval time.Duration
	// CallTimeout bounds each list and inspect call.
	CallTimeout time.Duration

	// OnContact is invoked after every successful full poll. Optional.
	OnContact func()
}

type Watcher struct {
	api     dockerhost.API
	inv     *inventory.Inventory
	tracker *errtrack.Tracker
	log     logger.Logger

	pollInterval time.Duration
	callTimeout  time.Duration
	onContact    func()

	now func() time.Time
}

func New(opts Options) *Watcher {
	w := &Watcher{
		api:          opts.API,
		inv:          opts.Inv,
		tracker:      opts.Tracker,
		log:          opts.Logger,
		pollInterval: opts.PollInterval,
		callTimeout:  opts.CallTimeout,
		onContact:    opts.OnContact,
		now:          time.Now,
	}
	if w.onContact == nil {
		w.onContact = func() {}
	}
	return w
}

// Run blocks until ctx is cancelled or the host fails. onFailure is called
// at most once, with the operation that broke; after that the watcher is
// done and the supervisor owns recovery.
func (w *Watcher) Run(ctx context.Context, onFailure func(op domain.OpKind, err error)) {
	if err := w.poll(ctx); err != nil {
		onFailure(domain.OpList, err)
		return
	}

	events, errc := w.api.Events(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Terminal state arrives on errc.
				events = nil
				continue
			}
			w.handleEvent(ctx, ev)

		case err := <-errc:
			if err == nil || ctx.Err() != nil {
				return
			}
			onFailure(domain.OpEvents, err)
			return

		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				onFailure(domain.OpList, err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// poll replaces the host's inventory with a fresh full listing. Containers
// are stamped with the poll start time so an event that fires mid-poll
// (and thus carries a later timestamp) wins the version race.
func (w *Watcher) poll(ctx context.Context) error {
	start := w.now()

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	containers, err := w.api.List(callCtx)
	cancel()
	if err != nil {
		return err
	}

	version := start.UnixNano()
	for i := range containers {
		containers[i].Version = version
	}
	w.inv.SyncHost(w.api.Name(), containers)

	w.tracker.Clear(w.api.Name(), domain.OpList)
	w.onContact()

	w.log.Debug("host polled",
		logger.String("host", w.api.Name()),
		logger.Int("containers", len(containers)))
	return nil
}

func (w *Watcher) handleEvent(ctx context.Context, ev domain.ContainerEvent) {
	host := w.api.Name()

	switch dockerhost.ClassifyAction(ev.Action) {
	case dockerhost.EffectInspect:
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
		c, err := w.api.Inspect(callCtx, ev.ContainerID)
		cancel()
		if err != nil {
			// The container may have vanished between the event and the
			// inspect; the next poll settles it either way.
			w.tracker.Record(host, domain.OpInspect, err.Error())
			w.log.Debug("inspect after event failed",
				logger.String("host", host),
				logger.String("container", shorten(ev.ContainerID)),
				logger.Error(err))
			return
		}
		c.Version = ev.TimeNano
		w.inv.Upsert(c)
		w.tracker.Clear(host, domain.OpInspect)

	case dockerhost.EffectStop:
		w.inv.SetStatus(host, ev.ContainerID, domain.StatusStopped, ev.TimeNano)

	case dockerhost.EffectRemove:
		w.inv.Remove(host, ev.ContainerID)

	case dockerhost.EffectNone:
	}
}

func shorten(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
