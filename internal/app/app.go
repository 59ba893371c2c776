package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/snadboy/dockmon/internal/backoff"
	"github.com/snadboy/dockmon/internal/caddy"
	"github.com/snadboy/dockmon/internal/config"
	"github.com/snadboy/dockmon/internal/dockerhost"
	"github.com/snadboy/dockmon/internal/domain"
	"github.com/snadboy/dockmon/internal/errtrack"
	"github.com/snadboy/dockmon/internal/httpserver"
	"github.com/snadboy/dockmon/internal/httpserver/deps"
	"github.com/snadboy/dockmon/internal/inventory"
	"github.com/snadboy/dockmon/internal/labels"
	"github.com/snadboy/dockmon/internal/logger"
	"github.com/snadboy/dockmon/internal/metrics"
	"github.com/snadboy/dockmon/internal/reconciler"
	"github.com/snadboy/dockmon/internal/redis"
	redisstore "github.com/snadboy/dockmon/internal/store/redis"
	"github.com/snadboy/dockmon/internal/supervisor"
	"github.com/snadboy/dockmon/internal/version"
	"github.com/snadboy/dockmon/internal/watcher"
)

// degradedThreshold is the error streak length at which readiness reports
// degraded.
const degradedThreshold = 5

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	supervisor  *supervisor.Supervisor
	reconciler  *reconciler.Reconciler
	proxy       *caddy.Client
	redisClient *goredis.Client
}

func New() (*App, error) {
	cfg := config.Load()
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	hosts, err := cfg.Hosts()
	if err != nil {
		return nil, err
	}

	// Optional Redis: without it the applied route set just starts empty
	// after a restart and converges through idempotent upserts.
	var redisClient *goredis.Client
	var store reconciler.Store
	if cfg.RedisAddr != "" {
		redisClient, err = redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDialTimeout,
			ReadTimeout:    cfg.RedisReadTimeout,
			WriteTimeout:   cfg.RedisWriteTimeout,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis unavailable, route persistence disabled", logger.Error(err))
		} else {
			store = redisstore.NewStore(redisClient)
		}
	} else {
		loggerClient.Info("redis not configured, route persistence disabled")
	}

	inv := inventory.New()
	tracker := errtrack.New()
	policy := backoff.New(cfg.BackoffBase, cfg.BackoffCap)
	extractor := labels.New(cfg.LabelPrefix, labels.NewRegistry(), loggerClient)

	clients := make([]dockerhost.API, 0, len(hosts))
	for _, spec := range hosts {
		client, err := dockerhost.NewClient(spec)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", spec.Name, err)
		}
		loggerClient.Info("host configured",
			logger.String("host", spec.Name),
			logger.String("kind", string(spec.Kind)),
			logger.String("upstream_ip", client.HostIP()))
		clients = append(clients, client)
	}

	var sup *supervisor.Supervisor
	sup = supervisor.New(supervisor.Options{
		Hosts:   clients,
		Policy:  policy,
		Logger:  loggerClient,
		Tracker: tracker,
		Inv:     inv,
		Watch: func(ctx context.Context, api dockerhost.API, onFailure func(domain.OpKind, error)) {
			w := watcher.New(watcher.Options{
				API:          api,
				Inv:          inv,
				Tracker:      tracker,
				Logger:       loggerClient,
				PollInterval: cfg.PollInterval,
				CallTimeout:  cfg.CallTimeout,
				OnContact:    func() { sup.MarkContact(api.Name()) },
			})
			w.Run(ctx, onFailure)
		},
		TickInterval: cfg.TickInterval,
		CallTimeout:  cfg.CallTimeout,
	})

	proxy := caddy.NewClient(cfg.CaddyAdminURL, cfg.CallTimeout)
	if store == nil {
		// No external store: adopt whatever routes we own from the live
		// proxy config, so a previous run's leftovers get cleaned up.
		store = caddy.NewStateStore(proxy)
	}

	rec := reconciler.New(reconciler.Options{
		Inv:         inv,
		Proxy:       proxy,
		Extractor:   extractor,
		Tracker:     tracker,
		Logger:      loggerClient,
		Policy:      policy,
		Store:       store,
		Interval:    cfg.ReconcileInterval,
		Debounce:    cfg.Debounce,
		StaleGrace:  cfg.StaleGrace,
		CallTimeout: cfg.CallTimeout,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(metrics.Sources{
			Hosts:         sup.Snapshot,
			Containers:    inv.Count,
			Routes:        rec.State,
			Passes:        rec.Passes,
			ApplyFailures: rec.ApplyFailures,
			Errors:        tracker.Snapshot,
		}),
	)

	d := deps.Deps{
		Logger:            loggerClient,
		StartTime:         time.Now(),
		Version:           version.Version,
		Commit:            version.Commit,
		BuildDate:         version.BuildDate,
		GoVersion:         version.GoVersion,
		Supervisor:        sup,
		Inv:               inv,
		Tracker:           tracker,
		Reconciler:        rec,
		Registry:          registry,
		DegradedThreshold: degradedThreshold,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d),
		supervisor:  sup,
		reconciler:  rec,
		proxy:       proxy,
		redisClient: redisClient,
	}, nil
}

func (a *App) Run() error {
	a.logger.Infof("starting dockmon %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancelPing := context.WithTimeout(ctx, a.cfg.CallTimeout)
	if err := a.proxy.Ping(pingCtx); err != nil {
		a.logger.Warn("proxy admin API unreachable, route changes will retry", logger.Error(err))
	} else {
		a.logger.Info("proxy admin API reachable", logger.String("url", a.cfg.CaddyAdminURL))
	}
	cancelPing()

	a.supervisor.Start(ctx)
	a.logger.Info("supervisor started", logger.Duration("tick", a.cfg.TickInterval))

	a.reconciler.Start(ctx)
	a.logger.Info("reconciler started", logger.Duration("interval", a.cfg.ReconcileInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	// Stop producing proxy changes before the watchers go away.
	a.reconciler.Stop()
	a.supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		}
	}

	a.logger.Info("dockmon stopped cleanly")
	return nil
}
