package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Host discovery
	HostsFile   string   // optional YAML file with per-host settings
	LocalHost   bool     // monitor the local Docker daemon
	SSHHosts    []string // addresses monitored over SSH
	SSHUser     string   // default SSH user for hosts without an override
	SSHPort     int      // default SSH port
	LocalIP     string   // explicit upstream IP for the local host (optional)
	LabelPrefix string   // discovery label prefix (default "snadboy.")

	// Supervision and reconciliation
	BackoffBase       time.Duration // first retry delay
	BackoffCap        time.Duration // maximum retry delay
	TickInterval      time.Duration // supervisor retry scheduler period
	PollInterval      time.Duration // full inventory poll per connected host
	ReconcileInterval time.Duration // periodic reconciliation pass
	Debounce          time.Duration // coalescing window for inventory-change triggers
	StaleGrace        time.Duration // how long a disconnected host keeps its routes
	CallTimeout       time.Duration // per remote call (docker, ssh, proxy API)

	// Reverse proxy control API
	CaddyAdminURL string

	// Optional applied-route state store. Empty addr disables persistence.
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDialTimeout    time.Duration
	RedisReadTimeout    time.Duration
	RedisWriteTimeout   time.Duration
	RedisConnectTimeout time.Duration
	RedisRetryInterval  time.Duration
	RedisMaxWait        time.Duration
	RedisPingTimeout    time.Duration
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("DOCKMON_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("DOCKMON_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("DOCKMON_LOG_LEVEL", "info"),
		PrettyLog: mustBool("DOCKMON_PRETTY_LOG", false),

		// Host discovery
		HostsFile:   getenv("DOCKMON_HOSTS_FILE", ""),
		LocalHost:   mustBool("DOCKMON_HOSTS_LOCAL", true),
		SSHHosts:    splitAndTrim(getenv("DOCKMON_HOSTS_SSH", "")),
		SSHUser:     getenv("DOCKMON_SSH_USER", "root"),
		SSHPort:     getenvInt("DOCKMON_SSH_PORT", 22),
		LocalIP:     getenv("DOCKMON_LOCAL_HOST_IP", ""),
		LabelPrefix: strings.ToLower(getenv("DOCKMON_LABEL_PREFIX", "snadboy.")),

		// Supervision and reconciliation
		BackoffBase:       mustDuration("DOCKMON_BACKOFF_BASE", 2*time.Second),
		BackoffCap:        mustDuration("DOCKMON_BACKOFF_CAP", 5*time.Minute),
		TickInterval:      mustDuration("DOCKMON_TICK_INTERVAL", time.Second),
		PollInterval:      mustDuration("DOCKMON_POLL_INTERVAL", 30*time.Second),
		ReconcileInterval: mustDuration("DOCKMON_RECONCILE_INTERVAL", 15*time.Second),
		Debounce:          mustDuration("DOCKMON_DEBOUNCE", 500*time.Millisecond),
		StaleGrace:        mustDuration("DOCKMON_STALE_GRACE", 5*time.Minute),
		CallTimeout:       mustDuration("DOCKMON_CALL_TIMEOUT", 10*time.Second),

		// Caddy Admin API
		CaddyAdminURL: getenv("DOCKMON_CADDY_ADMIN_URL", "http://localhost:2019"),

		// Redis settings (optional)
		RedisAddr:           getenv("DOCKMON_REDIS_ADDR", ""),
		RedisUser:           getenv("DOCKMON_REDIS_USERNAME", ""),
		RedisPassword:       getenv("DOCKMON_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("DOCKMON_REDIS_DB", 0),
		RedisDialTimeout:    mustDuration("DOCKMON_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:    mustDuration("DOCKMON_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout:   mustDuration("DOCKMON_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisConnectTimeout: mustDuration("DOCKMON_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("DOCKMON_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        mustDuration("DOCKMON_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("DOCKMON_REDIS_PING_TIMEOUT", 5*time.Second),
	}

	return cfg
}

// Validate checks the parts of the configuration that cannot be defaulted.
// It runs before any supervision loop starts; an error here is fatal.
func (c *Config) Validate() error {
	if !strings.HasSuffix(c.LabelPrefix, ".") {
		return fmt.Errorf("label prefix %q must end with a dot", c.LabelPrefix)
	}
	if c.SSHPort < 1 || c.SSHPort > 65535 {
		return fmt.Errorf("invalid SSH port %d", c.SSHPort)
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("reconcile interval %v must be at least 1s", c.ReconcileInterval)
	}
	if c.CaddyAdminURL == "" {
		return fmt.Errorf("caddy admin URL must not be empty")
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Drop inline comments (e.g. "10.0.0.5#nas")
		if idx := strings.Index(trimmed, "#"); idx != -1 {
			trimmed = trimmed[:idx]
		}
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
