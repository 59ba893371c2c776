package domain

import "time"

// HostKind tells the monitor how to reach a host's Docker runtime.
type HostKind string

const (
	// HostLocal talks to the Docker daemon on the machine running dockmon.
	HostLocal HostKind = "local"
	// HostSSH proxies Docker CLI calls over an SSH channel.
	HostSSH HostKind = "ssh"
)

// ConnState is the connection lifecycle state of a monitored host.
// A host is in exactly one state at any instant; only the supervisor
// mutates it.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// HostSpec is the immutable, configuration-derived identity of a host.
type HostSpec struct {
	// Name is the unique identifier used as the inventory key prefix.
	// For SSH hosts this is conventionally the address.
	Name string

	Kind HostKind

	// Address is the SSH target for remote hosts; empty for local.
	Address string

	SSHUser string
	SSHPort int

	// IPOverride forces the upstream IP used in proxy routes instead of
	// auto-detection.
	IPOverride string
}

// HostStatus is the supervisor's mutable view of a host, exposed read-only
// to the API layer.
type HostStatus struct {
	Name          string    `json:"name"`
	Kind          HostKind  `json:"kind"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastError     string    `json:"last_error,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at,omitzero"`
	LastContactAt time.Time `json:"last_contact_at,omitzero"`
}
