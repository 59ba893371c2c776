// Package dockerhost reaches the Docker runtime of one monitored host,
// either directly or over an SSH channel, and normalizes what it reports
// into the inventory's container model.
package dockerhost

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
)

// API is the per-host runtime surface the supervisor and watcher consume.
// Every call is fallible and network-bound; implementations never retry
// internally, the supervisor owns that.
type API interface {
	Name() string
	Kind() domain.HostKind

	// Ping verifies the runtime is reachable end to end.
	Ping(ctx context.Context) error

	// List returns every container on the host, running or not.
	List(ctx context.Context) ([]domain.Container, error)

	// Inspect returns one container by id.
	Inspect(ctx context.Context, id string) (domain.Container, error)

	// Events opens the live container event stream. It delivers events
	// until ctx is cancelled or the stream breaks; the terminal error (nil
	// on clean cancellation) arrives on the second channel, after which
	// both channels are closed.
	Events(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error)

	// HostIP is the address upstream routes dial for this host's
	// containers.
	HostIP() string
}

// Client implements API over a Runner.
type Client struct {
	name   string
	kind   domain.HostKind
	runner Runner
	hostIP string
}

// NewClient resolves the host's upstream IP once and wires the runner.
func NewClient(spec domain.HostSpec) (*Client, error) {
	runner, err := NewRunner(spec)
	if err != nil {
		return nil, err
	}
	return &Client{
		name:   spec.Name,
		kind:   spec.Kind,
		runner: runner,
		hostIP: resolveHostIP(spec),
	}, nil
}

func (c *Client) Name() string          { return c.name }
func (c *Client) Kind() domain.HostKind { return c.kind }
func (c *Client) HostIP() string        { return c.hostIP }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.runner.Run(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}

func (c *Client) List(ctx context.Context) ([]domain.Container, error) {
	out, err := c.runner.Run(ctx, "ps", "-aq", "--no-trunc")
	if err != nil {
		return nil, err
	}

	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		return nil, nil
	}
	return c.inspectAll(ctx, ids)
}

func (c *Client) Inspect(ctx context.Context, id string) (domain.Container, error) {
	containers, err := c.inspectAll(ctx, []string{id})
	if err != nil {
		return domain.Container{}, err
	}
	if len(containers) != 1 {
		return domain.Container{}, fmt.Errorf("%w: container %s not found", domain.ErrConnection, shortID(id))
	}
	return containers[0], nil
}

func (c *Client) inspectAll(ctx context.Context, ids []string) ([]domain.Container, error) {
	args := append([]string{"inspect"}, ids...)
	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	entries, err := parseInspect(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	containers := make([]domain.Container, 0, len(entries))
	for _, e := range entries {
		containers = append(containers, e.toContainer(c.name, c.hostIP))
	}
	return containers, nil
}

func (c *Client) Events(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error) {
	events := make(chan domain.ContainerEvent)
	errc := make(chan error, 1)

	stdout, wait, err := c.runner.Stream(ctx,
		"events", "--format", "{{json .}}", "--filter", "type=container")
	if err != nil {
		errc <- err
		close(events)
		close(errc)
		return events, errc
	}

	go func() {
		defer close(events)
		defer close(errc)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			entry, err := parseEvent(scanner.Bytes())
			if err != nil || entry.Type != "container" {
				continue
			}
			select {
			case events <- domain.ContainerEvent{
				ContainerID: entry.Actor.ID,
				Action:      entry.Action,
				TimeNano:    entry.TimeNano,
			}:
			case <-ctx.Done():
				stdout.Close()
				wait()
				errc <- nil
				return
			}
		}

		waitErr := wait()
		if ctx.Err() != nil {
			errc <- nil
			return
		}
		if waitErr == nil {
			// A clean exit of a supposedly endless stream is still a lost
			// subscription.
			waitErr = fmt.Errorf("%w: event stream closed", domain.ErrConnection)
		}
		errc <- waitErr
	}()

	return events, errc
}

// resolveHostIP picks the address proxy routes dial for this host. An
// explicit override wins, then the SSH address (resolved when it is a
// hostname), and for the local host the outbound interface address.
func resolveHostIP(spec domain.HostSpec) string {
	if spec.IPOverride != "" {
		return spec.IPOverride
	}
	if spec.Kind == domain.HostSSH {
		if addrs, err := net.LookupHost(spec.Address); err == nil && len(addrs) > 0 {
			return addrs[0]
		}
		return spec.Address
	}
	return outboundIP()
}

// outboundIP detects the local machine's primary address by opening a UDP
// socket toward a public address. No packet is sent.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
