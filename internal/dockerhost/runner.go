package dockerhost

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/snadboy/dockmon/internal/domain"
)

// Runner executes Docker CLI calls against one host. The local variant
// spawns docker directly; the SSH variant proxies the same calls through an
// ssh channel so remote hosts need nothing but sshd and the docker binary.
type Runner interface {
	// Run executes docker with args and returns its combined stdout.
	Run(ctx context.Context, args ...string) ([]byte, error)

	// Stream starts docker with args and returns its stdout for line-wise
	// consumption. The returned wait func must be called after the reader
	// is exhausted; it reaps the process and reports its exit error.
	Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error)
}

// NewRunner builds the Runner matching the host kind.
func NewRunner(spec domain.HostSpec) (Runner, error) {
	switch spec.Kind {
	case domain.HostLocal:
		return &LocalRunner{}, nil
	case domain.HostSSH:
		return &SSHRunner{
			User: spec.SSHUser,
			Addr: spec.Address,
			Port: spec.SSHPort,
		}, nil
	default:
		return nil, fmt.Errorf("unknown host kind %q", spec.Kind)
	}
}

// LocalRunner talks to the Docker daemon on this machine.
type LocalRunner struct{}

func (r *LocalRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		return nil, wrapExecErr(ctx, err)
	}
	return out, nil
}

func (r *LocalRunner) Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error) {
	return startPipe(ctx, exec.CommandContext(ctx, "docker", args...))
}

// SSHRunner proxies Docker CLI calls over ssh. BatchMode keeps a missing or
// rejected key from hanging on a password prompt.
type SSHRunner struct {
	User string
	Addr string
	Port int
}

func (r *SSHRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "ssh", r.sshArgs(args)...).Output()
	if err != nil {
		return nil, wrapExecErr(ctx, err)
	}
	return out, nil
}

func (r *SSHRunner) Stream(ctx context.Context, args ...string) (io.ReadCloser, func() error, error) {
	return startPipe(ctx, exec.CommandContext(ctx, "ssh", r.sshArgs(args)...))
}

func (r *SSHRunner) sshArgs(dockerArgs []string) []string {
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=10",
		"-o", "StrictHostKeyChecking=accept-new",
		"-p", strconv.Itoa(r.Port),
		r.User + "@" + r.Addr,
		"docker",
	}
	// The remote shell re-splits the command line, so every argument is
	// single-quoted to survive format templates like {{json .}}.
	for _, a := range dockerArgs {
		args = append(args, shellQuote(a))
	}
	return args
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func startPipe(ctx context.Context, cmd *exec.Cmd) (io.ReadCloser, func() error, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, wrapExecErr(ctx, err)
	}
	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return wrapExecErr(ctx, err)
		}
		return nil
	}
	return stdout, wait, nil
}

// wrapExecErr classifies a CLI failure. Deadline overruns become timeouts;
// everything else (non-zero exit, unreachable host, missing binary) is a
// connection error with the process stderr folded into the message.
func wrapExecErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	}
	if ee, ok := err.(*exec.ExitError); ok {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			msg = ee.String()
		}
		return fmt.Errorf("%w: %s", domain.ErrConnection, msg)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnection, err)
}
