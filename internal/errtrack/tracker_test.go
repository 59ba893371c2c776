package errtrack

import (
	"testing"

	"github.com/snadboy/dockmon/internal/domain"
)

func TestRecordUpsertsByHostAndOp(t *testing.T) {
	tr := New()

	tr.Record("nas", domain.OpConnect, "dial refused")
	tr.Record("nas", domain.OpConnect, "dial timeout")
	tr.Record("nas", domain.OpList, "exit status 1")
	tr.Record("vm1", domain.OpConnect, "dial refused")

	if got := tr.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	snap := tr.Snapshot()
	if snap[0].Host != "nas" || snap[0].Op != domain.OpConnect {
		t.Fatalf("snapshot[0] = %+v, want nas/connect", snap[0])
	}
	if snap[0].Count != 2 {
		t.Errorf("repeat failure count = %d, want 2", snap[0].Count)
	}
	if snap[0].Message != "dial timeout" {
		t.Errorf("repeat should replace message, got %q", snap[0].Message)
	}
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Record("nas", domain.OpConnect, "dial refused")
	tr.Record("nas", domain.OpList, "exit status 1")

	tr.Clear("nas", domain.OpConnect)
	if tr.Len() != 1 {
		t.Fatalf("Len() after Clear = %d, want 1", tr.Len())
	}

	// Clearing an untracked pair is a no-op.
	tr.Clear("nas", domain.OpConnect)
	tr.Clear("ghost", domain.OpEvents)
	if tr.Len() != 1 {
		t.Fatalf("Len() after redundant Clear = %d, want 1", tr.Len())
	}
}

func TestClearHost(t *testing.T) {
	tr := New()
	tr.Record("nas", domain.OpConnect, "x")
	tr.Record("nas", domain.OpEvents, "y")
	tr.Record("vm1", domain.OpConnect, "z")

	tr.ClearHost("nas")

	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].Host != "vm1" {
		t.Fatalf("snapshot = %+v, want only vm1", snap)
	}
}

func TestDegraded(t *testing.T) {
	tr := New()
	for i := 0; i < 3; i++ {
		tr.Record("nas", domain.OpConnect, "dial refused")
	}

	if tr.Degraded(5) {
		t.Error("Degraded(5) = true with a streak of 3")
	}
	if !tr.Degraded(3) {
		t.Error("Degraded(3) = false with a streak of 3")
	}
}
