package backoff

import (
	"testing"
	"time"
)

func noJitter() float64 { return 0 }

func TestDelayGrowsExponentially(t *testing.T) {
	p := New(2*time.Second, 5*time.Minute)
	p.Rand = noJitter

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}

	for _, tt := range tests {
		got := p.Delay(tt.failures)
		if got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestDelayNonDecreasingUpToCap(t *testing.T) {
	p := New(time.Second, 30*time.Second)
	p.Rand = noJitter

	prev := time.Duration(0)
	for failures := 1; failures <= 20; failures++ {
		d := p.Delay(failures)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", failures, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds cap", failures, d)
		}
		prev = d
	}

	if prev != 30*time.Second {
		t.Errorf("delay should saturate at cap, got %v", prev)
	}
}

func TestDelayResetsToBase(t *testing.T) {
	p := New(2*time.Second, time.Minute)
	p.Rand = noJitter

	// Drive the count up, then a success resets it to zero; the next
	// failure is failure #1 again.
	_ = p.Delay(8)
	if got := p.Delay(1); got != 2*time.Second {
		t.Errorf("Delay(1) after reset = %v, want base 2s", got)
	}
}

func TestJitterBounds(t *testing.T) {
	p := New(4*time.Second, time.Minute)
	p.Rand = func() float64 { return 0.999 }

	got := p.Delay(1)
	if got < 4*time.Second {
		t.Errorf("jittered delay %v below pre-jitter delay", got)
	}
	if got >= 5*time.Second {
		t.Errorf("jittered delay %v outside [delay, delay*1.25)", got)
	}
}

func TestDelayClampsNonPositiveFailures(t *testing.T) {
	p := New(time.Second, time.Minute)
	p.Rand = noJitter

	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want base", got)
	}
	if got := p.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want base", got)
	}
}

func TestNewSubstitutesDefaults(t *testing.T) {
	p := New(0, 0)
	if p.Base != DefaultBase || p.Cap != DefaultCap {
		t.Errorf("New(0,0) = {%v %v}, want defaults", p.Base, p.Cap)
	}
}
