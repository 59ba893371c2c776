package dockerhost

import (
	"testing"

	"github.com/snadboy/dockmon/internal/domain"
)

const inspectFixture = `[
  {
    "Id": "4f66ad9067f6b0aeb66b3dfc44d0d6c318e2096f72f543dd5c27d38aa7bd4a06",
    "Name": "/webapp",
    "State": {"Status": "running", "Running": true},
    "Config": {
      "Image": "nginx:1.27",
      "Labels": {
        "snadboy.web.revp.domain": "app.test",
        "snadboy.web.revp.port": "80"
      }
    }
  },
  {
    "Id": "9c1f",
    "Name": "/worker",
    "State": {"Status": "exited", "Running": false},
    "Config": {"Image": "worker:latest", "Labels": {}}
  }
]`

func TestParseInspect(t *testing.T) {
	entries, err := parseInspect([]byte(inspectFixture))
	if err != nil {
		t.Fatalf("parseInspect() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	c := entries[0].toContainer("nas", "10.0.0.5")
	if c.Host != "nas" || c.HostIP != "10.0.0.5" {
		t.Errorf("host fields = %s/%s", c.Host, c.HostIP)
	}
	if c.Name != "webapp" {
		t.Errorf("Name = %q, want leading slash stripped", c.Name)
	}
	if c.ShortID != "4f66ad9067f6" {
		t.Errorf("ShortID = %q", c.ShortID)
	}
	if c.Status != domain.StatusRunning {
		t.Errorf("Status = %q, want running", c.Status)
	}
	if c.Labels["snadboy.web.revp.domain"] != "app.test" {
		t.Errorf("labels not carried over: %v", c.Labels)
	}
	if c.Version != 0 {
		t.Errorf("Version = %d, caller must stamp it", c.Version)
	}

	w := entries[1].toContainer("nas", "10.0.0.5")
	if w.Status != domain.StatusStopped {
		t.Errorf("exited status folded to %q, want stopped", w.Status)
	}
	if w.ShortID != "9c1f" {
		t.Errorf("short id %q should stay as-is", w.ShortID)
	}
}

func TestParseInspectBadJSON(t *testing.T) {
	if _, err := parseInspect([]byte("Error: no such object")); err == nil {
		t.Fatal("want decode error for non-JSON output")
	}
}

func TestParseEvent(t *testing.T) {
	line := `{"Type":"container","Action":"start","Actor":{"ID":"4f66ad9067f6","Attributes":{"image":"nginx"}},"time":1724400000,"timeNano":1724400000123456789}`
	e, err := parseEvent([]byte(line))
	if err != nil {
		t.Fatalf("parseEvent() error = %v", err)
	}
	if e.Type != "container" || e.Action != "start" {
		t.Errorf("entry = %+v", e)
	}
	if e.Actor.ID != "4f66ad9067f6" {
		t.Errorf("Actor.ID = %q", e.Actor.ID)
	}
	if e.TimeNano != 1724400000123456789 {
		t.Errorf("TimeNano = %d", e.TimeNano)
	}
}

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		action string
		want   EventEffect
	}{
		{"create", EffectInspect},
		{"start", EffectInspect},
		{"restart", EffectInspect},
		{"unpause", EffectInspect},
		{"stop", EffectStop},
		{"kill", EffectStop},
		{"die", EffectStop},
		{"pause", EffectStop},
		{"destroy", EffectRemove},
		{"health_status: healthy", EffectNone},
		{"exec_create", EffectNone},
		{"attach", EffectNone},
	}

	for _, tt := range tests {
		if got := ClassifyAction(tt.action); got != tt.want {
			t.Errorf("ClassifyAction(%q) = %v, want %v", tt.action, got, tt.want)
		}
	}
}

func TestSSHRunnerArgs(t *testing.T) {
	r := &SSHRunner{User: "deploy", Addr: "10.0.0.5", Port: 2222}
	args := r.sshArgs([]string{"events", "--format", "{{json .}}"})

	var target string
	for i, a := range args {
		if a == "deploy@10.0.0.5" {
			target = a
			if args[i+1] != "docker" {
				t.Errorf("arg after target = %q, want docker", args[i+1])
			}
		}
	}
	if target == "" {
		t.Fatalf("target missing from args %v", args)
	}

	// Template arguments must survive the remote shell's word splitting.
	last := args[len(args)-1]
	if last != "'{{json .}}'" {
		t.Errorf("last arg = %q, want single-quoted template", last)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("a'b"); got != `'a'\''b'` {
		t.Errorf("shellQuote = %q", got)
	}
}
