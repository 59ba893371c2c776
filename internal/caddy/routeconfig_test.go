package caddy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/snadboy/dockmon/internal/domain"
)

func baseRoute() domain.Route {
	return domain.Route{
		Key:      domain.RouteKey{Domain: "app.test", Path: "/"},
		Scheme:   "http",
		Upstream: "10.0.0.5:80",
	}
}

func TestBuildRouteMinimal(t *testing.T) {
	cfg := BuildRoute(baseRoute())

	if cfg.ID != "dockmon-app.test" {
		t.Errorf("ID = %q", cfg.ID)
	}
	if len(cfg.Match) != 1 || cfg.Match[0].Host[0] != "app.test" {
		t.Fatalf("match = %+v", cfg.Match)
	}
	if cfg.Match[0].Path != nil {
		t.Error("root path should not produce a path matcher")
	}
	if len(cfg.Handle) != 1 {
		t.Fatalf("handle = %+v, want single reverse_proxy", cfg.Handle)
	}
	if cfg.Handle[0]["handler"] != "reverse_proxy" {
		t.Errorf("handler = %v", cfg.Handle[0]["handler"])
	}
}

func TestBuildRoutePathMatcher(t *testing.T) {
	r := baseRoute()
	r.Key.Path = "/api"
	cfg := BuildRoute(r)

	if got := cfg.Match[0].Path; len(got) != 1 || got[0] != "/api*" {
		t.Errorf("path matcher = %v, want [/api*]", got)
	}
	if cfg.ID != "dockmon-app.test-api" {
		t.Errorf("ID = %q", cfg.ID)
	}
}

func TestBuildRouteSSLRedirect(t *testing.T) {
	r := baseRoute()
	r.SSLForce = true
	cfg := BuildRoute(r)

	if len(cfg.Handle) != 1 || cfg.Handle[0]["handler"] != "static_response" {
		t.Fatalf("handle = %+v, want redirect only", cfg.Handle)
	}
	if cfg.Handle[0]["status_code"] != 301 {
		t.Errorf("status_code = %v", cfg.Handle[0]["status_code"])
	}

	headers := cfg.Handle[0]["headers"].(map[string][]string)
	if loc := headers["Location"][0]; loc != "https://app.test{http.request.uri}" {
		t.Errorf("Location = %q", loc)
	}
}

func TestBuildRouteHTTPSNotRedirected(t *testing.T) {
	r := baseRoute()
	r.Scheme = "https"
	r.SSLForce = true
	cfg := BuildRoute(r)

	if cfg.Handle[len(cfg.Handle)-1]["handler"] != "reverse_proxy" {
		t.Error("https route must proxy, not redirect")
	}
}

func TestBuildRouteMiddlewares(t *testing.T) {
	r := baseRoute()
	r.Middlewares = []string{"auth", "compress", "bogus", "rate_limit"}
	cfg := BuildRoute(r)

	var handlers []string
	for _, h := range cfg.Handle {
		handlers = append(handlers, h["handler"].(string))
	}
	want := []string{"authentication", "encode", "rate_limit", "reverse_proxy"}
	if len(handlers) != len(want) {
		t.Fatalf("handlers = %v, want %v", handlers, want)
	}
	for i := range want {
		if handlers[i] != want[i] {
			t.Errorf("handlers[%d] = %q, want %q", i, handlers[i], want[i])
		}
	}
}

func TestBuildRouteWebSocket(t *testing.T) {
	r := baseRoute()
	r.WebSocket = true
	cfg := BuildRoute(r)

	proxy := cfg.Handle[0]
	if proxy["transport"] == nil {
		t.Fatal("websocket route missing transport block")
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"Upgrade":["websocket"]`, `"Connection":["Upgrade"]`, `"@id":"dockmon-app.test"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("encoded route missing %s:\n%s", want, data)
		}
	}
}

func TestBuildRouteUpstream(t *testing.T) {
	cfg := BuildRoute(baseRoute())

	data, _ := json.Marshal(cfg)
	if !strings.Contains(string(data), `"dial":"10.0.0.5:80"`) {
		t.Errorf("encoded route missing upstream dial:\n%s", data)
	}
	if !strings.Contains(string(data), `"X-Forwarded-Proto":["http"]`) {
		t.Errorf("encoded route missing forwarded proto:\n%s", data)
	}
}
