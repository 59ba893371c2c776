// Package caddy drives the reverse proxy's admin API. Every mutation is
// keyed by a stable @id, so applying the same change twice converges
// instead of duplicating routes.
package caddy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snadboy/dockmon/internal/domain"
)

const routesPath = "/config/apps/http/servers/srv0/routes"

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(adminURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(adminURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Ping verifies the admin API answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/config/", nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: admin API returned %d", domain.ErrReconciliation, resp.StatusCode)
	}
	return nil
}

// GetRoutes returns the server's current route array. A 404 means the
// server has no routes yet, which is an empty result, not an error.
func (c *Client) GetRoutes(ctx context.Context) ([]RouteConfig, error) {
	resp, err := c.do(ctx, http.MethodGet, routesPath, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: get routes returned %d", domain.ErrReconciliation, resp.StatusCode)
	}

	var routes []RouteConfig
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		return nil, fmt.Errorf("%w: decode routes: %v", domain.ErrReconciliation, err)
	}
	return routes, nil
}

// UpsertRoute creates or replaces the route in place. An existing @id is
// replaced with PATCH; an unknown one is appended to the route array.
func (c *Client) UpsertRoute(ctx context.Context, route domain.Route) error {
	cfg := BuildRoute(route)
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: encode route %s: %v", domain.ErrReconciliation, route.Key, err)
	}

	resp, err := c.do(ctx, http.MethodPatch, "/id/"+cfg.ID, body)
	if err != nil {
		return err
	}
	drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// New route: append it.
	default:
		return fmt.Errorf("%w: replace route %s returned %d", domain.ErrReconciliation, route.Key, resp.StatusCode)
	}

	resp, err = c.do(ctx, http.MethodPost, routesPath, body)
	if err != nil {
		return err
	}
	drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: add route %s returned %d", domain.ErrReconciliation, route.Key, resp.StatusCode)
	}
	return nil
}

// DeleteRoute removes the route by id. A 404 means it is already gone,
// which is the desired state.
func (c *Client) DeleteRoute(ctx context.Context, key domain.RouteKey) error {
	resp, err := c.do(ctx, http.MethodDelete, "/id/"+key.ID(), nil)
	if err != nil {
		return err
	}
	drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete route %s returned %d", domain.ErrReconciliation, key, resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReconciliation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReconciliation, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
