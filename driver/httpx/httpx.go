// Package httpx implements the execution driver over plain HTTP. It covers
// the subset of actions that make sense without a browser: navigate, click
// and extract issue GET requests with the identity's user agent and proxy;
// wait, scroll and fill are simulated locally as think time. Responses the
// target uses to reject an identity (403, 407, 429) are classified fatal so
// the coordinator aborts the session instead of hammering the target.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/driver"
)

// Options configure the HTTP driver.
type Options struct {
	// RequestTimeout bounds a single request independent of the caller's
	// per-action context.
	RequestTimeout time.Duration
	// SimulatedStepTime is the local latency charged for scroll/fill steps.
	SimulatedStepTime time.Duration
	// Transport overrides the base transport, for tests.
	Transport http.RoundTripper
}

// Driver executes plan actions as HTTP requests. One client is maintained
// per proxy endpoint so identities sharing an egress reuse connections.
type Driver struct {
	opts    Options
	mu      sync.Mutex
	clients map[string]*http.Client
}

var _ driver.Driver = (*Driver)(nil)

// New constructs an HTTP driver.
func New(optFns ...func(o *Options)) *Driver {
	opts := Options{
		RequestTimeout:    30 * time.Second,
		SimulatedStepTime: 150 * time.Millisecond,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Driver{opts: opts, clients: make(map[string]*http.Client)}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "httpx" }

// Execute implements driver.Driver.
func (d *Driver) Execute(ctx context.Context, identity *core.Identity, action core.Action) (driver.Result, error) {
	switch action.Kind {
	case core.ActionNavigate, core.ActionClick, core.ActionExtract:
		if !strings.HasPrefix(action.Target, "http") {
			// Selector-addressed clicks/extracts need a browser; treat as a
			// simulated step rather than failing the plan.
			return d.simulate(ctx, 0)
		}
		return d.get(ctx, identity, action)
	case core.ActionWait:
		return d.simulate(ctx, action.Duration)
	case core.ActionScroll, core.ActionFill:
		return d.simulate(ctx, d.opts.SimulatedStepTime)
	default:
		return driver.Result{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (d *Driver) get(ctx context.Context, identity *core.Identity, action core.Action) (driver.Result, error) {
	client, err := d.clientFor(identity)
	if err != nil {
		return driver.Result{}, core.NewFatalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, action.Target, nil)
	if err != nil {
		return driver.Result{}, core.NewFatalError(err)
	}
	req.Header.Set("User-Agent", identity.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return driver.Result{}, ctx.Err()
		}
		return driver.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return driver.Result{}, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusProxyAuthRequired,
		resp.StatusCode == http.StatusTooManyRequests:
		return driver.Result{}, core.NewFatalError(fmt.Errorf("target rejected identity: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return driver.Result{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	observed := fmt.Sprintf("status=%d bytes=%d", resp.StatusCode, len(body))
	if action.Kind == core.ActionExtract {
		if title := extractTitle(string(body)); title != "" {
			observed = title
		}
	}
	return driver.Result{Observed: observed}, nil
}

func (d *Driver) simulate(ctx context.Context, dur time.Duration) (driver.Result, error) {
	if dur <= 0 {
		return driver.Result{}, nil
	}
	select {
	case <-ctx.Done():
		return driver.Result{}, ctx.Err()
	case <-time.After(dur):
		return driver.Result{}, nil
	}
}

// clientFor returns the cached client for the identity's proxy endpoint,
// creating it on first use.
func (d *Driver) clientFor(identity *core.Identity) (*http.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[identity.ProxyURL]; ok {
		return c, nil
	}

	transport := d.opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if identity.ProxyURL != "" {
			proxyURL, err := url.Parse(identity.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy url %q: %w", identity.ProxyURL, err)
			}
			t.Proxy = http.ProxyURL(proxyURL)
		}
		transport = t
	}

	client := &http.Client{Transport: transport, Timeout: d.opts.RequestTimeout}
	d.clients[identity.ProxyURL] = client
	return client, nil
}

func extractTitle(body string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(body[start:], ">")
	if open < 0 {
		return ""
	}
	rest := body[start+open+1:]
	end := strings.Index(strings.ToLower(rest), "</title>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
