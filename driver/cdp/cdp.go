// Package cdp implements the execution driver against a Chrome DevTools
// Protocol endpoint over websocket. The browser itself is provisioned
// externally; the driver only needs the DevTools connect URL. Actions map to
// Page.navigate and Runtime.evaluate commands. A lost or rejected websocket
// is classified fatal, ending the session rather than retrying into a dead
// browser.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/driver"
)

// Options configure the CDP driver.
type Options struct {
	// ConnectURL is the DevTools websocket endpoint, e.g.
	// ws://localhost:9222/devtools/browser/<id>.
	ConnectURL string
	// HandshakeTimeout bounds the initial websocket dial.
	HandshakeTimeout time.Duration
	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

type command struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Driver executes plan actions as CDP commands over a single websocket
// connection, dialed lazily on first use. Command exchange is serialized;
// CDP events arriving between responses are discarded.
type Driver struct {
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

var _ driver.Driver = (*Driver)(nil)

// New constructs a CDP driver for the given DevTools endpoint.
func New(connectURL string, optFns ...func(o *Options)) *Driver {
	opts := Options{
		ConnectURL:       connectURL,
		HandshakeTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Driver{opts: opts}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "cdp" }

// Execute implements driver.Driver.
func (d *Driver) Execute(ctx context.Context, _ *core.Identity, action core.Action) (driver.Result, error) {
	switch action.Kind {
	case core.ActionWait:
		select {
		case <-ctx.Done():
			return driver.Result{}, ctx.Err()
		case <-time.After(action.Duration):
			return driver.Result{}, nil
		}
	case core.ActionNavigate:
		return d.roundTrip(ctx, "Page.navigate", map[string]any{"url": action.Target})
	case core.ActionClick:
		return d.evaluate(ctx, fmt.Sprintf("document.querySelector(%q).click()", action.Target))
	case core.ActionScroll:
		return d.evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", scrollDistance(action.Value)))
	case core.ActionFill:
		return d.evaluate(ctx, fmt.Sprintf("document.querySelector(%q).value = %q", action.Target, action.Value))
	case core.ActionExtract:
		return d.evaluate(ctx, extractExpression(action.Target))
	default:
		return driver.Result{}, fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

// Close tears down the websocket connection.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Driver) evaluate(ctx context.Context, expression string) (driver.Result, error) {
	return d.roundTrip(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
}

// roundTrip sends one command and reads frames until its response arrives.
// The whole exchange holds the connection lock so commands never interleave.
func (d *Driver) roundTrip(ctx context.Context, method string, params map[string]any) (driver.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureConnLocked(ctx); err != nil {
		return driver.Result{}, core.NewFatalError(err)
	}

	d.nextID++
	cmd := command{ID: d.nextID, Method: method, Params: params}

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
		_ = d.conn.SetReadDeadline(deadline)
	}

	if err := d.conn.WriteJSON(cmd); err != nil {
		d.dropConnLocked()
		return driver.Result{}, core.NewFatalError(fmt.Errorf("devtools write: %w", err))
	}

	for {
		var resp response
		if err := d.conn.ReadJSON(&resp); err != nil {
			d.dropConnLocked()
			if ctx.Err() != nil {
				return driver.Result{}, ctx.Err()
			}
			return driver.Result{}, core.NewFatalError(fmt.Errorf("devtools read: %w", err))
		}
		if resp.ID != cmd.ID {
			continue // event or stale frame
		}
		if resp.Error != nil {
			return driver.Result{}, fmt.Errorf("devtools error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return driver.Result{Observed: string(resp.Result)}, nil
	}
}

func (d *Driver) ensureConnLocked(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}
	dialer := d.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	}
	conn, _, err := dialer.DialContext(ctx, d.opts.ConnectURL, nil)
	if err != nil {
		return fmt.Errorf("devtools dial %s: %w", d.opts.ConnectURL, err)
	}
	d.conn = conn
	return nil
}

func (d *Driver) dropConnLocked() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// scrollDistance parses the scroll value, defaulting to a viewport height.
func scrollDistance(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 720
	}
	return n
}

func extractExpression(target string) string {
	if target == "" || target == "title" {
		return "document.title"
	}
	return fmt.Sprintf("document.querySelector(%q).textContent", target)
}
