package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficflou/trafficflou/core"
)

// fakeDevTools runs a websocket endpoint answering CDP commands, emitting a
// stray event frame before each response to exercise frame skipping.
func fakeDevTools(t *testing.T, handler func(cmd command) response) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]any{"method": "Page.frameNavigated", "params": map[string]any{}})
			if err := conn.WriteJSON(handler(cmd)); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDriver_NavigateRoundTrip(t *testing.T) {
	var gotMethod string
	var gotURL string
	srv := fakeDevTools(t, func(cmd command) response {
		gotMethod = cmd.Method
		gotURL, _ = cmd.Params["url"].(string)
		return response{ID: cmd.ID, Result: json.RawMessage(`{"frameId":"F1"}`)}
	})
	defer srv.Close()

	d := New(wsURL(srv))
	defer d.Close()

	res, err := d.Execute(context.Background(), nil, core.Action{
		Kind:   core.ActionNavigate,
		Target: "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "Page.navigate", gotMethod)
	assert.Equal(t, "https://example.com", gotURL)
	assert.Contains(t, res.Observed, "frameId")
}

func TestDriver_EvaluateActions(t *testing.T) {
	var expressions []string
	srv := fakeDevTools(t, func(cmd command) response {
		if expr, ok := cmd.Params["expression"].(string); ok {
			expressions = append(expressions, expr)
		}
		return response{ID: cmd.ID, Result: json.RawMessage(`{}`)}
	})
	defer srv.Close()

	d := New(wsURL(srv))
	defer d.Close()

	actions := []core.Action{
		{Kind: core.ActionClick, Target: "#play"},
		{Kind: core.ActionScroll, Value: "600"},
		{Kind: core.ActionFill, Target: "#search", Value: "tournaments"},
		{Kind: core.ActionExtract, Target: "title"},
	}
	for _, a := range actions {
		_, err := d.Execute(context.Background(), nil, a)
		require.NoError(t, err, string(a.Kind))
	}

	require.Len(t, expressions, 4)
	assert.Contains(t, expressions[0], `querySelector("#play").click()`)
	assert.Contains(t, expressions[1], "scrollBy(0, 600)")
	assert.Contains(t, expressions[2], "tournaments")
	assert.Equal(t, "document.title", expressions[3])
}

func TestDriver_ProtocolErrorIsRetryable(t *testing.T) {
	srv := fakeDevTools(t, func(cmd command) response {
		return response{ID: cmd.ID, Error: &struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: -32000, Message: "Cannot find context"}}
	})
	defer srv.Close()

	d := New(wsURL(srv))
	defer d.Close()

	_, err := d.Execute(context.Background(), nil, core.Action{Kind: core.ActionClick, Target: "#x"})
	require.Error(t, err)
	assert.False(t, core.IsFatal(err))
	assert.Contains(t, err.Error(), "Cannot find context")
}

func TestDriver_DialFailureIsFatal(t *testing.T) {
	d := New("ws://127.0.0.1:1/devtools")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := d.Execute(ctx, nil, core.Action{Kind: core.ActionNavigate, Target: "https://example.com"})
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
}

func TestDriver_WaitIsLocal(t *testing.T) {
	d := New("ws://unused")
	start := time.Now()
	_, err := d.Execute(context.Background(), nil, core.Action{
		Kind:     core.ActionWait,
		Duration: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
