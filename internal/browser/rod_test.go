package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// devtoolsStub answers CDP calls over a websocket and reports when the client hangs up.
func devtoolsStub(t *testing.T, answer func(method string) (result any, errMsg string)) (string, <-chan struct{}) {
	t.Helper()
	hungUp := make(chan struct{})
	srv := httptest.NewServer(websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			defer close(hungUp)
			for {
				var req struct {
					ID     int    `json:"id"`
					Method string `json:"method"`
				}
				if err := websocket.JSON.Receive(conn, &req); err != nil {
					return
				}
				result, errMsg := answer(req.Method)
				resp := map[string]any{"id": req.ID}
				if errMsg != "" {
					resp["error"] = map[string]any{"code": -32602, "message": errMsg}
				} else {
					resp["result"] = result
				}
				raw, _ := json.Marshal(resp)
				if err := websocket.Message.Send(conn, string(raw)); err != nil {
					return
				}
			}
		},
	})
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/stub", hungUp
}

func TestRodAttachReleasesConnectionOnUnknownTarget(t *testing.T) {
	t.Parallel()

	url, hungUp := devtoolsStub(t, func(method string) (any, string) {
		if method == "Target.attachToTarget" {
			return nil, "No target with given id found"
		}
		return map[string]any{}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewRod().Attach(ctx, Endpoint{URL: url, SessionID: "GONE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attach target GONE")

	select {
	case <-hungUp:
	case <-time.After(2 * time.Second):
		t.Fatal("websocket left open after failed attach")
	}
}

func TestRodAttachRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewRod().Attach(context.Background(), Endpoint{URL: "ws://127.0.0.1:9/devtools/browser/x"})
	assert.Error(t, err)
}
