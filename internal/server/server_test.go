// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/inspectbridge/api/schemas"
	"github.com/xkilldash9x/inspectbridge/internal/bridge"
	"github.com/xkilldash9x/inspectbridge/internal/config"
	"github.com/xkilldash9x/inspectbridge/internal/consolelog"
	"github.com/xkilldash9x/inspectbridge/internal/debugsession"
	"github.com/xkilldash9x/inspectbridge/internal/inspector"
	"github.com/xkilldash9x/inspectbridge/internal/mocks"
)

func newTestServer(t *testing.T, enableMetrics bool) (*mocks.MockService, *httptest.Server) {
	t.Helper()
	svc := new(mocks.MockService)
	cfg := config.NewDefaultConfig().Server()
	cfg.EnableMetrics = enableMetrics
	s := New(cfg, svc, zaptest.NewLogger(t))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) Response {
	t.Helper()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleInspect(t *testing.T) {
	body := `{"locator":{"kind":"hosted_view","id":"42"},"viewport":{"x":0,"y":0,"width":800,"height":600},"token":"t1"}`

	t.Run("Success", func(t *testing.T) {
		svc, ts := newTestServer(t, false)
		data := &schemas.ElementData{OuterHTML: "<div></div>", Bounds: schemas.Rect{X: 20, Y: 40, Width: 200, Height: 100}}
		svc.On("Inspect", mock.Anything, mock.MatchedBy(func(req schemas.InspectRequest) bool {
			return req.Channel == DefaultHTTPChannel && req.Token == "t1" && req.Locator == schemas.HostedView("42")
		})).Return(data, nil).Once()

		resp := postJSON(t, ts.URL+"/v1/inspect", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decodeResponse(t, resp)
		assert.Equal(t, "success", out.Status)
		got := out.Data.(map[string]interface{})
		assert.Equal(t, "<div></div>", got["outerHTML"])
		assert.Equal(t, map[string]interface{}{"x": 20.0, "y": 40.0, "width": 200.0, "height": 100.0}, got["bounds"])
		svc.AssertExpectations(t)
	})

	t.Run("No selection answers 204", func(t *testing.T) {
		svc, ts := newTestServer(t, false)
		svc.On("Inspect", mock.Anything, mock.Anything).Return(nil, nil).Once()

		resp := postJSON(t, ts.URL+"/v1/inspect", body)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("Explicit channel is kept", func(t *testing.T) {
		svc, ts := newTestServer(t, false)
		svc.On("Inspect", mock.Anything, mock.MatchedBy(func(req schemas.InspectRequest) bool {
			return req.Channel == "panel-1"
		})).Return(nil, nil).Once()

		resp := postJSON(t, ts.URL+"/v1/inspect", `{"locator":{"kind":"hosted_view","id":"42"},"channel":"panel-1"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		svc.AssertExpectations(t)
	})

	t.Run("No target", func(t *testing.T) {
		svc, ts := newTestServer(t, false)
		svc.On("Inspect", mock.Anything, mock.Anything).Return(nil, inspector.ErrNoTarget).Once()

		resp := postJSON(t, ts.URL+"/v1/inspect", body)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		out := decodeResponse(t, resp)
		assert.Equal(t, "error", out.Status)
		assert.Equal(t, "No target found", out.Error)
	})

	t.Run("Malformed body", func(t *testing.T) {
		svc, ts := newTestServer(t, false)
		resp := postJSON(t, ts.URL+"/v1/inspect", `{"locator":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		svc.AssertNotCalled(t, "Inspect", mock.Anything, mock.Anything)
	})
}

func TestHandleCancel(t *testing.T) {
	svc, ts := newTestServer(t, false)
	svc.On("Cancel", DefaultHTTPChannel, "t1").Return(true).Once()
	svc.On("Cancel", "panel-1", "t2").Return(false).Once()

	resp := postJSON(t, ts.URL+"/v1/inspect/cancel", `{"token":"t1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"cancelled": true}, decodeResponse(t, resp).Data)

	resp = postJSON(t, ts.URL+"/v1/inspect/cancel", `{"channel":"panel-1","token":"t2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"cancelled": false}, decodeResponse(t, resp).Data)

	resp = postJSON(t, ts.URL+"/v1/inspect/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestConsoleRoutes(t *testing.T) {
	svc, ts := newTestServer(t, false)
	locator := schemas.DeclaredWebview("wv")

	svc.On("StartConsoleCapture", mock.Anything, mock.MatchedBy(func(req schemas.ConsoleCaptureRequest) bool {
		return req.Locator == locator
	})).Return("tok", nil).Once()
	svc.On("Logs", "wv").Return("[log] hello\n", nil).Once()
	svc.On("Logs", "missing").Return("", consolelog.ErrNoLogs).Once()
	svc.On("CancelConsoleCapture", locator, "tok").Return(true).Once()

	resp := postJSON(t, ts.URL+"/v1/logs/start", `{"locator":{"kind":"declared_webview","id":"wv"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"key": "wv", "token": "tok"}, decodeResponse(t, resp).Data)

	get, err := http.Get(ts.URL + "/v1/logs/wv")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, map[string]interface{}{"key": "wv", "logs": "[log] hello\n"}, decodeResponse(t, get).Data)

	missing, err := http.Get(ts.URL + "/v1/logs/missing")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/logs/cancel", `{"locator":{"kind":"declared_webview","id":"wv"},"token":"tok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"cancelled": true}, decodeResponse(t, resp).Data)

	resp = postJSON(t, ts.URL+"/v1/logs/cancel", `{"locator":{"kind":"bogus","id":"wv"},"token":"tok"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestHandleTargets(t *testing.T) {
	svc, ts := newTestServer(t, false)
	svc.On("Targets", mock.Anything, "main").Return([]*target.Info{{TargetID: "T1", Type: "page", URL: "https://example.com"}}, nil).Once()
	svc.On("Targets", mock.Anything, "gone").Return(nil, bridge.ErrNoWindow).Once()

	resp, err := http.Get(ts.URL + "/v1/targets?window_id=main")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	infos := decodeResponse(t, resp).Data.([]interface{})
	require.Len(t, infos, 1)
	assert.Equal(t, "T1", infos[0].(map[string]interface{})["targetId"])

	gone, err := http.Get(ts.URL + "/v1/targets?window_id=gone")
	require.NoError(t, err)
	defer gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	_, enabled := newTestServer(t, true)
	resp, err := http.Get(enabled.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, disabled := newTestServer(t, false)
	resp2, err := http.Get(disabled.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid locator", fmt.Errorf("%w: empty id", schemas.ErrInvalidLocator), http.StatusBadRequest},
		{"no target", inspector.ErrNoTarget, http.StatusNotFound},
		{"no window", bridge.ErrNoWindow, http.StatusNotFound},
		{"no logs", consolelog.ErrNoLogs, http.StatusNotFound},
		{"session", &debugsession.SessionError{Step: debugsession.StepAttach, Err: errors.New("refused")}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

// -- WebSocket Tests --

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, msg WSMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestWebSocketInspect(t *testing.T) {
	svc, ts := newTestServer(t, false)
	data := &schemas.ElementData{OuterHTML: "<p>hi</p>"}
	svc.On("Inspect", mock.Anything, mock.MatchedBy(func(req schemas.InspectRequest) bool {
		return req.Token == "r1" && req.Channel != "" && req.Channel != DefaultHTTPChannel
	})).Return(data, nil).Once()
	svc.On("Inspect", mock.Anything, mock.MatchedBy(func(req schemas.InspectRequest) bool {
		return req.Token == "r2"
	})).Return(nil, inspector.ErrNoTarget).Once()

	conn := dialWS(t, ts)
	defer conn.Close()

	writeFrame(t, conn, WSMessage{Type: MsgInspect, RequestID: "r1", Data: []byte(`{"locator":{"kind":"hosted_view","id":"42"}}`)})
	msg := readFrame(t, conn)
	assert.Equal(t, MsgResult, msg.Type)
	assert.Equal(t, "r1", msg.RequestID)
	var got schemas.ElementData
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "<p>hi</p>", got.OuterHTML)

	writeFrame(t, conn, WSMessage{Type: MsgInspect, RequestID: "r2", Data: []byte(`{"locator":{"kind":"hosted_view","id":"42"}}`)})
	msg = readFrame(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	var wsErr WSError
	require.NoError(t, json.Unmarshal(msg.Data, &wsErr))
	assert.Equal(t, WSError{Error: "No target found", Status: http.StatusNotFound}, wsErr)

	svc.AssertExpectations(t)
}

func TestWebSocketCancel(t *testing.T) {
	svc, ts := newTestServer(t, false)
	channels := make(chan string, 1)
	cancels := make(chan string, 1)
	released := make(chan struct{})

	svc.On("Inspect", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		channels <- args.Get(1).(schemas.InspectRequest).Channel
		<-args.Get(0).(context.Context).Done()
		close(released)
	}).Return(nil, nil).Once()
	svc.On("Cancel", mock.Anything, "r1").Run(func(args mock.Arguments) {
		cancels <- args.String(0)
	}).Return(true).Once()

	conn := dialWS(t, ts)
	writeFrame(t, conn, WSMessage{Type: MsgInspect, RequestID: "r1", Data: []byte(`{"locator":{"kind":"hosted_view","id":"42"}}`)})

	var inspectChannel string
	select {
	case inspectChannel = <-channels:
	case <-time.After(5 * time.Second):
		t.Fatal("inspection never started")
	}

	writeFrame(t, conn, WSMessage{Type: MsgCancel, RequestID: "r1"})
	select {
	case ch := <-cancels:
		assert.Equal(t, inspectChannel, ch, "cancel must target the connection's own channel")
	case <-time.After(5 * time.Second):
		t.Fatal("cancel never reached the service")
	}

	// The mocked service ignores Cancel; dropping the connection releases the pick.
	conn.Close()
	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("inspection was not cancelled on disconnect")
	}
}

func TestWebSocketUnknownType(t *testing.T) {
	_, ts := newTestServer(t, false)
	conn := dialWS(t, ts)
	defer conn.Close()

	writeFrame(t, conn, WSMessage{Type: "bogus", RequestID: "x"})
	msg := readFrame(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "x", msg.RequestID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readFrame(t, conn)
	assert.Equal(t, MsgError, msg.Type)
}

// -- Lifecycle Tests --

func TestServeShutsDownOnCancel(t *testing.T) {
	svc := new(mocks.MockService)
	cfg := config.NewDefaultConfig().Server()
	s := New(cfg, svc, zaptest.NewLogger(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestInspectRequestBodyUsesSchemaNames(t *testing.T) {
	svc, ts := newTestServer(t, false)
	svc.On("Inspect", mock.Anything, mock.MatchedBy(func(req schemas.InspectRequest) bool {
		return req.WindowID == "main" && req.FallbackWindowID == "fb" && req.Viewport.Width == 800
	})).Return(nil, nil).Once()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(schemas.InspectRequest{
		Locator:          schemas.HostedView("42"),
		WindowID:         "main",
		FallbackWindowID: "fb",
		Viewport:         schemas.Rect{Width: 800, Height: 600},
	}))
	resp := postJSON(t, ts.URL+"/v1/inspect", buf.String())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	svc.AssertExpectations(t)
}
