package proxy_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nvrgate/internal/middleware"
	"nvrgate/internal/proxy"
	"nvrgate/internal/registry"
)

// echoUpstream is a WebSocket server that echoes every frame back and
// records the path it was dialed on.
func echoUpstream(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var upgrader websocket.Upgrader
	var lastPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastPath
}

// wsGateway mounts the WSProxy on the forward-proxy route.
func wsGateway(t *testing.T, ws *proxy.WSProxy) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/{host}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		ws.Bridge(w, r, r.PathValue("host"), r.PathValue("path"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, gatewayURL, path string) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(gatewayURL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridge_EchoesBothDirections(t *testing.T) {
	upstream, lastPath := echoUpstream(t)

	reg := registry.New(upProber{})
	reg.ReplaceAll(context.Background(), []registry.Host{
		{ID: "1", Name: "h1", URL: upstream.URL, Enabled: true},
	})

	gw := wsGateway(t, proxy.NewWSProxy(reg, ""))
	conn := dialWS(t, gw.URL, "/proxy/h1/live/front")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "ping", string(data))

	assert.Equal(t, "/live/front", *lastPath,
		"routing prefix must be stripped before forwarding")
}

func TestBridge_BinaryFramesSurvive(t *testing.T) {
	upstream, _ := echoUpstream(t)

	reg := registry.New(upProber{})
	reg.ReplaceAll(context.Background(), []registry.Host{
		{ID: "1", Name: "h1", URL: upstream.URL, Enabled: true},
	})

	gw := wsGateway(t, proxy.NewWSProxy(reg, ""))
	conn := dialWS(t, gw.URL, "/proxy/h1/ws")

	payload := []byte{0x00, 0x01, 0xFE, 0xFF}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, payload, data)
}

func TestBridge_DisabledHostRejectedWithoutDialing(t *testing.T) {
	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
	}))
	t.Cleanup(upstream.Close)

	reg := registry.New(upProber{})
	reg.ReplaceAll(context.Background(), []registry.Host{
		{ID: "1", Name: "h1", URL: upstream.URL, Enabled: false},
	})

	gw := wsGateway(t, proxy.NewWSProxy(reg, ""))

	target := "ws" + strings.TrimPrefix(gw.URL, "http") + "/proxy/h1/live"
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Host is disabled", body["error"])
	assert.Equal(t, int64(0), upstreamCalls.Load(),
		"a disabled host must never be dialed")
}

func TestBridge_WorksThroughLoggingMiddleware(t *testing.T) {
	upstream, _ := echoUpstream(t)

	reg := registry.New(upProber{})
	reg.ReplaceAll(context.Background(), []registry.Host{
		{ID: "1", Name: "h1", URL: upstream.URL, Enabled: true},
	})

	// Mount the bridge behind the request logger, the way the gateway
	// assembles its chain. The upgrade must hijack through the wrapper.
	ws := proxy.NewWSProxy(reg, "")
	mux := http.NewServeMux()
	mux.HandleFunc("/proxy/{host}/{path...}", func(w http.ResponseWriter, r *http.Request) {
		ws.Bridge(w, r, r.PathValue("host"), r.PathValue("path"))
	})
	srv := httptest.NewServer(middleware.Logger(mux))
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv.URL, "/proxy/h1/live/front")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
}

func TestBridge_UnknownHostRejectedBeforeUpgrade(t *testing.T) {
	reg := registry.New(upProber{})
	gw := wsGateway(t, proxy.NewWSProxy(reg, ""))

	target := "ws" + strings.TrimPrefix(gw.URL, "http") + "/proxy/ghost/live"
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.Error(t, err, "upgrade must be rejected when no fallback is configured")
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBridge_FallbackTargetWhenConfigured(t *testing.T) {
	upstream, lastPath := echoUpstream(t)

	// Empty registry: every host is unresolved, so the configured fallback
	// silently receives the connection.
	reg := registry.New(upProber{})
	gw := wsGateway(t, proxy.NewWSProxy(reg, upstream.URL))

	conn := dialWS(t, gw.URL, "/proxy/ghost/live/front")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "/live/front", *lastPath)
}

func TestBridge_DualLookupByDerivedHostname(t *testing.T) {
	upstream, _ := echoUpstream(t)

	reg := registry.New(upProber{})
	reg.ReplaceAll(context.Background(), []registry.Host{
		{ID: "1", Name: "Garage", URL: upstream.URL, Enabled: true},
	})

	gw := wsGateway(t, proxy.NewWSProxy(reg, ""))

	// 127.0.0.1 is the hostname derived from the upstream URL.
	conn := dialWS(t, gw.URL, "/proxy/127.0.0.1/ws")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("x")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
