package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Health endpoint ──────────────────────────────────────────────────────────

func TestE2E_HealthEndpoint(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))

	status, body := doGet(t, "http://"+gw.addr+"/healthz")
	assert.Equal(t, 200, status)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"version"`)
}

// ── Login and proxy round trip ───────────────────────────────────────────────

func TestE2E_LoginThenProxy(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))

	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/proxy/cam/api/version",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 200, status)
	assert.Equal(t, "0.14.1", body)
}

func TestE2E_AuthEnforced(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))

	// No token → 401, even for an unknown host.
	status, body := doGet(t, "http://"+gw.addr+"/proxy/ghost/api/version")
	assert.Equal(t, 401, status)
	assert.Contains(t, body, "No token provided")

	// Garbage token → 401.
	status, _ = doGet(t, "http://"+gw.addr+"/proxy/cam/api/version",
		"Authorization", "Bearer bogus.token.here")
	assert.Equal(t, 401, status)

	// Wrong password → 401 at login.
	resp, err := http.Post("http://"+gw.addr+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}

// ── Host routing ─────────────────────────────────────────────────────────────

func TestE2E_UnknownHostReturns404(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/proxy/ghost/api/version",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 404, status)
	assert.Contains(t, body, "Host not found")
}

func TestE2E_DisabledHostReturns403(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: false}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/proxy/cam/api/version",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 403, status)
	assert.Contains(t, body, "Host is disabled")
}

func TestE2E_EmptyEventsNormalizedToArray(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/proxy/cam/api/events",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 200, status)
	assert.Equal(t, "[]", strings.TrimSpace(body),
		"a null upstream list must reach clients as an empty array")
}

// ── Host admin API ───────────────────────────────────────────────────────────

func TestE2E_HostAdminRoundTrip(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/apiv1/frigate-hosts",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 200, status)
	assert.Contains(t, body, `"name":"cam"`)
	assert.Contains(t, body, `"state":true`, "the enabled host must probe up")
}

// ── Hot-reload ───────────────────────────────────────────────────────────────

func TestE2E_HotReload_AddsHost(t *testing.T) {
	cam1 := newMockNVR(t, "cam1")
	cam2 := newMockNVR(t, "cam2")

	addr := freeAddr(t)
	initial := gatewayConfig{
		addr:  addr,
		hosts: []hostEntry{{id: "1", name: "cam1", url: cam1.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, initial.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	// Before reload — cam2 is unknown.
	status, _ := doGet(t, "http://"+gw.addr+"/proxy/cam2/api/version",
		"Authorization", "Bearer "+token)
	require.Equal(t, 404, status)

	updated := gatewayConfig{
		addr: addr, // same listen address — server keeps running
		hosts: []hostEntry{
			{id: "1", name: "cam1", url: cam1.URL, enabled: true},
			{id: "2", name: "cam2", url: cam2.URL, enabled: true},
		},
		users: map[string]string{"admin": "hunter2"},
	}
	rewriteConfig(t, gw, updated.YAML(t))

	// Allow the fsnotify event and the synchronous re-probe to finish.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, _ = doGet(t, "http://"+gw.addr+"/proxy/cam2/api/version",
			"Authorization", "Bearer "+token)
		if status == 200 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, 200, status, "cam2 must be routable after the reload")

	// The old token still works: the reload reuses the same signing secret.
	status, _ = doGet(t, "http://"+gw.addr+"/proxy/cam1/api/version",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 200, status)
}

// ── WebSocket proxy ──────────────────────────────────────────────────────────

func TestE2E_WebSocketRoundTrip(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	// Token carried in the query string, the way a browser dials.
	target := "ws://" + gw.addr + "/proxy/cam/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err, "the upgrade must hijack through the full middleware chain")
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("e2e-ping")))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "e2e-ping", string(data))
}

func TestE2E_WebSocketDisabledHostRejected(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: false}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	target := "ws://" + gw.addr + "/proxy/cam/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// ── Path forwarding ──────────────────────────────────────────────────────────

func TestE2E_PathAndQueryForwarded(t *testing.T) {
	nvr := newMockNVR(t, "cam")
	cfg := gatewayConfig{
		addr:  freeAddr(t),
		hosts: []hostEntry{{id: "1", name: "cam", url: nvr.URL, enabled: true}},
		users: map[string]string{"admin": "hunter2"},
	}
	gw := startGateway(t, cfg.YAML(t))
	token := login(t, gw.addr, "admin", "hunter2")

	status, body := doGet(t, "http://"+gw.addr+"/proxy/cam/api/stats",
		"Authorization", "Bearer "+token)
	assert.Equal(t, 200, status)
	assert.Equal(t, fmt.Sprintf("%s:%s", "cam", "/api/stats"), body)
}
