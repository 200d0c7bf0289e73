package proxy

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"nvrgate/internal/metrics"
	"nvrgate/internal/registry"
)

// WSProxy bridges WebSocket upgrades to the upstream resolved per-request
// from the routing path. The duplex byte stream is relayed bidirectionally
// until either side closes or errors; a failure on one leg tears down both.
type WSProxy struct {
	reg *registry.Registry
	// fallback, when non-empty, is the upstream base URL used for upgrades
	// whose host segment does not resolve. A caller addressing an unknown
	// host then silently reaches this target — a sharp edge preserved only
	// for legacy clients; when empty the upgrade is rejected with 404.
	fallback string
	upgrader websocket.Upgrader
}

// NewWSProxy builds a WSProxy over reg. fallbackTarget may be "".
func NewWSProxy(reg *registry.Registry, fallbackTarget string) *WSProxy {
	return &WSProxy{
		reg:      reg,
		fallback: fallbackTarget,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts browsers on other origins; token auth has
			// already run by the time an upgrade reaches the bridge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// IsUpgrade reports whether the request asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool { return websocket.IsWebSocketUpgrade(r) }

// Bridge resolves the target host, upgrades the client connection, dials the
// upstream, and relays frames in both directions. The routing prefix is
// already stripped: upstreamPath is relative to the upstream root.
func (p *WSProxy) Bridge(w http.ResponseWriter, r *http.Request, hostName, upstreamPath string) {
	base, gerr := p.resolveBase(hostName)
	if gerr != nil {
		// Reject before upgrading so the client sees a clean HTTP error.
		writeError(w, gerr)
		return
	}

	target, err := wsTarget(base, upstreamPath, r.URL.RawQuery)
	if err != nil {
		writeError(w, Unreachable(err))
		return
	}

	clientConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own HTTP error response.
		slog.Warn("ws: client upgrade failed", "error", err)
		return
	}
	defer clientConn.Close()

	upstreamConn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		slog.Warn("ws: upstream dial failed", "target", target, "error", err)
		_ = clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"))
		return
	}
	defer upstreamConn.Close()

	metrics.WSBridges.Inc()
	slog.Debug("ws: bridged", "host", hostName, "target", target)

	done := make(chan struct{}, 2)
	go relay(clientConn, upstreamConn, done)
	go relay(upstreamConn, clientConn, done)

	// First leg to fail ends the session; deferred closes unblock the other.
	<-done
}

// resolveBase returns the upstream base URL for hostName. A registered but
// disabled host refuses the upgrade outright; an unresolved host falls back
// to the configured target, or is rejected when none is set. Either rejection
// happens before any outbound dial.
func (p *WSProxy) resolveBase(hostName string) (string, *Error) {
	if h, ok := p.reg.Get(hostName); ok {
		if !h.Enabled {
			return "", ErrHostDisabled
		}
		return h.URL, nil
	}
	if p.fallback != "" {
		return p.fallback, nil
	}
	return "", ErrHostNotFound
}

// wsTarget rewrites an http(s) base into the ws(s) upstream URL.
func wsTarget(base, upstreamPath, rawQuery string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/" + strings.TrimPrefix(upstreamPath, "/")
	u.RawQuery = rawQuery
	return u.String(), nil
}

// relay pumps frames from src to dst until either side closes or errors.
func relay(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
