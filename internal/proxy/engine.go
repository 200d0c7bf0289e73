// Package proxy is the core request-forwarding layer of the gateway.
//
// Engine resolves a host name to an upstream NVR, classifies the request
// (streamed media vs buffered JSON vs long-poll summary), applies the
// per-class timeout and header policy, and forwards exactly once — retry
// policy, if any, belongs to the caller. WSProxy handles WebSocket upgrades
// on the same routing entry.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nvrgate/internal/metrics"
	"nvrgate/internal/registry"
)

// requestHeaderAllowlist is the fixed set of conditional/range headers
// forwarded verbatim to the upstream.
var requestHeaderAllowlist = []string{
	"Accept",
	"Range",
	"If-None-Match",
	"If-Modified-Since",
}

// responseHeaderAllowlist is passed back unchanged so standard HTTP caching
// keeps working through the proxy. Content-Encoding is deliberately absent:
// the proxy does not re-apply the corresponding transfer encoding, so
// copying it back would corrupt the response framing.
var responseHeaderAllowlist = []string{
	"Content-Type",
	"ETag",
	"Last-Modified",
	"Cache-Control",
}

// streamedExtraHeaders are additionally forwarded for piped bodies so range
// requests and players keep working.
var streamedExtraHeaders = []string{
	"Content-Length",
	"Accept-Ranges",
	"Content-Disposition",
}

// Engine forwards HTTP requests to registered upstream hosts.
// It is safe for concurrent use.
type Engine struct {
	reg   *registry.Registry
	short *http.Client // metadata/control endpoints — fail fast
	long  *http.Client // media and summary endpoints — expected slow
}

// NewEngine builds an Engine over reg with the given per-class timeouts.
func NewEngine(reg *registry.Registry, shortTimeout, longTimeout time.Duration) *Engine {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Engine{
		reg:   reg,
		short: &http.Client{Transport: transport, Timeout: shortTimeout},
		long:  &http.Client{Transport: transport, Timeout: longTimeout},
	}
}

// Resolve looks up hostName (display name or derived hostname) and applies
// the enabled gate. The returned *Error, if non-nil, is terminal for the
// request and no network call has been made.
func (e *Engine) Resolve(hostName string) (registry.Host, *Error) {
	h, ok := e.reg.Get(hostName)
	if !ok {
		return registry.Host{}, ErrHostNotFound
	}
	if !h.Enabled {
		return registry.Host{}, ErrHostDisabled
	}
	return h, nil
}

// ResolveURL rewrites a gateway-relative media URL ("/proxy/{host}/...")
// into the absolute upstream URL, applying host resolution and the enabled
// gate. Absolute http(s) URLs pass through untouched.
func (e *Engine) ResolveURL(raw string) (string, *Error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}

	trimmed := strings.TrimPrefix(raw, "/")
	if !strings.HasPrefix(trimmed, "proxy/") {
		return "", &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf("unsupported media URL %q", raw)}
	}
	hostName, upstreamPath := SplitProxyPath(strings.TrimPrefix(trimmed, "proxy/"))

	h, gerr := e.Resolve(unescapeHostName(hostName))
	if gerr != nil {
		return "", gerr
	}
	return joinUpstream(h.URL, upstreamPath), nil
}

// Forward proxies one request to the named host and writes the response.
// Classification happens before the upstream call so the right timeout and
// response mode apply regardless of what the upstream answers.
func (e *Engine) Forward(w http.ResponseWriter, r *http.Request, hostName, upstreamPath string) {
	host, gerr := e.Resolve(hostName)
	if gerr != nil {
		writeError(w, gerr)
		return
	}

	class := Classify(upstreamPath)
	client := e.short
	if class.Slow() {
		client = e.long
	}

	target := joinUpstream(host.URL, upstreamPath)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		writeError(w, Unreachable(err))
		return
	}
	for _, k := range requestHeaderAllowlist {
		if v := r.Header.Get(k); v != "" {
			req.Header.Set(k, v)
		}
	}
	if body != nil {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.UpstreamErrors.Inc()
		metrics.ProxyRequests.WithLabelValues(class.String(), "5xx").Inc()
		slog.Error("proxy: upstream unreachable",
			"host", host.Name,
			"method", r.Method,
			"path", upstreamPath,
			"error", err,
		)
		writeError(w, Unreachable(err))
		return
	}
	defer resp.Body.Close()

	metrics.UpstreamLatency.WithLabelValues(class.String()).Observe(time.Since(start).Seconds())
	metrics.ProxyRequests.WithLabelValues(class.String(), metrics.StatusBucket(resp.StatusCode)).Inc()

	copyHeaders(w.Header(), resp.Header, responseHeaderAllowlist)
	if class.Streamed() {
		copyHeaders(w.Header(), resp.Header, streamedExtraHeaders)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			// Client went away or upstream feed broke mid-stream; the status
			// line is already out, nothing more to report to the client.
			slog.Debug("proxy: stream interrupted",
				"host", host.Name,
				"path", upstreamPath,
				"error", err,
			)
		}
		return
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, Unreachable(err))
		return
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		payload = normalizeEmptyJSON(payload)
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)
}

// normalizeEmptyJSON re-emits a null or empty JSON payload as an explicit
// empty array so callers never have to special-case null.
func normalizeEmptyJSON(payload []byte) []byte {
	switch string(bytes.TrimSpace(payload)) {
	case "", "null", "[]":
		return []byte("[]")
	}
	return payload
}

func joinUpstream(base, upstreamPath string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(upstreamPath, "/")
}

func copyHeaders(dst, src http.Header, keys []string) {
	for _, k := range keys {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}

// writeError emits the taxonomy error as the standard {"error": msg} payload.
func writeError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Message})
}

// WriteError is the exported form used by handlers outside this package.
func WriteError(w http.ResponseWriter, e *Error) { writeError(w, e) }

// SplitProxyPath splits the wildcard remainder of a /proxy/ route into the
// host name and the upstream-relative path.
func SplitProxyPath(rest string) (hostName, upstreamPath string) {
	hostName, upstreamPath, _ = strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	return hostName, upstreamPath
}

// unescapeHostName tolerates percent-encoded host names in routing paths.
func unescapeHostName(name string) string {
	if u, err := url.PathUnescape(name); err == nil {
		return u
	}
	return name
}
