// Package health implements the liveness probe for upstream NVR hosts.
//
// Unlike a background monitor, the probe runs only while a host update is
// being processed — liveness state can therefore go stale between updates.
// The signal is deliberately coarse: any non-200 response and any I/O error
// (including timeout) are reported identically as "down".
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Prober performs bounded-timeout health checks against a host's version
// endpoint. It is safe for concurrent use.
type Prober struct {
	client *http.Client
	path   string
}

// NewProber returns a Prober that issues GET <base><path> with the given
// timeout. An empty path defaults to "/api/version".
func NewProber(timeout time.Duration, path string) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = "/api/version"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
		path:   path,
	}
}

// Probe reports whether the host at baseURL answers its version endpoint
// with a 200 within the timeout. No diagnostic detail is surfaced — the
// registry only needs a boolean gate.
func (p *Prober) Probe(ctx context.Context, baseURL string) bool {
	target := strings.TrimSuffix(baseURL, "/") + p.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		slog.Warn("probe: bad host URL", "url", baseURL, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("probe: host down", "url", baseURL, "error", err)
		return false
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Debug("probe: host down", "url", baseURL, "status", resp.StatusCode)
		return false
	}
	return true
}
