// Command gateway is the NVR gateway entry point.
//
// Usage:
//
//	gateway [-config path/to/gateway.yaml]
//
// The gateway fronts one or more Frigate-compatible NVR hosts: it unifies
// authentication, routes HTTP and WebSocket traffic to the host named in the
// request path, and re-encodes incompatible video on demand. gateway.yaml
// supports hot-reload: edit it while the process is running and the host set
// and middleware chain are rebuilt immediately — no restart needed. Shutdown
// is graceful: send SIGINT or SIGTERM and in-flight requests are given up to
// 10 seconds to complete.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nvrgate/internal/auth"
	"nvrgate/internal/config"
	"nvrgate/internal/health"
	"nvrgate/internal/middleware"
	"nvrgate/internal/proxy"
	"nvrgate/internal/registry"
	"nvrgate/internal/server"
	"nvrgate/internal/transcode"
)

// Version information — set at build time via -ldflags.
//
//	-X main.version=$(git describe --tags --always)
//	-X main.commit=$(git rev-parse --short HEAD)
//	-X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to gateway.yaml")
	flag.Parse()

	startTime := time.Now()

	// Structured JSON logging to stdout — ready for any log aggregator.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	// ── Load initial configuration ────────────────────────────────────────────
	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("could not load config file, using defaults",
			"path", *configPath,
			"error", err,
		)
		cfg = config.Default()
		v = nil
	}

	// ── Host registry ─────────────────────────────────────────────────────────
	// The registry is the single mutable source of truth for the host pool.
	// Both the admin API and the YAML hot-reload path write through it.
	// Seeding probes every enabled host synchronously, so startup blocks for
	// up to the probe timeout per host.
	prober := health.NewProber(cfg.Probe.ParsedTimeout(), cfg.Probe.Path)
	reg := registry.New(prober)
	reg.ReplaceAll(context.Background(), hostsFromConfig(cfg.Hosts))

	// ── Request chain ─────────────────────────────────────────────────────────
	// The atomicHandler lets us swap the entire chain at runtime (hot-reload
	// of auth, timeouts, or rate-limit settings) without restarting the server.
	var current atomic.Value
	chain, err := buildChain(cfg, reg)
	if err != nil {
		slog.Error("failed to initialise gateway", "error", err)
		os.Exit(1)
	}
	current.Store(chain)

	atomicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current.Load().(http.Handler).ServeHTTP(w, r)
	})

	// ── Hot-reload ────────────────────────────────────────────────────────────
	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			newChain, err := buildChain(newCfg, reg)
			if err != nil {
				slog.Error("hot-reload: rebuilding chain failed", "error", err)
				return
			}
			// Replace the host set (re-probes liveness for enabled hosts).
			reg.ReplaceAll(context.Background(), hostsFromConfig(newCfg.Hosts))
			current.Store(newChain)

			slog.Info("hot-reload applied",
				"hosts", len(newCfg.Hosts),
				"rate_limit", newCfg.RateLimit.Enabled,
			)
		})
	}

	// ── Top-level mux ─────────────────────────────────────────────────────────
	// /healthz and /metrics are answered locally (no auth, no upstream) so
	// Docker and scrapers can always reach them. Everything else goes through
	// the middleware chain.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q,"commit":%q,"build_date":%q,"uptime":%q}`,
			version, commit, buildDate, time.Since(startTime).Round(time.Second).String())
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", atomicHandler)

	// ── HTTP server ───────────────────────────────────────────────────────────
	// No WriteTimeout: streamed clips and long-lived segment feeds may run
	// far past any fixed bound; upstream calls are bounded per-class instead.
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("gateway listening",
			"addr", cfg.ListenAddr,
			"hosts", len(cfg.Hosts),
			"rate_limit", cfg.RateLimit.Enabled,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// buildChain assembles the full request path for one config generation:
// routes wrapped in auth, optional rate limiting, and logging.
func buildChain(cfg config.Config, reg *registry.Registry) (http.Handler, error) {
	pipeline, err := transcode.New(cfg.Transcode)
	if err != nil {
		return nil, err
	}

	authSvc := auth.New(cfg.Auth)
	engine := proxy.NewEngine(reg, cfg.Proxy.ParsedShortTimeout(), cfg.Proxy.ParsedLongTimeout())
	ws := proxy.NewWSProxy(reg, cfg.Proxy.DefaultWSTarget)
	srv := server.New(authSvc, reg, engine, ws, pipeline)

	var h http.Handler = srv.Routes()
	h = middleware.TokenAuth(authSvc, []string{"/api/login"})(h)
	if cfg.RateLimit.Enabled {
		h = middleware.RateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)(h)
	}
	return middleware.Logger(h), nil
}

// hostsFromConfig maps YAML host entries to registry hosts.
func hostsFromConfig(cfgs []config.HostCfg) []registry.Host {
	hosts := make([]registry.Host, len(cfgs))
	for i, c := range cfgs {
		hosts[i] = registry.Host{
			ID:      c.ID,
			Name:    c.Name,
			URL:     c.URL,
			Enabled: c.Enabled,
		}
	}
	return hosts
}
