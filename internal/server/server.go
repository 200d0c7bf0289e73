// Package server wires the gateway's client-facing HTTP surface: login and
// identity endpoints, the host admin API, the transcode pipeline endpoints,
// and the generic forward-proxy entry for both HTTP and WebSocket upgrades.
package server

import (
	"encoding/json"
	"net/http"

	"nvrgate/internal/auth"
	"nvrgate/internal/proxy"
	"nvrgate/internal/registry"
	"nvrgate/internal/transcode"
)

// Server holds the handler dependencies. All fields are safe for concurrent
// use; a config hot-reload builds a fresh Server around the same registry.
type Server struct {
	auth     *auth.Service
	reg      *registry.Registry
	engine   *proxy.Engine
	ws       *proxy.WSProxy
	pipeline *transcode.Pipeline
}

// New assembles the Server.
func New(
	authSvc *auth.Service,
	reg *registry.Registry,
	engine *proxy.Engine,
	ws *proxy.WSProxy,
	pipeline *transcode.Pipeline,
) *Server {
	return &Server{
		auth:     authSvc,
		reg:      reg,
		engine:   engine,
		ws:       ws,
		pipeline: pipeline,
	}
}

// Routes returns the mux for everything behind the middleware chain.
// /healthz and /metrics are answered on the top-level mux in main, outside
// the chain.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Session
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	// Host admin API
	mux.HandleFunc("GET /apiv1/frigate-hosts", s.handleListHosts)
	mux.HandleFunc("GET /apiv1/frigate-hosts/{id}", s.handleGetHost)
	mux.HandleFunc("PUT /apiv1/frigate-hosts", s.handleReplaceHosts)
	mux.HandleFunc("DELETE /apiv1/frigate-hosts", s.handleDeleteHosts)

	// Transcode pipeline
	mux.HandleFunc("GET /apiv1/video/probe", s.handleVideoProbe)
	mux.HandleFunc("GET /apiv1/video/transcode", s.handleVideoTranscode)
	mux.HandleFunc("GET /apiv1/video/transcoded/{file}", s.handleVideoRetrieve)

	// Inert lookup tables consumed by the admin UI.
	mux.HandleFunc("GET /apiv1/cameras", s.handleCameras)
	mux.HandleFunc("GET /apiv1/cameras/{id}", s.handleCamera)
	mux.HandleFunc("GET /apiv1/roles", s.handleRoles)
	mux.HandleFunc("GET /apiv1/tags", s.handleTags)
	mux.HandleFunc("GET /apiv1/config", s.handleConfig)
	mux.HandleFunc("GET /apiv1/config/{key}", s.handleConfigKey)

	// Generic forward proxy — any method, HTTP or WebSocket upgrade.
	mux.HandleFunc("/proxy/{host}/{path...}", s.handleProxy)

	return mux
}

// handleProxy is the forward-proxy entry. The host segment is resolved
// per-request; WebSocket upgrades branch to the bridge, everything else goes
// through the HTTP engine.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	hostName := r.PathValue("host")
	upstreamPath := r.PathValue("path")

	if proxy.IsUpgrade(r) {
		s.ws.Bridge(w, r, hostName, upstreamPath)
		return
	}
	s.engine.Forward(w, r, hostName, upstreamPath)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
