package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"nvrgate/internal/registry"
)

// hostPayload is the wire form of a host in the admin API. The field names
// (createAt/updateAt/host) are part of the public contract.
type hostPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"host"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleListHosts(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]any{"data": s.reg.List()})
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	h, ok := s.reg.GetByID(r.PathValue("id"))
	if !ok {
		jsonErr(w, "Host not found", http.StatusNotFound)
		return
	}
	jsonOK(w, h)
}

// handleReplaceHosts atomically swaps the entire host set. Each enabled host
// is probed synchronously before the swap, so the call blocks for up to the
// probe timeout per enabled host — callers must expect that.
func (s *Server) handleReplaceHosts(w http.ResponseWriter, r *http.Request) {
	var incoming []hostPayload
	if err := decodeJSON(r, &incoming); err != nil {
		jsonErr(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	hosts := make([]registry.Host, len(incoming))
	for i, p := range incoming {
		if p.ID == "" || p.URL == "" {
			jsonErr(w, fmt.Sprintf("host[%d]: id and host are required", i), http.StatusBadRequest)
			return
		}
		hosts[i] = registry.Host{
			ID:      p.ID,
			Name:    p.Name,
			URL:     p.URL,
			Enabled: p.Enabled,
		}
	}

	updated := s.reg.ReplaceAll(r.Context(), hosts)
	slog.Info("hosts replaced", "count", len(updated))
	jsonOK(w, map[string]any{"data": updated})
}

func (s *Server) handleDeleteHosts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonErr(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(body.IDs) == 0 {
		jsonErr(w, "ids is required", http.StatusBadRequest)
		return
	}

	// Ids not found are silently ignored.
	s.reg.DeleteMany(body.IDs)
	slog.Info("hosts deleted", "ids", body.IDs)
	jsonOK(w, map[string]bool{"success": true})
}

// decodeJSON decodes a request body, tolerating an absent Content-Type but
// rejecting bodies that do not parse.
func decodeJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/json" {
			return fmt.Errorf("unexpected content type %q", mt)
		}
	}
	return json.NewDecoder(r.Body).Decode(v)
}
