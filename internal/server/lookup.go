package server

import (
	"net/http"
	"time"
)

// Static lookup tables consumed by the admin UI. These carry no gateway
// logic; they exist so the frontend's role/tag/config pickers work against
// a bare deployment.

type roleEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type cameraEntry struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	HostID int    `json:"hostId"`
}

type tagEntry struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	UserID    string    `json:"userId"`
}

type configEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var (
	cameraTable = []cameraEntry{
		{ID: 1, Name: "Camera 1", HostID: 1},
	}
	roleTable = []roleEntry{
		{ID: "1", Name: "admin"},
		{ID: "2", Name: "user"},
		{ID: "3", Name: "birdseye"},
	}
	configTable = []configEntry{
		{Key: "adminRole", Value: "admin"},
	}
)

func (s *Server) handleCameras(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, cameraTable)
}

// handleCamera answers with the first camera regardless of id, matching the
// mock behavior clients are built against.
func (s *Server) handleCamera(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, cameraTable[0])
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, roleTable)
}

func (s *Server) handleTags(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().UTC()
	tags := []tagEntry{
		{ID: "1", Value: "Tag 1", CreatedAt: now, UpdatedAt: now, UserID: "admin"},
		{ID: "2", Value: "Tag 2", CreatedAt: now, UpdatedAt: now, UserID: "admin"},
		{ID: "3", Value: "Tag 3", CreatedAt: now, UpdatedAt: now, UserID: "admin"},
	}
	jsonOK(w, map[string]any{"data": tags})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, configTable)
}

func (s *Server) handleConfigKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	for _, e := range configTable {
		if e.Key == key {
			jsonOK(w, e)
			return
		}
	}
	jsonErr(w, "config key not found", http.StatusNotFound)
}
