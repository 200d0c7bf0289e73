// Package registry holds the in-memory table of upstream NVR hosts.
//
// The Registry is the single mutable source of truth for the host pool. All
// mutation goes through bulk operations (ReplaceAll, DeleteMany) that swap a
// freshly built snapshot under a single exclusive section, so readers never
// observe a half-updated table. Concurrent ReplaceAll calls race
// last-write-wins; administrative updates are expected to be serialized by
// the caller.
package registry

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Host is the runtime representation of a registered upstream NVR server.
// JSON field names follow the gateway's public API.
type Host struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createAt"`
	UpdatedAt time.Time `json:"updateAt"`
	Name      string    `json:"name"`
	URL       string    `json:"host"`
	Enabled   bool      `json:"enabled"`
	// State is the last-observed liveness, refreshed only when the host set
	// is replaced — it can go stale between updates.
	State bool `json:"state"`
}

// Hostname returns the hostname component of the host's connection URL, or
// "" if the URL does not parse. Used as the secondary routing key.
func (h Host) Hostname() string {
	u, err := url.Parse(h.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Prober is the liveness check run for each enabled host during ReplaceAll.
type Prober interface {
	Probe(ctx context.Context, baseURL string) bool
}

// table is an immutable snapshot of the host set plus its lookup indexes.
type table struct {
	hosts  []Host // insertion order preserved
	byName map[string]int
	byAddr map[string]int // hostname derived from the connection URL
}

// Registry is a concurrency-safe host table with dual-index lookup.
type Registry struct {
	prober Prober

	mu  sync.RWMutex
	tab *table
}

// New returns an empty Registry using prober for liveness checks.
func New(prober Prober) *Registry {
	return &Registry{
		prober: prober,
		tab:    buildTable(nil),
	}
}

// buildTable constructs the snapshot and both indexes in one pass. On key
// conflicts the first host in registration order wins.
func buildTable(hosts []Host) *table {
	t := &table{
		hosts:  hosts,
		byName: make(map[string]int, len(hosts)),
		byAddr: make(map[string]int, len(hosts)),
	}
	for i, h := range hosts {
		if _, ok := t.byName[h.Name]; !ok {
			t.byName[h.Name] = i
		}
		if addr := h.Hostname(); addr != "" {
			if _, ok := t.byAddr[addr]; !ok {
				t.byAddr[addr] = i
			}
		}
	}
	return t
}

// List returns a copy of the current host set in insertion order.
func (r *Registry) List() []Host {
	r.mu.RLock()
	tab := r.tab
	r.mu.RUnlock()

	out := make([]Host, len(tab.hosts))
	copy(out, tab.hosts)
	return out
}

// Get resolves a host by display name or by the hostname parsed out of its
// connection URL. Callers may address a host either way.
func (r *Registry) Get(name string) (Host, bool) {
	r.mu.RLock()
	tab := r.tab
	r.mu.RUnlock()

	if i, ok := tab.byName[name]; ok {
		return tab.hosts[i], true
	}
	if i, ok := tab.byAddr[name]; ok {
		return tab.hosts[i], true
	}
	return Host{}, false
}

// GetByID resolves a host by its id.
func (r *Registry) GetByID(id string) (Host, bool) {
	r.mu.RLock()
	tab := r.tab
	r.mu.RUnlock()

	for _, h := range tab.hosts {
		if h.ID == id {
			return h, true
		}
	}
	return Host{}, false
}

// ReplaceAll swaps the entire host set. Each enabled host is probed
// synchronously and its liveness recorded as State; disabled hosts get
// State=false without probing. The call blocks for up to the probe timeout
// per enabled host. CreatedAt is carried over for hosts whose id already
// existed; UpdatedAt is always stamped.
func (r *Registry) ReplaceAll(ctx context.Context, hosts []Host) []Host {
	now := time.Now().UTC()

	prev := make(map[string]Host)
	for _, h := range r.List() {
		prev[h.ID] = h
	}

	next := make([]Host, len(hosts))
	for i, h := range hosts {
		if old, ok := prev[h.ID]; ok && !old.CreatedAt.IsZero() {
			h.CreatedAt = old.CreatedAt
		} else if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		h.UpdatedAt = now

		if h.Enabled {
			h.State = r.prober.Probe(ctx, h.URL)
		} else {
			h.State = false
		}
		next[i] = h
	}

	tab := buildTable(next)
	r.mu.Lock()
	r.tab = tab
	r.mu.Unlock()

	out := make([]Host, len(next))
	copy(out, next)
	return out
}

// DeleteMany removes hosts by id. Ids not present are silently ignored.
func (r *Registry) DeleteMany(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]Host, 0, len(r.tab.hosts))
	for _, h := range r.tab.hosts {
		if _, gone := drop[h.ID]; !gone {
			kept = append(kept, h)
		}
	}
	r.tab = buildTable(kept)
}
