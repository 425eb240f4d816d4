// Package admin implements the JWT-protected HTTP surface that lets an
// operator inspect and manage running FIX sessions, mirroring the shape of
// the source platform's admin handler set but trimmed to session lifecycle
// operations only.
package admin

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/seroze/fixengine/internal/session"
)

// Manager is the registry of live sessions the admin API operates on.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	hub      *Hub
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session.Session)}
}

// AttachHub wires a live-event WebSocket hub into the manager; once
// attached, RegisterHTTPHandlers also exposes it under
// /admin/fix/sessions/feed. A Manager with no hub attached behaves exactly
// as before (REST list/health/kill only).
func (m *Manager) AttachHub(h *Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hub = h
}

// Hub returns the attached event hub, or nil if none was attached.
func (m *Manager) Hub() *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hub
}

// Register adds a session under name, replacing any prior entry.
func (m *Manager) Register(name string, s *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[name] = s
}

// Unregister removes a session, e.g. once it has fully torn down.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, name)
}

func (m *Manager) get(name string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

func (m *Manager) names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type sessionSummary struct {
	Name   string        `json:"name"`
	Health session.Health `json:"health"`
}

// RegisterHTTPHandlers wires the admin routes onto mux, each guarded by
// ti's bearer-token middleware.
func (m *Manager) RegisterHTTPHandlers(mux *http.ServeMux, ti *TokenIssuer) {
	mux.HandleFunc("/admin/fix/sessions", ti.RequireAuth(m.handleListSessions))
	mux.HandleFunc("/admin/fix/sessions/", ti.RequireAuth(m.handleSessionRoute))
	if hub := m.Hub(); hub != nil {
		mux.HandleFunc("/admin/fix/sessions/feed", hub.ServeWS(ti))
	}
}

func (m *Manager) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := m.names()
	summaries := make([]sessionSummary, 0, len(names))
	for _, name := range names {
		s, ok := m.get(name)
		if !ok {
			continue
		}
		summaries = append(summaries, sessionSummary{Name: name, Health: s.Health()})
	}
	writeJSON(w, summaries)
}

// handleSessionRoute dispatches /admin/fix/sessions/{name} (GET health) and
// /admin/fix/sessions/{name}/kill (POST force-disconnect).
func (m *Manager) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/admin/fix/sessions/"):]
	name, action := path, ""
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			name, action = path[:i], path[i+1:]
			break
		}
	}
	if name == "" {
		http.NotFound(w, r)
		return
	}
	s, ok := m.get(name)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, sessionSummary{Name: name, Health: s.Health()})
	case "kill":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.Stop(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessionSummary{Name: name, Health: s.Health()})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
