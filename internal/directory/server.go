// Package directory implements the unit directory service for probemesh.
// Units announce their network addresses here and fetch the addresses of
// every other unit, replacing the peer relation data bag with an explicit
// HTTP API.
package directory

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/probemesh/probemesh/pkg/proto"
)

// ServerConfig holds the directory server configuration.
type ServerConfig struct {
	Listen     string        // Listen address, e.g. ":9116"
	AuthToken  string        // Bearer token required on all API calls
	StaleAfter time.Duration // Units not re-announcing within this window are dropped
}

// DefaultStaleAfter is the fallback staleness window.
const DefaultStaleAfter = 5 * time.Minute

// Server is the unit directory. It keeps an in-memory map of announced
// units; persistence is deliberately absent since every unit re-announces on
// start and on address change.
type Server struct {
	cfg     ServerConfig
	mux     *http.ServeMux
	units   map[string]proto.Unit
	unitsMu sync.RWMutex
	now     func() time.Time // test hook
}

// NewServer creates a directory server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		units: make(map[string]proto.Unit),
		now:   time.Now,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/announce", s.requireAuth(s.handleAnnounce))
	s.mux.HandleFunc("/api/v1/units", s.requireAuth(s.handleUnits))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.AuthToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req proto.AnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if len(req.Addresses) == 0 {
		http.Error(w, "at least one address is required", http.StatusBadRequest)
		return
	}

	unit := proto.Unit{
		Name:      req.Name,
		Hostname:  req.Hostname,
		AZ:        req.AZ,
		Addresses: req.Addresses,
		LastSeen:  s.now(),
	}

	s.unitsMu.Lock()
	s.units[unit.Name] = unit
	count := len(s.units)
	s.unitsMu.Unlock()

	log.Info().
		Str("unit", unit.Name).
		Int("addresses", len(unit.Addresses)).
		Msg("unit announced")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proto.AnnounceResponse{OK: true, UnitCount: count})
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cutoff := s.now().Add(-s.cfg.StaleAfter)

	s.unitsMu.Lock()
	for name, unit := range s.units {
		if unit.LastSeen.Before(cutoff) {
			delete(s.units, name)
			log.Debug().Str("unit", name).Msg("dropped stale unit")
		}
	}
	units := make([]proto.Unit, 0, len(s.units))
	for _, unit := range s.units {
		units = append(units, unit)
	}
	s.unitsMu.Unlock()

	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proto.UnitsResponse{Units: units})
}

// UnitCount returns the number of currently known units.
func (s *Server) UnitCount() int {
	s.unitsMu.RLock()
	defer s.unitsMu.RUnlock()
	return len(s.units)
}
