package server

import (
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/dreamware/boardcache/internal/cluster"
	"github.com/dreamware/boardcache/internal/router"
)

// Built-in API names, served under router.APIPrefix.
const (
	HealthAPI        = "health"
	ClusterStatusAPI = "clusterStatus"
	RebuildAPI       = "rebuild"
)

func (s *Server) registerAPIs() {
	s.router.HandleAPI(HealthAPI, http.HandlerFunc(s.handleHealth))
	s.router.HandleAPI(ClusterStatusAPI, http.HandlerFunc(s.handleClusterStatus))
	s.router.HandleAPI(RebuildAPI, http.HandlerFunc(s.handleRebuild))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	router.WriteStatus(w, "ok", nil)
}

// ClusterStatus reports the node's role, slave health, rebuild state and
// artifact cache figures.
func (s *Server) ClusterStatus() cluster.Status {
	cache := s.files.Cache().Stats()
	st := cluster.Status{
		Role:      s.guard.Role().String(),
		Master:    s.cfg.Master,
		Artifacts: s.artifacts.Stats().Artifacts,
		CacheHits: cache.Hits,
		CacheSize: humanize.Bytes(uint64(cache.Bytes)),
	}
	st.RebuildID, st.Rebuilding = s.rebuild.Running()
	if s.health != nil {
		st.Slaves = s.health.Snapshot()
	}
	return st
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	router.WriteStatus(w, "ok", s.ClusterStatus())
}

// handleRebuild starts a full rebuild and answers without waiting for it.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		router.WriteError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if !trustedCaller(r) {
		s.log.Printf("rebuild refused for %s", cluster.ClientIP(r))
		router.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	id, started := s.rebuild.FullRebuild(r.Context(), s.logRebuild)
	status := "ok"
	if !started {
		status = "alreadyRunning"
	}
	router.WriteStatus(w, status, map[string]string{"id": id})
}

// trustedCaller admits loopback clients and the master calling a slave
// directly. Requests relayed by the master carry the original client in
// X-Forwarded-For.
func trustedCaller(r *http.Request) bool {
	if cluster.IsLoopback(cluster.ClientIP(r)) {
		return true
	}
	d, _ := cluster.DecisionFrom(r.Context())
	return d.TrustedProxy && r.Header.Get("X-Forwarded-For") == ""
}
