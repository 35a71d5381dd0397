// Package monitor serves an HTTP status page reporting build progress: a
// JSON snapshot for programmatic polling and a small static page that
// polls it, gzip-served like any other static content.
package monitor

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	gzipped "github.com/lpar/gzipped/v2"
)

// Snapshot is the build-progress state exposed by the status page,
// refreshed by the Build Driver once per progress tick.
type Snapshot struct {
	TargetsTotal     int     `json:"targets_total"`
	TargetsBuilt     int     `json:"targets_built"`
	TargetsFailed    int     `json:"targets_failed"`
	JobsInFlight     int     `json:"jobs_in_flight"`
	ProgressEMA      float64 `json:"progress_ema"`
	CacheHits        int     `json:"cache_hits"`
	CacheMisses      int     `json:"cache_misses"`
	DistributedJobs  int     `json:"distributed_jobs"`
	LocalRacesWon    int     `json:"local_races_won"`
}

// Server serves the status page. Update is called by the Build Driver;
// every other method is safe for concurrent use.
type Server struct {
	mu       sync.RWMutex
	snapshot Snapshot

	static http.Dir
}

// NewServer returns a Server optionally serving static assets (the HTML
// page polling /status.json) from staticDir, or none if staticDir == "".
func NewServer(staticDir string) *Server {
	return &Server{static: http.Dir(staticDir)}
}

func (s *Server) Update(snap Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/status.json" {
		s.mu.RLock()
		snap := s.snapshot
		s.mu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
		return
	}
	if s.static == "" {
		http.NotFound(w, r)
		return
	}
	gzipped.FileServer(s.static).ServeHTTP(w, r)
}

// ListenAndServe starts the status page on addr (e.g. "localhost:0") and
// returns the actual listening address together with the listener; the
// HTTP server runs in its own goroutine until the listener is closed.
func ListenAndServe(addr string, s *Server) (string, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: s}
	go srv.Serve(ln)
	return ln.Addr().String(), ln, nil
}
