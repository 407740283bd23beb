package status

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

const (
	rateLimitWindow      = 60 * time.Second
	rateLimitMaxRequests = 30
	rateLimitEvictAfter  = 2 * rateLimitWindow
)

// Server serves the /status endpoint described by spec §4.11 and §6,
// routed with httprouter the way api.go routes the teacher's daemon API.
type Server struct {
	Projector  *Projector
	CORSOrigin string
	PublicDir  string
	Log        *logrus.Entry

	mu       sync.Mutex
	requests map[string][]time.Time
	lastEvict time.Time
	now      func() time.Time
}

// NewServer constructs a Server.
func NewServer(projector *Projector, corsOrigin, publicDir string, log *logrus.Entry) *Server {
	return &Server{
		Projector:  projector,
		CORSOrigin: corsOrigin,
		PublicDir:  publicDir,
		Log:        log,
		requests:   make(map[string][]time.Time),
		now:        time.Now,
	}
}

// Handler returns the configured httprouter handler.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/status", s.handleStatus)
	router.OPTIONS("/status", s.handleOptions)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.applyCommonHeaders(w, r)
		w.WriteHeader(http.StatusNotFound)
	})
	return router
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.applyCommonHeaders(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.applyCommonHeaders(w, r)

	if !s.allow(clientKey(r)) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":            "rate limit exceeded",
			"retryAfterSeconds": 60,
		})
		return
	}

	snap, err := s.Projector.Assemble()
	if err != nil {
		s.Log.WithError(err).Error("failed to assemble status snapshot")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "internal error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(snap)
}

// applyCommonHeaders sets CORS and cache-control headers the way
// erc20_monitor's enableCors helper does, generalized to echo a specific
// configured origin instead of always wildcarding.
func (s *Server) applyCommonHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")

	if s.CORSOrigin == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else if origin := r.Header.Get("Origin"); origin != "" && origin == s.CORSOrigin {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// allow enforces a 30-requests-per-60s sliding window per client key
// (spec §4.11), evicting stale entries opportunistically.
func (s *Server) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastEvict) > rateLimitWindow {
		s.evictStale(now)
		s.lastEvict = now
	}

	cutoff := now.Add(-rateLimitWindow)
	times := s.requests[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rateLimitMaxRequests {
		s.requests[key] = kept
		return false
	}
	kept = append(kept, now)
	s.requests[key] = kept
	return true
}

func (s *Server) evictStale(now time.Time) {
	cutoff := now.Add(-rateLimitEvictAfter)
	for key, times := range s.requests {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(s.requests, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// WriteSideFiles persists the transparency artifacts named in spec §6
// "Persisted state": last_buy.json, last_reward.json, and an append-only
// history.jsonl line for this snapshot.
func (s *Server) WriteSideFiles(snap Snapshot) error {
	if s.PublicDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.PublicDir, 0755); err != nil {
		return err
	}

	if snap.LastBuyTs != nil {
		if err := writeJSONFile(filepath.Join(s.PublicDir, "last_buy.json"), map[string]interface{}{
			"ts": *snap.LastBuyTs,
			"tx": snap.LastBuyTx,
		}); err != nil {
			return err
		}
	}
	if snap.LastRewardTs != nil {
		if err := writeJSONFile(filepath.Join(s.PublicDir, "last_reward.json"), map[string]interface{}{
			"ts":  *snap.LastRewardTs,
			"txs": snap.LastRewardTxs,
		}); err != nil {
			return err
		}
	}

	line, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.PublicDir, "history.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func writeJSONFile(path string, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}
