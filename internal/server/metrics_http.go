package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func prometheusHandler() http.Handler {
	return promhttp.Handler()
}

// handleHealth reports liveness plus basic identity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
		return
	}
	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"transport": "http",
		"sessions":  s.runtime.Sessions.Count(),
	}
	payload, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// handleMetrics renders the snapshot for humans.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
		return
	}
	snap := s.collector.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %.0fs\n", snap.UptimeSeconds)
	fmt.Fprintf(&b, "requests: %d total, %d errors (%.1f%% error rate)\n",
		snap.RequestsTotal, snap.RequestErrors, snap.ErrorRate*100)
	fmt.Fprintf(&b, "cache: %d hits, %d misses, %d writes, %d evictions (%.1f%% hit rate)\n",
		snap.CacheHits, snap.CacheMisses, snap.CacheWrites, snap.CacheEvictions,
		snap.CacheHitRate*100)
	fmt.Fprintf(&b, "latency: p50 %dms, p95 %dms, p99 %dms\n",
		snap.LatencyP50MS, snap.LatencyP95MS, snap.LatencyP99MS)

	if s.store != nil {
		stats := s.store.Stats()
		fmt.Fprintf(&b, "store: %d items, %d bytes\n", stats.ItemCount, stats.TotalBytes)
	}
	fmt.Fprintf(&b, "sessions: %d active\n", s.runtime.Sessions.Count())

	names := make([]string, 0, len(snap.Strategies))
	for name := range snap.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snap.Strategies[name]
		fmt.Fprintf(&b, "strategy %s: %d ok, %d failed, %d fallbacks, avg %.0fms\n",
			name, st.Success, st.Failure, st.Fallbacks, st.AvgMS)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

// handleMetricsJSON serves the snapshot as structured data.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
		return
	}
	body := map[string]interface{}{
		"metrics":  s.collector.Snapshot(),
		"sessions": s.runtime.Sessions.Count(),
	}
	if s.store != nil {
		body["store"] = s.store.Stats()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, `{"error":"Failed to encode metrics"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// handleMetricsReset zeroes the counters. When auth is enabled the key is
// accepted as either a bearer token or the X-Metrics-Key header.
func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
		return
	}
	if s.cfg.Metrics.AuthEnabled && !s.metricsKeyOK(r) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"Invalid metrics key"}`)
		return
	}
	s.collector.Reset()
	s.logger.Info("metrics reset", zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, `{"status":"reset"}`)
}

func (s *Server) metricsKeyOK(r *http.Request) bool {
	key := s.cfg.Metrics.AuthKey
	if key == "" {
		return false
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if strings.TrimPrefix(h, "Bearer ") == key {
			return true
		}
	}
	return r.Header.Get("X-Metrics-Key") == key
}
