package server

import (
	"net"
	"net/http"
	"strings"
)

// developmentOrigins are accepted when no explicit allow-list is
// configured, so local clients work out of the box.
var developmentOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// withGuards wraps the route table with the host guard and CORS handling.
// The host guard runs only in production; CORS headers are always set so
// browser clients can read the session id header.
func (s *Server) withGuards(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.Production && !hostAllowed(r.Host, s.cfg.Server.AllowedHosts) {
			writeJSON(w, http.StatusForbidden, `{"error":"Host not allowed"}`)
			return
		}

		s.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hostAllowed checks a Host header against the allow-list. Entries are
// matched case-insensitively with the port stripped; a "*." prefix allows
// any subdomain.
func hostAllowed(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "*.") {
			if strings.HasSuffix(host, a[1:]) {
				return true
			}
			continue
		}
		if host == a {
			return true
		}
	}
	return false
}

// originAllowed checks an Origin header against the configured list. An
// empty list means same-origin only (plus the development defaults); "*"
// allows everything.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		allowed = developmentOrigins
	}
	origin = strings.ToLower(origin)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	// Clients must be able to read the session id off the initialize
	// response regardless of origin handling.
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")

	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(origin, s.cfg.Server.AllowedOrigins) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, Last-Event-ID, Authorization, X-Metrics-Key")
	if s.cfg.Server.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}
