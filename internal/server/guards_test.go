package server

import (
	"net/http"
	"testing"
)

func TestHostAllowed(t *testing.T) {
	allowed := []string{"localhost", "127.0.0.1", "*.example.com"}

	tests := []struct {
		name string
		host string
		want bool
	}{
		{"exact match", "localhost", true},
		{"exact with port", "localhost:3000", true},
		{"loopback ip", "127.0.0.1:8080", true},
		{"wildcard subdomain", "api.example.com", true},
		{"wildcard nested subdomain", "a.b.example.com", true},
		{"wildcard does not cover apex", "example.com", false},
		{"case insensitive", "API.Example.COM", true},
		{"unlisted host", "evil.com", false},
		{"empty host", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := hostAllowed(tc.host, allowed); got != tc.want {
				t.Errorf("hostAllowed(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		// Default / development origins
		{"allow localhost:3000", nil, "http://localhost:3000", true},
		{"allow localhost:5173", nil, "http://localhost:5173", true},
		{"block localhost:8080 by default", nil, "http://localhost:8080", false},
		{"block external by default", nil, "https://evil.example.com", false},

		// Wildcard mode
		{"wildcard allows anything", []string{"*"}, "https://example.com", true},

		// Explicit allow list
		{"explicit allow match", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"explicit allow mismatch", []string{"https://app.example.com"}, "https://evil.com", false},
		{"case-insensitive origin", []string{"https://App.Example.Com"}, "https://app.example.com", true},

		// No origin header (non-browser clients / same-host)
		{"no origin header allowed", nil, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := originAllowed(tc.origin, tc.origins); got != tc.want {
				t.Errorf("origin=%q, allowed=%v: got %v, want %v",
					tc.origin, tc.origins, got, tc.want)
			}
		})
	}
}

func TestUpgraderCheckOrigin(t *testing.T) {
	up := newUpgrader([]string{"https://app.example.com"})

	r, _ := http.NewRequest(http.MethodGet, "/mcp/ws", nil)
	r.Header.Set("Origin", "https://app.example.com")
	if !up.CheckOrigin(r) {
		t.Error("allowed origin rejected")
	}

	r.Header.Set("Origin", "https://evil.com")
	if up.CheckOrigin(r) {
		t.Error("unlisted origin accepted")
	}

	r.Header.Del("Origin")
	if !up.CheckOrigin(r) {
		t.Error("request without origin rejected")
	}
}
