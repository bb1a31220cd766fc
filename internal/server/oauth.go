package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// OAuth endpoints exist so clients probing for dynamic registration get a
// definitive answer instead of a dangling connection. They are disabled
// unless ENABLE_OAUTH is set; this deployment does not gate tool access
// on OAuth either way.

func (s *Server) handleOAuthRegister(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.EnableOAuth {
		writeJSON(w, http.StatusNotFound, `{"error":"OAuth is disabled"}`)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
		return
	}

	var req struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"invalid_client_metadata"}`)
		return
	}

	resp := map[string]interface{}{
		"client_id":                  uuid.NewString(),
		"client_name":                req.ClientName,
		"redirect_uris":              req.RedirectURIs,
		"token_endpoint_auth_method": "none",
	}
	payload, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(payload)
}

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.EnableOAuth {
		writeJSON(w, http.StatusNotFound, `{"error":"OAuth is disabled"}`)
		return
	}
	// Registration is open and tools need no token, so there is nothing
	// to authorize against yet.
	writeJSON(w, http.StatusNotImplemented,
		`{"error":"unsupported_response_type","error_description":"Authorization flow is not available"}`)
}
