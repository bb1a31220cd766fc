package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/mcp"
)

// SessionHeader carries the session id on every request after initialize.
const SessionHeader = "Mcp-Session-Id"

// handleMCP is the streamable-HTTP endpoint: POST carries JSON-RPC
// frames, GET opens the SSE event stream, DELETE closes the session.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleSSE(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, `{"error":"Method not allowed"}`)
	}
}

func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.BodyLimitBytes
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, `{"error":"Request body too large"}`)
			return
		}
		writeJSON(w, http.StatusBadRequest, `{"error":"Failed to read request body"}`)
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	resp, sess := s.runtime.HandleFrame(r.Context(), sessionID, body)

	if sess != nil {
		w.Header().Set(SessionHeader, sess.ID)
	}
	if resp == nil {
		// Notification: accepted, nothing to say.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(resp))
	if err := writeResponse(w, resp); err != nil {
		s.logger.Warn("writing mcp response failed", zap.Error(err))
	}
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, `{"error":"`+mcp.ErrNoValidSession+`"}`)
		return
	}
	if _, ok := s.runtime.Sessions.Get(sessionID); !ok {
		writeJSON(w, http.StatusNotFound, `{"error":"`+mcp.ErrNoValidSession+`"}`)
		return
	}
	s.runtime.Sessions.Close(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// httpStatusFor maps protocol-level failures onto HTTP statuses. Domain
// errors inside a tool result still travel as 200: the JSON-RPC envelope
// is the contract, HTTP is just the pipe.
func httpStatusFor(resp *mcp.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case mcp.CodeParseError, mcp.CodeInvalidRequest, mcp.CodeInvalidParams:
		return http.StatusBadRequest
	case mcp.CodeSessionError:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}

func marshalResponse(resp *mcp.Response) ([]byte, error) {
	return json.Marshal(resp)
}

func writeResponse(w io.Writer, resp *mcp.Response) error {
	payload, err := marshalResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
