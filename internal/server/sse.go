package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// sseHeartbeat is the interval between comment frames that keep
// intermediaries from timing out an idle stream.
const sseHeartbeat = 25 * time.Second

// handleSSE serves GET /mcp: a resumable server-to-client event stream.
// A Last-Event-ID header replays the events the client missed before the
// live subscription takes over.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeJSON(w, http.StatusNotAcceptable, `{"error":"Client must accept text/event-stream"}`)
		return
	}
	sessionID := r.Header.Get(SessionHeader)
	sess, ok := s.runtime.Sessions.Get(sessionID)
	if sessionID == "" || !ok {
		writeJSON(w, http.StatusNotFound, `{"error":"Session not found"}`)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, `{"error":"Streaming unsupported"}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Subscribe before replaying so nothing published in between is lost;
	// the replay cutoff keeps duplicates out.
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	var replayedThrough string
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		_, err := s.runtime.Events.ReplayAfter(lastID, func(eventID string, message []byte) error {
			replayedThrough = eventID
			return writeSSEEvent(w, eventID, message)
		})
		if err != nil {
			s.logger.Warn("event replay failed",
				zap.String("session_id", sessionID),
				zap.String("last_event_id", lastID),
				zap.Error(err))
			return
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Context().Done():
			return
		case ev := <-events:
			// Ids are lexically ordered, so anything at or below the
			// replay cutoff already went out.
			if replayedThrough != "" && ev.ID <= replayedThrough {
				continue
			}
			if err := writeSSEEvent(w, ev.ID, ev.Message); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent emits one id+data frame. Multi-line payloads get one
// data: line each per the SSE framing rules.
func writeSSEEvent(w http.ResponseWriter, id string, message []byte) error {
	if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
		return err
	}
	for _, line := range strings.Split(string(message), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
