package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 10 << 20
)

// newUpgrader builds a websocket upgrader whose CheckOrigin enforces the
// configured origin allow-list. Nil falls back to the development
// defaults; "*" allows everything; requests without an Origin header
// (non-browser clients) always pass.
func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

// handleWebSocket serves /mcp/ws. Each connection is one session: the
// client's first frame must be initialize, and the same state machine as
// the HTTP transport applies. Text frames carry JSON-RPC both ways.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := newUpgrader(s.cfg.Server.AllowedOrigins)
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)

	var (
		writeMu   sync.Mutex
		sessionID string
	)
	writeFrame := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	defer func() {
		if sessionID != "" {
			s.runtime.Sessions.Close(sessionID)
		}
	}()

	// Server pings keep the connection alive through idle periods; a
	// client that stops answering them hits the read deadline.
	conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * wsPingInterval))
	})
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		resp, sess := s.runtime.HandleFrame(r.Context(), sessionID, raw)
		if sess != nil {
			sessionID = sess.ID
			// Server-initiated messages ride the same connection.
			events, unsubscribe := sess.Subscribe()
			defer unsubscribe()
			go func() {
				for {
					select {
					case <-sess.Context().Done():
						return
					case ev := <-events:
						if err := writeFrame(ev.Message); err != nil {
							return
						}
					}
				}
			}()
		}
		if resp == nil {
			continue
		}
		payload, merr := marshalResponse(resp)
		if merr != nil {
			s.logger.Warn("encoding websocket response failed", zap.Error(merr))
			continue
		}
		if err := writeFrame(payload); err != nil {
			return
		}
	}
}
