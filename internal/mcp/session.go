package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState string

const (
	StateCreated     SessionState = "created"
	StateInitialized SessionState = "initialized"
	StateServing     SessionState = "serving"
	StateClosed      SessionState = "closed"
)

// Session is one client's logical connection. Its id doubles as the event
// stream id for resumability.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	state        SessionState
	lastActivity time.Time

	// ctx is cancelled when the session closes, aborting in-flight
	// requests.
	ctx    context.Context
	cancel context.CancelFunc

	// subscribers receive live events; the send side is serialized by mu.
	subscribers map[chan Event]struct{}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Touch updates the last-activity time.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// idleSince returns the last-activity time.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// transition moves the state machine forward. It returns false when the
// move is not legal from the current state.
func (s *Session) transition(to SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := false
	switch to {
	case StateInitialized:
		ok = s.state == StateCreated
	case StateServing:
		ok = s.state == StateInitialized || s.state == StateServing
	case StateClosed:
		ok = s.state != StateClosed
	}
	if ok {
		s.state = to
		s.lastActivity = time.Now()
	}
	return ok
}

// Subscribe attaches a live event listener. The returned cancel function
// must be called when the listener goes away.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
	}
}

// publish fans an event out to live listeners. A listener that cannot keep
// up misses the event and recovers it on reconnect via replay.
func (s *Session) publish(e Event) {
	s.mu.Lock()
	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	s.mu.Unlock()
}

// SessionManager owns the session table and the idle sweeper.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout time.Duration
	events      EventStore
	logger      *zap.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewSessionManager builds the table and starts the idle sweeper. An
// idleTimeout of zero disables idle collection.
func NewSessionManager(idleTimeout time.Duration, events EventStore, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SessionManager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		events:      events,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Create mints a new session in the created state.
func (m *SessionManager) Create() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		state:        StateCreated,
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		subscribers:  make(map[chan Event]struct{}),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	m.logger.Debug("session created", zap.String("session_id", s.ID))
	return s
}

// Get resolves a session id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close terminates a session: cancels its in-flight requests, frees its
// event stream, and removes it from the table. Closing an unknown id is
// not an error.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}

	s.transition(StateClosed)
	s.cancel()
	m.events.DropStream(id)
	metrics.SessionsActive.Set(float64(count))
	m.logger.Debug("session closed", zap.String("session_id", id))
}

// Shutdown closes every session and stops the sweeper.
func (m *SessionManager) Shutdown() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

// sweep closes sessions that have been idle past the timeout.
func (m *SessionManager) sweep() {
	defer close(m.doneCh)
	if m.idleTimeout <= 0 {
		<-m.stopCh
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.idleTimeout)
			m.mu.RLock()
			var stale []string
			for id, s := range m.sessions {
				if s.idleSince().Before(cutoff) {
					stale = append(stale, id)
				}
			}
			m.mu.RUnlock()
			for _, id := range stale {
				m.logger.Info("closing idle session", zap.String("session_id", id))
				m.Close(id)
			}
		}
	}
}
