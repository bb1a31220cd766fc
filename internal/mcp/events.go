package mcp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// Event is one server-initiated message retained for stream resumption.
type Event struct {
	ID      string
	Stream  string
	Message []byte
}

// EventStore retains per-stream events so a client that reconnects with a
// Last-Event-ID can catch up on what it missed.
type EventStore interface {
	// Store appends a message to a stream and returns its event id.
	// Ids are lexically ordered within a stream in insertion order.
	Store(streamID string, message []byte) (string, error)

	// ReplayAfter invokes send for every event of lastEventID's stream
	// whose id is strictly greater, in append order. It returns the
	// stream id the events belong to.
	ReplayAfter(lastEventID string, send func(eventID string, message []byte) error) (string, error)

	// DropStream discards a closed session's events.
	DropStream(streamID string)

	Close() error
}

// eventID formats <stream>_<suffix>. The suffix is zero-padded so lexical
// order matches numeric order.
func eventID(streamID string, seq int64) string {
	return fmt.Sprintf("%s_%012d", streamID, seq)
}

// splitEventID recovers the stream id and suffix from an event id.
func splitEventID(id string) (string, int64, error) {
	idx := strings.LastIndex(id, "_")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, fmt.Errorf("malformed event id %q", id)
	}
	seq, err := strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed event id %q", id)
	}
	return id[:idx], seq, nil
}

// memoryEvents keeps streams in process memory. Adequate for a single
// process; resumability across restarts needs the sqlite backend.
type memoryEvents struct {
	mu      sync.Mutex
	streams map[string][]Event
	nextSeq map[string]int64
}

// NewMemoryEvents builds the in-memory event store.
func NewMemoryEvents() EventStore {
	return &memoryEvents{
		streams: make(map[string][]Event),
		nextSeq: make(map[string]int64),
	}
}

func (m *memoryEvents) Store(streamID string, message []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSeq[streamID] + 1
	m.nextSeq[streamID] = seq
	id := eventID(streamID, seq)

	msg := make([]byte, len(message))
	copy(msg, message)
	m.streams[streamID] = append(m.streams[streamID], Event{ID: id, Stream: streamID, Message: msg})

	metrics.EventsStoredTotal.Inc()
	return id, nil
}

func (m *memoryEvents) ReplayAfter(lastEventID string, send func(string, []byte) error) (string, error) {
	streamID, seq, err := splitEventID(lastEventID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	events := m.streams[streamID]
	pending := make([]Event, 0, len(events))
	for _, e := range events {
		_, eseq, perr := splitEventID(e.ID)
		if perr == nil && eseq > seq {
			pending = append(pending, e)
		}
	}
	m.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	for _, e := range pending {
		if err := send(e.ID, e.Message); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}

func (m *memoryEvents) DropStream(streamID string) {
	m.mu.Lock()
	delete(m.streams, streamID)
	delete(m.nextSeq, streamID)
	m.mu.Unlock()
}

func (m *memoryEvents) Close() error { return nil }
