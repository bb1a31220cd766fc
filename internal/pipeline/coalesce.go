package pipeline

import "sync"

// flightGroup coalesces concurrent calls with the same fingerprint: the
// first caller runs the work, later callers wait for its outcome.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

type flight struct {
	done    chan struct{}
	outcome *Outcome
	err     error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do runs fn once per in-flight fingerprint. Every caller receives the
// pioneer's outcome and error.
func (g *flightGroup) do(key string, fn func() (*Outcome, error)) (*Outcome, error) {
	g.mu.Lock()
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		<-f.done
		return f.outcome, f.err
	}
	f := &flight{done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	f.outcome, f.err = fn()

	g.mu.Lock()
	delete(g.flights, key)
	g.mu.Unlock()
	close(f.done)

	return f.outcome, f.err
}
