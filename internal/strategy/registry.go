package strategy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Package strategy tracks which fetch strategy works for which sites.
//
// Responsibilities:
//   - Derive URL patterns (host plus path through the last slash)
//   - Answer longest-prefix lookups for the fetch cascade
//   - Record winning strategies and persist them as JSON Lines
//   - Load operator-provided seed entries and reload them on file change
//
// Persistence is write-behind: updates mark the registry dirty and a
// background goroutine rewrites the file. Persistence failures are logged
// and never fail the caller.

const (
	Native   = "native"
	Enhanced = "enhanced"
)

// Entry maps a URL pattern to the strategy that should fetch it.
type Entry struct {
	Pattern     string    `json:"pattern"`
	Strategy    string    `json:"strategy"`
	LearnedAt   time.Time `json:"learned_at"`
	SampleCount int       `json:"sample_count"`
	Notes       string    `json:"notes,omitempty"`
	Seeded      bool      `json:"seeded,omitempty"`
}

// Options configures a Registry.
type Options struct {
	// Path is the JSONL persistence file. Empty disables persistence.
	Path string

	// SeedPath is an optional operator-provided seed file, watched for
	// changes. Empty disables seeding.
	SeedPath string

	Logger *zap.Logger
}

// Registry is the in-memory pattern table plus its persistence machinery.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	path     string
	seedPath string
	logger   *zap.Logger

	flushCh   chan struct{}
	stopCh    chan struct{}
	flushDone chan struct{}
	watchDone chan struct{}
	watcher   *fsnotify.Watcher
	closeOnce sync.Once
}

// New loads persisted entries and the seed file, then starts the
// write-behind flusher and the seed watcher.
func New(opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Registry{
		entries:   make(map[string]*Entry),
		path:      opts.Path,
		seedPath:  opts.SeedPath,
		logger:    opts.Logger,
		flushCh:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		flushDone: make(chan struct{}),
		watchDone: make(chan struct{}),
	}

	if r.path != "" {
		if err := r.loadFile(); err != nil {
			return nil, fmt.Errorf("loading strategy registry: %w", err)
		}
	}
	if r.seedPath != "" {
		r.applySeed(loadSeed(r.seedPath, r.logger))
		w, err := fsnotify.NewWatcher()
		if err != nil {
			r.logger.Warn("seed watcher unavailable", zap.Error(err))
			close(r.watchDone)
		} else {
			r.watcher = w
			if err := w.Add(filepath.Dir(r.seedPath)); err != nil {
				r.logger.Warn("watching seed directory failed",
					zap.String("path", r.seedPath), zap.Error(err))
			}
			go r.watchSeed()
		}
	} else {
		close(r.watchDone)
	}

	go r.flusher()
	return r, nil
}

// PatternOf derives the registry pattern for a URL: the host followed by
// the path up to and including its last slash. Unparsable URLs produce "".
func PatternOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	path := u.Path
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return u.Host + "/"
	}
	return u.Host + path[:idx+1]
}

// Get returns the preferred strategy for a URL by longest-prefix match
// within the URL's host.
func (r *Registry) Get(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	subject := u.Host + u.Path
	if u.Path == "" {
		subject += "/"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Entry
	for _, e := range r.entries {
		if !strings.HasPrefix(subject, e.Pattern) {
			continue
		}
		if best == nil || len(e.Pattern) > len(best.Pattern) {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.Strategy, true
}

// Upsert records a strategy for a pattern, bumping its learn time and
// sample count, and schedules persistence.
func (r *Registry) Upsert(pattern, strategy string) {
	if pattern == "" {
		return
	}
	now := time.Now()

	r.mu.Lock()
	if e, ok := r.entries[pattern]; ok {
		e.Strategy = strategy
		e.LearnedAt = now
		e.SampleCount++
		e.Seeded = false
	} else {
		r.entries[pattern] = &Entry{
			Pattern:     pattern,
			Strategy:    strategy,
			LearnedAt:   now,
			SampleCount: 1,
		}
	}
	r.mu.Unlock()

	r.nudge()
}

// Learn is Upsert keyed by a URL instead of a pattern.
func (r *Registry) Learn(rawURL, strategy string) {
	pattern := PatternOf(rawURL)
	if pattern == "" {
		r.logger.Warn("cannot derive pattern", zap.String("url", rawURL))
		return
	}
	r.Upsert(pattern, strategy)
}

// Entries returns a copy of every entry, most recently learned first.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LearnedAt.Equal(out[j].LearnedAt) {
			return out[i].LearnedAt.After(out[j].LearnedAt)
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close flushes pending writes and stops the background goroutines.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
		<-r.flushDone
		<-r.watchDone
	})
	return nil
}

// nudge wakes the flusher without blocking; a pending wakeup is enough.
func (r *Registry) nudge() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

func (r *Registry) flusher() {
	defer close(r.flushDone)
	for {
		select {
		case <-r.stopCh:
			r.flush()
			return
		case <-r.flushCh:
			r.flush()
		}
	}
}

// flush rewrites the persistence file with learned entries, most recent
// first, using a temp-file rename.
func (r *Registry) flush() {
	if r.path == "" {
		return
	}
	entries := r.Entries()

	var b strings.Builder
	for _, e := range entries {
		if e.Seeded {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			r.logger.Warn("encoding registry entry failed",
				zap.String("pattern", e.Pattern), zap.Error(err))
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.logger.Warn("creating registry directory failed", zap.Error(err))
		return
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		r.logger.Warn("persisting strategy registry failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Warn("persisting strategy registry failed", zap.Error(err))
	}
}

// loadFile reads the JSONL persistence file. Lines are ordered most recent
// first, so the first occurrence of a pattern wins.
func (r *Registry) loadFile() error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil || e.Pattern == "" {
			r.logger.Warn("skipping invalid registry line",
				zap.Int("line", line), zap.Error(err))
			continue
		}
		if _, exists := r.entries[e.Pattern]; !exists {
			entry := e
			r.entries[e.Pattern] = &entry
		}
	}
	return scanner.Err()
}

func (r *Registry) watchSeed() {
	defer close(r.watchDone)
	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != r.seedPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Info("seed file changed, reloading",
				zap.String("path", r.seedPath))
			r.applySeed(loadSeed(r.seedPath, r.logger))
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("seed watcher error", zap.Error(err))
		}
	}
}

// applySeed replaces previously seeded entries with the new seed set. A
// seed entry overrides a learned entry on the same pattern.
func (r *Registry) applySeed(seeds []Entry) {
	r.mu.Lock()
	for pattern, e := range r.entries {
		if e.Seeded {
			delete(r.entries, pattern)
		}
	}
	for i := range seeds {
		e := seeds[i]
		e.Seeded = true
		r.entries[e.Pattern] = &e
	}
	r.mu.Unlock()
}
