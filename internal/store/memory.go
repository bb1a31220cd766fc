package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// memoryStore keeps headers and content entirely in process memory.
type memoryStore struct {
	mu      sync.RWMutex
	ix      *index
	content map[string]string
	opts    Options

	// lastStamp makes URI timestamps strictly monotonic even when two
	// writes land on the same microsecond.
	lastStamp int64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewMemory builds the in-memory backend and starts its sweeper.
func NewMemory(opts Options) Store {
	opts.normalize()
	s := &memoryStore{
		ix:      newIndex(),
		content: make(map[string]string),
		opts:    opts,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *memoryStore) List() []ResourceHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.headers()
}

func (s *memoryStore) Read(uri string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.ix.get(uri)
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	if isExpired(h, now, s.opts.TTL) {
		s.removeLocked(uri, true)
		return nil, ErrNotFound
	}
	s.ix.touch(uri, now)

	res := &Resource{ResourceHeader: *h, Content: s.content[uri]}
	return res, nil
}

func (s *memoryStore) Write(url string, tier Tier, content string, meta Meta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(url, tier, content, meta), nil
}

func (s *memoryStore) WriteMulti(url, raw string, cleaned, extracted *string, meta Meta) (MultiURIs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out MultiURIs
	rawMeta := meta
	rawMeta.ExtractPrompt = ""
	out.RawURI = s.writeLocked(url, TierRaw, raw, rawMeta)
	if cleaned != nil {
		cleanedMeta := meta
		cleanedMeta.ExtractPrompt = ""
		out.CleanedURI = s.writeLocked(url, TierCleaned, *cleaned, cleanedMeta)
	}
	if extracted != nil {
		out.ExtractedURI = s.writeLocked(url, TierExtracted, *extracted, meta)
	}
	return out, nil
}

func (s *memoryStore) Exists(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.ix.get(uri)
	return ok && !isExpired(h, time.Now(), s.opts.TTL)
}

func (s *memoryStore) Delete(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(uri, false)
	return nil
}

func (s *memoryStore) FindByURL(url string) []ResourceHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []ResourceHeader
	for el := s.ix.recency.Front(); el != nil; el = el.Next() {
		h := el.Value.(*ResourceHeader)
		if h.URL == url && !isExpired(h, now, s.opts.TTL) {
			out = append(out, *h)
		}
	}
	return out
}

func (s *memoryStore) FindByURLAndExtract(url, prompt string) []ResourceHeader {
	headers := s.FindByURL(url)
	out := headers[:0]
	for _, h := range headers {
		if prompt == "" {
			if h.Tier != TierExtracted {
				out = append(out, h)
			}
		} else if h.Tier == TierExtracted && h.ExtractPrompt == prompt {
			out = append(out, h)
		}
	}
	return out
}

func (s *memoryStore) BestFor(url, extractPrompt string) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *ResourceHeader
	for el := s.ix.recency.Front(); el != nil; el = el.Next() {
		h := el.Value.(*ResourceHeader)
		if h.URL != url || isExpired(h, now, s.opts.TTL) {
			continue
		}
		if h.Tier == TierExtracted && extractPrompt != "" && h.ExtractPrompt != extractPrompt {
			continue
		}
		if best == nil ||
			tierRank(h.Tier) < tierRank(best.Tier) ||
			(tierRank(h.Tier) == tierRank(best.Tier) && h.Timestamp.After(best.Timestamp)) {
			best = h
		}
	}
	if best == nil {
		return nil, false
	}
	uri := best.URI
	s.ix.touch(uri, now)
	return &Resource{ResourceHeader: *best, Content: s.content[uri]}, true
}

func (s *memoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{ItemCount: s.ix.len(), TotalBytes: s.ix.total}
}

func (s *memoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

// writeLocked supersedes any live (url, tier, prompt) entry, inserts the
// new resource, and applies the eviction policy.
func (s *memoryStore) writeLocked(url string, tier Tier, content string, meta Meta) string {
	for el := s.ix.recency.Front(); el != nil; {
		h := el.Value.(*ResourceHeader)
		el = el.Next()
		if h.URL == url && h.Tier == tier && h.ExtractPrompt == meta.ExtractPrompt {
			s.removeLocked(h.URI, false)
		}
	}

	now := time.Now()
	stamp := s.nextStamp(now)
	h := &ResourceHeader{
		URI:            MemoryURI(tier, url, stamp),
		URL:            url,
		Tier:           tier,
		Timestamp:      time.UnixMicro(stamp),
		ByteSize:       int64(len(content)),
		MimeType:       meta.MimeType,
		SourceStrategy: meta.SourceStrategy,
		ExtractPrompt:  meta.ExtractPrompt,
		LastAccess:     now,
	}
	s.ix.insert(h)
	s.content[h.URI] = content
	s.opts.Collector.RecordCache(metrics.CacheWrite)

	s.evictLocked(now)
	metrics.SetStoreStats(s.ix.len(), s.ix.total)
	return h.URI
}

// nextStamp returns a microsecond timestamp strictly greater than any
// previously issued one, advancing a tick on collision.
func (s *memoryStore) nextStamp(now time.Time) int64 {
	stamp := now.UnixMicro()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

// evictLocked applies TTL, then the item cap, then the byte cap.
func (s *memoryStore) evictLocked(now time.Time) {
	for _, uri := range s.ix.expired(now, s.opts.TTL) {
		s.removeLocked(uri, true)
	}
	if s.opts.MaxItems > 0 {
		for s.ix.len() > s.opts.MaxItems {
			v, ok := s.ix.victim()
			if !ok {
				break
			}
			s.removeLocked(v.URI, true)
		}
	}
	if s.opts.MaxBytes > 0 {
		for s.ix.total > s.opts.MaxBytes {
			v, ok := s.ix.victim()
			if !ok {
				break
			}
			s.removeLocked(v.URI, true)
		}
	}
}

func (s *memoryStore) removeLocked(uri string, evicted bool) {
	if _, ok := s.ix.remove(uri); !ok {
		return
	}
	delete(s.content, uri)
	if evicted {
		s.opts.Collector.RecordCache(metrics.CacheEviction)
	}
	metrics.SetStoreStats(s.ix.len(), s.ix.total)
}

// sweep walks the store at a fixed interval and removes expired entries.
func (s *memoryStore) sweep() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			expired := s.ix.expired(now, s.opts.TTL)
			for _, uri := range expired {
				s.removeLocked(uri, true)
			}
			s.mu.Unlock()
			if len(expired) > 0 {
				s.opts.Logger.Debug("swept expired resources",
					zap.Int("count", len(expired)))
			}
		}
	}
}
