package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// fsStore keeps content on disk, one file per resource, with the header
// index held in memory and rebuilt on startup. Each file is a JSON header
// block, a blank line, then the content. Writes go through a temp file and
// a rename so readers never observe a torn resource.
type fsStore struct {
	mu   sync.Mutex
	ix   *index
	opts Options
	base string

	lastStamp int64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewFilesystem builds the filesystem backend rooted at opts.Path, creating
// the tier directories and rebuilding the index from existing files.
func NewFilesystem(opts Options) (Store, error) {
	opts.normalize()
	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem store requires a path")
	}
	s := &fsStore{
		ix:     newIndex(),
		opts:   opts,
		base:   strings.TrimRight(opts.Path, "/"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, tier := range []Tier{TierRaw, TierCleaned, TierExtracted} {
		if err := os.MkdirAll(filepath.Join(s.base, string(tier)), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s tier dir: %w", tier, err)
		}
	}
	if err := s.rebuild(); err != nil {
		return nil, fmt.Errorf("rebuilding index: %w", err)
	}
	go s.sweep()
	return s, nil
}

// rebuild walks the tier directories and loads every header, ordering the
// recency list by stored last access times.
func (s *fsStore) rebuild() error {
	var headers []*ResourceHeader
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		h, _, rerr := s.readFile(path)
		if rerr != nil {
			s.opts.Logger.Warn("skipping unreadable resource file",
				zap.String("path", path), zap.Error(rerr))
			return nil
		}
		headers = append(headers, h)
		if stamp := h.Timestamp.UnixMicro(); stamp > s.lastStamp {
			s.lastStamp = stamp
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(headers, func(i, j int) bool {
		return headers[i].LastAccess.Before(headers[j].LastAccess)
	})
	for _, h := range headers {
		s.ix.insert(h)
	}
	metrics.SetStoreStats(s.ix.len(), s.ix.total)
	return nil
}

func (s *fsStore) List() []ResourceHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ix.headers()
}

func (s *fsStore) Read(uri string) (*Resource, error) {
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

	_, content, err := s.readFile(uriPath(uri))
	if err != nil {
		// The file vanished under us; drop the index entry.
		s.removeLocked(uri, false)
		return nil, fmt.Errorf("reading resource: %w", err)
	}

	s.ix.touch(uri, now)
	if err := s.writeFile(uriPath(uri), h, content); err != nil {
		s.opts.Logger.Warn("persisting last access failed",
			zap.String("uri", uri), zap.Error(err))
	}
	return &Resource{ResourceHeader: *h, Content: content}, nil
}

func (s *fsStore) Write(url string, tier Tier, content string, meta Meta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(url, tier, content, meta)
}

func (s *fsStore) WriteMulti(url, raw string, cleaned, extracted *string, meta Meta) (MultiURIs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out MultiURIs
	var err error
	rawMeta := meta
	rawMeta.ExtractPrompt = ""
	if out.RawURI, err = s.writeLocked(url, TierRaw, raw, rawMeta); err != nil {
		return out, err
	}
	if cleaned != nil {
		cleanedMeta := meta
		cleanedMeta.ExtractPrompt = ""
		if out.CleanedURI, err = s.writeLocked(url, TierCleaned, *cleaned, cleanedMeta); err != nil {
			return out, err
		}
	}
	if extracted != nil {
		if out.ExtractedURI, err = s.writeLocked(url, TierExtracted, *extracted, meta); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *fsStore) Exists(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.ix.get(uri)
	return ok && !isExpired(h, time.Now(), s.opts.TTL)
}

func (s *fsStore) Delete(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(uri, false)
	return nil
}

func (s *fsStore) FindByURL(url string) []ResourceHeader {
	s.mu.Lock()
	defer s.mu.Unlock()

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

func (s *fsStore) FindByURLAndExtract(url, prompt string) []ResourceHeader {
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

func (s *fsStore) BestFor(url, extractPrompt string) (*Resource, bool) {
	s.mu.Lock()

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
		s.mu.Unlock()
		return nil, false
	}
	uri := best.URI
	s.mu.Unlock()

	// Read re-acquires the lock and performs the access-time bump.
	res, err := s.Read(uri)
	if err != nil {
		return nil, false
	}
	return res, true
}

func (s *fsStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{ItemCount: s.ix.len(), TotalBytes: s.ix.total}
}

func (s *fsStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

func (s *fsStore) writeLocked(url string, tier Tier, content string, meta Meta) (string, error) {
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
		URI:            FileURI(s.base, tier, url, stamp),
		URL:            url,
		Tier:           tier,
		Timestamp:      time.UnixMicro(stamp),
		ByteSize:       int64(len(content)),
		MimeType:       meta.MimeType,
		SourceStrategy: meta.SourceStrategy,
		ExtractPrompt:  meta.ExtractPrompt,
		LastAccess:     now,
	}
	if err := s.writeFile(uriPath(h.URI), h, content); err != nil {
		return "", fmt.Errorf("writing resource: %w", err)
	}
	s.ix.insert(h)
	s.opts.Collector.RecordCache(metrics.CacheWrite)

	s.evictLocked(now)
	metrics.SetStoreStats(s.ix.len(), s.ix.total)
	return h.URI, nil
}

func (s *fsStore) nextStamp(now time.Time) int64 {
	stamp := now.UnixMicro()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

func (s *fsStore) evictLocked(now time.Time) {
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

func (s *fsStore) removeLocked(uri string, evicted bool) {
	if _, ok := s.ix.remove(uri); !ok {
		return
	}
	if err := os.Remove(uriPath(uri)); err != nil && !os.IsNotExist(err) {
		s.opts.Logger.Warn("removing resource file failed",
			zap.String("uri", uri), zap.Error(err))
	}
	if evicted {
		s.opts.Collector.RecordCache(metrics.CacheEviction)
	}
	metrics.SetStoreStats(s.ix.len(), s.ix.total)
}

func (s *fsStore) sweep() {
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

// readFile parses a resource file: a JSON header block, a blank line, and
// the content.
func (s *fsStore) readFile(path string) (*ResourceHeader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	sep := strings.Index(string(data), "\n\n")
	if sep < 0 {
		return nil, "", fmt.Errorf("missing header separator in %s", path)
	}
	var h ResourceHeader
	if err := json.Unmarshal(data[:sep], &h); err != nil {
		return nil, "", fmt.Errorf("parsing header of %s: %w", path, err)
	}
	return &h, string(data[sep+2:]), nil
}

// writeFile writes header plus content atomically via a temp file rename.
func (s *fsStore) writeFile(path string, h *ResourceHeader, content string) error {
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	data := make([]byte, 0, len(headerJSON)+2+len(content))
	data = append(data, headerJSON...)
	data = append(data, '\n', '\n')
	data = append(data, content...)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// uriPath strips the file:// scheme to recover the on-disk location.
func uriPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
