package store

import (
	"container/list"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

// Package store implements the keyed content cache holding every scraped
// resource.
//
// Responsibilities:
//   - Persist three content tiers (raw, cleaned, extracted) per source URL
//   - Derive deterministic, collision-free resource URIs
//   - Enforce TTL expiry plus LRU eviction on item count and total bytes
//   - Serve the pipeline's cached-content preference order
//   - Run a background sweeper that removes expired entries
//   - Report writes and evictions to the metrics collector
//
// Two backends implement the same contract: memory (everything in-process)
// and filesystem (content on disk, header index in memory). The pipeline
// treats the cache as advisory, so backend errors are non-fatal to callers.

// Tier names the processing stage a resource captures.
type Tier string

const (
	TierRaw       Tier = "raw"
	TierCleaned   Tier = "cleaned"
	TierExtracted Tier = "extracted"
)

// ErrNotFound is returned when a URI does not resolve to a live resource.
var ErrNotFound = errors.New("resource not found")

// ResourceHeader carries everything about a resource except its content.
type ResourceHeader struct {
	URI            string    `json:"uri"`
	URL            string    `json:"url"`
	Tier           Tier      `json:"tier"`
	Timestamp      time.Time `json:"timestamp"`
	ByteSize       int64     `json:"byte_size"`
	MimeType       string    `json:"mime_type"`
	SourceStrategy string    `json:"source_strategy,omitempty"`
	ExtractPrompt  string    `json:"extract_prompt,omitempty"`
	LastAccess     time.Time `json:"last_access"`
}

// Resource is a header plus content.
type Resource struct {
	ResourceHeader
	Content string
}

// Meta carries the write-time attributes the caller knows.
type Meta struct {
	MimeType       string
	SourceStrategy string
	ExtractPrompt  string
}

// MultiURIs reports which tiers a WriteMulti call persisted.
type MultiURIs struct {
	RawURI       string
	CleanedURI   string
	ExtractedURI string
}

// Stats summarizes current occupancy.
type Stats struct {
	ItemCount  int   `json:"item_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Store is the contract shared by both backends.
type Store interface {
	// List returns headers for every live resource.
	List() []ResourceHeader

	// Read returns a resource by URI and bumps its last access time.
	// Expired resources read as ErrNotFound and are deleted.
	Read(uri string) (*Resource, error)

	// Write persists one tier for a URL, superseding any live resource
	// with the same (url, tier, extract prompt).
	Write(url string, tier Tier, content string, meta Meta) (string, error)

	// WriteMulti persists the raw tier plus optional cleaned/extracted
	// tiers in one call.
	WriteMulti(url, raw string, cleaned, extracted *string, meta Meta) (MultiURIs, error)

	// Exists reports whether a URI resolves to a live, unexpired resource.
	Exists(uri string) bool

	// Delete removes a resource. Deleting a missing URI is not an error.
	Delete(uri string) error

	// FindByURL returns headers for every live resource of a URL.
	FindByURL(url string) []ResourceHeader

	// FindByURLAndExtract filters FindByURL down to extracted resources
	// whose prompt matches byte-exactly. An empty prompt returns the
	// non-extracted tiers.
	FindByURLAndExtract(url, prompt string) []ResourceHeader

	// BestFor returns the preferred cached resource for a URL: cleaned
	// over extracted over raw. When extractPrompt is non-empty the
	// extracted tier must match it byte-exactly to qualify.
	BestFor(url, extractPrompt string) (*Resource, bool)

	// Stats returns current occupancy.
	Stats() Stats

	// Close stops the sweeper. The store must not be used afterwards.
	Close() error
}

// Options configures either backend.
type Options struct {
	// Backend is "memory" or "filesystem".
	Backend string

	// TTL of zero means entries never expire.
	TTL time.Duration

	// MaxItems and MaxBytes of zero mean unlimited.
	MaxItems int
	MaxBytes int64

	// Path is the filesystem backend root.
	Path string

	// SweepInterval defaults to one minute.
	SweepInterval time.Duration

	Collector *metrics.Collector
	Logger    *zap.Logger
}

func (o *Options) normalize() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// New builds the backend named by opts.Backend.
func New(opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemory(opts), nil
	case "filesystem":
		return NewFilesystem(opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// index is the bookkeeping both backends share: a URI map plus a recency
// list (front = most recently used) and running totals. Callers hold the
// store lock around every method.
type index struct {
	byURI   map[string]*list.Element
	recency *list.List // of *ResourceHeader
	total   int64
}

func newIndex() *index {
	return &index{
		byURI:   make(map[string]*list.Element),
		recency: list.New(),
	}
}

func (ix *index) insert(h *ResourceHeader) {
	ix.byURI[h.URI] = ix.recency.PushFront(h)
	ix.total += h.ByteSize
}

func (ix *index) get(uri string) (*ResourceHeader, bool) {
	el, ok := ix.byURI[uri]
	if !ok {
		return nil, false
	}
	return el.Value.(*ResourceHeader), true
}

// touch marks a URI as most recently used.
func (ix *index) touch(uri string, now time.Time) {
	el, ok := ix.byURI[uri]
	if !ok {
		return
	}
	el.Value.(*ResourceHeader).LastAccess = now
	ix.recency.MoveToFront(el)
}

func (ix *index) remove(uri string) (*ResourceHeader, bool) {
	el, ok := ix.byURI[uri]
	if !ok {
		return nil, false
	}
	h := el.Value.(*ResourceHeader)
	ix.recency.Remove(el)
	delete(ix.byURI, uri)
	ix.total -= h.ByteSize
	return h, true
}

// victim returns the least recently used header.
func (ix *index) victim() (*ResourceHeader, bool) {
	el := ix.recency.Back()
	if el == nil {
		return nil, false
	}
	return el.Value.(*ResourceHeader), true
}

func (ix *index) len() int {
	return len(ix.byURI)
}

// expired collects URIs whose creation time is older than ttl.
func (ix *index) expired(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	var out []string
	for el := ix.recency.Front(); el != nil; el = el.Next() {
		h := el.Value.(*ResourceHeader)
		if now.Sub(h.Timestamp) > ttl {
			out = append(out, h.URI)
		}
	}
	return out
}

// headers returns a copy of every header, most recently used first.
func (ix *index) headers() []ResourceHeader {
	out := make([]ResourceHeader, 0, ix.recency.Len())
	for el := ix.recency.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*ResourceHeader))
	}
	return out
}

// isExpired reports whether h is past its ttl at time now.
func isExpired(h *ResourceHeader, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(h.Timestamp) > ttl
}

// tierRank orders tiers for BestFor: cleaned > extracted > raw.
func tierRank(t Tier) int {
	switch t {
	case TierCleaned:
		return 0
	case TierExtracted:
		return 1
	case TierRaw:
		return 2
	default:
		return 3
	}
}
