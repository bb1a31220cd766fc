package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webharvest/webharvest-mcp/internal/metrics"
)

func newMemoryStore(t *testing.T, opts Options) Store {
	t.Helper()
	s := NewMemory(opts)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newMemoryStore(t, Options{})

	uri, err := s.Write("https://example.com", TierRaw, "<html>hi</html>", Meta{
		MimeType:       "text/html",
		SourceStrategy: "native",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "memory://raw/https___example_com_"), uri)

	res, err := s.Read(uri)
	require.NoError(t, err)
	assert.Equal(t, "<html>hi</html>", res.Content)
	assert.Equal(t, "https://example.com", res.URL)
	assert.Equal(t, TierRaw, res.Tier)
	assert.Equal(t, "text/html", res.MimeType)
	assert.Equal(t, "native", res.SourceStrategy)
	assert.Equal(t, int64(15), res.ByteSize)
}

func TestReadMissing(t *testing.T) {
	s := newMemoryStore(t, Options{})
	_, err := s.Read("memory://raw/nope_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingIsSilent(t *testing.T) {
	s := newMemoryStore(t, Options{})
	assert.NoError(t, s.Delete("memory://raw/nope_1"))
}

func TestSupersedeSameTier(t *testing.T) {
	coll := metrics.New(16)
	s := newMemoryStore(t, Options{Collector: coll})

	first, err := s.Write("https://example.com", TierCleaned, "v1", Meta{})
	require.NoError(t, err)
	second, err := s.Write("https://example.com", TierCleaned, "v2", Meta{})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	headers := s.List()
	require.Len(t, headers, 1)
	assert.Equal(t, second, headers[0].URI)
	assert.False(t, s.Exists(first))

	res, err := s.Read(second)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Content)

	// Superseding is silent: two writes, no evictions.
	snap := coll.Snapshot()
	assert.Equal(t, int64(2), snap.CacheWrites)
	assert.Equal(t, int64(0), snap.CacheEvictions)
}

func TestSupersedeKeepsDistinctPrompts(t *testing.T) {
	s := newMemoryStore(t, Options{})

	_, err := s.Write("https://example.com", TierExtracted, "prices", Meta{ExtractPrompt: "list prices"})
	require.NoError(t, err)
	_, err = s.Write("https://example.com", TierExtracted, "names", Meta{ExtractPrompt: "list names"})
	require.NoError(t, err)

	assert.Len(t, s.List(), 2)
}

func TestMonotonicStamps(t *testing.T) {
	s := newMemoryStore(t, Options{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		uri, err := s.Write("https://example.com/a", TierRaw, "x", Meta{ExtractPrompt: ""})
		require.NoError(t, err)
		// Same (url, tier, prompt) supersedes, so each URI must be new.
		require.False(t, seen[uri], "duplicate URI %s", uri)
		seen[uri] = true
	}
}

func TestTTLExpiry(t *testing.T) {
	s := newMemoryStore(t, Options{TTL: 30 * time.Millisecond, SweepInterval: time.Hour})

	uri, err := s.Write("https://example.com", TierRaw, "soon gone", Meta{})
	require.NoError(t, err)

	res, err := s.Read(uri)
	require.NoError(t, err)
	assert.Equal(t, "soon gone", res.Content)

	time.Sleep(60 * time.Millisecond)

	assert.False(t, s.Exists(uri))
	_, err = s.Read(uri)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, s.List())

	// A fresh write after expiry produces a new, live resource.
	uri2, err := s.Write("https://example.com", TierRaw, "fresh", Meta{})
	require.NoError(t, err)
	assert.True(t, s.Exists(uri2))
	assert.Len(t, s.List(), 1)
}

func TestSweeperRemovesExpired(t *testing.T) {
	coll := metrics.New(16)
	s := newMemoryStore(t, Options{
		TTL:           10 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
		Collector:     coll,
	})

	_, err := s.Write("https://example.com", TierRaw, "x", Meta{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return coll.Snapshot().CacheEvictions == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.Stats().ItemCount)
}

func TestLRUEvictionOnItemCap(t *testing.T) {
	coll := metrics.New(16)
	s := newMemoryStore(t, Options{MaxItems: 3, Collector: coll})

	uriA, err := s.Write("https://a.test", TierRaw, "a", Meta{})
	require.NoError(t, err)
	uriB, err := s.Write("https://b.test", TierRaw, "b", Meta{})
	require.NoError(t, err)
	uriC, err := s.Write("https://c.test", TierRaw, "c", Meta{})
	require.NoError(t, err)

	// Reading A makes B the least recently used.
	_, err = s.Read(uriA)
	require.NoError(t, err)

	uriD, err := s.Write("https://d.test", TierRaw, "d", Meta{})
	require.NoError(t, err)

	assert.False(t, s.Exists(uriB), "B should have been evicted")
	assert.True(t, s.Exists(uriA))
	assert.True(t, s.Exists(uriC))
	assert.True(t, s.Exists(uriD))
	assert.Equal(t, 3, s.Stats().ItemCount)
	assert.Equal(t, int64(1), coll.Snapshot().CacheEvictions)
}

func TestEvictionOnByteCap(t *testing.T) {
	s := newMemoryStore(t, Options{MaxBytes: 10})

	uriA, err := s.Write("https://a.test", TierRaw, "aaaa", Meta{})
	require.NoError(t, err)
	uriB, err := s.Write("https://b.test", TierRaw, "bbbb", Meta{})
	require.NoError(t, err)

	// 8 bytes so far; 4 more must push the oldest out.
	uriC, err := s.Write("https://c.test", TierRaw, "cccc", Meta{})
	require.NoError(t, err)

	assert.False(t, s.Exists(uriA))
	assert.True(t, s.Exists(uriB))
	assert.True(t, s.Exists(uriC))
	assert.LessOrEqual(t, s.Stats().TotalBytes, int64(10))
}

func TestWriteMultiTiers(t *testing.T) {
	s := newMemoryStore(t, Options{})

	cleaned := "# Title"
	extracted := "just the prices"
	uris, err := s.WriteMulti("https://example.com", "<html>raw</html>", &cleaned, &extracted, Meta{
		MimeType:       "text/html",
		SourceStrategy: "enhanced",
		ExtractPrompt:  "list prices",
	})
	require.NoError(t, err)
	require.NotEmpty(t, uris.RawURI)
	require.NotEmpty(t, uris.CleanedURI)
	require.NotEmpty(t, uris.ExtractedURI)

	raw, err := s.Read(uris.RawURI)
	require.NoError(t, err)
	assert.Empty(t, raw.ExtractPrompt)

	cl, err := s.Read(uris.CleanedURI)
	require.NoError(t, err)
	assert.Empty(t, cl.ExtractPrompt)
	assert.Equal(t, "# Title", cl.Content)

	ex, err := s.Read(uris.ExtractedURI)
	require.NoError(t, err)
	assert.Equal(t, "list prices", ex.ExtractPrompt)
	assert.Equal(t, "just the prices", ex.Content)
}

func TestBestForPrefersCleaned(t *testing.T) {
	s := newMemoryStore(t, Options{})

	cleaned := "# clean"
	extracted := "field"
	uris, err := s.WriteMulti("https://example.com", "raw", &cleaned, &extracted, Meta{
		ExtractPrompt: "the field",
	})
	require.NoError(t, err)

	res, ok := s.BestFor("https://example.com", "the field")
	require.True(t, ok)
	assert.Equal(t, TierCleaned, res.Tier)

	// With the cleaned tier gone, a matching prompt selects extracted.
	require.NoError(t, s.Delete(uris.CleanedURI))
	res, ok = s.BestFor("https://example.com", "the field")
	require.True(t, ok)
	assert.Equal(t, TierExtracted, res.Tier)

	// A different prompt cannot use the extracted tier and falls to raw.
	res, ok = s.BestFor("https://example.com", "something else")
	require.True(t, ok)
	assert.Equal(t, TierRaw, res.Tier)

	_, ok = s.BestFor("https://other.test", "")
	assert.False(t, ok)
}

func TestBestForPicksNewestWithinTier(t *testing.T) {
	s := newMemoryStore(t, Options{})

	_, err := s.Write("https://example.com", TierExtracted, "old", Meta{ExtractPrompt: "a"})
	require.NoError(t, err)
	_, err = s.Write("https://example.com", TierExtracted, "new", Meta{ExtractPrompt: "b"})
	require.NoError(t, err)

	res, ok := s.BestFor("https://example.com", "")
	require.True(t, ok)
	assert.Equal(t, "new", res.Content)
}

func TestFindByURLAndExtract(t *testing.T) {
	s := newMemoryStore(t, Options{})

	cleaned := "# c"
	extracted := "e"
	_, err := s.WriteMulti("https://example.com", "r", &cleaned, &extracted, Meta{
		ExtractPrompt: "summarize",
	})
	require.NoError(t, err)

	plain := s.FindByURLAndExtract("https://example.com", "")
	require.Len(t, plain, 2)
	for _, h := range plain {
		assert.NotEqual(t, TierExtracted, h.Tier)
	}

	matched := s.FindByURLAndExtract("https://example.com", "summarize")
	require.Len(t, matched, 1)
	assert.Equal(t, TierExtracted, matched[0].Tier)

	assert.Empty(t, s.FindByURLAndExtract("https://example.com", "different prompt"))
}

func TestListOrderedMostRecentFirst(t *testing.T) {
	s := newMemoryStore(t, Options{})

	_, err := s.Write("https://a.test", TierRaw, "a", Meta{})
	require.NoError(t, err)
	uriB, err := s.Write("https://b.test", TierRaw, "b", Meta{})
	require.NoError(t, err)
	_, err = s.Write("https://c.test", TierRaw, "c", Meta{})
	require.NoError(t, err)

	_, err = s.Read(uriB)
	require.NoError(t, err)

	headers := s.List()
	require.Len(t, headers, 3)
	assert.Equal(t, "https://b.test", headers[0].URL)
	assert.Equal(t, "https://c.test", headers[1].URL)
	assert.Equal(t, "https://a.test", headers[2].URL)
}

func TestStats(t *testing.T) {
	s := newMemoryStore(t, Options{})

	_, err := s.Write("https://a.test", TierRaw, "12345", Meta{})
	require.NoError(t, err)
	_, err = s.Write("https://b.test", TierRaw, "123", Meta{})
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.ItemCount)
	assert.Equal(t, int64(8), st.TotalBytes)
}
