package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPatternOf(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a/b/c":    "example.com/a/b/",
		"https://example.com/a/b/":     "example.com/a/b/",
		"https://example.com/page":     "example.com/",
		"https://example.com/":         "example.com/",
		"https://example.com":          "example.com/",
		"https://example.com:8080/x/y": "example.com:8080/x/",
		"https://example.com/a/b?q=1":  "example.com/a/",
		"not a url":                    "",
		"/relative/only":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, PatternOf(in), "PatternOf(%q)", in)
	}
}

func TestGetLongestPrefixWins(t *testing.T) {
	r := newTestRegistry(t, Options{})

	r.Upsert("example.com/", Native)
	r.Upsert("example.com/docs/", Enhanced)

	got, ok := r.Get("https://example.com/docs/api")
	require.True(t, ok)
	assert.Equal(t, Enhanced, got)

	got, ok = r.Get("https://example.com/blog/post")
	require.True(t, ok)
	assert.Equal(t, Native, got)

	_, ok = r.Get("https://other.test/docs/api")
	assert.False(t, ok)
}

func TestGetStaysWithinHost(t *testing.T) {
	r := newTestRegistry(t, Options{})
	r.Upsert("example.com/a/", Enhanced)

	_, ok := r.Get("https://example.community/a/page")
	// "example.com/a/" is not a prefix of "example.community/a/page"
	// because the host segment differs at the slash.
	assert.False(t, ok)
}

func TestUpsertBumpsSamples(t *testing.T) {
	r := newTestRegistry(t, Options{})

	r.Upsert("example.com/a/", Native)
	r.Upsert("example.com/a/", Native)
	r.Upsert("example.com/a/", Enhanced)

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, Enhanced, entries[0].Strategy)
	assert.Equal(t, 3, entries[0].SampleCount)
	assert.WithinDuration(t, time.Now(), entries[0].LearnedAt, time.Second)
}

func TestLearnDerivesPattern(t *testing.T) {
	r := newTestRegistry(t, Options{})

	r.Learn("https://example.com/a/b/c", Enhanced)

	got, ok := r.Get("https://example.com/a/b/other")
	require.True(t, ok)
	assert.Equal(t, Enhanced, got)

	// Unparsable URLs are ignored.
	r.Learn(":::", Native)
	assert.Equal(t, 1, r.Len())
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.jsonl")

	r := newTestRegistry(t, Options{Path: path})
	r.Upsert("example.com/a/", Enhanced)
	r.Upsert("example.com/b/", Native)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pattern":"example.com/a/"`)

	reloaded := newTestRegistry(t, Options{Path: path})
	assert.Equal(t, 2, reloaded.Len())
	got, ok := reloaded.Get("https://example.com/a/x")
	require.True(t, ok)
	assert.Equal(t, Enhanced, got)
}

func TestLoadSkipsInvalidLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.jsonl")
	content := `{"pattern":"example.com/a/","strategy":"native","learned_at":"2026-01-01T00:00:00Z","sample_count":2}
not json at all
{"strategy":"enhanced"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := newTestRegistry(t, Options{Path: path})
	assert.Equal(t, 1, r.Len())
}

func TestSeedLoadAndValidation(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.jsonl")
	content := `# comment line
{"pattern":"docs.example.com/","strategy":"enhanced","notes":"js-heavy"}
{"pattern":"","strategy":"native"}
{"pattern":"x.test/","strategy":"teleport"}
{"pattern":"plain.test/","strategy":"native"}
`
	require.NoError(t, os.WriteFile(seed, []byte(content), 0o644))

	r := newTestRegistry(t, Options{SeedPath: seed})
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("https://docs.example.com/page")
	require.True(t, ok)
	assert.Equal(t, Enhanced, got)
}

func TestSeedReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.jsonl")
	require.NoError(t, os.WriteFile(seed,
		[]byte(`{"pattern":"a.test/","strategy":"native"}`+"\n"), 0o644))

	r := newTestRegistry(t, Options{SeedPath: seed})
	require.Equal(t, 1, r.Len())

	require.NoError(t, os.WriteFile(seed,
		[]byte(`{"pattern":"b.test/","strategy":"enhanced"}`+"\n"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := r.Get("https://b.test/x")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	// The old seeded entry is gone after reload.
	_, ok := r.Get("https://a.test/x")
	assert.False(t, ok)
}

func TestSeedDoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.jsonl")
	path := filepath.Join(dir, "strategies.jsonl")
	require.NoError(t, os.WriteFile(seed,
		[]byte(`{"pattern":"seeded.test/","strategy":"enhanced"}`+"\n"), 0o644))

	r := newTestRegistry(t, Options{Path: path, SeedPath: seed})
	r.Upsert("learned.test/", Native)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "learned.test/")
	assert.NotContains(t, string(data), "seeded.test/")
}

func TestMostRecentFirstOrdering(t *testing.T) {
	r := newTestRegistry(t, Options{})

	r.Upsert("old.test/", Native)
	time.Sleep(2 * time.Millisecond)
	r.Upsert("new.test/", Enhanced)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "new.test/", entries[0].Pattern)
	assert.Equal(t, "old.test/", entries[1].Pattern)
}
