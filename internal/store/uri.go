package store

import (
	"fmt"
	"strings"
)

// Sanitize replaces every non-alphanumeric byte of a URL with an underscore
// so the result is safe inside URIs and file names.
func Sanitize(url string) string {
	var b strings.Builder
	b.Grow(len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// MemoryURI builds memory://<tier>/<sanitized>_<timestamp>.
func MemoryURI(tier Tier, url string, stampMicros int64) string {
	return fmt.Sprintf("memory://%s/%s_%d", tier, Sanitize(url), stampMicros)
}

// FileURI builds file://<base>/<tier>/<sanitized>_<timestamp>.md.
func FileURI(base string, tier Tier, url string, stampMicros int64) string {
	base = strings.TrimRight(base, "/")
	return fmt.Sprintf("file://%s/%s/%s_%d.md", base, tier, Sanitize(url), stampMicros)
}

// FilePath is FileURI without the scheme: the on-disk location of a
// filesystem-backend resource.
func FilePath(base string, tier Tier, url string, stampMicros int64) string {
	base = strings.TrimRight(base, "/")
	return fmt.Sprintf("%s/%s/%s_%d.md", base, tier, Sanitize(url), stampMicros)
}
