// Package keys builds cache keys for tile byte ranges.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix = "tile"
	// used when a read carries no dataset id
	noDataset = "_"
)

// Key identifies bytes [off, off+n) of uri under dataset. The URI is hashed
// with its query string removed; the dataset part stays readable so a whole
// dataset can be dropped by pattern.
func Key(dataset, uri string, off, n int64) string {
	u := normalizeURI(uri)
	sum := xxhash.Sum64String(u)
	return fmt.Sprintf("%s:%s:%016x:%d:%d", prefix, datasetPart(dataset), sum, off, n)
}

// DatasetPattern matches every key of dataset, for SCAN MATCH.
func DatasetPattern(dataset string) string {
	return fmt.Sprintf("%s:%s:*", prefix, datasetPart(dataset))
}

// Dataset returns the dataset part of a key built by Key, or "".
func Dataset(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != prefix || parts[1] == noDataset {
		return ""
	}
	return parts[1]
}

func datasetPart(dataset string) string {
	s := sanitizeForKey(strings.ToLower(strings.TrimSpace(dataset)))
	if s == "" {
		return noDataset
	}
	const maxLen = 96
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// normalizeURI drops the query string so presigned URLs of the same object
// share keys.
func normalizeURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// sanitizeForKey keeps [A-Za-z0-9_-] and folds everything else into '-'.
// Colons are separators and never appear inside a part.
func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
