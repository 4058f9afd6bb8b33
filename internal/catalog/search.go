package catalog

import (
	"strings"
	"unicode"
)

const (
	weightTitle       = 2.0
	weightDescription = 1.0
	titleBonus        = 0.5

	// minimum normalised edit similarity for a fuzzy token hit
	fuzzyThreshold = 0.8
	fuzzyFactor    = 0.5
	prefixFactor   = 0.75
	minPrefixLen   = 3
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "in": {}, "for": {}, "to": {}, "by": {}, "on": {},
}

// tokenize lowercases s and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// score is the mean best-match weight of each query token against terms.
func score(query []string, terms map[string]float64) float64 {
	if len(query) == 0 || len(terms) == 0 {
		return 0
	}
	total := 0.0
	for _, q := range query {
		if w, ok := terms[q]; ok {
			total += w
			continue
		}
		best := 0.0
		for t, w := range terms {
			var s float64
			switch {
			case len(q) >= minPrefixLen && strings.HasPrefix(t, q):
				s = w * prefixFactor
			default:
				if sim := similarity(q, t); sim >= fuzzyThreshold {
					s = w * sim * fuzzyFactor
				}
			}
			if s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(query))
}

func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	n := max(len(ra), len(rb))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(n)
}

// levenshtein uses a two-row dynamic programme.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
