// Package search implements the item search and ranking engine: fuzzy
// multi-field matching, filter composition, relevance scoring with
// configurable weights, result highlighting, cursor pagination, and a
// cache-aside layer. It is deliberately free of transport concerns; the
// HTTP layer translates query strings into a Request and the response back
// into JSON.
//
// Matching is tiered: exact case-insensitive equality scores 1.0, substring
// containment 0.8, prefix overlap 0.6, and everything else falls back to a
// character-trigram Jaccard overlap. A candidate qualifies when it contains
// the query verbatim (case-insensitive) or its trigram overlap clears the
// configured similarity floor.
package search

import (
	"strings"

	"golang.org/x/text/cases"
)

// foldCaser applies Unicode case folding, which is the correct way to do
// case-insensitive comparison beyond ASCII (ß/SS, İ/i, …).
var foldCaser = cases.Fold()

// fold returns s case-folded and trimmed for comparison purposes.
func fold(s string) string {
	return foldCaser.String(strings.TrimSpace(s))
}

// Similarity scores candidate against query in [0,1] using the tiered rules
// above. Both inputs are raw strings; folding happens internally.
func Similarity(query, candidate string) float64 {
	q := fold(query)
	c := fold(candidate)
	if q == "" || c == "" {
		return 0
	}
	if c == q {
		return 1.0
	}
	if strings.Contains(c, q) {
		return 0.8
	}
	// The query extends past the candidate but starts the same way
	// ("the great gatsby and" vs "The Great Gatsby").
	if strings.HasPrefix(q, c) {
		return 0.6
	}
	return trigramJaccard(q, c)
}

// Matches reports whether candidate qualifies for the result set: verbatim
// containment, or trigram overlap above floor.
func Matches(query, candidate string, floor float64) bool {
	q := fold(query)
	c := fold(candidate)
	if q == "" || c == "" {
		return false
	}
	if strings.Contains(c, q) {
		return true
	}
	return trigramJaccard(q, c) > floor
}

// trigrams collects the set of character trigrams of s (rune-based). Strings
// shorter than three runes contribute themselves as a single gram so that
// two-rune queries can still overlap.
func trigrams(s string) map[string]struct{} {
	runes := []rune(s)
	out := make(map[string]struct{})
	if len(runes) < 3 {
		if len(runes) > 0 {
			out[string(runes)] = struct{}{}
		}
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

// trigramJaccard computes |A ∩ B| / |A ∪ B| over the two trigram sets.
func trigramJaccard(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	small, large := ta, tb
	if len(small) > len(large) {
		small, large = large, small
	}
	for g := range small {
		if _, ok := large[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
