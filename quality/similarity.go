package quality

import (
	"regexp"
	"strings"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// normalize strips markup and punctuation and lowercases, returning the
// token stream the similarity metrics operate on.
func normalize(html string) []string {
	text := tagRe.ReplaceAllString(html, " ")
	text = punctRe.ReplaceAllString(text, " ")
	return strings.Fields(strings.ToLower(text))
}

// bigramSet builds the set of adjacent token pairs. A single-token body
// yields the token itself so short content still compares.
func bigramSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	if len(tokens) == 1 {
		set[tokens[0]] = struct{}{}
		return set
	}
	for i := 0; i+1 < len(tokens); i++ {
		set[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return set
}

// dice is the Sørensen–Dice coefficient over two bigram sets. Identical
// inputs score 1.0; disjoint inputs 0.0. Two empty sets are identical.
func dice(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for g := range small {
		if _, ok := large[g]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// uniqueRatio is the fraction of candidate bigrams absent from every corpus
// set. An empty candidate has no information and scores 0.
func uniqueRatio(candidate map[string]struct{}, corpus []map[string]struct{}) float64 {
	if len(candidate) == 0 {
		return 0.0
	}
	unique := 0
	for g := range candidate {
		seen := false
		for _, c := range corpus {
			if _, ok := c[g]; ok {
				seen = true
				break
			}
		}
		if !seen {
			unique++
		}
	}
	return float64(unique) / float64(len(candidate))
}
