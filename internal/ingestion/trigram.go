package ingestion

import (
	"strings"
	"unicode"
)

// Similarity is a Go port of the pg_trgm similarity() function: lowercase,
// split into alphanumeric words, pad each word with two leading and one
// trailing space, take the distinct trigrams, then Jaccard over the two
// sets. Keeping score parity with the SQL side matters because a single
// threshold gates both the authoritative and the in-batch comparisons.
func Similarity(a, b string) float64 {
	ta := Trigrams(a)
	tb := Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// Trigrams returns the distinct trigram set of s under pg_trgm's word
// extraction rules.
func Trigrams(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range splitWords(strings.ToLower(s)) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
