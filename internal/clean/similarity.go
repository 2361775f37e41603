package clean

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// TokenSortRatio scores two texts 0..100 ignoring word order and case.
// Both inputs are reduced to lowercase alphanumeric tokens, sorted, joined
// by single spaces and compared by normalized edit distance. An empty side
// scores 0.
func TokenSortRatio(a, b string) int {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func ratio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

// ratioCeiling is the best score two strings of these lengths could reach.
// Edit distance is never less than the length difference.
func ratioCeiling(la, lb int) int {
	if la == 0 || lb == 0 {
		return 0
	}
	longest := max(la, lb)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return int(math.Round(100 * (1 - float64(diff)/float64(longest))))
}

func sortedTokens(s string) string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// prefix returns at most n runes of s. n <= 0 means the whole string.
func prefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
