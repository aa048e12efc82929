// Package reconcile matches extracted draft lines against the tenant's
// catalog, shopping list, and recent orders, and flags quantity
// discrepancies. All scoring is deterministic; there is no learned model.
package reconcile

import (
	"regexp"
	"sort"
	"strings"
)

var nonAlnumRe = regexp.MustCompile(`[^A-Z0-9]`)

// NormalizePartNumber strips every non-alphanumeric character and uppercases
// the rest, so "mtu-396-0070" and "MTU 396 0070" compare equal. The function
// is idempotent.
func NormalizePartNumber(s string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToUpper(s), "")
}

// Ratio is Levenshtein similarity scaled to 0..100, matching the usual
// fuzzy-matching convention. Identical strings score 100; two empty strings
// also score 100.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	dist := levenshtein(a, b)
	longer := la
	if lb > longer {
		longer = lb
	}
	return int(float64(longer-dist) / float64(longer) * 100)
}

// TokenSortRatio tokenizes both strings, sorts the tokens, and compares the
// rejoined forms. Word order stops mattering: "filter oil primary" and
// "primary oil filter" score 100.
func TokenSortRatio(a, b string) int {
	return Ratio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// levenshtein computes edit distance with two rolling rows.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minOf(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
