package entity

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenSortRatio scores two strings in [0, 1] after sorting their
// whitespace-separated tokens, so word order does not matter.
// The comparison is case-sensitive.
func TokenSortRatio(a, b string) float64 {
	return indelRatio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// indelRatio is 2*LCS/(len(a)+len(b)) over runes, i.e. one minus the
// normalised insert/delete distance.
func indelRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 || len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	return float64(2*lcsLength(ra, rb)) / float64(total)
}

func lcsLength(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Contains reports whether needle occurs in haystack as a whole word
func Contains(haystack, needle string) bool {
	return len(wholeWordIndex(haystack, needle, 1)) > 0
}

// wholeWordIndex returns the byte ranges of up to n non-overlapping
// occurrences of literal in text (all of them when n < 0) that have no letter,
// digit or underscore immediately before or after. Letters are judged by
// Unicode class, so "José" and "(212) 555-5555" bound correctly.
func wholeWordIndex(text, literal string, n int) [][2]int {
	if literal == "" {
		return nil
	}
	var out [][2]int
	for i := 0; i <= len(text)-len(literal) && n != 0; {
		idx := strings.Index(text[i:], literal)
		if idx < 0 {
			break
		}
		start, end := i+idx, i+idx+len(literal)
		if bounded(text, start, end) {
			out = append(out, [2]int{start, end})
			n--
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		i = start + size
	}
	return out
}

// bounded reports whether text[start:end] has no word character on either side
func bounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
