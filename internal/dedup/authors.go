// Package dedup detects duplicate papers reported by different sources.
package dedup

import (
	"strings"
	"unicode"
)

// AuthorOverlap scores how much two author lists agree, from 0 (disjoint or
// either list empty) to 1 (same people).
//
// Each name of the shorter list is greedily paired with its most similar
// unpaired name in the longer list; the summed pair similarity is divided by
// the size of the union. The score is symmetric.
func AuthorOverlap(a, b []string) float64 {
	left, right := normalizeAll(a), normalizeAll(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	if len(left) > len(right) {
		left, right = right, left
	}

	taken := make([]bool, len(right))
	var score float64
	pairs := 0
	for _, name := range left {
		best, bestIdx := 0.0, -1
		for j, other := range right {
			if taken[j] {
				continue
			}
			if s := nameSimilarity(name, other); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			taken[bestIdx] = true
			score += best
			pairs++
		}
	}

	return score / float64(len(left)+len(right)-pairs)
}

// NormalizeName lowercases an author name, turns "Last, First" into
// "First Last", drops everything that is not a letter or a space and
// collapses runs of spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if last, first, ok := strings.Cut(name, ","); ok {
		name = strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r):
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, name)
	return strings.Join(strings.Fields(cleaned), " ")
}

// nameSimilarity compares two normalized names. Surnames must match exactly;
// given names then decide the score:
//
//	identical given names          1.0
//	initial matches the given name 0.9
//	either side lacks given names  0.7
//	different given names          0.3
func nameSimilarity(a, b string) float64 {
	pa, pb := strings.Fields(a), strings.Fields(b)
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}
	if pa[len(pa)-1] != pb[len(pb)-1] {
		return 0
	}

	givenA, givenB := pa[:len(pa)-1], pb[:len(pb)-1]
	switch {
	case len(givenA) == 0 || len(givenB) == 0:
		return 0.7
	case strings.Join(givenA, " ") == strings.Join(givenB, " "):
		return 1
	case initialOf(givenA[0], givenB[0]) || initialOf(givenB[0], givenA[0]):
		return 0.9
	default:
		return 0.3
	}
}

// initialOf reports whether initial is a single letter starting name.
func initialOf(initial, name string) bool {
	ri, rn := []rune(initial), []rune(name)
	return len(ri) == 1 && len(rn) > 1 && ri[0] == rn[0]
}

func normalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if norm := NormalizeName(n); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}
