package corpus

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Blend weights for the two edit-distance measures.
const (
	jaroWeight = 0.7
	levWeight  = 0.3
)

// fuzzyScore rates how well the normalized query matches the normalized term,
// in [0,1]. Jaro-Winkler carries most of the weight; a normalized Levenshtein
// similarity tempers its prefix bias. Exact substring containment gets a
// floor so "cat" always surfaces "catalog".
func fuzzyScore(query, term string) float64 {
	if query == term {
		return 1
	}

	jw := matchr.JaroWinkler(query, term, false)

	maxLen := len(query)
	if len(term) > maxLen {
		maxLen = len(term)
	}
	lev := 1 - float64(matchr.Levenshtein(query, term))/float64(maxLen)
	if lev < 0 {
		lev = 0
	}

	score := jaroWeight*jw + levWeight*lev
	if strings.Contains(term, query) && score < 0.75 {
		score = 0.75
	}
	return score
}

// adaptiveMinScore lowers the score threshold for short queries to preserve
// recall; longer queries use the caller-supplied base.
func adaptiveMinScore(query string, base float64) float64 {
	switch n := len([]rune(query)); {
	case n <= 2:
		return 0.20
	case n <= 4:
		return 0.25
	case n <= 6:
		return 0.30
	default:
		return base
	}
}
