package urlnorm

import (
	"net/url"
	"strconv"
	"strings"
)

// Similarity scores how alike two normalized URLs are, from 0 to 1.
type Similarity interface {
	Score(a, b string) float64
}

// SimilarityFunc adapts a function to Similarity.
type SimilarityFunc func(a, b string) float64

func (f SimilarityFunc) Score(a, b string) float64 { return f(a, b) }

// NumericMismatchCap bounds the score of paths whose numeric segments
// differ. Ids name distinct content, so such pairs never reach a merge
// threshold however long the shared path is.
const NumericMismatchCap = 0.5

// PathSimilarity compares URL paths segment by segment. URLs on different
// hosts score 0. Differing numeric segments count as a partial match but
// cap the result at NumericMismatchCap.
var PathSimilarity Similarity = SimilarityFunc(pathSimilarity)

func pathSimilarity(a, b string) float64 {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return 0
	}
	if !strings.EqualFold(ua.Host, ub.Host) {
		return 0
	}

	sa, sb := segments(ua.Path), segments(ub.Path)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	longest := max(len(sa), len(sb))

	var score float64
	idMismatch := false
	for i := 0; i < min(len(sa), len(sb)); i++ {
		if sa[i] == sb[i] {
			score++
			continue
		}
		if numeric(sa[i]) && numeric(sb[i]) {
			score += 0.3
			idMismatch = true
			continue
		}
		// Paths diverge; the rest cannot line up.
		break
	}
	score /= float64(longest)
	if idMismatch {
		score = min(score, NumericMismatchCap)
	}
	return score
}

func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func numeric(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
