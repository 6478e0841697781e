package verify

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// NameSimilarity scores two personal names on a 0-100 scale. Several metrics
// are tried and the best score wins, so token reordering ("Abebe Kebede" vs
// "Kebede Abebe") and minor spelling drift both score high.
func NameSimilarity(a, b string) int {
	a = normalizeName(a)
	b = normalizeName(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	lev := metrics.NewLevenshtein()
	jw := metrics.NewJaroWinkler()

	best := strutil.Similarity(a, b, lev)
	if s := strutil.Similarity(a, b, jw); s > best {
		best = s
	}
	if s := strutil.Similarity(sortTokens(a), sortTokens(b), lev); s > best {
		best = s
	}
	return int(best*100 + 0.5)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
