package menu

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// resolveThreshold is the minimum Jaro-Winkler similarity for a fuzzy match.
const resolveThreshold = 0.80

// ResolveProduct maps a model-emitted product name onto the menu. Exact and
// substring matches win outright; otherwise the best Jaro-Winkler score above
// the threshold is taken, so transcription noise ("margarita" vs
// "Margherita") still resolves. Returns false when nothing is close enough.
func ResolveProduct(products []Product, name string) (Product, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Product{}, false
	}

	for _, p := range products {
		if strings.ToLower(p.Name) == needle {
			return p, true
		}
	}
	for _, p := range products {
		hay := strings.ToLower(p.Name)
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return p, true
		}
	}

	var best Product
	bestScore := 0.0
	for _, p := range products {
		score := matchr.JaroWinkler(needle, strings.ToLower(p.Name), false)
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	if bestScore >= resolveThreshold {
		return best, true
	}
	return Product{}, false
}
