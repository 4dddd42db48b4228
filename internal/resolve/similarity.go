package resolve

import (
	"github.com/agext/levenshtein"
)

// indelParams scores a substitution as a delete plus an insert, which turns
// Levenshtein distance into InDel distance.
var indelParams = levenshtein.NewParams().SubCost(2)

// Similarity returns the normalized InDel similarity of a and b on a 0-100
// scale: 100 * (1 - distance / (len(a) + len(b))), counted in runes. Two
// empty strings are identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	dist := levenshtein.Distance(a, b, indelParams)
	return 100 * (1 - float64(dist)/float64(total))
}
