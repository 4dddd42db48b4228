// Package resolve collapses owner contacts into portfolios: exact fingerprint
// grouping, portfolio creation, contact linkage, blocking fuzzy merge and the
// rollup recomputation that keeps portfolio stats in step with the linkage.
package resolve

import (
	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// Group holds every variant observed under one fingerprint, in the order the
// store returned them.
type Group struct {
	Fingerprint string
	Variants    []portfolio.ContactVariant
}

// GroupByFingerprint partitions variants by exact fingerprint. Groups keep the
// order in which their fingerprint was first seen and variants keep their
// input order, so the result is deterministic for a deterministic input.
// Variants without a fingerprint are dropped.
func GroupByFingerprint(variants []portfolio.ContactVariant) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, v := range variants {
		if v.NameHash == "" {
			continue
		}
		i, ok := index[v.NameHash]
		if !ok {
			i = len(groups)
			index[v.NameHash] = i
			groups = append(groups, Group{Fingerprint: v.NameHash})
		}
		groups[i].Variants = append(groups[i].Variants, v)
	}
	return groups
}

// Primary returns the variant cited by the most contacts. Ties go to the
// variant that appears first.
func (g Group) Primary() portfolio.ContactVariant {
	var best portfolio.ContactVariant
	for i, v := range g.Variants {
		if i == 0 || v.ContactCount > best.ContactCount {
			best = v
		}
	}
	return best
}
