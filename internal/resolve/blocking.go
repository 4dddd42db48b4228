package resolve

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// DefaultBlockPrefixLen is the number of leading characters a blocking key uses.
const DefaultBlockPrefixLen = 4

// BlockKey returns the bucket key for a normalized name: its first prefixLen
// characters, case-folded. Shorter names use the whole folded name.
func BlockKey(normalizedName string, prefixLen int) string {
	if prefixLen <= 0 {
		prefixLen = DefaultBlockPrefixLen
	}
	r := []rune(normalizedName)
	if len(r) > prefixLen {
		r = r[:prefixLen]
	}
	return cases.Fold().String(string(r))
}

// Bucket is one blocking partition, sorted for scanning.
type Bucket struct {
	Key     string
	Members []portfolio.Portfolio
}

// BuildBuckets partitions portfolios by BlockKey. Portfolios with an empty
// normalized name are never compared and are left out. Buckets come back
// ordered by key, members ordered by normalized name then id.
func BuildBuckets(ps []portfolio.Portfolio, prefixLen int) []Bucket {
	byKey := make(map[string][]portfolio.Portfolio)
	for _, p := range ps {
		if strings.TrimSpace(p.NormalizedName) == "" {
			continue
		}
		k := BlockKey(p.NormalizedName, prefixLen)
		byKey[k] = append(byKey[k], p)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buckets := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		members := byKey[k]
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].NormalizedName != members[j].NormalizedName {
				return members[i].NormalizedName < members[j].NormalizedName
			}
			return members[i].ID < members[j].ID
		})
		buckets = append(buckets, Bucket{Key: k, Members: members})
	}
	return buckets
}

// CompareBucket scans a sorted bucket and returns its merge edges. The
// earliest unmerged member is always the target, and a member that has been
// merged is never used as a target, so no edge chains can form.
func CompareBucket(b Bucket, threshold float64) []portfolio.MergeEdge {
	if len(b.Members) < 2 {
		return nil
	}

	merged := make([]bool, len(b.Members))
	var edges []portfolio.MergeEdge
	for i, p1 := range b.Members {
		if merged[i] {
			continue
		}
		for j := i + 1; j < len(b.Members); j++ {
			if merged[j] {
				continue
			}
			p2 := b.Members[j]
			score := Similarity(p1.NormalizedName, p2.NormalizedName)
			if score >= threshold {
				edges = append(edges, portfolio.MergeEdge{
					SourceID:   p2.ID,
					TargetID:   p1.ID,
					SourceName: p2.PrimaryName,
					TargetName: p1.PrimaryName,
					Similarity: score,
				})
				merged[j] = true
			}
		}
	}
	return edges
}

// ValidateEdges checks that every source appears once, no id is both a
// source and a target, and no edge points at itself.
func ValidateEdges(edges []portfolio.MergeEdge) error {
	sources := make(map[int64]bool, len(edges))
	targets := make(map[int64]bool, len(edges))
	for _, e := range edges {
		if e.SourceID == e.TargetID {
			return eris.Errorf("resolve: merge edge %d -> %d points at itself", e.SourceID, e.TargetID)
		}
		if sources[e.SourceID] {
			return eris.Errorf("resolve: portfolio %d is the source of more than one merge edge", e.SourceID)
		}
		sources[e.SourceID] = true
		targets[e.TargetID] = true
	}
	for _, e := range edges {
		if targets[e.SourceID] {
			return eris.Errorf("resolve: portfolio %d is both a merge source and a merge target", e.SourceID)
		}
	}
	return nil
}
