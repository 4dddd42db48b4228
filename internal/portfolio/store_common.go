package portfolio

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// rowScanner is the subset of pgx.Rows and *sql.Rows the shared scanners need.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanOrphans reads (name_hash, count) rows, keeping at most limit hashes
// while summing every count.
func scanOrphans(rows rowScanner, limit int) ([]string, int64, error) {
	var (
		sample []string
		total  int64
	)
	for rows.Next() {
		var (
			h string
			n int64
		)
		if err := rows.Scan(&h, &n); err != nil {
			return nil, 0, eris.Wrap(err, "portfolio: scan orphaned fingerprint")
		}
		if limit <= 0 || len(sample) < limit {
			sample = append(sample, h)
		}
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "portfolio: iterate orphaned fingerprints")
	}
	return sample, total, nil
}

func portfolioDests(p *Portfolio) []any {
	return []any{
		&p.ID, &p.PrimaryName, &p.NormalizedName, &p.NameHash,
		&p.PrimaryAddress, &p.NormalizedAddress, &p.IsLLC,
		&p.TotalBuildings, &p.TotalUnits, &p.TotalViolations,
		&p.Violations.A, &p.Violations.B, &p.Violations.C,
		&p.CreatedAt, &p.UpdatedAt,
	}
}

func targetIDs(edges []MergeEdge) []int64 {
	seen := make(map[int64]struct{}, len(edges))
	ids := make([]int64, 0, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.TargetID]; ok {
			continue
		}
		seen[e.TargetID] = struct{}{}
		ids = append(ids, e.TargetID)
	}
	return ids
}

// checkTargets fails on the first edge whose target was not found.
func checkTargets(edges []MergeEdge, present map[int64]bool) error {
	for _, e := range edges {
		if !present[e.TargetID] {
			return &ConcurrentModificationError{SourceID: e.SourceID, TargetID: e.TargetID}
		}
	}
	return nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, eris.Wrap(err, "portfolio: marshal run metadata")
	}
	return b, nil
}
