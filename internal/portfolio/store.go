package portfolio

import (
	"context"
	"time"
)

// Store defines persistence operations for contacts, portfolios and runs.
// Implementations must make every mutating operation safe to repeat.
type Store interface {
	// Grouping and creation
	ContactVariants(ctx context.Context, roles []string) ([]ContactVariant, error)
	ExistingFingerprints(ctx context.Context) (map[string]struct{}, error)
	InsertPortfolios(ctx context.Context, ps []Portfolio) (int64, error)

	// Linkage
	LinkContacts(ctx context.Context, roles []string) (int64, error)
	OrphanedFingerprints(ctx context.Context, roles []string, limit int) ([]string, int64, error)
	UnlinkedContacts(ctx context.Context, roles []string) (int64, error)

	// Portfolios
	ListPortfolios(ctx context.Context) ([]Portfolio, error)
	GetPortfolio(ctx context.Context, id int64) (*Portfolio, error)
	CountPortfolios(ctx context.Context) (int64, error)

	// Merging and stats
	ApplyMerges(ctx context.Context, runID string, edges []MergeEdge) (MergeBatchResult, error)
	RecomputeStats(ctx context.Context) (int64, error)

	// Exclusive lease
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error

	// Run log
	StartRun(ctx context.Context, id, kind string) error
	CompleteRun(ctx context.Context, id string, metadata map[string]any) error
	FailRun(ctx context.Context, id string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}
