package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// mockStore implements portfolio.Store for testing.
type mockStore struct {
	mu sync.Mutex

	variants    []portfolio.ContactVariant
	variantsErr error
	existing    map[string]struct{}
	inserted    []portfolio.Portfolio
	insertErr   error

	linked      int64
	linkErr     error
	orphans     []string
	orphanCount int64
	unlinked    int64

	portfolios []portfolio.Portfolio

	applyCalls [][]portfolio.MergeEdge
	applyErrs  []error // consumed one per ApplyMerges call

	statsN     int64
	statsErrs  []error
	statsCalls int

	leaseHolder string
	releases    []string

	startedRuns   []string
	completedRuns map[string]map[string]any
	failedRuns    map[string]string
}

var _ portfolio.Store = (*mockStore)(nil)

func (m *mockStore) ContactVariants(_ context.Context, _ []string) ([]portfolio.ContactVariant, error) {
	return m.variants, m.variantsErr
}

func (m *mockStore) ExistingFingerprints(_ context.Context) (map[string]struct{}, error) {
	if m.existing == nil {
		return map[string]struct{}{}, nil
	}
	return m.existing, nil
}

func (m *mockStore) InsertPortfolios(_ context.Context, ps []portfolio.Portfolio) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.inserted = append(m.inserted, ps...)
	return int64(len(ps)), nil
}

func (m *mockStore) LinkContacts(_ context.Context, _ []string) (int64, error) {
	return m.linked, m.linkErr
}

func (m *mockStore) OrphanedFingerprints(_ context.Context, _ []string, limit int) ([]string, int64, error) {
	sample := m.orphans
	if limit > 0 && len(sample) > limit {
		sample = sample[:limit]
	}
	return sample, m.orphanCount, nil
}

func (m *mockStore) UnlinkedContacts(_ context.Context, _ []string) (int64, error) {
	return m.unlinked, nil
}

func (m *mockStore) ListPortfolios(_ context.Context) ([]portfolio.Portfolio, error) {
	return m.portfolios, nil
}

func (m *mockStore) GetPortfolio(_ context.Context, id int64) (*portfolio.Portfolio, error) {
	for _, p := range m.portfolios {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *mockStore) CountPortfolios(_ context.Context) (int64, error) {
	return int64(len(m.portfolios)), nil
}

func (m *mockStore) ApplyMerges(_ context.Context, _ string, edges []portfolio.MergeEdge) (portfolio.MergeBatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls = append(m.applyCalls, edges)
	if len(m.applyErrs) > 0 {
		err := m.applyErrs[0]
		m.applyErrs = m.applyErrs[1:]
		if err != nil {
			return portfolio.MergeBatchResult{}, err
		}
	}
	return portfolio.MergeBatchResult{Applied: len(edges), ContactsRepointed: int64(len(edges))}, nil
}

func (m *mockStore) RecomputeStats(_ context.Context) (int64, error) {
	m.statsCalls++
	if len(m.statsErrs) > 0 {
		err := m.statsErrs[0]
		m.statsErrs = m.statsErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return m.statsN, nil
}

func (m *mockStore) AcquireLease(_ context.Context, _ string, holder string, _ time.Duration) (bool, error) {
	if m.leaseHolder != "" && m.leaseHolder != holder {
		return false, nil
	}
	m.leaseHolder = holder
	return true, nil
}

func (m *mockStore) ReleaseLease(_ context.Context, _ string, holder string) error {
	if m.leaseHolder == holder {
		m.leaseHolder = ""
	}
	m.releases = append(m.releases, holder)
	return nil
}

func (m *mockStore) StartRun(_ context.Context, id, _ string) error {
	m.startedRuns = append(m.startedRuns, id)
	return nil
}

func (m *mockStore) CompleteRun(_ context.Context, id string, metadata map[string]any) error {
	if m.completedRuns == nil {
		m.completedRuns = make(map[string]map[string]any)
	}
	m.completedRuns[id] = metadata
	return nil
}

func (m *mockStore) FailRun(_ context.Context, id string, errMsg string) error {
	if m.failedRuns == nil {
		m.failedRuns = make(map[string]string)
	}
	m.failedRuns[id] = errMsg
	return nil
}

func (m *mockStore) ListRuns(_ context.Context, _ int) ([]portfolio.Run, error) {
	return nil, nil
}

func (m *mockStore) Close() error { return nil }
