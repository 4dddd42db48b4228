package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
	"github.com/sells-group/portfolio-cli/internal/resilience"
)

// MergerConfig tunes the blocking fuzzy merge pass.
type MergerConfig struct {
	Threshold        float64 // minimum similarity, 0-100
	PrefixLen        int     // blocking key length in characters
	BatchSize        int     // edges applied per transaction
	Workers          int     // buckets compared concurrently
	LargeBucketWarn  int     // bucket size that triggers a warning
	BatchesPerSecond float64 // 0 = unlimited
	Retry            resilience.RetryConfig
}

// DefaultMergerConfig returns the production merge settings.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		Threshold:       85,
		PrefixLen:       DefaultBlockPrefixLen,
		BatchSize:       1000,
		Workers:         4,
		LargeBucketWarn: 500,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// BlockStats summarizes the blocking step.
type BlockStats struct {
	Portfolios  int   `json:"portfolios"`
	Buckets     int   `json:"buckets"`
	MaxBucket   int   `json:"max_bucket"`
	Comparisons int64 `json:"comparisons"` // upper bound, n*(n-1)/2 per bucket
}

// MergeResult is the outcome of one merge pass.
type MergeResult struct {
	BlockStats
	Edges   []portfolio.MergeEdge `json:"-"`
	Batches int                   `json:"batches"`
	DryRun  bool                  `json:"dry_run"`
	portfolio.MergeBatchResult
}

// Merger collapses near-duplicate portfolios.
type Merger struct {
	store   portfolio.Store
	cfg     MergerConfig
	limiter *rate.Limiter
}

// NewMerger creates a Merger. Zero config fields take their defaults.
func NewMerger(store portfolio.Store, cfg MergerConfig) *Merger {
	def := DefaultMergerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.PrefixLen <= 0 {
		cfg.PrefixLen = def.PrefixLen
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LargeBucketWarn <= 0 {
		cfg.LargeBucketWarn = def.LargeBucketWarn
	}

	m := &Merger{store: store, cfg: cfg}
	if cfg.BatchesPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return m
}

// Run loads every portfolio, computes merge edges and, unless dryRun is set,
// applies them in batches.
func (m *Merger) Run(ctx context.Context, runID string, dryRun bool) (*MergeResult, error) {
	log := zap.L().With(zap.String("component", "resolve.merger"), zap.String("run_id", runID))

	ps, err := m.store.ListPortfolios(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load portfolios")
	}

	edges, stats, err := m.FindEdges(ctx, ps)
	if err != nil {
		return nil, err
	}
	log.Info("merge edges computed",
		zap.Int("portfolios", stats.Portfolios),
		zap.Int("buckets", stats.Buckets),
		zap.Int("max_bucket", stats.MaxBucket),
		zap.Int("edges", len(edges)),
	)

	res := &MergeResult{BlockStats: stats, Edges: edges, DryRun: dryRun}
	if dryRun || len(edges) == 0 {
		return res, nil
	}

	applied, batches, err := m.Apply(ctx, runID, edges)
	res.MergeBatchResult = applied
	res.Batches = batches
	if err != nil {
		return res, err
	}

	log.Info("merge pass applied",
		zap.Int("applied", applied.Applied),
		zap.Int("skipped", applied.Skipped),
		zap.Int64("contacts_repointed", applied.ContactsRepointed),
	)
	return res, nil
}

// FindEdges blocks ps and compares buckets concurrently. The returned edges
// are ordered by bucket key and then by scan order within the bucket.
func (m *Merger) FindEdges(ctx context.Context, ps []portfolio.Portfolio) ([]portfolio.MergeEdge, BlockStats, error) {
	log := zap.L().With(zap.String("component", "resolve.merger"))

	buckets := BuildBuckets(ps, m.cfg.PrefixLen)
	stats := BlockStats{Portfolios: len(ps), Buckets: len(buckets)}
	for _, b := range buckets {
		n := len(b.Members)
		if n > stats.MaxBucket {
			stats.MaxBucket = n
		}
		stats.Comparisons += int64(n) * int64(n-1) / 2
		if n > m.cfg.LargeBucketWarn {
			log.Warn("large blocking bucket",
				zap.String("key", b.Key),
				zap.Int("size", n),
			)
		}
	}

	results := make([][]portfolio.MergeEdge, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i, b := range buckets {
		if len(b.Members) < 2 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = CompareBucket(b, m.cfg.Threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, eris.Wrap(err, "resolve: compare buckets")
	}

	var edges []portfolio.MergeEdge
	for _, r := range results {
		edges = append(edges, r...)
	}
	if err := ValidateEdges(edges); err != nil {
		return nil, stats, err
	}
	return edges, stats, nil
}

// Apply writes edges in batches of BatchSize. Each batch is retried on
// transient errors. A ConcurrentModificationError or cancellation stops the
// pass; batches committed before it stay applied. It returns the accumulated
// result and the number of committed batches.
func (m *Merger) Apply(ctx context.Context, runID string, edges []portfolio.MergeEdge) (portfolio.MergeBatchResult, int, error) {
	log := zap.L().With(zap.String("component", "resolve.merger"), zap.String("run_id", runID))

	var total portfolio.MergeBatchResult
	if err := ValidateEdges(edges); err != nil {
		return total, 0, err
	}

	retry := m.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("resolve.merger", "apply_batch")
	}

	nBatches := (len(edges) + m.cfg.BatchSize - 1) / m.cfg.BatchSize
	for b := 0; b < nBatches; b++ {
		if err := m.wait(ctx); err != nil {
			return total, b, eris.Wrapf(err, "resolve: merge stopped before batch %d/%d", b+1, nBatches)
		}

		start := b * m.cfg.BatchSize
		end := min(start+m.cfg.BatchSize, len(edges))
		batch := edges[start:end]

		res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (portfolio.MergeBatchResult, error) {
			return m.store.ApplyMerges(ctx, runID, batch)
		})
		if err != nil {
			if portfolio.IsConcurrentModification(err) {
				log.Error("merge target disappeared, aborting remaining batches",
					zap.Int("batch", b+1), zap.Error(err))
			}
			return total, b, eris.Wrapf(err, "resolve: apply merge batch %d/%d", b+1, nBatches)
		}
		total.Add(res)

		log.Info("merge batch applied",
			zap.Int("batch", b+1),
			zap.Int("batches", nBatches),
			zap.Int("applied", res.Applied),
			zap.Int("skipped", res.Skipped),
		)
	}
	return total, nBatches, nil
}

// wait paces batches when a rate is configured and is the point where a
// cancelled context stops the pass.
func (m *Merger) wait(ctx context.Context) error {
	if m.limiter != nil {
		return m.limiter.Wait(ctx)
	}
	return ctx.Err()
}
