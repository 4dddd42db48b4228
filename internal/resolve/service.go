package resolve

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
	"github.com/sells-group/portfolio-cli/internal/resilience"
)

// LeaseName is the lock row every mutating pass holds.
const LeaseName = "portfolio_resolution"

// Options configures a Service.
type Options struct {
	Roles      []string
	Classifier EntityClassifier
	Merger     MergerConfig
	Retry      resilience.RetryConfig
	LeaseTTL   time.Duration
}

// ResolutionResult is the outcome of a full resolution pass.
type ResolutionResult struct {
	RunID    string        `json:"run_id"`
	Factory  FactoryResult `json:"factory"`
	Linked   int64         `json:"linked"`
	Verify   *VerifyReport `json:"verify,omitempty"`
	Stats    int64         `json:"stats_updated"`
	RanStats bool          `json:"ran_stats"`
}

// StatsResult is the outcome of a standalone stats pass.
type StatsResult struct {
	RunID   string `json:"run_id"`
	Updated int64  `json:"updated"`
}

// Service runs resolution passes against a store. Each mutating pass holds
// an exclusive lease and is recorded in the run log.
type Service struct {
	store      portfolio.Store
	opts       Options
	factory    *Factory
	linker     *Linker
	merger     *Merger
	aggregator *Aggregator
}

// NewService wires the resolution components around store.
func NewService(store portfolio.Store, opts Options) *Service {
	if len(opts.Roles) == 0 {
		opts.Roles = portfolio.OwnerRoles()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 6 * time.Hour
	}
	if opts.Merger.Retry.MaxAttempts == 0 {
		opts.Merger.Retry = opts.Retry
	}
	return &Service{
		store:      store,
		opts:       opts,
		factory:    NewFactory(store, opts.Classifier, opts.Roles),
		linker:     NewLinker(store, opts.Roles),
		merger:     NewMerger(store, opts.Merger),
		aggregator: NewAggregator(store, opts.Retry),
	}
}

// RunResolution groups contacts, creates missing portfolios, links contacts
// and verifies the result. With withStats the rollups are refreshed too.
func (s *Service) RunResolution(ctx context.Context, withStats bool) (*ResolutionResult, error) {
	res := &ResolutionResult{}
	err := s.runPass(ctx, portfolio.RunResolve, func(ctx context.Context, runID string, log *zap.Logger) (map[string]any, error) {
		res.RunID = runID

		created, err := s.factory.Create(ctx)
		res.Factory = created
		if err != nil {
			return nil, err
		}

		if res.Linked, err = s.linker.Link(ctx); err != nil {
			return nil, err
		}

		if res.Verify, err = s.linker.Verify(ctx); err != nil {
			return nil, err
		}

		if withStats {
			if res.Stats, err = s.aggregator.Recompute(ctx); err != nil {
				return nil, err
			}
			res.RanStats = true
		}

		log.Info("resolution complete",
			zap.Int("groups", created.Groups),
			zap.Int64("created", created.Created),
			zap.Int64("linked", res.Linked),
			zap.Int64("unlinked", res.Verify.UnlinkedContacts),
		)
		return map[string]any{
			"groups":             created.Groups,
			"portfolios_created": created.Created,
			"contacts_linked":    res.Linked,
			"contacts_unlinked":  res.Verify.UnlinkedContacts,
			"stats_updated":      res.Stats,
		}, nil
	})
	return res, err
}

// RunFuzzyMerge runs the blocking fuzzy merge pass. In dry-run mode the edges
// are computed and returned without touching the store.
func (s *Service) RunFuzzyMerge(ctx context.Context, dryRun bool) (*MergeResult, error) {
	var res *MergeResult
	err := s.runPass(ctx, portfolio.RunFuzzyMerge, func(ctx context.Context, runID string, _ *zap.Logger) (map[string]any, error) {
		var err error
		res, err = s.merger.Run(ctx, runID, dryRun)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"dry_run":            dryRun,
			"portfolios":         res.Portfolios,
			"buckets":            res.Buckets,
			"max_bucket":         res.MaxBucket,
			"edges":              len(res.Edges),
			"batches":            res.Batches,
			"applied":            res.Applied,
			"skipped":            res.Skipped,
			"contacts_repointed": res.ContactsRepointed,
		}, nil
	})
	return res, err
}

// RecomputeStats refreshes every portfolio's rollups.
func (s *Service) RecomputeStats(ctx context.Context) (*StatsResult, error) {
	res := &StatsResult{}
	err := s.runPass(ctx, portfolio.RunStats, func(ctx context.Context, runID string, _ *zap.Logger) (map[string]any, error) {
		res.RunID = runID
		n, err := s.aggregator.Recompute(ctx)
		if err != nil {
			return nil, err
		}
		res.Updated = n
		return map[string]any{"portfolios_updated": n}, nil
	})
	return res, err
}

// Verify runs the integrity check without taking the lease.
func (s *Service) Verify(ctx context.Context) (*VerifyReport, error) {
	return s.linker.Verify(ctx)
}

type passFunc func(ctx context.Context, runID string, log *zap.Logger) (map[string]any, error)

// runPass takes the lease, records the run and releases the lease when fn
// returns. Bookkeeping after fn uses a context that ignores cancellation so
// an aborted pass is still marked failed.
func (s *Service) runPass(ctx context.Context, kind string, fn passFunc) error {
	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("component", "resolve.service"),
		zap.String("run_id", runID),
		zap.String("kind", kind),
	)

	ok, err := s.store.AcquireLease(ctx, LeaseName, runID, s.opts.LeaseTTL)
	if err != nil {
		return eris.Wrap(err, "resolve: acquire lease")
	}
	if !ok {
		return portfolio.ErrPassInProgress
	}

	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := s.store.ReleaseLease(bg, LeaseName, runID); err != nil {
			log.Warn("failed to release lease", zap.Error(err))
		}
	}()

	if err := s.store.StartRun(ctx, runID, kind); err != nil {
		return eris.Wrap(err, "resolve: start run")
	}
	log.Info("pass started")

	meta, runErr := fn(ctx, runID, log)
	if runErr != nil {
		log.Error("pass failed", zap.Error(runErr))
		if err := s.store.FailRun(bg, runID, runErr.Error()); err != nil {
			log.Warn("failed to record run failure", zap.Error(err))
		}
		return runErr
	}

	if err := s.store.CompleteRun(bg, runID, meta); err != nil {
		return eris.Wrap(err, "resolve: complete run")
	}
	return nil
}
