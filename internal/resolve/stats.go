package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
	"github.com/sells-group/portfolio-cli/internal/resilience"
)

// Aggregator recomputes portfolio rollups from the current linkage.
type Aggregator struct {
	store portfolio.Store
	retry resilience.RetryConfig
}

// NewAggregator creates an Aggregator.
func NewAggregator(store portfolio.Store, retry resilience.RetryConfig) *Aggregator {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("resolve.stats", "recompute")
	}
	return &Aggregator{store: store, retry: retry}
}

// Recompute overwrites every portfolio's building, unit and violation
// counts. The statement is a full recomputation, so it is retried as a whole.
func (a *Aggregator) Recompute(ctx context.Context) (int64, error) {
	n, err := resilience.DoVal(ctx, a.retry, a.store.RecomputeStats)
	if err != nil {
		return 0, eris.Wrap(err, "resolve: recompute stats")
	}
	zap.L().With(zap.String("component", "resolve.stats")).
		Info("recomputed portfolio stats", zap.Int64("portfolios", n))
	return n, nil
}
