package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/config"
	"github.com/sells-group/portfolio-cli/internal/portfolio"
	"github.com/sells-group/portfolio-cli/internal/resilience"
	"github.com/sells-group/portfolio-cli/internal/resolve"
)

// openPool creates a pgxpool.Pool from cfg.Store and checks connectivity.
func openPool(ctx context.Context, sc config.StoreConfig) (*pgxpool.Pool, error) {
	if sc.DatabaseURL == "" {
		return nil, eris.New("store: no database_url configured (set store.database_url)")
	}

	poolCfg, err := pgxpool.ParseConfig(sc.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse database_url")
	}
	if sc.MaxConns > 0 {
		poolCfg.MaxConns = sc.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping database")
	}
	return pool, nil
}

// openStore opens the configured backend. The returned func releases the pool
// or database handle. SQLite schemas are created on open.
func openStore(ctx context.Context, sc config.StoreConfig) (portfolio.Store, func(), error) {
	log := zap.L().With(zap.String("component", "store"), zap.String("driver", sc.Driver))

	switch sc.Driver {
	case "postgres":
		pool, err := openPool(ctx, sc)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to database")
		return portfolio.NewPostgresStore(pool), pool.Close, nil
	case "sqlite":
		st, err := portfolio.NewSQLite(sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, nil, err
		}
		log.Info("opened sqlite database", zap.String("path", sc.SQLitePath))
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, eris.Errorf("store: unsupported driver %q", sc.Driver)
	}
}

// serviceOptions translates configuration into resolve.Options.
func serviceOptions(c *config.Config) (resolve.Options, error) {
	classifier, err := resolve.LoadClassifier(c.Resolve.ClassifierFile)
	if err != nil {
		return resolve.Options{}, err
	}

	r := c.Retry
	retry := resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)

	return resolve.Options{
		Roles:      c.Resolve.OwnerRoles,
		Classifier: classifier,
		Retry:      retry,
		LeaseTTL:   time.Duration(c.Resolve.LockTTLMinutes) * time.Minute,
		Merger: resolve.MergerConfig{
			Threshold:        c.Resolve.FuzzyThreshold,
			PrefixLen:        c.Resolve.BlockPrefixLen,
			BatchSize:        c.Resolve.MergeBatchSize,
			Workers:          c.Resolve.CompareWorkers,
			LargeBucketWarn:  c.Resolve.LargeBucketWarn,
			BatchesPerSecond: c.Resolve.BatchesPerSecond,
			Retry:            retry,
		},
	}, nil
}

// newService validates configuration and opens a resolution service.
func newService(ctx context.Context) (*resolve.Service, func(), error) {
	if err := cfg.Validate("resolve"); err != nil {
		return nil, nil, err
	}
	opts, err := serviceOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, closeFn, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return resolve.NewService(st, opts), closeFn, nil
}
