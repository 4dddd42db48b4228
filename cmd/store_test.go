package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-cli/internal/config"
	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		},
		Resolve: config.ResolveConfig{
			FuzzyThreshold:  85,
			BlockPrefixLen:  4,
			MergeBatchSize:  100,
			CompareWorkers:  2,
			LargeBucketWarn: 500,
			OwnerRoles:      portfolio.OwnerRoles(),
			LockTTLMinutes:  60,
		},
		Retry: config.RetryConfig{
			MaxAttempts:      2,
			InitialBackoffMs: 1,
			MaxBackoffMs:     1,
			Multiplier:       1,
		},
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	c := sqliteConfig(t)

	st, closeFn, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer closeFn()

	n, err := st.CountPortfolios(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	_, _, err := openStore(context.Background(), config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpenStore_PostgresNoDSN(t *testing.T) {
	_, _, err := openStore(context.Background(), config.StoreConfig{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database_url configured")
}

func TestOpenPool_BadDSN(t *testing.T) {
	_, err := openPool(context.Background(), config.StoreConfig{DatabaseURL: "://not a url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database_url")
}

func TestServiceOptions(t *testing.T) {
	c := sqliteConfig(t)
	c.Resolve.BatchesPerSecond = 2

	opts, err := serviceOptions(c)
	require.NoError(t, err)
	assert.Equal(t, portfolio.OwnerRoles(), opts.Roles)
	assert.Equal(t, time.Hour, opts.LeaseTTL)
	assert.Equal(t, 85.0, opts.Merger.Threshold)
	assert.Equal(t, 100, opts.Merger.BatchSize)
	assert.Equal(t, 2, opts.Merger.Workers)
	assert.Equal(t, 2.0, opts.Merger.BatchesPerSecond)
	assert.Equal(t, 2, opts.Retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, opts.Retry.InitialBackoff)
	assert.Equal(t, opts.Retry.MaxAttempts, opts.Merger.Retry.MaxAttempts)
	require.NotNil(t, opts.Classifier)
	assert.True(t, opts.Classifier.IsEntity("ACME LLC"))
}

func TestServiceOptions_ClassifierFile(t *testing.T) {
	c := sqliteConfig(t)
	path := filepath.Join(t.TempDir(), "classifier.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entity_indicators: [TRUST]\n"), 0o644))
	c.Resolve.ClassifierFile = path

	opts, err := serviceOptions(c)
	require.NoError(t, err)
	assert.True(t, opts.Classifier.IsEntity("SMITH FAMILY TRUST"))
	assert.False(t, opts.Classifier.IsEntity("ACME LLC"))

	c.Resolve.ClassifierFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = serviceOptions(c)
	require.Error(t, err)
}

func TestNewService_InvalidConfig(t *testing.T) {
	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	cfg = sqliteConfig(t)
	cfg.Resolve.MergeBatchSize = 0

	_, _, err := newService(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge_batch_size")
}
