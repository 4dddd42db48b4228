package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "portfolio.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 85.0, cfg.Resolve.FuzzyThreshold, 0.001)
	assert.Equal(t, 4, cfg.Resolve.BlockPrefixLen)
	assert.Equal(t, 1000, cfg.Resolve.MergeBatchSize)
	assert.Equal(t, 4, cfg.Resolve.CompareWorkers)
	assert.Equal(t, 500, cfg.Resolve.LargeBucketWarn)
	assert.Zero(t, cfg.Resolve.BatchesPerSecond)
	assert.Contains(t, cfg.Resolve.OwnerRoles, "HeadOfficer")
	assert.Len(t, cfg.Resolve.OwnerRoles, 7)
	assert.Equal(t, 360, cfg.Resolve.LockTTLMinutes)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.InDelta(t, 0.25, cfg.Retry.JitterFraction, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/owners.db
log:
  level: debug
  format: console
resolve:
  fuzzy_threshold: 90
  owner_roles: [Owner, CorporateOwner]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/owners.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 90.0, cfg.Resolve.FuzzyThreshold, 0.001)
	assert.Equal(t, []string{"Owner", "CorporateOwner"}, cfg.Resolve.OwnerRoles)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Resolve.MergeBatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PORTFOLIO_STORE_DRIVER", "postgres")
	t.Setenv("PORTFOLIO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PORTFOLIO_RESOLVE_COMPARE_WORKERS", "8")
	t.Setenv("PORTFOLIO_STORE_DATABASE_URL", "postgres://localhost/owners")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Resolve.CompareWorkers)
	assert.Equal(t, "postgres://localhost/owners", cfg.Store.DatabaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Resolve = ResolveConfig{
		FuzzyThreshold: 85,
		BlockPrefixLen: 4,
		MergeBatchSize: 1000,
		CompareWorkers: 4,
		OwnerRoles:     []string{"Owner"},
		LockTTLMinutes: 360,
	}
	return cfg
}

func TestValidateStore_Postgres(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStore_SQLite(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	cfg.Store.SQLitePath = "portfolio.db"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.SQLitePath = ""
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.sqlite_path is required")
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateResolveBounds(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("resolve"))

	cfg.Resolve.FuzzyThreshold = 101
	err := cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzy_threshold must be in (0, 100]")

	cfg.Resolve.FuzzyThreshold = 100
	assert.NoError(t, cfg.Validate("resolve"))

	cfg = validDefaults()
	cfg.Resolve.CompareWorkers = 0
	cfg.Resolve.MergeBatchSize = 0
	err = cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "compare_workers must be between 1 and 64")
	assert.Contains(t, err.Error(), "merge_batch_size must be >= 1")

	cfg = validDefaults()
	cfg.Resolve.OwnerRoles = nil
	err = cfg.Validate("resolve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "owner_roles must not be empty")
}

func TestValidateResolveRejectsZeroThreshold(t *testing.T) {
	for _, th := range []float64{0, -5} {
		cfg := validDefaults()
		cfg.Resolve.FuzzyThreshold = th
		err := cfg.Validate("resolve")
		assert.Error(t, err, "threshold %v", th)
		assert.Contains(t, err.Error(), "fuzzy_threshold must be in (0, 100]")
	}
}

func TestValidateStoreModeSkipsResolveChecks(t *testing.T) {
	cfg := validDefaults()
	cfg.Resolve = ResolveConfig{}
	assert.NoError(t, cfg.Validate("store"))
}
