package main

import (
	"bytes"
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/portfolio-cli/internal/config"
	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

// runCmd executes cmd's RunE with c installed as the global config, seeding
// c's SQLite database with contacts first.
func runCmd(t *testing.T, c *config.Config, cmd *cobra.Command, args []string, contacts ...portfolio.ContactRecord) error {
	t.Helper()
	require.Equal(t, "sqlite", c.Store.Driver)

	oldCfg := cfg
	defer func() { cfg = oldCfg }()
	cfg = c

	if len(contacts) > 0 {
		st, err := portfolio.NewSQLite(cfg.Store.SQLitePath)
		require.NoError(t, err)
		require.NoError(t, st.Migrate(context.Background()))
		require.NoError(t, st.InsertContacts(context.Background(), contacts))
		require.NoError(t, st.Close())
	}

	cmd.SetContext(context.Background())
	defer cmd.SetContext(nil)
	return cmd.RunE(cmd, args)
}

func ownerContact(regID int64, name, hash string) portfolio.ContactRecord {
	return portfolio.ContactRecord{
		RegistrationID: regID,
		ContactType:    portfolio.RoleOwner,
		FullName:       name,
		NormalizedName: name,
		NameHash:       hash,
	}
}

func TestResolveCommands_SQLite(t *testing.T) {
	c := sqliteConfig(t)

	require.NoError(t, runCmd(t, c, resolveRunCmd, nil,
		ownerContact(1, "smith realty", "h1"),
		ownerContact(2, "smith realty co", "h2"),
	))
	require.NoError(t, resolveFuzzyCmd.Flags().Set("dry-run", "true"))
	defer resolveFuzzyCmd.Flags().Set("dry-run", "false") //nolint:errcheck
	require.NoError(t, runCmd(t, c, resolveFuzzyCmd, nil))
	require.NoError(t, runCmd(t, c, resolveStatsCmd, nil))
	require.NoError(t, runCmd(t, c, resolveVerifyCmd, nil))
	require.NoError(t, runCmd(t, c, resolveStatusCmd, nil))
	require.NoError(t, runCmd(t, c, resolveShowCmd, []string{"1"}))

	st, err := portfolio.NewSQLite(c.Store.SQLitePath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	n, err := st.CountPortfolios(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestResolveShowCmd_Errors(t *testing.T) {
	c := sqliteConfig(t)

	err := runCmd(t, c, resolveShowCmd, []string{"abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid portfolio id")

	err = runCmd(t, c, resolveShowCmd, []string{"99"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMigrateCmd_SQLite(t *testing.T) {
	c := sqliteConfig(t)
	require.NoError(t, runCmd(t, c, migrateCmd, nil))

	st, err := portfolio.NewSQLite(c.Store.SQLitePath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	n, err := st.CountPortfolios(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunCmd_RestoresGlobalConfig(t *testing.T) {
	oldCfg := cfg
	defer func() { cfg = oldCfg }()
	sentinel := sqliteConfig(t)
	cfg = sentinel

	require.NoError(t, runCmd(t, sqliteConfig(t), migrateCmd, nil))
	assert.Same(t, sentinel, cfg)
}

func TestMigrateCmd_PostgresNoDSN(t *testing.T) {
	oldCfg := cfg
	defer func() { cfg = oldCfg }()
	cfg = sqliteConfig(t)
	cfg.Store.Driver = "postgres"

	migrateCmd.SetContext(context.Background())
	defer migrateCmd.SetContext(nil)

	err := migrateCmd.RunE(migrateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestFormatRuns(t *testing.T) {
	started := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	longErr := "this is a very long error message that should be truncated when it exceeds the sixty character limit"

	var buf bytes.Buffer
	formatRuns(&buf, []portfolio.Run{
		{ID: "0b6f3a52-6d1e-4c1b-9a55-0f3e1f2d8c11", Kind: portfolio.RunResolve, Status: portfolio.RunStatusComplete, StartedAt: started, CompletedAt: &completed},
		{ID: "short", Kind: portfolio.RunFuzzyMerge, Status: portfolio.RunStatusFailed, StartedAt: started, Error: longErr},
	})

	output := buf.String()
	assert.Contains(t, output, "KIND")
	assert.Contains(t, output, "0b6f3a52")
	assert.NotContains(t, output, "0b6f3a52-6d1e")
	assert.Contains(t, output, "2025-01-15 10:30")
	assert.Contains(t, output, "5m0s")
	assert.Contains(t, output, "fuzzy_merge")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, longErr)
}

func TestFormatMergeEdges(t *testing.T) {
	var buf bytes.Buffer
	formatMergeEdges(&buf, []portfolio.MergeEdge{
		{SourceID: 2, TargetID: 1, SourceName: "SMITH REALTY CO", TargetName: "SMITH REALTY", Similarity: 88.888},
	})

	output := buf.String()
	assert.Contains(t, output, "SMITH REALTY CO")
	assert.Contains(t, output, "88.9")
	assert.Contains(t, output, "1 merge edges")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "", truncate("", 5))
}

func TestTruncate_MultiByteNames(t *testing.T) {
	name := "ÉCOLE CAFÉ RÉALTY ASSOCIÉS"
	got := truncate(name, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ÉCOLE C...", got)
	assert.Equal(t, 10, utf8.RuneCountInString(got))

	assert.Equal(t, "CAFÉ", truncate("CAFÉ", 4))
}
