package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-cli/internal/portfolio"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Owner portfolio resolution passes",
	Long:  "Commands that build, merge, verify and summarize owner portfolios.",
}

// -- resolve run --

var resolveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Group contacts into portfolios and link them",
	Long:  "Creates a portfolio for every owner fingerprint not yet covered, links unlinked owner contacts and verifies the result.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		withStats, _ := cmd.Flags().GetBool("stats")
		res, err := svc.RunResolution(ctx, withStats)
		if err != nil {
			return eris.Wrap(err, "resolve run")
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- resolve fuzzy --

var resolveFuzzyCmd = &cobra.Command{
	Use:   "fuzzy",
	Short: "Merge near-duplicate portfolios",
	Long:  "Blocks portfolios by name prefix, compares names within each block and folds near-duplicates into the earliest match.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		res, err := svc.RunFuzzyMerge(ctx, dryRun)
		if err != nil {
			return eris.Wrap(err, "resolve fuzzy")
		}

		if dryRun {
			formatMergeEdges(os.Stdout, res.Edges)
			return nil
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- resolve stats --

var resolveStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Recompute portfolio rollups",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.RecomputeStats(ctx)
		if err != nil {
			return eris.Wrap(err, "resolve stats")
		}
		return writeJSON(os.Stdout, res)
	},
}

// -- resolve verify --

var resolveVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check contact to portfolio integrity",
	Long:  "Reports owner contacts whose fingerprint has no portfolio and owner contacts still unlinked. Exits non-zero when orphans exist.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, closeFn, err := newService(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := svc.Verify(ctx)
		if report != nil {
			if werr := writeJSON(os.Stdout, report); werr != nil {
				return werr
			}
		}
		if err != nil {
			return eris.Wrap(err, "resolve verify")
		}
		if report.UnlinkedContacts > 0 {
			zap.L().Warn("owner contacts remain unlinked, run 'resolve run' to link them",
				zap.Int64("unlinked", report.UnlinkedContacts))
		}
		return nil
	},
}

// -- resolve status --

var resolveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show resolution run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, closeFn, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer closeFn()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "resolve status")
		}
		n, err := st.CountPortfolios(ctx)
		if err != nil {
			return eris.Wrap(err, "resolve status")
		}

		_, _ = fmt.Fprintf(os.Stdout, "Portfolios: %d\n\n", n)
		if len(runs) == 0 {
			zap.L().Info("no resolution runs found, run 'resolve run' to start")
			return nil
		}

		formatRuns(os.Stdout, runs)
		return nil
	},
}

// -- resolve show --

var resolveShowCmd = &cobra.Command{
	Use:   "show <portfolio-id>",
	Short: "Show one portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "resolve show: invalid portfolio id %q", args[0])
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, closeFn, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer closeFn()

		p, err := st.GetPortfolio(ctx, id)
		if err != nil {
			return eris.Wrap(err, "resolve show")
		}
		if p == nil {
			return eris.Errorf("resolve show: portfolio %d not found", id)
		}
		return writeJSON(os.Stdout, p)
	},
}

func init() {
	resolveRunCmd.Flags().Bool("stats", false, "recompute portfolio rollups after linking")
	resolveFuzzyCmd.Flags().Bool("dry-run", false, "print merge edges without applying them")
	resolveStatusCmd.Flags().Int("limit", 20, "number of runs to show")

	resolveCmd.AddCommand(resolveRunCmd, resolveFuzzyCmd, resolveStatsCmd, resolveVerifyCmd, resolveStatusCmd, resolveShowCmd)
	rootCmd.AddCommand(resolveCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatRuns writes a tabular representation of resolution runs to out.
func formatRuns(out io.Writer, runs []portfolio.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.Kind,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatMergeEdges writes the edges a dry-run merge would apply.
func formatMergeEdges(out io.Writer, edges []portfolio.MergeEdge) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tTARGET\tSCORE\tSOURCE NAME\tTARGET NAME")
	_, _ = fmt.Fprintln(w, "------\t------\t-----\t-----------\t-----------")
	for _, e := range edges {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%.1f\t%s\t%s\n",
			e.SourceID, e.TargetID, e.Similarity,
			truncate(e.SourceName, 40), truncate(e.TargetName, 40))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d merge edges (dry run, nothing applied)\n", len(edges))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
