package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/store"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and re-drive failed enrichments and analyses",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter, err := dlqFilter(cmd)
		if err != nil {
			return err
		}

		st, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list dlq")
		}
		if len(entries) == 0 {
			fmt.Println("No dead letter entries.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-drive dead letter entries whose retry time has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter, err := dlqFilter(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		filter.DueOnly = !all

		env, err := initEnv(ctx, "ai")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListDLQ(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list dlq")
		}

		r := &redriver{
			store: env.Store,
			handlers: map[resilience.WorkKind]func(context.Context, string) error{
				resilience.WorkEnrichCluster: env.Enricher.Enrich,
				resilience.WorkAnalyzeArticle: func(ctx context.Context, id string) error {
					_, err := env.Analyzer.AnalyzeArticle(ctx, id)
					return err
				},
			},
			now: time.Now,
		}
		res := r.Retry(ctx, entries)
		fmt.Fprintf(os.Stdout, "resolved=%d failed=%d skipped=%d\n", res.Resolved, res.Failed, res.Skipped)
		return nil
	},
}

// redriveResult counts the outcome of a retry sweep.
type redriveResult struct {
	Resolved int
	Failed   int
	Skipped  int
}

// redriver replays dead letter entries through the handler for their kind.
type redriver struct {
	store    store.Store
	handlers map[resilience.WorkKind]func(context.Context, string) error
	now      func() time.Time
}

// Retry re-runs each entry. Success removes it; failure bumps its retry
// count and pushes NextRetryAt out. Exhausted entries and unknown kinds are
// skipped.
func (r *redriver) Retry(ctx context.Context, entries []resilience.DLQEntry) redriveResult {
	var res redriveResult
	for i := range entries {
		e := &entries[i]
		if ctx.Err() != nil {
			break
		}
		log := zap.L().With(zap.String("kind", string(e.Kind)), zap.String("subject_id", e.SubjectID))

		handle, ok := r.handlers[e.Kind]
		if !ok || !e.CanRetry() {
			log.Debug("dlq: skipping entry", zap.Int("retry_count", e.RetryCount), zap.Bool("known_kind", ok))
			res.Skipped++
			continue
		}

		if err := handle(ctx, e.SubjectID); err != nil {
			res.Failed++
			next := r.now().Add(resilience.RetryDelay(e.RetryCount + 1))
			if uerr := r.store.IncrementDLQRetry(ctx, e.ID, next, err.Error()); uerr != nil {
				log.Warn("dlq: record retry failed", zap.Error(uerr))
			}
			log.Warn("dlq: retry failed", zap.Error(err), zap.Time("next_retry_at", next))
			continue
		}

		if err := r.store.RemoveDLQ(ctx, e.Kind, e.SubjectID); err != nil {
			log.Warn("dlq: remove entry failed", zap.Error(err))
		}
		res.Resolved++
		log.Info("dlq: entry resolved")
	}
	return res
}

func dlqFilter(cmd *cobra.Command) (resilience.DLQFilter, error) {
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	filter := resilience.DLQFilter{Kind: resilience.WorkKind(kind), Limit: limit}
	switch filter.Kind {
	case "", resilience.WorkEnrichCluster, resilience.WorkAnalyzeArticle:
		return filter, nil
	default:
		return filter, eris.Errorf("unknown kind %q (want %s or %s)", kind, resilience.WorkEnrichCluster, resilience.WorkAnalyzeArticle)
	}
}

// formatDLQList writes a tabular list of entries to out.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tSUBJECT\tTYPE\tRETRIES\tNEXT_RETRY\tERROR")
	_, _ = fmt.Fprintln(w, "----\t-------\t----\t-------\t----------\t-----")
	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.Kind,
			truncateID(e.SubjectID),
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			e.NextRetryAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqRetryCmd} {
		c.Flags().String("kind", "", "filter by kind (enrich_cluster, analyze_article)")
		c.Flags().Int("limit", 50, "max entries")
	}
	dlqRetryCmd.Flags().Bool("all", false, "include entries whose retry time has not passed")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
