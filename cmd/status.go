package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog, network size, recent runs and active alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hours, _ := cmd.Flags().GetInt("hours")
		asJSON, _ := cmd.Flags().GetBool("json")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackHours
		}

		st, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, hours)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"metrics": snap, "alerts": alerts})
		}
		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

// formatStatus writes the snapshot and any alerts to out.
func formatStatus(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Unclustered articles:\t%d\n", s.UnclusteredArticles)
	_, _ = fmt.Fprintf(w, "Open clusters:\t%d\n", s.OpenClusters)
	_, _ = fmt.Fprintf(w, "Unenriched clusters:\t%d\n", s.UnenrichedClusters)
	_, _ = fmt.Fprintf(w, "Entities:\t%d\n", s.Entities)
	_, _ = fmt.Fprintf(w, "Relationships:\t%d\n", s.Relationships)
	_, _ = fmt.Fprintf(w, "Runs (%dh):\t%d\n", s.LookbackHours, s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d (%.0f%%)\n", s.RunsFailed, s.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Dead letters:\t%d\n", s.DLQDepth)
	_ = w.Flush()

	if len(alerts) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window for run stats (default monitoring.lookback_hours)")
	statusCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}
