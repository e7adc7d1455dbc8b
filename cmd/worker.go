package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cli/internal/enrich"
	"github.com/sells-group/intel-cli/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host the Temporal worker for the scheduled cluster, enrich and network cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		start, _ := cmd.Flags().GetBool("start")

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := schedule.Dial(ctx, cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		acts := &schedule.Activities{
			Store:    env.Store,
			Passer:   env.Engine(),
			Enricher: env.Enricher,
			Analyzer: env.Analyzer,
			Pool:     enrich.PoolFromConfig(cfg.Enrich),
		}
		in := schedule.CycleInput{
			AnalyzeHours: cfg.Network.RecentHours,
			PendingLimit: cfg.Enrich.PendingLimit,
		}
		return schedule.Run(ctx, c, cfg.Temporal, acts, in, start)
	},
}

func init() {
	workerCmd.Flags().Bool("start", false, "start the cycle workflow if it is not already running")
	rootCmd.AddCommand(workerCmd)
}
