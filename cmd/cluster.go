package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/cluster"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Assign articles to story clusters",
}

var clusterPassCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run one clustering pass over unclustered articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		withEnrich, _ := cmd.Flags().GetBool("enrich")

		mode := "store"
		if withEnrich {
			mode = "ai"
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		var opts []cluster.Option
		if withEnrich {
			pool := env.Pool(ctx)
			opts = append(opts, cluster.WithEnqueuer(pool))
			defer func() {
				pool.Close()
				res := pool.Result()
				zap.L().Info("enrichment of new clusters finished",
					zap.Int("enriched", res.Enriched),
					zap.Int("failed", res.Failed),
				)
			}()
		}
		engine := env.Engine(opts...)

		var pass cluster.PassResult
		_, err = store.RecordRun(ctx, env.Store, model.RunKindClusterPass, func(ctx context.Context) (*model.RunResult, error) {
			var err error
			pass, err = engine.RunPass(ctx)
			return pass.RunResult(), err
		})
		if eris.Is(err, coord.ErrLockHeld) {
			fmt.Fprintln(os.Stdout, "another clustering pass is running, skipped")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "cluster pass")
		}

		fmt.Fprintf(os.Stdout, "created=%d updated=%d\n", pass.Created, pass.Updated)
		return nil
	},
}

var clusterRepairCmd = &cobra.Command{
	Use:   "repair <cluster-id>",
	Short: "Re-link similar unclustered articles into a cluster and refresh its analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ai")
		if err != nil {
			return err
		}
		defer env.Close()

		var rep cluster.RepairResult
		_, err = store.RecordRun(ctx, env.Store, model.RunKindRepair, func(ctx context.Context) (*model.RunResult, error) {
			var err error
			rep, err = env.Repairer.Repair(ctx, args[0])
			return rep.RunResult(), err
		})
		if err != nil {
			return eris.Wrapf(err, "repair cluster %s", args[0])
		}

		fmt.Fprintf(os.Stdout, "relinked=%d enriched=%t\n", rep.Relinked, rep.Enriched)
		return nil
	},
}

func init() {
	clusterPassCmd.Flags().Bool("enrich", false, "enrich newly created clusters before exiting")

	clusterCmd.AddCommand(clusterPassCmd)
	clusterCmd.AddCommand(clusterRepairCmd)
	rootCmd.AddCommand(clusterCmd)
}
