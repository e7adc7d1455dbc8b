package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [cluster-id...]",
	Short: "Generate AI analysis for clusters",
	Long:  "Enriches the given clusters, or every cluster that has never been enriched when no IDs are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "ai")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := store.RecordRun(ctx, env.Store, model.RunKindEnrich, func(ctx context.Context) (*model.RunResult, error) {
			pool := env.Pool(ctx)
			if len(args) > 0 {
				for _, id := range args {
					pool.Submit(id)
				}
			} else if _, err := pool.EnrichPending(ctx, limit); err != nil {
				pool.Close()
				return pool.Result(), err
			}
			pool.Close()
			return pool.Result(), nil
		})
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		fmt.Fprintf(os.Stdout, "enriched=%d failed=%d\n", res.Enriched, res.Failed)
		return nil
	},
}

func init() {
	enrichCmd.Flags().Int("limit", 25, "max pending clusters to enrich when no IDs are given")
	rootCmd.AddCommand(enrichCmd)
}
