package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

// maxAnalyzeHours caps --hours at one week.
const maxAnalyzeHours = 168

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Extract entities and relationships from articles",
}

var networkAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one article, one cluster, or recent articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		articleID, _ := cmd.Flags().GetString("article")
		clusterID, _ := cmd.Flags().GetString("cluster")
		hours, _ := cmd.Flags().GetInt("hours")

		if articleID == "" && clusterID == "" && hours <= 0 {
			return eris.New("must provide --article, --cluster, or --hours")
		}
		hours = min(hours, maxAnalyzeHours)

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if articleID != "" {
			res, err := env.Analyzer.AnalyzeArticle(ctx, articleID)
			if err != nil {
				return eris.Wrapf(err, "analyze article %s", articleID)
			}
			fmt.Fprintf(os.Stdout, "entities=%d relationships=%d\n", res.EntitiesStored, res.RelationshipsDetected)
			return nil
		}

		res, err := store.RecordRun(ctx, env.Store, model.RunKindNetwork, func(ctx context.Context) (*model.RunResult, error) {
			if clusterID != "" {
				return env.Analyzer.AnalyzeCluster(ctx, clusterID)
			}
			return env.Analyzer.AnalyzeRecent(ctx, hours)
		})
		if err != nil {
			return eris.Wrap(err, "network analyze")
		}

		fmt.Fprintf(os.Stdout, "articles=%d entities=%d relationships=%d\n",
			res.ArticlesAnalyzed, res.EntitiesStored, res.RelationshipsDetected)
		return nil
	},
}

var networkGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the entity graph as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entityIDs, _ := cmd.Flags().GetStringSlice("entity")
		types, _ := cmd.Flags().GetStringSlice("type")
		var minStrength *float64
		if cmd.Flags().Changed("min-strength") {
			v, _ := cmd.Flags().GetFloat64("min-strength")
			minStrength = &v
		}
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := graphFilter(entityIDs, types, minStrength, limit)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		g, err := env.Analyzer.Graph(ctx, filter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	},
}

// graphFilter validates the graph flags.
// graphFilter validates CLI flags. A nil minStrength leaves the configured
// network.min_strength in effect.
func graphFilter(entityIDs, types []string, minStrength *float64, limit int) (model.GraphFilter, error) {
	filter := model.GraphFilter{EntityIDs: entityIDs, MinStrength: minStrength, Limit: limit}
	if minStrength != nil && (*minStrength < 0 || *minStrength > 1) {
		return filter, eris.New("--min-strength must be between 0 and 1")
	}
	if limit < 0 {
		return filter, eris.New("--limit must not be negative")
	}
	for _, t := range types {
		rt := model.RelationshipType(t)
		if !rt.Valid() {
			return filter, eris.Errorf("unknown relationship type %q", t)
		}
		filter.RelationshipTypes = append(filter.RelationshipTypes, rt)
	}
	return filter, nil
}

func init() {
	networkAnalyzeCmd.Flags().String("article", "", "article ID to analyze")
	networkAnalyzeCmd.Flags().String("cluster", "", "cluster ID whose articles to analyze")
	networkAnalyzeCmd.Flags().Int("hours", 0, "analyze articles published in the last N hours (max 168)")

	networkGraphCmd.Flags().StringSlice("entity", nil, "restrict to relationships touching these entity IDs")
	networkGraphCmd.Flags().StringSlice("type", nil, "restrict to these relationship types")
	networkGraphCmd.Flags().Float64("min-strength", 0.3, "minimum relationship strength (defaults to network.min_strength)")
	networkGraphCmd.Flags().Int("limit", 100, "max relationships")

	networkCmd.AddCommand(networkAnalyzeCmd)
	networkCmd.AddCommand(networkGraphCmd)
	rootCmd.AddCommand(networkCmd)
}
