package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/transfer"
)

var importCmd = &cobra.Command{
	Use:   "import <articles.json|articles.yaml>",
	Short: "Load articles from a JSON or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := transfer.ImportArticles(ctx, st, args[0])
		if err != nil {
			return eris.Wrapf(err, "import %s", args[0])
		}
		zap.L().Info("articles imported", zap.String("file", args[0]), zap.Int64("count", n))
		fmt.Fprintf(os.Stdout, "imported=%d\n", n)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Write clusters and relationships to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := transfer.ExportOptions{}
		opts.MaxClusters, _ = cmd.Flags().GetInt("max-clusters")
		opts.MaxRelationships, _ = cmd.Flags().GetInt("max-relationships")
		opts.MinStrength, _ = cmd.Flags().GetFloat64("min-strength")

		st, err := initStoreOnly(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := transfer.ExportXLSX(ctx, st, args[0], opts)
		if err != nil {
			return eris.Wrapf(err, "export %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "clusters=%d relationships=%d\n", counts.Clusters, counts.Relationships)
		return nil
	},
}

func init() {
	exportCmd.Flags().Int("max-clusters", 1000, "max clusters to export")
	exportCmd.Flags().Int("max-relationships", 1000, "max relationships to export")
	exportCmd.Flags().Float64("min-strength", 0, "minimum relationship strength")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
