// Package schedule drives the clustering, enrichment and network cycle from
// a long-running Temporal workflow.
package schedule

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Registered names.
const (
	WorkflowName           = "intel.cycle"
	ActivityClusterPass    = "intel.cluster_pass"
	ActivityEnrichClusters = "intel.enrich_clusters"
	ActivityAnalyzeRecent  = "intel.analyze_recent"
)

const (
	defaultInterval     = 15 * time.Minute
	defaultCyclesPerRun = 96
	defaultAnalyzeHours = 24
	historyLimit        = 10000
)

// CycleInput configures the workflow. It is carried across continue-as-new.
type CycleInput struct {
	Interval     time.Duration `json:"interval"`
	CyclesPerRun int           `json:"cycles_per_run"`
	AnalyzeHours int           `json:"analyze_hours"`
	PendingLimit int           `json:"pending_limit"`
	// Completed counts cycles finished by earlier runs.
	Completed int `json:"completed"`
}

func (in CycleInput) withDefaults() CycleInput {
	if in.Interval <= 0 {
		in.Interval = defaultInterval
	}
	if in.CyclesPerRun <= 0 {
		in.CyclesPerRun = defaultCyclesPerRun
	}
	if in.AnalyzeHours <= 0 {
		in.AnalyzeHours = defaultAnalyzeHours
	}
	return in
}

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    3,
		},
	}
}

// CycleWorkflow runs a cluster pass, enriches new and pending clusters, and
// analyzes recent articles, then sleeps for Interval. After CyclesPerRun
// cycles, or when history grows large, it continues as new.
func CycleWorkflow(ctx workflow.Context, in CycleInput) error {
	in = in.withDefaults()
	log := workflow.GetLogger(ctx)

	passCtx := workflow.WithActivityOptions(ctx, activityOptions(10*time.Minute))
	enrichCtx := workflow.WithActivityOptions(ctx, activityOptions(30*time.Minute))
	analyzeCtx := workflow.WithActivityOptions(ctx, activityOptions(30*time.Minute))

	for cycle := 1; ; cycle++ {
		var pass PassOutput
		if err := workflow.ExecuteActivity(passCtx, ActivityClusterPass).Get(ctx, &pass); err != nil {
			log.Error("cluster pass failed", "error", err)
		}

		var enriched EnrichOutput
		if err := workflow.ExecuteActivity(enrichCtx, ActivityEnrichClusters, EnrichInput{
			ClusterIDs:   pass.NewClusterIDs,
			PendingLimit: in.PendingLimit,
		}).Get(ctx, &enriched); err != nil {
			log.Error("enrichment failed", "error", err)
		}

		var analyzed AnalyzeOutput
		if err := workflow.ExecuteActivity(analyzeCtx, ActivityAnalyzeRecent, in.AnalyzeHours).Get(ctx, &analyzed); err != nil {
			log.Error("network analysis failed", "error", err)
		}

		log.Info("cycle complete",
			"cycle", in.Completed+cycle,
			"created", pass.Created,
			"updated", pass.Updated,
			"enriched", enriched.Enriched,
			"articles_analyzed", analyzed.ArticlesAnalyzed,
		)

		if cycle >= in.CyclesPerRun || workflow.GetInfo(ctx).GetCurrentHistoryLength() >= historyLimit {
			next := in
			next.Completed += cycle
			return workflow.NewContinueAsNewError(ctx, WorkflowName, next)
		}
		if err := workflow.Sleep(ctx, in.Interval); err != nil {
			return err
		}
	}
}
