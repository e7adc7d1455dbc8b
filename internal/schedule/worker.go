package schedule

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
)

// WorkflowID is the single cycle workflow per namespace.
const WorkflowID = "intel-cycle"

// Registrar is satisfied by worker.Worker and the test environment.
type Registrar interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

// Register binds the workflow and activities under their stable names.
func Register(r Registrar, acts *Activities) {
	r.RegisterWorkflowWithOptions(CycleWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.RunClusterPass, activity.RegisterOptions{Name: ActivityClusterPass})
	r.RegisterActivityWithOptions(acts.EnrichClusters, activity.RegisterOptions{Name: ActivityEnrichClusters})
	r.RegisterActivityWithOptions(acts.AnalyzeRecent, activity.RegisterOptions{Name: ActivityAnalyzeRecent})
}

// Dial connects to Temporal.
func Dial(ctx context.Context, cfg config.TemporalConfig) (client.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.DialContext(dctx, client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Run hosts the worker until ctx is done. When start is set it also starts
// the cycle workflow, leaving a running one untouched.
func Run(ctx context.Context, c client.Client, cfg config.TemporalConfig, acts *Activities, in CycleInput, start bool) error {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, acts)

	if start {
		if in.Interval <= 0 {
			in.Interval = time.Duration(cfg.IntervalMins) * time.Minute
		}
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:                    WorkflowID,
			TaskQueue:             cfg.TaskQueue,
			WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		}, WorkflowName, in)
		if err != nil {
			return eris.Wrap(err, "schedule: start cycle workflow")
		}
		zap.L().Info("schedule: cycle workflow running",
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()),
		)
	}

	zap.L().Info("schedule: worker starting", zap.String("task_queue", cfg.TaskQueue))
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "schedule: start worker")
	}
	<-ctx.Done()
	w.Stop()
	zap.L().Info("schedule: worker stopped")
	return nil
}
