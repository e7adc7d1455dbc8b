package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
)

// RecordRun wraps fn in a run row: created before, completed or failed
// after. Failing to write the audit row never fails fn's work.
func RecordRun(ctx context.Context, st Store, kind model.RunKind, fn func(ctx context.Context) (*model.RunResult, error)) (*model.RunResult, error) {
	log := zap.L().With(zap.String("run_kind", string(kind)))

	run, err := st.CreateRun(ctx, kind)
	if err != nil {
		log.Warn("store: create run failed", zap.Error(err))
	}

	result, fnErr := fn(ctx)
	if run == nil {
		return result, fnErr
	}

	if fnErr != nil {
		if err := st.FailRun(context.WithoutCancel(ctx), run.ID, fnErr.Error()); err != nil {
			log.Warn("store: fail run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		return result, fnErr
	}
	if result == nil {
		result = &model.RunResult{}
	}
	if err := st.CompleteRun(context.WithoutCancel(ctx), run.ID, result); err != nil {
		log.Warn("store: complete run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return result, nil
}
