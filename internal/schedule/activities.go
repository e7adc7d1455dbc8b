package schedule

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/cluster"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/enrich"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

// Passer runs a clustering pass.
type Passer interface {
	RunPass(ctx context.Context) (cluster.PassResult, error)
}

// RecentAnalyzer analyzes articles from the last hours.
type RecentAnalyzer interface {
	AnalyzeRecent(ctx context.Context, hours int) (*model.RunResult, error)
}

// PassOutput is the result of ActivityClusterPass. Skipped is set when
// another pass held the lock.
type PassOutput struct {
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	NewClusterIDs []string `json:"new_cluster_ids,omitempty"`
	Skipped       bool     `json:"skipped,omitempty"`
}

// EnrichInput names clusters to enrich in addition to pending ones.
type EnrichInput struct {
	ClusterIDs   []string `json:"cluster_ids,omitempty"`
	PendingLimit int      `json:"pending_limit"`
}

// EnrichOutput reports enrichment counts.
type EnrichOutput struct {
	Submitted int `json:"submitted"`
	Enriched  int `json:"enriched"`
	Failed    int `json:"failed"`
}

// AnalyzeOutput reports network analysis counts.
type AnalyzeOutput struct {
	ArticlesAnalyzed      int `json:"articles_analyzed"`
	EntitiesStored        int `json:"entities_stored"`
	RelationshipsDetected int `json:"relationships_detected"`
	Failed                int `json:"failed"`
}

// Activities hosts the cycle's activities.
type Activities struct {
	Store    store.Store
	Passer   Passer
	Enricher enrich.Runner
	Analyzer RecentAnalyzer
	Pool     enrich.PoolConfig
}

// RunClusterPass runs one recorded clustering pass.
func (a *Activities) RunClusterPass(ctx context.Context) (PassOutput, error) {
	var out PassOutput
	_, err := store.RecordRun(ctx, a.Store, model.RunKindClusterPass, func(ctx context.Context) (*model.RunResult, error) {
		res, err := a.Passer.RunPass(ctx)
		out.Created, out.Updated, out.NewClusterIDs = res.Created, res.Updated, res.NewClusterIDs
		return res.RunResult(), err
	})
	if errors.Is(err, coord.ErrLockHeld) {
		zap.L().Info("schedule: cluster pass skipped, lock held")
		out.Skipped = true
		return out, nil
	}
	if err != nil {
		return out, eris.Wrap(err, "schedule: cluster pass")
	}
	return out, nil
}

// EnrichClusters enriches the given clusters plus up to PendingLimit
// unenriched ones through a worker pool. Per-cluster failures are dead
// lettered by the pool and never fail the activity.
func (a *Activities) EnrichClusters(ctx context.Context, in EnrichInput) (EnrichOutput, error) {
	var out EnrichOutput
	ids, err := a.enrichTargets(ctx, in)
	if err != nil {
		return out, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	res, err := store.RecordRun(ctx, a.Store, model.RunKindEnrich, func(ctx context.Context) (*model.RunResult, error) {
		cfg := a.Pool
		cfg.QueueSize = max(cfg.QueueSize, len(ids))
		pool := enrich.NewPool(ctx, a.Enricher, a.Store, cfg)
		for _, id := range ids {
			if pool.Submit(id) {
				out.Submitted++
			}
		}
		pool.Close()
		return pool.Result(), nil
	})
	if err != nil {
		return out, eris.Wrap(err, "schedule: enrich clusters")
	}
	out.Enriched, out.Failed = res.Enriched, res.Failed
	return out, nil
}

func (a *Activities) enrichTargets(ctx context.Context, in EnrichInput) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range in.ClusterIDs {
		add(id)
	}
	if in.PendingLimit > 0 {
		pending, err := a.Store.ListClusters(ctx, store.ClusterFilter{UnenrichedOnly: true, Limit: in.PendingLimit})
		if err != nil {
			return nil, eris.Wrap(err, "schedule: list pending clusters")
		}
		for _, c := range pending {
			add(c.ID)
		}
	}
	return ids, nil
}

// AnalyzeRecent runs recorded network analysis over recent articles.
func (a *Activities) AnalyzeRecent(ctx context.Context, hours int) (AnalyzeOutput, error) {
	res, err := store.RecordRun(ctx, a.Store, model.RunKindNetwork, func(ctx context.Context) (*model.RunResult, error) {
		return a.Analyzer.AnalyzeRecent(ctx, hours)
	})
	if err != nil {
		return AnalyzeOutput{}, eris.Wrap(err, "schedule: analyze recent")
	}
	zap.L().Debug("schedule: network analysis done", zap.Int("articles", res.ArticlesAnalyzed))
	return AnalyzeOutput{
		ArticlesAnalyzed:      res.ArticlesAnalyzed,
		EntitiesStored:        res.EntitiesStored,
		RelationshipsDetected: res.RelationshipsDetected,
		Failed:                res.Failed,
	}, nil
}
