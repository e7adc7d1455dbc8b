package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/similarity"
	"github.com/sells-group/intel-cli/internal/store"
)

// ErrClusterNotFound is returned when a repair targets an unknown cluster.
var ErrClusterNotFound = eris.New("cluster: cluster not found")

// Enricher refreshes the AI analysis of one cluster.
type Enricher interface {
	Enrich(ctx context.Context, clusterID string) error
}

// RepairConfig tunes Repair.
type RepairConfig struct {
	Window         time.Duration
	Threshold      float64
	Limit          int
	CandidateLimit int
}

// RepairFromConfig maps the cluster section of the app config.
func RepairFromConfig(cfg config.ClusterConfig) RepairConfig {
	return RepairConfig{Threshold: cfg.RepairThreshold, Limit: cfg.RepairLimit}.withDefaults()
}

func (c RepairConfig) withDefaults() RepairConfig {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.22
	}
	if c.Limit <= 0 {
		c.Limit = 75
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 500
	}
	return c
}

// RepairResult reports how many articles were pulled into the cluster.
type RepairResult struct {
	Relinked int  `json:"relinked"`
	Enriched bool `json:"enriched"`
}

// RunResult maps the repair onto run counters.
func (r RepairResult) RunResult() *model.RunResult {
	res := &model.RunResult{Relinked: r.Relinked}
	if r.Enriched {
		res.Enriched = 1
	}
	return res
}

// Repairer pulls missed articles into an existing cluster and re-enriches it.
type Repairer struct {
	store    store.Store
	enricher Enricher
	cfg      RepairConfig
}

// NewRepairer creates a Repairer. A nil enricher skips re-enrichment.
func NewRepairer(st store.Store, enricher Enricher, cfg RepairConfig) *Repairer {
	return &Repairer{store: st, enricher: enricher, cfg: cfg.withDefaults()}
}

type candidate struct {
	id    string
	score float64
}

// Repair scores unclustered articles published around the cluster window
// against its canonical title, links the best ones, recounts and enriches.
// Enrichment failure is logged, not returned.
func (r *Repairer) Repair(ctx context.Context, clusterID string) (RepairResult, error) {
	var result RepairResult
	log := zap.L().With(zap.String("cluster_id", clusterID))

	c, err := r.store.GetCluster(ctx, clusterID)
	if err != nil {
		return result, eris.Wrapf(err, "cluster: load cluster %s", clusterID)
	}
	if c == nil {
		return result, ErrClusterNotFound
	}

	from, to := c.WindowStart.Add(-r.cfg.Window), c.WindowEnd.Add(r.cfg.Window)
	articles, err := r.store.ListUnclusteredBetween(ctx, from, to, r.cfg.CandidateLimit)
	if err != nil {
		return result, eris.Wrap(err, "cluster: load repair candidates")
	}

	var picked []candidate
	for _, a := range articles {
		s := similarity.KeywordOverlap(a.Title, c.CanonicalTitle, similarity.RepairKeywordLimit)
		if s >= r.cfg.Threshold {
			picked = append(picked, candidate{id: a.ID, score: s})
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].score > picked[j].score })
	if len(picked) > r.cfg.Limit {
		picked = picked[:r.cfg.Limit]
	}

	if len(picked) > 0 {
		ids := make([]string, len(picked))
		for i, p := range picked {
			ids[i] = p.id
		}
		n, err := r.store.LinkArticles(ctx, clusterID, ids)
		if err != nil {
			return result, eris.Wrap(err, "cluster: link repair candidates")
		}
		result.Relinked = int(n)
	}

	if _, err := r.store.RecountCluster(ctx, clusterID); err != nil {
		return result, eris.Wrap(err, "cluster: recount after repair")
	}

	log.Info("cluster: repair linked articles",
		zap.Int("candidates", len(articles)),
		zap.Int("relinked", result.Relinked),
	)

	if r.enricher != nil {
		if err := r.enricher.Enrich(ctx, clusterID); err != nil {
			log.Warn("cluster: enrichment after repair failed", zap.Error(err))
		} else {
			result.Enriched = true
		}
	}
	return result, nil
}
