// Package monitoring snapshots pipeline health and raises threshold alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/cost"
	"github.com/sells-group/intel-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Backlog.
	UnclusteredArticles int `json:"unclustered_articles"`
	OpenClusters        int `json:"open_clusters"`
	UnenrichedClusters  int `json:"unenriched_clusters"`

	// Network.
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`

	// Runs within the lookback window.
	RunsTotal   int     `json:"runs_total"`
	RunsFailed  int     `json:"runs_failed"`
	RunFailRate float64 `json:"run_fail_rate"`
	DLQDepth    int     `json:"dlq_depth"`

	// AI spend since process start.
	CostUSD    float64           `json:"cost_usd"`
	PhaseCosts []cost.PhaseTotal `json:"phase_costs,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CostSource exposes accumulated AI spend.
type CostSource interface {
	Totals() []cost.PhaseTotal
}

// StatsQuerier is the slice of store.Store the collector reads.
type StatsQuerier interface {
	Stats(ctx context.Context, since time.Time) (*store.Stats, error)
}

// Collector gathers metrics from the store and the cost ledger.
type Collector struct {
	store  StatsQuerier
	ledger CostSource
	now    func() time.Time
}

// NewCollector creates a new metrics collector. ledger may be nil.
func NewCollector(st StatsQuerier, ledger CostSource) *Collector {
	return &Collector{store: st, ledger: ledger, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.store.Stats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stats")
	}
	snap.UnclusteredArticles = stats.UnclusteredArticles
	snap.OpenClusters = stats.OpenClusters
	snap.UnenrichedClusters = stats.UnenrichedClusters
	snap.Entities = stats.Entities
	snap.Relationships = stats.Relationships
	snap.DLQDepth = stats.DLQDepth
	snap.RunsTotal = stats.RunsTotal
	snap.RunsFailed = stats.RunsFailed
	if stats.RunsTotal > 0 {
		snap.RunFailRate = float64(stats.RunsFailed) / float64(stats.RunsTotal)
	}

	if c.ledger != nil {
		snap.PhaseCosts = c.ledger.Totals()
		for _, p := range snap.PhaseCosts {
			snap.CostUSD += p.USD
		}
	}

	return snap, nil
}
