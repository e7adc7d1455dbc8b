// Package cluster assigns unclustered articles to existing event clusters or
// groups them into new ones.
package cluster

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/similarity"
	"github.com/sells-group/intel-cli/internal/store"
)

// Enqueuer accepts newly created clusters for enrichment.
type Enqueuer interface {
	Submit(clusterID string) bool
}

// Config tunes a pass.
type Config struct {
	Lookback        time.Duration
	BatchSize       int
	MaxOpenClusters int
	MatchThreshold  float64
	GroupThreshold  float64
	LockTTL         time.Duration
}

// FromConfig maps the cluster section of the app config.
func FromConfig(cfg config.ClusterConfig) Config {
	c := Config{
		Lookback:        time.Duration(cfg.LookbackHours) * time.Hour,
		BatchSize:       cfg.BatchSize,
		MaxOpenClusters: cfg.MaxOpenClusters,
		MatchThreshold:  cfg.MatchThreshold,
		GroupThreshold:  cfg.GroupThreshold,
		LockTTL:         time.Duration(cfg.LockTTLSecs) * time.Second,
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = 72 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.MaxOpenClusters <= 0 {
		c.MaxOpenClusters = 100
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.3
	}
	if c.GroupThreshold <= 0 {
		c.GroupThreshold = 0.25
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// PassResult reports what a pass wrote. Updated counts articles linked to
// clusters that already existed.
type PassResult struct {
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	NewClusterIDs []string `json:"new_cluster_ids,omitempty"`
}

// RunResult converts the pass result for the run audit row.
func (r PassResult) RunResult() *model.RunResult {
	return &model.RunResult{Created: r.Created, Updated: r.Updated}
}

// Engine runs clustering passes.
type Engine struct {
	store    store.Store
	cfg      Config
	locker   coord.Locker
	events   coord.Publisher
	enqueuer Enqueuer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker serializes passes through l.
func WithLocker(l coord.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithPublisher announces created and updated clusters on p.
func WithPublisher(p coord.Publisher) Option { return func(e *Engine) { e.events = p } }

// WithEnqueuer hands new cluster IDs to q.
func WithEnqueuer(q Enqueuer) Option { return func(e *Engine) { e.enqueuer = q } }

// NewEngine creates an Engine. Without options the lock and event bus are
// no-ops and nothing is enqueued.
func NewEngine(st store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		cfg:    cfg.withDefaults(),
		locker: coord.Noop{},
		events: coord.Noop{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunPass links recent unclustered articles to matching open clusters and
// groups the rest into new clusters. A second pass over unchanged data
// writes nothing. It returns coord.ErrLockHeld when another pass is running.
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	var result PassResult
	log := zap.L().With(zap.String("pass", "cluster"))

	release, err := e.locker.Acquire(ctx, coord.KeyClusterPass, e.cfg.LockTTL)
	switch {
	case errors.Is(err, coord.ErrLockHeld):
		log.Info("cluster: another pass holds the lock")
		return result, err
	case err != nil:
		log.Warn("cluster: lock unavailable, continuing without it", zap.Error(err))
	default:
		defer release()
	}

	since := e.now().UTC().Add(-e.cfg.Lookback)
	articles, err := e.store.ListUnclusteredArticles(ctx, since, e.cfg.BatchSize)
	if err != nil {
		return result, eris.Wrap(err, "cluster: load unclustered articles")
	}
	if len(articles) == 0 {
		log.Debug("cluster: no unclustered articles")
		return result, nil
	}
	open, err := e.store.ListOpenClusters(ctx, since, e.cfg.MaxOpenClusters)
	if err != nil {
		return result, eris.Wrap(err, "cluster: load open clusters")
	}

	log.Info("cluster: pass started",
		zap.Int("articles", len(articles)),
		zap.Int("open_clusters", len(open)),
	)

	unmatched, touched := e.matchExisting(ctx, articles, open, &result)
	e.recountAll(ctx, touched, coord.EventClusterUpdated)

	for _, group := range Group(unmatched, e.cfg.GroupThreshold) {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		e.createFromGroup(ctx, group, &result)
	}

	log.Info("cluster: pass complete",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
	)
	return result, nil
}

// matchExisting links each article to its best open cluster scoring above
// the match threshold. It returns the articles left for grouping and the
// clusters that gained members.
func (e *Engine) matchExisting(ctx context.Context, articles []model.Article, open []model.Cluster, result *PassResult) ([]model.Article, map[string]struct{}) {
	touched := map[string]struct{}{}
	var unmatched []model.Article

	for _, a := range articles {
		sig := similarity.FromArticle(a)
		best, bestScore := -1, e.cfg.MatchThreshold
		for i := range open {
			if s := similarity.ClusterScore(sig, open[i]); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 {
			unmatched = append(unmatched, a)
			continue
		}

		c := open[best]
		n, err := e.store.LinkArticles(ctx, c.ID, []string{a.ID})
		if err != nil {
			zap.L().Warn("cluster: link to existing cluster failed",
				zap.String("article_id", a.ID),
				zap.String("cluster_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		if n == 0 {
			// Linked concurrently by someone else.
			continue
		}
		result.Updated++
		touched[c.ID] = struct{}{}
	}
	return unmatched, touched
}

func (e *Engine) createFromGroup(ctx context.Context, group []model.Article, result *PassResult) {
	c := BuildCluster(group, e.now())
	ids := make([]string, len(group))
	for i, a := range group {
		ids[i] = a.ID
	}
	log := zap.L().With(zap.String("title_hash", c.TitleHash), zap.Int("articles", len(group)))

	err := e.store.CreateCluster(ctx, &c)
	if errors.Is(err, store.ErrDuplicateCluster) {
		existing, ferr := e.store.FindCluster(ctx, c.TitleHash, c.WindowStart)
		if ferr != nil || existing == nil {
			log.Warn("cluster: duplicate cluster could not be loaded", zap.Error(ferr))
			return
		}
		n, lerr := e.store.LinkArticles(ctx, existing.ID, ids)
		if lerr != nil {
			log.Warn("cluster: link to duplicate cluster failed", zap.String("cluster_id", existing.ID), zap.Error(lerr))
			return
		}
		result.Updated += int(n)
		e.recountAll(ctx, map[string]struct{}{existing.ID: {}}, coord.EventClusterUpdated)
		return
	}
	if err != nil {
		log.Error("cluster: create cluster failed", zap.Error(err))
		return
	}

	if _, err := e.store.LinkArticles(ctx, c.ID, ids); err != nil {
		log.Error("cluster: link to new cluster failed", zap.String("cluster_id", c.ID), zap.Error(err))
	}
	e.recount(ctx, c.ID)

	result.Created++
	result.NewClusterIDs = append(result.NewClusterIDs, c.ID)
	e.publish(ctx, coord.Event{Type: coord.EventClusterCreated, ClusterID: c.ID})
	if e.enqueuer != nil && !e.enqueuer.Submit(c.ID) {
		log.Warn("cluster: enrichment queue full, left for next sweep", zap.String("cluster_id", c.ID))
	}
}

func (e *Engine) recountAll(ctx context.Context, ids map[string]struct{}, ev coord.EventType) {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	for _, id := range sorted {
		e.recount(ctx, id)
		e.publish(ctx, coord.Event{Type: ev, ClusterID: id})
	}
}

// recount failures leave counts stale until the next recount of the cluster.
func (e *Engine) recount(ctx context.Context, id string) {
	if _, err := e.store.RecountCluster(ctx, id); err != nil {
		zap.L().Warn("cluster: recount failed", zap.String("cluster_id", id), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, ev coord.Event) {
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		zap.L().Debug("cluster: publish event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}
