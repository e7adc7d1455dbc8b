// Package network builds the entity knowledge graph: it extracts entities
// from articles, resolves them to canonical records and classifies the
// relationships between entities mentioned together.
package network

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/store"
)

// ErrArticleNotFound is returned when the article to analyze does not exist.
var ErrArticleNotFound = eris.New("network: article not found")

// Projector mirrors entities and relationships into an external graph store.
type Projector interface {
	Project(ctx context.Context, entities []model.Entity, rels []model.EntityRelationship) error
}

// Config tunes the analyzer.
type Config struct {
	Concurrency    int
	RecentLimit    int
	MinStrength    float64
	GraphLimit     int
	NormalizeModel string
}

// FromConfig maps the network and anthropic sections of the app config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Concurrency:    cfg.Network.Concurrency,
		RecentLimit:    cfg.Network.RecentLimit,
		MinStrength:    cfg.Network.MinStrength,
		GraphLimit:     cfg.Network.GraphLimit,
		NormalizeModel: cfg.Anthropic.NormalizeModel,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 100
	}
	if c.MinStrength <= 0 {
		c.MinStrength = 0.3
	}
	if c.GraphLimit <= 0 {
		c.GraphLimit = 100
	}
	return c
}

// Result is what analyzing one article stored.
type Result struct {
	EntitiesStored        int `json:"entities_stored"`
	RelationshipsDetected int `json:"relationships_detected"`
}

// Analyzer runs extraction, resolution and relationship detection for
// articles.
type Analyzer struct {
	store     store.Store
	extractor *Extractor
	resolver  *Resolver
	detector  *Detector
	projector Projector
	events    coord.Publisher
	cfg       Config
	now       func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithProjector mirrors every analyzed article into p.
func WithProjector(p Projector) Option {
	return func(a *Analyzer) { a.projector = p }
}

// WithPublisher announces analyzed articles on p.
func WithPublisher(p coord.Publisher) Option {
	return func(a *Analyzer) { a.events = p }
}

// NewAnalyzer wires an Analyzer. A nil completer disables every AI call;
// extraction then relies on tagged entities and every pair is
// mentioned_together.
func NewAnalyzer(st store.Store, completer ai.Completer, cfg Config, opts ...Option) *Analyzer {
	cfg = cfg.withDefaults()
	a := &Analyzer{
		store:     st,
		extractor: NewExtractor(completer),
		resolver:  NewResolver(st, NewNormalizer(completer, cfg.NormalizeModel)),
		detector:  NewDetector(completer, cfg.Concurrency),
		events:    coord.Noop{},
		cfg:       cfg,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AnalyzeArticle extracts and stores the entities of one article and the
// relationships between them. Failures on a single entity or relationship
// are logged and skipped.
func (a *Analyzer) AnalyzeArticle(ctx context.Context, articleID string) (Result, error) {
	var res Result
	article, err := a.store.GetArticle(ctx, articleID)
	if err != nil {
		return res, eris.Wrap(err, "network: load article")
	}
	if article == nil {
		return res, eris.Wrapf(ErrArticleNotFound, "network: article %s", articleID)
	}
	log := zap.L().With(zap.String("article_id", articleID))
	clusterID := article.ClusterIDValue()

	for _, c := range a.extractor.Extract(ctx, *article) {
		if _, err := a.resolver.Resolve(ctx, c, articleID, clusterID); err != nil {
			log.Warn("network: store entity failed", zap.String("entity", c.Name), zap.String("type", string(c.Type)), zap.Error(err))
			continue
		}
		res.EntitiesStored++
	}

	mentions, err := a.store.ListMentionsByArticle(ctx, articleID)
	if err != nil {
		return res, eris.Wrap(err, "network: list mentions")
	}

	observations := a.detector.Detect(ctx, *article, mentions)
	res.RelationshipsDetected = len(observations)

	stored := make([]model.EntityRelationship, 0, len(observations))
	for _, obs := range observations {
		rel, err := a.store.UpsertRelationship(ctx, obs)
		if err != nil {
			log.Warn("network: store relationship failed",
				zap.String("source", obs.SourceEntityID), zap.String("target", obs.TargetEntityID), zap.Error(err))
			continue
		}
		stored = append(stored, *rel)
	}

	a.project(ctx, mentions, stored)
	if err := a.store.MarkNetworkAnalyzed(ctx, articleID, a.now()); err != nil {
		log.Warn("network: mark article analyzed failed", zap.Error(err))
	}
	if err := a.events.Publish(ctx, coord.Event{Type: coord.EventNetworkAnalyzed, ArticleID: articleID, ClusterID: clusterID}); err != nil {
		log.Debug("network: publish event failed", zap.Error(err))
	}

	log.Info("network: article analyzed",
		zap.Int("entities_stored", res.EntitiesStored),
		zap.Int("relationships_detected", res.RelationshipsDetected),
	)
	return res, nil
}

// project is best effort.
func (a *Analyzer) project(ctx context.Context, mentions []model.EntityMention, rels []model.EntityRelationship) {
	if a.projector == nil || len(mentions) == 0 {
		return
	}
	ids := make([]string, 0, len(mentions))
	for _, m := range mentions {
		ids = append(ids, m.EntityID)
	}
	entities, err := a.store.GetEntities(ctx, ids)
	if err != nil {
		zap.L().Warn("network: load entities for projection failed", zap.Error(err))
		return
	}
	if err := a.projector.Project(ctx, entities, rels); err != nil {
		zap.L().Warn("network: graph projection failed", zap.Error(err))
	}
}

// AnalyzeCluster analyzes every article of a cluster.
func (a *Analyzer) AnalyzeCluster(ctx context.Context, clusterID string) (*model.RunResult, error) {
	articles, err := a.store.ListArticlesByCluster(ctx, clusterID, a.cfg.RecentLimit)
	if err != nil {
		return nil, eris.Wrap(err, "network: load cluster articles")
	}
	return a.analyzeAll(ctx, articles), nil
}

// AnalyzeRecent analyzes articles published in the last hours that have not
// been analyzed yet, so repeated runs never count an article twice.
func (a *Analyzer) AnalyzeRecent(ctx context.Context, hours int) (*model.RunResult, error) {
	if hours <= 0 {
		hours = 24
	}
	since := a.now().Add(-time.Duration(hours) * time.Hour)
	articles, err := a.store.ListUnanalyzedSince(ctx, since, a.cfg.RecentLimit)
	if err != nil {
		return nil, eris.Wrap(err, "network: load recent articles")
	}
	return a.analyzeAll(ctx, articles), nil
}

func (a *Analyzer) analyzeAll(ctx context.Context, articles []model.Article) *model.RunResult {
	out := &model.RunResult{}
	for _, art := range articles {
		if ctx.Err() != nil {
			break
		}
		res, err := a.AnalyzeArticle(ctx, art.ID)
		out.EntitiesStored += res.EntitiesStored
		out.RelationshipsDetected += res.RelationshipsDetected
		if err != nil {
			out.Failed++
			a.deadLetter(ctx, art.ID, err)
			continue
		}
		out.ArticlesAnalyzed++
		if err := a.store.RemoveDLQ(ctx, resilience.WorkAnalyzeArticle, art.ID); err != nil {
			zap.L().Debug("network: clear dead letter failed", zap.String("article_id", art.ID), zap.Error(err))
		}
	}
	zap.L().Info("network: batch analyzed",
		zap.Int("articles", out.ArticlesAnalyzed),
		zap.Int("failed", out.Failed),
		zap.Int("entities_stored", out.EntitiesStored),
		zap.Int("relationships_detected", out.RelationshipsDetected),
	)
	return out
}

func (a *Analyzer) deadLetter(ctx context.Context, articleID string, err error) {
	zap.L().Warn("network: article analysis failed", zap.String("article_id", articleID), zap.Error(err))
	entry := resilience.NewDLQEntry(resilience.WorkAnalyzeArticle, articleID, err, a.now().UTC())
	if dlqErr := a.store.EnqueueDLQ(context.WithoutCancel(ctx), entry); dlqErr != nil {
		zap.L().Error("network: dead letter enqueue failed", zap.String("article_id", articleID), zap.Error(dlqErr))
	}
}
