// Package enrich asks the language model for a structured analysis of each
// cluster and stores the sanitized result.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/store"
)

// ErrClusterNotFound is returned when the cluster to enrich does not exist.
var ErrClusterNotFound = eris.New("enrich: cluster not found")

// Config tunes a single enrichment call.
type Config struct {
	MaxArticles  int
	SnippetChars int
	Temperature  float64
}

// FromConfig maps the enrich section of the app config.
func FromConfig(cfg config.EnrichConfig) Config {
	return Config{MaxArticles: cfg.MaxArticles, SnippetChars: cfg.SnippetChars}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxArticles <= 0 {
		c.MaxArticles = 10
	}
	if c.SnippetChars <= 0 {
		c.SnippetChars = 300
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	return c
}

// Enricher runs the analysis of one cluster.
type Enricher struct {
	store  store.Store
	ai     ai.Completer
	cfg    Config
	events coord.Publisher
	now    func() time.Time
}

// NewEnricher creates an Enricher. A nil publisher disables events.
func NewEnricher(st store.Store, completer ai.Completer, cfg Config, events coord.Publisher) *Enricher {
	if events == nil {
		events = coord.Noop{}
	}
	return &Enricher{store: st, ai: completer, cfg: cfg.withDefaults(), events: events, now: time.Now}
}

// Enrich loads the cluster and its newest articles, asks the model for an
// analysis and writes the sanitized result. The cluster is left untouched
// when the call fails or the response cannot be decoded.
func (e *Enricher) Enrich(ctx context.Context, clusterID string) error {
	c, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		return eris.Wrap(err, "enrich: load cluster")
	}
	if c == nil {
		return eris.Wrapf(ErrClusterNotFound, "enrich: cluster %s", clusterID)
	}

	articles, err := e.store.ListArticlesByCluster(ctx, clusterID, e.cfg.MaxArticles)
	if err != nil {
		return eris.Wrap(err, "enrich: load articles")
	}
	if len(articles) == 0 {
		return eris.Errorf("enrich: cluster %s has no articles", clusterID)
	}

	raw, err := e.ai.Complete(ctx, ai.Request{
		Phase:       "enrich",
		System:      enrichSystemPrompt,
		Prompt:      fmt.Sprintf(enrichPrompt, articleContext(articles, e.cfg.SnippetChars)),
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return eris.Wrapf(err, "enrich: analyze cluster %s", clusterID)
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return eris.Wrapf(err, "enrich: decode analysis for cluster %s", clusterID)
	}

	result := Sanitize(payload, *c, e.now().UTC())
	if err := e.store.ApplyClusterAnalysis(ctx, clusterID, result); err != nil {
		return eris.Wrap(err, "enrich: store analysis")
	}

	zap.L().Info("enrich: cluster enriched",
		zap.String("cluster_id", clusterID),
		zap.Int("articles", len(articles)),
		zap.Int("severity", result.Severity),
		zap.Int("confidence", result.Confidence),
	)
	if err := e.events.Publish(ctx, coord.Event{Type: coord.EventClusterEnriched, ClusterID: clusterID}); err != nil {
		zap.L().Warn("enrich: publish event failed", zap.String("cluster_id", clusterID), zap.Error(err))
	}
	return nil
}

func requirePayload(p Payload) error {
	if p.empty() {
		return eris.New("enrich: empty analysis")
	}
	return nil
}

// decodePayload accepts the bare object, an {"analysis": {...}} wrapper or a
// one-element array.
func decodePayload(raw string) (Payload, error) {
	type wrapped struct {
		Analysis Payload `json:"analysis"`
	}
	return ai.DecodeFirst(raw,
		ai.Object(requirePayload),
		ai.Map(ai.Object(func(w wrapped) error { return requirePayload(w.Analysis) }),
			func(w wrapped) Payload { return w.Analysis }),
		ai.Map(ai.Array(func(ps []Payload) error {
			if len(ps) == 0 {
				return eris.New("enrich: empty array")
			}
			return requirePayload(ps[0])
		}), func(ps []Payload) Payload { return ps[0] }),
	)
}
