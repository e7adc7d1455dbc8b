package network

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/model"
)

const relationshipSystemPrompt = `You are a relationship detection system. Analyze the relationship between two entities in a geopolitical context.
Return only valid JSON of this shape:
{"type": "%s", "strength": 0.0-1.0, "context": "brief description"}

If there is no clear relationship, return type "mentioned_together" with strength between 0.3 and 0.5.`

const relationshipPrompt = `Entity 1: %s (%s)
Entity 2: %s (%s)
Context: %s`

const (
	defaultStrength    = 0.5
	relationshipChars  = 500
	defaultConcurrency = 3
)

// Classification is the model's reading of one entity pair.
type Classification struct {
	Type     model.RelationshipType `json:"type"`
	Strength *float64               `json:"strength"`
	Context  string                 `json:"context"`
}

// Detector classifies every pair of entities mentioned in an article.
type Detector struct {
	ai          ai.Completer
	concurrency int
	system      string
}

// NewDetector creates a Detector running at most concurrency classifications
// at once. A nil completer classifies every pair with the fallback.
func NewDetector(completer ai.Completer, concurrency int) *Detector {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	types := make([]string, len(model.RelationshipTypes))
	for i, t := range model.RelationshipTypes {
		types[i] = string(t)
	}
	return &Detector{
		ai:          completer,
		concurrency: concurrency,
		system:      fmt.Sprintf(relationshipSystemPrompt, strings.Join(types, "|")),
	}
}

type pair struct {
	source, target *model.Entity
}

// Detect returns one observation per unordered pair of distinct entities in
// mentions. Endpoints are ordered by entity ID so that either order of the
// same pair keys the same relationship. Fewer than two entities yield nil.
func (d *Detector) Detect(ctx context.Context, a model.Article, mentions []model.EntityMention) []model.RelationshipObservation {
	entities := distinctEntities(mentions)
	if len(entities) < 2 {
		return nil
	}

	var pairs []pair
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			pairs = append(pairs, pair{source: entities[i], target: entities[j]})
		}
	}

	text := truncate(strings.TrimSpace(a.Title+" "+a.Snippet), relationshipChars)
	out := make([]model.RelationshipObservation, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			cls := d.classify(gctx, p, text, a.Title)
			out[i] = model.RelationshipObservation{
				SourceEntityID:   p.source.ID,
				TargetEntityID:   p.target.ID,
				RelationshipType: cls.Type,
				Strength:         *cls.Strength,
				Context:          cls.Context,
				ArticleID:        a.ID,
				ClusterID:        a.ClusterIDValue(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// classify never fails; any problem yields the fallback.
func (d *Detector) classify(ctx context.Context, p pair, text, title string) Classification {
	if d.ai == nil {
		return fallback(title)
	}
	resp, err := d.ai.Complete(ctx, ai.Request{
		Phase:       "detect_relationship",
		System:      d.system,
		Prompt:      fmt.Sprintf(relationshipPrompt, p.source.Label(), p.source.Type, p.target.Label(), p.target.Type, text),
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		zap.L().Debug("network: relationship classification failed",
			zap.String("source", p.source.ID), zap.String("target", p.target.ID), zap.Error(err))
		return fallback(title)
	}
	cls, err := decodeClassification(resp)
	if err != nil {
		zap.L().Debug("network: unreadable relationship classification", zap.Error(err))
		return fallback(title)
	}
	return normalizeClassification(cls)
}

// fallback is used when the model cannot be reached or its answer cannot be
// read.
func fallback(title string) Classification {
	if strings.TrimSpace(title) == "" {
		title = "article"
	}
	s := defaultStrength
	return Classification{
		Type:     model.RelMentionedTogether,
		Strength: &s,
		Context:  "Mentioned together in: " + title,
	}
}

// normalizeClassification maps unknown types to mentioned_together and
// clamps strength into [0,1]; a missing or zero strength becomes 0.5.
func normalizeClassification(c Classification) Classification {
	c.Type = model.RelationshipType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	if !c.Type.Valid() {
		c.Type = model.RelMentionedTogether
	}
	s := defaultStrength
	if c.Strength != nil && *c.Strength != 0 {
		s = min(1, max(0, *c.Strength))
	}
	c.Strength = &s
	c.Context = strings.TrimSpace(c.Context)
	return c
}

func decodeClassification(raw string) (Classification, error) {
	return ai.DecodeFirst(raw, ai.Object(func(c Classification) error {
		if c.Type == "" && c.Strength == nil {
			return eris.New("network: empty classification")
		}
		return nil
	}))
}

// distinctEntities returns the mentioned entities once each, ordered by ID.
func distinctEntities(mentions []model.EntityMention) []*model.Entity {
	seen := make(map[string]struct{}, len(mentions))
	var out []*model.Entity
	for _, m := range mentions {
		if _, ok := seen[m.EntityID]; ok {
			continue
		}
		seen[m.EntityID] = struct{}{}
		e := m.Entity
		if e == nil {
			e = &model.Entity{ID: m.EntityID}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
