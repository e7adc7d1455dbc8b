package network

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// Graph returns the strongest relationships matching filter together with
// their endpoint entities. A nil MinStrength and a zero Limit take the
// configured defaults.
func (a *Analyzer) Graph(ctx context.Context, filter model.GraphFilter) (*model.Graph, error) {
	if filter.MinStrength == nil {
		filter.MinStrength = model.Strength(a.cfg.MinStrength)
	}
	if filter.Limit <= 0 {
		filter.Limit = a.cfg.GraphLimit
	}

	rels, err := a.store.ListRelationships(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "network: list relationships")
	}

	ids := make([]string, 0, len(rels)*2)
	seen := make(map[string]struct{}, len(rels)*2)
	for _, r := range rels {
		for _, id := range []string{r.SourceEntityID, r.TargetEntityID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	entities, err := a.store.GetEntities(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "network: load graph entities")
	}

	g := BuildGraph(entities, rels)
	return &g, nil
}

// BuildGraph renders entities and relationships as nodes and edges. Edges
// are ordered by strength, strongest first.
func BuildGraph(entities []model.Entity, rels []model.EntityRelationship) model.Graph {
	g := model.Graph{
		Nodes: make([]model.GraphNode, 0, len(entities)),
		Edges: make([]model.GraphEdge, 0, len(rels)),
	}
	for _, e := range entities {
		meta := make(map[string]any, len(e.Metadata)+2)
		for k, v := range e.Metadata {
			meta[k] = v
		}
		if len(e.Aliases) > 0 {
			meta["aliases"] = e.Aliases
		}
		if !e.LastSeenAt.IsZero() {
			meta["last_seen_at"] = e.LastSeenAt
		}
		g.Nodes = append(g.Nodes, model.GraphNode{ID: e.ID, Label: e.Label(), Type: e.Type, Metadata: meta})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })

	types := map[model.RelationshipType]struct{}{}
	for _, r := range rels {
		g.Edges = append(g.Edges, model.GraphEdge{
			ID:           r.ID,
			Source:       r.SourceEntityID,
			Target:       r.TargetEntityID,
			Type:         r.RelationshipType,
			Strength:     r.Strength,
			ArticleCount: r.ArticleCount,
			Label:        strings.ReplaceAll(string(r.RelationshipType), "_", " "),
			Context:      r.Context,
		})
		types[r.RelationshipType] = struct{}{}
	}
	sort.SliceStable(g.Edges, func(i, j int) bool { return g.Edges[i].Strength > g.Edges[j].Strength })

	g.Stats = model.GraphStats{
		NodeCount:         len(g.Nodes),
		EdgeCount:         len(g.Edges),
		RelationshipTypes: make([]model.RelationshipType, 0, len(types)),
	}
	for t := range types {
		g.Stats.RelationshipTypes = append(g.Stats.RelationshipTypes, t)
	}
	sort.Slice(g.Stats.RelationshipTypes, func(i, j int) bool {
		return g.Stats.RelationshipTypes[i] < g.Stats.RelationshipTypes[j]
	})
	return g
}
