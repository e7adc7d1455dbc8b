// Package graph mirrors the entity network into Neo4j for graph queries.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
)

const connectTimeout = 10 * time.Second

var schemaStatements = []string{
	`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX entity_canonical_idx IF NOT EXISTS FOR (e:Entity) ON (e.canonical_name, e.type)`,
}

const upsertNodes = `
UNWIND $rows AS n
MERGE (e:Entity {id: n.id})
SET e += n`

const upsertEdges = `
UNWIND $rows AS r
MATCH (a:Entity {id: r.source_id})
MATCH (b:Entity {id: r.target_id})
MERGE (a)-[rel:RELATED {type: r.type}]->(b)
SET rel.id = r.id,
    rel.strength = r.strength,
    rel.article_count = r.article_count,
    rel.context = r.context,
    rel.last_seen_at = r.last_seen_at,
    rel.synced_at = r.synced_at`

// Projector writes entities as (:Entity) nodes and relationships as
// [:RELATED] edges. A nil Projector, or one without a driver, does nothing.
type Projector struct {
	driver   neo4j.DriverWithContext
	database string

	schemaOnce sync.Once
	now        func() time.Time
}

// New connects to Neo4j. It returns nil, nil when no URI is configured.
func New(ctx context.Context, cfg config.Neo4jConfig) (*Projector, error) {
	if cfg.URI == "" {
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = connectTimeout
	})
	if err != nil {
		return nil, eris.Wrap(err, "graph: init driver")
	}

	vctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graph: verify connectivity")
	}
	return &Projector{driver: driver, database: cfg.Database, now: time.Now}, nil
}

// Project merges entities and relationships. Relationships whose endpoints
// are not among the projected or already stored nodes are skipped by the
// MATCH.
func (p *Projector) Project(ctx context.Context, entities []model.Entity, rels []model.EntityRelationship) error {
	if p == nil || p.driver == nil || (len(entities) == 0 && len(rels) == 0) {
		return nil
	}
	syncedAt := p.now().UTC().Format(time.RFC3339Nano)
	nodes := nodeRows(entities, syncedAt)
	edges := edgeRows(rels, syncedAt)

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: p.database})
	defer session.Close(ctx) //nolint:errcheck

	p.schemaOnce.Do(func() { ensureSchema(ctx, session) })

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, step := range []struct {
			query string
			rows  []map[string]any
		}{{upsertNodes, nodes}, {upsertEdges, edges}} {
			if len(step.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, step.query, map[string]any{"rows": step.rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return eris.Wrap(err, "graph: project")
	}
	zap.L().Debug("graph: projected", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	return nil
}

// ensureSchema may fail for restricted users; projection still works.
func ensureSchema(ctx context.Context, session neo4j.SessionWithContext) {
	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			zap.L().Warn("graph: schema init failed (continuing)", zap.Error(err))
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// Close releases the driver.
func (p *Projector) Close(ctx context.Context) error {
	if p == nil || p.driver == nil {
		return nil
	}
	err := p.driver.Close(ctx)
	p.driver = nil
	return eris.Wrap(err, "graph: close driver")
}

func nodeRows(entities []model.Entity, syncedAt string) []map[string]any {
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		aliases := e.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		rows = append(rows, map[string]any{
			"id":             e.ID,
			"name":           e.Name,
			"canonical_name": e.Label(),
			"type":           string(e.Type),
			"aliases":        aliases,
			"last_seen_at":   e.LastSeenAt.UTC().Format(time.RFC3339),
			"synced_at":      syncedAt,
		})
	}
	return rows
}

func edgeRows(rels []model.EntityRelationship, syncedAt string) []map[string]any {
	rows := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		if r.SourceEntityID == "" || r.TargetEntityID == "" || r.RelationshipType == "" {
			continue
		}
		rows = append(rows, map[string]any{
			"id":            r.ID,
			"source_id":     r.SourceEntityID,
			"target_id":     r.TargetEntityID,
			"type":          string(r.RelationshipType),
			"strength":      r.Strength,
			"article_count": int64(r.ArticleCount),
			"context":       r.Context,
			"last_seen_at":  r.LastSeenAt.UTC().Format(time.RFC3339),
			"synced_at":     syncedAt,
		})
	}
	return rows
}
