package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

const pgEntityCols = `id, name, type, canonical_name, aliases, metadata, last_seen_at, created_at`

func scanPgEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	var metadata []byte
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &e.CanonicalName, &e.Aliases, &metadata, &e.LastSeenAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, eris.Wrapf(err, "unmarshal metadata for entity %s", e.ID)
		}
	}
	return &e, nil
}

func (s *PostgresStore) findEntity(ctx context.Context, query string, args ...any) (*model.Entity, error) {
	e, err := scanPgEntity(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find entity")
	}
	return e, nil
}

// FindEntity matches name exactly against the name, canonical name or any
// alias of entities of type t.
func (s *PostgresStore) FindEntity(ctx context.Context, name string, t model.EntityType) (*model.Entity, error) {
	return s.findEntity(ctx,
		`SELECT `+pgEntityCols+` FROM entities
		 WHERE type = $2 AND (name = $1 OR canonical_name = $1 OR $1 = ANY(aliases))
		 ORDER BY (canonical_name = $1) DESC, created_at ASC LIMIT 1`,
		name, string(t))
}

func (s *PostgresStore) FindEntityByCanonical(ctx context.Context, canonical string, t model.EntityType) (*model.Entity, error) {
	return s.findEntity(ctx,
		`SELECT `+pgEntityCols+` FROM entities WHERE canonical_name = $1 AND type = $2`,
		canonical, string(t))
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.LastSeenAt = now, now
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal entity metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, name, type, canonical_name, aliases, metadata, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		e.ID, e.Name, string(e.Type), e.CanonicalName, emptyIfNil(e.Aliases), metadata, now,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEntity
	}
	return eris.Wrap(err, "postgres: create entity")
}

func (s *PostgresStore) TouchEntity(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET last_seen_at = GREATEST(last_seen_at, $1) WHERE id = $2`, at.UTC(), id)
	return eris.Wrapf(err, "postgres: touch entity %s", id)
}

// AddAlias appends alias unless it is already present or equals the
// canonical name.
func (s *PostgresStore) AddAlias(ctx context.Context, id, alias string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET aliases = array_append(aliases, $1), last_seen_at = now()
		 WHERE id = $2 AND canonical_name <> $1 AND NOT ($1 = ANY(aliases))`,
		alias, id)
	return eris.Wrapf(err, "postgres: add alias to entity %s", id)
}

func (s *PostgresStore) GetEntities(ctx context.Context, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+pgEntityCols+` FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanPgEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get entities iterate")
}

func (s *PostgresStore) UpsertMention(ctx context.Context, m model.EntityMention) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_mentions (entity_id, article_id, cluster_id, context, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, now())
		 ON CONFLICT (entity_id, article_id) DO UPDATE SET
		   cluster_id = COALESCE(EXCLUDED.cluster_id, entity_mentions.cluster_id),
		   context = CASE WHEN EXCLUDED.context <> '' THEN EXCLUDED.context ELSE entity_mentions.context END`,
		m.EntityID, m.ArticleID, m.ClusterID, m.Context,
	)
	return eris.Wrap(err, "postgres: upsert mention")
}

func (s *PostgresStore) ListMentionsByArticle(ctx context.Context, articleID string) ([]model.EntityMention, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.entity_id, m.article_id, COALESCE(m.cluster_id, ''), m.context, m.created_at,
		        e.name, e.type, e.canonical_name
		 FROM entity_mentions m JOIN entities e ON e.id = m.entity_id
		 WHERE m.article_id = $1
		 ORDER BY e.id`,
		articleID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list mentions for article %s", articleID)
	}
	defer rows.Close()

	var out []model.EntityMention
	for rows.Next() {
		var m model.EntityMention
		var created time.Time
		e := &model.Entity{}
		if err := rows.Scan(&m.EntityID, &m.ArticleID, &m.ClusterID, &m.Context, &created,
			&e.Name, &e.Type, &e.CanonicalName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		e.ID = m.EntityID
		m.Entity = e
		m.CreatedAt = &created
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list mentions iterate")
}

const pgRelationshipCols = `id, source_entity_id, target_entity_id, relationship_type, strength, article_count,
	cluster_ids, context, first_seen_at, last_seen_at`

func scanPgRelationship(row pgx.Row) (*model.EntityRelationship, error) {
	var r model.EntityRelationship
	err := row.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType, &r.Strength,
		&r.ArticleCount, &r.ClusterIDs, &r.Context, &r.FirstSeenAt, &r.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRelationship inserts the observation or folds it into the existing
// row as a running mean of strength.
func (s *PostgresStore) UpsertRelationship(ctx context.Context, obs model.RelationshipObservation) (*model.EntityRelationship, error) {
	clusterIDs := []string{}
	if obs.ClusterID != "" {
		clusterIDs = append(clusterIDs, obs.ClusterID)
	}
	r, err := scanPgRelationship(s.pool.QueryRow(ctx,
		`INSERT INTO entity_relationships AS r (id, source_entity_id, target_entity_id, relationship_type,
		   strength, article_count, cluster_ids, context, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6, $7, now(), now())
		 ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
		   strength = LEAST(1, GREATEST(0, (r.strength * r.article_count + EXCLUDED.strength) / (r.article_count + 1))),
		   article_count = r.article_count + 1,
		   cluster_ids = ARRAY(SELECT DISTINCT unnest(r.cluster_ids || EXCLUDED.cluster_ids)),
		   last_seen_at = now(),
		   context = CASE WHEN EXCLUDED.context <> '' THEN EXCLUDED.context ELSE r.context END
		 RETURNING `+pgRelationshipCols,
		uuid.New().String(), obs.SourceEntityID, obs.TargetEntityID, string(obs.RelationshipType),
		clampStrength(obs.Strength), clusterIDs, obs.Context,
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert relationship")
	}
	return r, nil
}

func (s *PostgresStore) ListRelationships(ctx context.Context, filter model.GraphFilter) ([]model.EntityRelationship, error) {
	query := `SELECT ` + pgRelationshipCols + ` FROM entity_relationships WHERE strength >= $1`
	args := []any{filter.StrengthFloor()}

	if len(filter.RelationshipTypes) > 0 {
		types := make([]string, len(filter.RelationshipTypes))
		for i, t := range filter.RelationshipTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(` AND relationship_type = ANY($%d)`, len(args))
	}
	if len(filter.EntityIDs) > 0 {
		args = append(args, filter.EntityIDs)
		query += fmt.Sprintf(` AND (source_entity_id = ANY($%d) OR target_entity_id = ANY($%d))`, len(args), len(args))
	}
	args = append(args, defaultLimit(filter.Limit, 100))
	query += fmt.Sprintf(` ORDER BY strength DESC, article_count DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list relationships")
	}
	defer rows.Close()

	var out []model.EntityRelationship
	for rows.Next() {
		r, err := scanPgRelationship(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan relationship")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list relationships iterate")
}
