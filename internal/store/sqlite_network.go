package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
)

// Entities

const sqliteEntityCols = `id, name, type, canonical_name, aliases, metadata, last_seen_at, created_at`

func scanSQLiteEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var aliases, metadata string
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &e.CanonicalName, &aliases, &metadata, &e.LastSeenAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Aliases, err = fromJSONList(aliases); err != nil {
		return nil, eris.Wrapf(err, "unmarshal aliases for entity %s", e.ID)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, eris.Wrapf(err, "unmarshal metadata for entity %s", e.ID)
		}
	}
	return &e, nil
}

func (s *SQLiteStore) findEntity(ctx context.Context, query string, args ...any) (*model.Entity, error) {
	e, err := scanSQLiteEntity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find entity")
	}
	return e, nil
}

func (s *SQLiteStore) FindEntity(ctx context.Context, name string, t model.EntityType) (*model.Entity, error) {
	return s.findEntity(ctx,
		`SELECT `+sqliteEntityCols+` FROM entities
		 WHERE type = ?2 AND (name = ?1 OR canonical_name = ?1
		   OR EXISTS (SELECT 1 FROM json_each(entities.aliases) WHERE value = ?1))
		 ORDER BY (canonical_name = ?1) DESC, created_at ASC LIMIT 1`,
		name, string(t))
}

func (s *SQLiteStore) FindEntityByCanonical(ctx context.Context, canonical string, t model.EntityType) (*model.Entity, error) {
	return s.findEntity(ctx,
		`SELECT `+sqliteEntityCols+` FROM entities WHERE canonical_name = ? AND type = ?`,
		canonical, string(t))
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.LastSeenAt = now, now
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	aliases, err := toJSONText(emptyIfNil(e.Aliases))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	metadata, err := toJSONText(e.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entity metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, name, type, canonical_name, aliases, metadata, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Type), e.CanonicalName, aliases, metadata, now, now,
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateEntity
	}
	return eris.Wrap(err, "sqlite: create entity")
}

func (s *SQLiteStore) TouchEntity(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_seen_at = MAX(last_seen_at, ?) WHERE id = ?`, at.UTC(), id)
	return eris.Wrapf(err, "sqlite: touch entity %s", id)
}

func (s *SQLiteStore) AddAlias(ctx context.Context, id, alias string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = json_insert(aliases, '$[#]', ?1), last_seen_at = ?3
		 WHERE id = ?2 AND canonical_name <> ?1
		   AND NOT EXISTS (SELECT 1 FROM json_each(entities.aliases) WHERE value = ?1)`,
		alias, id, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: add alias to entity %s", id)
}

func (s *SQLiteStore) GetEntities(ctx context.Context, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEntityCols+` FROM entities WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get entities iterate")
}

func (s *SQLiteStore) UpsertMention(ctx context.Context, m model.EntityMention) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_mentions (entity_id, article_id, cluster_id, context, created_at)
		 VALUES (?, ?, NULLIF(?, ''), ?, ?)
		 ON CONFLICT (entity_id, article_id) DO UPDATE SET
		   cluster_id = COALESCE(excluded.cluster_id, entity_mentions.cluster_id),
		   context = CASE WHEN excluded.context <> '' THEN excluded.context ELSE entity_mentions.context END`,
		m.EntityID, m.ArticleID, m.ClusterID, m.Context, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert mention")
}

func (s *SQLiteStore) ListMentionsByArticle(ctx context.Context, articleID string) ([]model.EntityMention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.entity_id, m.article_id, m.cluster_id, m.context, m.created_at,
		        e.name, e.type, e.canonical_name
		 FROM entity_mentions m JOIN entities e ON e.id = m.entity_id
		 WHERE m.article_id = ?
		 ORDER BY e.id`,
		articleID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list mentions for article %s", articleID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EntityMention
	for rows.Next() {
		var m model.EntityMention
		var clusterID sql.NullString
		var created time.Time
		e := &model.Entity{}
		if err := rows.Scan(&m.EntityID, &m.ArticleID, &clusterID, &m.Context, &created,
			&e.Name, &e.Type, &e.CanonicalName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		m.ClusterID = clusterID.String
		e.ID = m.EntityID
		m.Entity = e
		m.CreatedAt = &created
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list mentions iterate")
}

// Relationships

const sqliteRelationshipCols = `id, source_entity_id, target_entity_id, relationship_type, strength, article_count,
	cluster_ids, context, first_seen_at, last_seen_at`

func scanSQLiteRelationship(row scannable) (*model.EntityRelationship, error) {
	var r model.EntityRelationship
	var clusterIDs string
	if err := row.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType, &r.Strength,
		&r.ArticleCount, &clusterIDs, &r.Context, &r.FirstSeenAt, &r.LastSeenAt); err != nil {
		return nil, err
	}
	var err error
	if r.ClusterIDs, err = fromJSONList(clusterIDs); err != nil {
		return nil, eris.Wrapf(err, "unmarshal cluster ids for relationship %s", r.ID)
	}
	return &r, nil
}

func (s *SQLiteStore) UpsertRelationship(ctx context.Context, obs model.RelationshipObservation) (*model.EntityRelationship, error) {
	clusterIDs := []string{}
	if obs.ClusterID != "" {
		clusterIDs = append(clusterIDs, obs.ClusterID)
	}
	clusterJSON, err := toJSONText(clusterIDs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal cluster ids")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_relationships (id, source_entity_id, target_entity_id, relationship_type,
		   strength, article_count, cluster_ids, context, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT (source_entity_id, target_entity_id, relationship_type) DO UPDATE SET
		   strength = MIN(1.0, MAX(0.0, (entity_relationships.strength * entity_relationships.article_count + excluded.strength)
		     / (entity_relationships.article_count + 1.0))),
		   article_count = entity_relationships.article_count + 1,
		   cluster_ids = (SELECT json_group_array(value) FROM (
		     SELECT value FROM json_each(entity_relationships.cluster_ids)
		     UNION SELECT value FROM json_each(excluded.cluster_ids))),
		   last_seen_at = excluded.last_seen_at,
		   context = CASE WHEN excluded.context <> '' THEN excluded.context ELSE entity_relationships.context END`,
		uuid.New().String(), obs.SourceEntityID, obs.TargetEntityID, string(obs.RelationshipType),
		clampStrength(obs.Strength), clusterJSON, obs.Context, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert relationship")
	}

	r, err := scanSQLiteRelationship(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRelationshipCols+` FROM entity_relationships
		 WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?`,
		obs.SourceEntityID, obs.TargetEntityID, string(obs.RelationshipType)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read relationship")
	}
	return r, nil
}

func (s *SQLiteStore) ListRelationships(ctx context.Context, filter model.GraphFilter) ([]model.EntityRelationship, error) {
	query := `SELECT ` + sqliteRelationshipCols + ` FROM entity_relationships WHERE strength >= ?`
	args := []any{filter.StrengthFloor()}

	if len(filter.RelationshipTypes) > 0 {
		query += ` AND relationship_type IN (` + placeholders(len(filter.RelationshipTypes)) + `)`
		for _, t := range filter.RelationshipTypes {
			args = append(args, string(t))
		}
	}
	if len(filter.EntityIDs) > 0 {
		in := placeholders(len(filter.EntityIDs))
		query += ` AND (source_entity_id IN (` + in + `) OR target_entity_id IN (` + in + `))`
		args = append(args, stringArgs(filter.EntityIDs)...)
		args = append(args, stringArgs(filter.EntityIDs)...)
	}
	query += ` ORDER BY strength DESC, article_count DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit, 100))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list relationships")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EntityRelationship
	for rows.Next() {
		r, err := scanSQLiteRelationship(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relationship")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list relationships iterate")
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(kind), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{ID: id, Kind: kind, Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := toJSONText(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		errMsg, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunCols = `id, kind, status, result, error, created_at, updated_at`

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var result, errMsg sql.NullString
	if err := row.Scan(&r.ID, &r.Kind, &r.Status, &result, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Error = errMsg.String
	if result.Valid && result.String != "" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(result.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal run result")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, `SELECT `+sqliteRunCols+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: get run: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunCols + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, defaultLimit(filter.Limit, 100), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, kind, subject_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (kind, subject_id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, string(entry.Kind), entry.SubjectID, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, kind, subject_id, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.DueOnly {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, time.Now().UTC())
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit, 100))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.SubjectID, &e.Error, &e.ErrorType, &e.RetryCount,
			&e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, kind resilience.WorkKind, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE kind = ? AND subject_id = ?`, string(kind), subjectID)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// Monitoring

func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM articles WHERE cluster_id IS NULL AND published_at >= ?1),
		   (SELECT COUNT(*) FROM clusters WHERE window_end >= ?1),
		   (SELECT COUNT(*) FROM clusters WHERE enriched_at IS NULL),
		   (SELECT COUNT(*) FROM entities),
		   (SELECT COUNT(*) FROM entity_relationships),
		   (SELECT COUNT(*) FROM dead_letter_queue),
		   (SELECT COUNT(*) FROM runs WHERE created_at >= ?1),
		   (SELECT COUNT(*) FROM runs WHERE created_at >= ?1 AND status = 'failed')`,
		since.UTC(),
	).Scan(&st.UnclusteredArticles, &st.OpenClusters, &st.UnenrichedClusters, &st.Entities,
		&st.Relationships, &st.DLQDepth, &st.RunsTotal, &st.RunsFailed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
