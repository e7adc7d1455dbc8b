package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/intel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Array columns are
// stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_time_format=sqlite")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func toJSONText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fromJSONList(raw string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// placeholders returns "?, ?, ..." for n args.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// Articles

const sqliteArticleCols = `id, title, snippet, content, published_at, domain, source_id, countries, topics, entities, cluster_id, created_at`

func (s *SQLiteStore) UpsertArticles(ctx context.Context, articles []model.Article) (int64, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert articles")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO articles (id, title, snippet, content, published_at, domain, source_id, countries, topics, entities, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title, snippet = excluded.snippet, content = excluded.content,
		   published_at = excluded.published_at, domain = excluded.domain, source_id = excluded.source_id,
		   countries = excluded.countries, topics = excluded.topics, entities = excluded.entities`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert articles")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var total int64
	for _, a := range articles {
		countries, err := toJSONText(emptyIfNil(a.Countries))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal countries")
		}
		topics, err := toJSONText(emptyIfNil(a.Topics))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal topics")
		}
		var entities sql.NullString
		if !a.Entities.Empty() {
			text, err := toJSONText(a.Entities)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal entities for article %s", a.ID)
			}
			entities = sql.NullString{String: text, Valid: true}
		}
		res, err := stmt.ExecContext(ctx, a.ID, a.Title, a.Snippet, a.Content, a.PublishedAt.UTC(),
			a.Domain, a.SourceID, countries, topics, entities, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert article %s", a.ID)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert articles")
	}
	return total, nil
}

func scanSQLiteArticle(row scannable) (*model.Article, error) {
	var a model.Article
	var countries, topics string
	var entities, clusterID sql.NullString
	if err := row.Scan(&a.ID, &a.Title, &a.Snippet, &a.Content, &a.PublishedAt, &a.Domain, &a.SourceID,
		&countries, &topics, &entities, &clusterID, &a.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Countries, err = fromJSONList(countries); err != nil {
		return nil, eris.Wrapf(err, "unmarshal countries for article %s", a.ID)
	}
	if a.Topics, err = fromJSONList(topics); err != nil {
		return nil, eris.Wrapf(err, "unmarshal topics for article %s", a.ID)
	}
	if entities.Valid && entities.String != "" {
		a.Entities = &model.TaggedEntities{}
		if err := json.Unmarshal([]byte(entities.String), a.Entities); err != nil {
			return nil, eris.Wrapf(err, "unmarshal entities for article %s", a.ID)
		}
	}
	if clusterID.Valid {
		a.ClusterID = &clusterID.String
	}
	return &a, nil
}

func (s *SQLiteStore) queryArticles(ctx context.Context, op, query string, args ...any) ([]model.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Article
	for rows.Next() {
		a, err := scanSQLiteArticle(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *a)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := scanSQLiteArticle(s.db.QueryRowContext(ctx, `SELECT `+sqliteArticleCols+` FROM articles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get article %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListUnclusteredArticles(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unclustered articles",
		`SELECT `+sqliteArticleCols+` FROM articles
		 WHERE cluster_id IS NULL AND published_at >= ?
		 ORDER BY published_at DESC LIMIT ?`,
		since.UTC(), defaultLimit(limit, 200))
}

func (s *SQLiteStore) ListUnclusteredBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unclustered between",
		`SELECT `+sqliteArticleCols+` FROM articles
		 WHERE cluster_id IS NULL AND published_at >= ? AND published_at <= ?
		 ORDER BY published_at DESC LIMIT ?`,
		from.UTC(), to.UTC(), defaultLimit(limit, 500))
}

func (s *SQLiteStore) ListArticlesByCluster(ctx context.Context, clusterID string, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list cluster articles",
		`SELECT `+sqliteArticleCols+` FROM articles WHERE cluster_id = ?
		 ORDER BY published_at DESC LIMIT ?`,
		clusterID, defaultLimit(limit, 100))
}

func (s *SQLiteStore) ListUnanalyzedSince(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unanalyzed articles",
		`SELECT `+sqliteArticleCols+` FROM articles
		 WHERE published_at >= ? AND network_analyzed_at IS NULL
		 ORDER BY published_at DESC LIMIT ?`,
		since.UTC(), defaultLimit(limit, 100))
}

func (s *SQLiteStore) MarkNetworkAnalyzed(ctx context.Context, articleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE articles SET network_analyzed_at = ? WHERE id = ?`, at.UTC(), articleID)
	return eris.Wrapf(err, "sqlite: mark article %s analyzed", articleID)
}

func (s *SQLiteStore) LinkArticles(ctx context.Context, clusterID string, articleIDs []string) (int64, error) {
	if len(articleIDs) == 0 {
		return 0, nil
	}
	args := append([]any{clusterID}, stringArgs(articleIDs)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET cluster_id = ? WHERE cluster_id IS NULL AND id IN (`+placeholders(len(articleIDs))+`)`,
		args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: link articles to cluster %s", clusterID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: link articles rows affected")
}

// Clusters

const sqliteClusterCols = `id, canonical_title, summary, title_hash, window_start, window_end, countries, topics,
	severity, confidence, article_count, source_count, entities, enriched_at, created_at, updated_at`

func scanSQLiteCluster(row scannable) (*model.Cluster, error) {
	var c model.Cluster
	var countries, topics, entities string
	var enrichedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.CanonicalTitle, &c.Summary, &c.TitleHash, &c.WindowStart, &c.WindowEnd,
		&countries, &topics, &c.Severity, &c.Confidence, &c.ArticleCount, &c.SourceCount,
		&entities, &enrichedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Countries, err = fromJSONList(countries); err != nil {
		return nil, eris.Wrapf(err, "unmarshal countries for cluster %s", c.ID)
	}
	if c.Topics, err = fromJSONList(topics); err != nil {
		return nil, eris.Wrapf(err, "unmarshal topics for cluster %s", c.ID)
	}
	if entities != "" {
		if err := json.Unmarshal([]byte(entities), &c.Entities); err != nil {
			return nil, eris.Wrapf(err, "unmarshal analysis for cluster %s", c.ID)
		}
	}
	if enrichedAt.Valid {
		t := enrichedAt.Time
		c.EnrichedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) queryClusters(ctx context.Context, op, query string, args ...any) ([]model.Cluster, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Cluster
	for rows.Next() {
		c, err := scanSQLiteCluster(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *c)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func (s *SQLiteStore) getCluster(ctx context.Context, query string, args ...any) (*model.Cluster, error) {
	c, err := scanSQLiteCluster(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) CreateCluster(ctx context.Context, c *model.Cluster) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	countries, err := toJSONText(emptyIfNil(c.Countries))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal countries")
	}
	topics, err := toJSONText(emptyIfNil(c.Topics))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal topics")
	}
	entities, err := toJSONText(c.Entities)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cluster analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clusters (id, canonical_title, summary, title_hash, window_start, window_end, countries, topics,
		   severity, confidence, article_count, source_count, entities, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CanonicalTitle, c.Summary, c.TitleHash, c.WindowStart.UTC(), c.WindowEnd.UTC(),
		countries, topics, c.Severity, c.Confidence, c.ArticleCount, c.SourceCount, entities, now, now,
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateCluster
	}
	return eris.Wrap(err, "sqlite: create cluster")
}

func (s *SQLiteStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	c, err := s.getCluster(ctx, `SELECT `+sqliteClusterCols+` FROM clusters WHERE id = ?`, id)
	return c, eris.Wrapf(err, "sqlite: get cluster %s", id)
}

func (s *SQLiteStore) FindCluster(ctx context.Context, titleHash string, windowStart time.Time) (*model.Cluster, error) {
	c, err := s.getCluster(ctx,
		`SELECT `+sqliteClusterCols+` FROM clusters WHERE title_hash = ? AND window_start = ?`,
		titleHash, windowStart.UTC())
	return c, eris.Wrap(err, "sqlite: find cluster")
}

func (s *SQLiteStore) ListOpenClusters(ctx context.Context, since time.Time, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "list open clusters",
		`SELECT `+sqliteClusterCols+` FROM clusters WHERE window_end >= ?
		 ORDER BY window_end DESC LIMIT ?`,
		since.UTC(), defaultLimit(limit, 100))
}

func (s *SQLiteStore) ListClusters(ctx context.Context, filter ClusterFilter) ([]model.Cluster, error) {
	query := `SELECT ` + sqliteClusterCols + ` FROM clusters`
	if filter.UnenrichedOnly {
		query += ` WHERE enriched_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	return s.queryClusters(ctx, "list clusters", query, defaultLimit(filter.Limit, 50), max(filter.Offset, 0))
}

// RecountCluster writes the aggregates first and reads them back through the
// declared columns so timestamps scan as DATETIME.
func (s *SQLiteStore) RecountCluster(ctx context.Context, id string) (*model.ClusterStats, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET
		   article_count = (SELECT COUNT(*) FROM articles WHERE cluster_id = ?1),
		   source_count  = (SELECT COUNT(DISTINCT COALESCE(NULLIF(source_id, ''), domain)) FROM articles WHERE cluster_id = ?1),
		   window_start  = COALESCE((SELECT MIN(published_at) FROM articles WHERE cluster_id = ?1), window_start),
		   window_end    = COALESCE((SELECT MAX(published_at) FROM articles WHERE cluster_id = ?1), window_end),
		   updated_at    = ?2
		 WHERE id = ?1`,
		id, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: recount cluster %s", id)
	}
	if err := checkRowsAffected(res, "cluster", id); err != nil {
		return nil, err
	}

	var st model.ClusterStats
	err = s.db.QueryRowContext(ctx,
		`SELECT article_count, source_count, window_start, window_end FROM clusters WHERE id = ?`, id,
	).Scan(&st.ArticleCount, &st.SourceCount, &st.WindowStart, &st.WindowEnd)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read recount for cluster %s", id)
	}
	return &st, nil
}

func (s *SQLiteStore) ApplyClusterAnalysis(ctx context.Context, id string, e ClusterEnrichment) error {
	countries, err := toJSONText(emptyIfNil(e.Countries))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal countries")
	}
	topics, err := toJSONText(emptyIfNil(e.Topics))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal topics")
	}
	analysis, err := toJSONText(e.Analysis)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cluster analysis")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE clusters SET canonical_title = ?, summary = ?, countries = ?, topics = ?,
		   severity = ?, confidence = ?, entities = ?, enriched_at = ?, updated_at = ?
		 WHERE id = ?`,
		e.CanonicalTitle, e.Summary, countries, topics, e.Severity, e.Confidence, analysis,
		e.EnrichedAt.UTC(), e.EnrichedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply analysis to cluster %s", id)
	}
	return checkRowsAffected(res, "cluster", id)
}
