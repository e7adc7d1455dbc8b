package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/db"
	"github.com/sells-group/intel-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Articles

const pgArticleCols = `id, title, snippet, content, published_at, domain, source_id, countries, topics, entities, cluster_id, created_at`

var articleUpsert = db.UpsertConfig{
	Table:        "articles",
	Columns:      []string{"id", "title", "snippet", "content", "published_at", "domain", "source_id", "countries", "topics", "entities", "created_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"title", "snippet", "content", "published_at", "domain", "source_id", "countries", "topics", "entities"},
}

// UpsertArticles loads articles through COPY. Existing rows keep their
// cluster assignment.
func (s *PostgresStore) UpsertArticles(ctx context.Context, articles []model.Article) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(articles))
	for _, a := range articles {
		var entities []byte
		if !a.Entities.Empty() {
			var err error
			if entities, err = json.Marshal(a.Entities); err != nil {
				return 0, eris.Wrapf(err, "postgres: marshal entities for article %s", a.ID)
			}
		}
		rows = append(rows, []any{
			a.ID, a.Title, a.Snippet, a.Content, a.PublishedAt.UTC(), a.Domain, a.SourceID,
			emptyIfNil(a.Countries), emptyIfNil(a.Topics), entities, now,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, articleUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert articles")
}

func scanPgArticle(row pgx.Row) (*model.Article, error) {
	var a model.Article
	var entities []byte
	if err := row.Scan(&a.ID, &a.Title, &a.Snippet, &a.Content, &a.PublishedAt, &a.Domain,
		&a.SourceID, &a.Countries, &a.Topics, &entities, &a.ClusterID, &a.CreatedAt); err != nil {
		return nil, err
	}
	if len(entities) > 0 {
		a.Entities = &model.TaggedEntities{}
		if err := json.Unmarshal(entities, a.Entities); err != nil {
			return nil, eris.Wrapf(err, "unmarshal entities for article %s", a.ID)
		}
	}
	return &a, nil
}

func (s *PostgresStore) queryArticles(ctx context.Context, op, query string, args ...any) ([]model.Article, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Article
	for rows.Next() {
		a, err := scanPgArticle(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *a)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	a, err := scanPgArticle(s.pool.QueryRow(ctx, `SELECT `+pgArticleCols+` FROM articles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get article %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListUnclusteredArticles(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unclustered articles",
		`SELECT `+pgArticleCols+` FROM articles
		 WHERE cluster_id IS NULL AND published_at >= $1
		 ORDER BY published_at DESC LIMIT $2`,
		since.UTC(), defaultLimit(limit, 200))
}

func (s *PostgresStore) ListUnclusteredBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unclustered between",
		`SELECT `+pgArticleCols+` FROM articles
		 WHERE cluster_id IS NULL AND published_at BETWEEN $1 AND $2
		 ORDER BY published_at DESC LIMIT $3`,
		from.UTC(), to.UTC(), defaultLimit(limit, 500))
}

func (s *PostgresStore) ListArticlesByCluster(ctx context.Context, clusterID string, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list cluster articles",
		`SELECT `+pgArticleCols+` FROM articles WHERE cluster_id = $1
		 ORDER BY published_at DESC LIMIT $2`,
		clusterID, defaultLimit(limit, 100))
}

func (s *PostgresStore) ListUnanalyzedSince(ctx context.Context, since time.Time, limit int) ([]model.Article, error) {
	return s.queryArticles(ctx, "list unanalyzed articles",
		`SELECT `+pgArticleCols+` FROM articles
		 WHERE published_at >= $1 AND network_analyzed_at IS NULL
		 ORDER BY published_at DESC LIMIT $2`,
		since.UTC(), defaultLimit(limit, 100))
}

func (s *PostgresStore) MarkNetworkAnalyzed(ctx context.Context, articleID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE articles SET network_analyzed_at = $1 WHERE id = $2`, at.UTC(), articleID)
	return eris.Wrapf(err, "postgres: mark article %s analyzed", articleID)
}

func (s *PostgresStore) LinkArticles(ctx context.Context, clusterID string, articleIDs []string) (int64, error) {
	if len(articleIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE articles SET cluster_id = $1 WHERE id = ANY($2) AND cluster_id IS NULL`,
		clusterID, articleIDs)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: link articles to cluster %s", clusterID)
	}
	return tag.RowsAffected(), nil
}

// Clusters

const pgClusterCols = `id, canonical_title, summary, title_hash, window_start, window_end, countries, topics,
	severity, confidence, article_count, source_count, entities, enriched_at, created_at, updated_at`

func scanPgCluster(row pgx.Row) (*model.Cluster, error) {
	var c model.Cluster
	var entities []byte
	if err := row.Scan(&c.ID, &c.CanonicalTitle, &c.Summary, &c.TitleHash, &c.WindowStart, &c.WindowEnd,
		&c.Countries, &c.Topics, &c.Severity, &c.Confidence, &c.ArticleCount, &c.SourceCount,
		&entities, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &c.Entities); err != nil {
			return nil, eris.Wrapf(err, "unmarshal analysis for cluster %s", c.ID)
		}
	}
	return &c, nil
}

func (s *PostgresStore) queryClusters(ctx context.Context, op, query string, args ...any) ([]model.Cluster, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		c, err := scanPgCluster(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *c)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func (s *PostgresStore) CreateCluster(ctx context.Context, c *model.Cluster) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	entities, err := json.Marshal(c.Entities)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cluster analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO clusters (id, canonical_title, summary, title_hash, window_start, window_end, countries, topics,
		   severity, confidence, article_count, source_count, entities, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		c.ID, c.CanonicalTitle, c.Summary, c.TitleHash, c.WindowStart.UTC(), c.WindowEnd.UTC(),
		emptyIfNil(c.Countries), emptyIfNil(c.Topics), c.Severity, c.Confidence,
		c.ArticleCount, c.SourceCount, entities, now,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateCluster
	}
	return eris.Wrap(err, "postgres: create cluster")
}

func (s *PostgresStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	c, err := scanPgCluster(s.pool.QueryRow(ctx, `SELECT `+pgClusterCols+` FROM clusters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cluster %s", id)
	}
	return c, nil
}

func (s *PostgresStore) FindCluster(ctx context.Context, titleHash string, windowStart time.Time) (*model.Cluster, error) {
	c, err := scanPgCluster(s.pool.QueryRow(ctx,
		`SELECT `+pgClusterCols+` FROM clusters WHERE title_hash = $1 AND window_start = $2`,
		titleHash, windowStart.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find cluster")
	}
	return c, nil
}

func (s *PostgresStore) ListOpenClusters(ctx context.Context, since time.Time, limit int) ([]model.Cluster, error) {
	return s.queryClusters(ctx, "list open clusters",
		`SELECT `+pgClusterCols+` FROM clusters WHERE window_end >= $1
		 ORDER BY window_end DESC LIMIT $2`,
		since.UTC(), defaultLimit(limit, 100))
}

func (s *PostgresStore) ListClusters(ctx context.Context, filter ClusterFilter) ([]model.Cluster, error) {
	query := `SELECT ` + pgClusterCols + ` FROM clusters`
	if filter.UnenrichedOnly {
		query += ` WHERE enriched_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC LIMIT $1 OFFSET $2`
	return s.queryClusters(ctx, "list clusters", query, defaultLimit(filter.Limit, 50), max(filter.Offset, 0))
}

func (s *PostgresStore) RecountCluster(ctx context.Context, id string) (*model.ClusterStats, error) {
	var st model.ClusterStats
	err := s.pool.QueryRow(ctx,
		`UPDATE clusters c SET
		   article_count = m.n,
		   source_count  = m.sources,
		   window_start  = COALESCE(m.first_pub, c.window_start),
		   window_end    = COALESCE(m.last_pub, c.window_end),
		   updated_at    = now()
		 FROM (
		   SELECT COUNT(*) AS n,
		          COUNT(DISTINCT COALESCE(NULLIF(source_id, ''), domain)) AS sources,
		          MIN(published_at) AS first_pub,
		          MAX(published_at) AS last_pub
		   FROM articles WHERE cluster_id = $1
		 ) m
		 WHERE c.id = $1
		 RETURNING c.article_count, c.source_count, c.window_start, c.window_end`,
		id,
	).Scan(&st.ArticleCount, &st.SourceCount, &st.WindowStart, &st.WindowEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("cluster not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: recount cluster %s", id)
	}
	return &st, nil
}

func (s *PostgresStore) ApplyClusterAnalysis(ctx context.Context, id string, e ClusterEnrichment) error {
	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cluster analysis")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE clusters SET canonical_title = $1, summary = $2, countries = $3, topics = $4,
		   severity = $5, confidence = $6, entities = $7, enriched_at = $8, updated_at = $8
		 WHERE id = $9`,
		e.CanonicalTitle, e.Summary, emptyIfNil(e.Countries), emptyIfNil(e.Topics),
		e.Severity, e.Confidence, analysis, e.EnrichedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply analysis to cluster %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("cluster not found: %s", id)
	}
	return nil
}
