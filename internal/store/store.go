// Package store persists articles, clusters, the entity graph, runs and the
// dead letter queue. PostgresStore is the production backend; SQLiteStore
// serves local use and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
)

var (
	// ErrDuplicateCluster is returned by CreateCluster when a cluster with the
	// same title hash and window start already exists.
	ErrDuplicateCluster = eris.New("store: duplicate cluster")
	// ErrDuplicateEntity is returned by CreateEntity when (canonical name,
	// type) is already taken.
	ErrDuplicateEntity = eris.New("store: duplicate entity")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ClusterFilter specifies criteria for listing clusters.
type ClusterFilter struct {
	UnenrichedOnly bool `json:"unenriched_only,omitempty"`
	Limit          int  `json:"limit,omitempty"`
	Offset         int  `json:"offset,omitempty"`
}

// ClusterEnrichment is the sanitized AI analysis written to a cluster.
type ClusterEnrichment struct {
	CanonicalTitle string
	Summary        string
	Countries      []string
	Topics         []string
	Severity       int
	Confidence     int
	Analysis       model.ClusterAnalysis
	EnrichedAt     time.Time
}

// Stats is a point-in-time count of pipeline state.
type Stats struct {
	UnclusteredArticles int `json:"unclustered_articles"`
	OpenClusters        int `json:"open_clusters"`
	UnenrichedClusters  int `json:"unenriched_clusters"`
	Entities            int `json:"entities"`
	Relationships       int `json:"relationships"`
	DLQDepth            int `json:"dlq_depth"`
	RunsTotal           int `json:"runs_total"`
	RunsFailed          int `json:"runs_failed"`
}

// Store defines the persistence interface for clustering and network analysis.
type Store interface {
	// Articles
	UpsertArticles(ctx context.Context, articles []model.Article) (int64, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	ListUnclusteredArticles(ctx context.Context, since time.Time, limit int) ([]model.Article, error)
	ListUnclusteredBetween(ctx context.Context, from, to time.Time, limit int) ([]model.Article, error)
	ListArticlesByCluster(ctx context.Context, clusterID string, limit int) ([]model.Article, error)
	// ListUnanalyzedSince returns articles published since the cutoff that
	// have not been through network analysis, newest first.
	ListUnanalyzedSince(ctx context.Context, since time.Time, limit int) ([]model.Article, error)
	MarkNetworkAnalyzed(ctx context.Context, articleID string, at time.Time) error
	// LinkArticles assigns articles to a cluster, skipping any already
	// assigned, and returns how many were linked.
	LinkArticles(ctx context.Context, clusterID string, articleIDs []string) (int64, error)

	// Clusters
	CreateCluster(ctx context.Context, c *model.Cluster) error
	GetCluster(ctx context.Context, id string) (*model.Cluster, error)
	FindCluster(ctx context.Context, titleHash string, windowStart time.Time) (*model.Cluster, error)
	ListOpenClusters(ctx context.Context, since time.Time, limit int) ([]model.Cluster, error)
	ListClusters(ctx context.Context, filter ClusterFilter) ([]model.Cluster, error)
	// RecountCluster recomputes counts and window from member articles.
	RecountCluster(ctx context.Context, id string) (*model.ClusterStats, error)
	ApplyClusterAnalysis(ctx context.Context, id string, e ClusterEnrichment) error

	// Entities
	FindEntity(ctx context.Context, name string, t model.EntityType) (*model.Entity, error)
	FindEntityByCanonical(ctx context.Context, canonical string, t model.EntityType) (*model.Entity, error)
	CreateEntity(ctx context.Context, e *model.Entity) error
	TouchEntity(ctx context.Context, id string, at time.Time) error
	AddAlias(ctx context.Context, id, alias string) error
	GetEntities(ctx context.Context, ids []string) ([]model.Entity, error)
	UpsertMention(ctx context.Context, m model.EntityMention) error
	ListMentionsByArticle(ctx context.Context, articleID string) ([]model.EntityMention, error)
	UpsertRelationship(ctx context.Context, obs model.RelationshipObservation) (*model.EntityRelationship, error)
	ListRelationships(ctx context.Context, filter model.GraphFilter) ([]model.EntityRelationship, error)

	// Runs
	CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, kind resilience.WorkKind, subjectID string) error
	CountDLQ(ctx context.Context) (int, error)

	// Monitoring
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func clampStrength(s float64) float64 {
	return min(1, max(0, s))
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
