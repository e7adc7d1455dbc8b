package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, kind, status, result, COALESCE\(error, ''\), created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArticle_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM articles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.GetArticle(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkArticles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE articles SET cluster_id = \$1 WHERE id = ANY\(\$2\) AND cluster_id IS NULL`).
		WithArgs("c1", []string{"a1", "a2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := s.LinkArticles(context.Background(), "c1", []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkNetworkAnalyzed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE articles SET network_analyzed_at = \$1 WHERE id = \$2`).
		WithArgs(at, "a1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkNetworkAnalyzed(context.Background(), "a1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkArticles_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.LinkArticles(context.Background(), "c1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCluster_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO clusters`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.CreateCluster(context.Background(), &model.Cluster{
		CanonicalTitle: "Grid strikes",
		TitleHash:      "abc",
		WindowStart:    time.Now(),
		WindowEnd:      time.Now(),
	})
	assert.ErrorIs(t, err, ErrDuplicateCluster)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateEntity_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO entities`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateEntity(context.Background(), &model.Entity{Name: "NATO", Type: model.EntityOrganization, CanonicalName: "NATO"})
	assert.ErrorIs(t, err, ErrDuplicateEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindEntity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM entities\s+WHERE type = \$2 AND \(name = \$1 OR canonical_name = \$1 OR \$1 = ANY\(aliases\)\)`).
		WithArgs("Putin", "person").
		WillReturnError(pgx.ErrNoRows)

	e, err := s.FindEntity(context.Background(), "Putin", model.EntityPerson)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddAlias(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE entities SET aliases = array_append\(aliases, \$1\)`).
		WithArgs("Putin", "e1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.AddAlias(context.Background(), "e1", "Putin"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRelationship(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "source_entity_id", "target_entity_id", "relationship_type", "strength",
		"article_count", "cluster_ids", "context", "first_seen_at", "last_seen_at"}).
		AddRow("r1", "e1", "e2", model.RelLeadership, 0.6, 2, []string{"c1", "c2"}, "ctx", now, now)

	mock.ExpectQuery(`INSERT INTO entity_relationships AS r .* ON CONFLICT \(source_entity_id, target_entity_id, relationship_type\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "e1", "e2", "leadership", 1.0, []string{"c2"}, "").
		WillReturnRows(rows)

	r, err := s.UpsertRelationship(context.Background(), model.RelationshipObservation{
		SourceEntityID: "e1", TargetEntityID: "e2", RelationshipType: model.RelLeadership,
		Strength: 1.7, ClusterID: "c2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.ArticleCount)
	assert.InDelta(t, 0.6, r.Strength, 1e-9)
	assert.Equal(t, []string{"c1", "c2"}, r.ClusterIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, result = \$2`).
		WithArgs("complete", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", &model.RunResult{Created: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO dead_letter_queue .* ON CONFLICT \(kind, subject_id\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry := resilience.NewDLQEntry(resilience.WorkEnrichCluster, "c1", assert.AnError, time.Now())
	require.NoError(t, s.EnqueueDLQ(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RemoveDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM dead_letter_queue WHERE kind = \$1 AND subject_id = \$2`).
		WithArgs("analyze_article", "a1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.RemoveDLQ(context.Background(), resilience.WorkAnalyzeArticle, "a1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT\s+\(SELECT COUNT\(\*\) FROM articles WHERE cluster_id IS NULL`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g", "h"}).
			AddRow(4, 2, 1, 10, 7, 0, 5, 1))

	st, err := s.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 4, st.UnclusteredArticles)
	assert.Equal(t, 7, st.Relationships)
	assert.Equal(t, 1, st.RunsFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRelationships_Args(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM entity_relationships WHERE strength >= \$1 AND relationship_type = ANY\(\$2\) AND \(source_entity_id = ANY\(\$3\) OR target_entity_id = ANY\(\$3\)\) ORDER BY strength DESC, article_count DESC LIMIT \$4`).
		WithArgs(0.3, []string{"military"}, []string{"e1"}, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_entity_id", "target_entity_id", "relationship_type", "strength",
			"article_count", "cluster_ids", "context", "first_seen_at", "last_seen_at"}))

	rels, err := s.ListRelationships(context.Background(), model.GraphFilter{
		MinStrength:       model.Strength(0.3),
		RelationshipTypes: []model.RelationshipType{model.RelMilitary},
		EntityIDs:         []string{"e1"},
	})
	require.NoError(t, err)
	assert.Empty(t, rels)
	assert.NoError(t, mock.ExpectationsWereMet())
}
