package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/resilience"
)

func unavailable() *mockCompleter {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.Anything).Return("", ai.ErrUnavailable)
	return m
}

func TestAnalyzeArticle_PutinRussiaWithoutAI(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedArticles(t, st, putinArticle())

	proj := &recordingProjector{}
	a := NewAnalyzer(st, unavailable(), Config{}, WithProjector(proj))

	res, err := a.AnalyzeArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, Result{EntitiesStored: 2, RelationshipsDetected: 1}, res)

	rels, err := st.ListRelationships(ctx, model.GraphFilter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.RelMentionedTogether, rels[0].RelationshipType)
	assert.Equal(t, 0.5, rels[0].Strength)
	assert.Equal(t, 1, rels[0].ArticleCount)
	assert.Equal(t, "Mentioned together in: Putin addresses Russia on energy exports", rels[0].Context)

	assert.Len(t, proj.entities, 2)
	assert.Len(t, proj.rels, 1)
}

func TestAnalyzeArticle_ReanalysisKeepsOneEntityPerName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedArticles(t, st, putinArticle())
	a := NewAnalyzer(st, nil, Config{})

	_, err := a.AnalyzeArticle(ctx, "a1")
	require.NoError(t, err)
	_, err = a.AnalyzeArticle(ctx, "a1")
	require.NoError(t, err)

	stats, err := st.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 1, stats.Relationships)

	mentions, err := st.ListMentionsByArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, mentions, 2)

	rels, err := st.ListRelationships(ctx, model.GraphFilter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 2, rels[0].ArticleCount)
	assert.InDelta(t, 0.5, rels[0].Strength, 1e-9)
}

func TestAnalyzeArticle_NotFound(t *testing.T) {
	st := newTestStore(t)
	a := NewAnalyzer(st, nil, Config{})
	_, err := a.AnalyzeArticle(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrArticleNotFound)
}

func TestAnalyzeCluster_SumsArticles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	second := putinArticle()
	second.ID = "a2"
	second.Title = "Kremlin says Russia will keep exporting gas"
	seedArticles(t, st, putinArticle(), second)

	c := &model.Cluster{CanonicalTitle: "Russia energy exports", TitleHash: "h1", WindowStart: baseTime, WindowEnd: baseTime}
	require.NoError(t, st.CreateCluster(ctx, c))
	_, err := st.LinkArticles(ctx, c.ID, []string{"a1", "a2"})
	require.NoError(t, err)

	res, err := NewAnalyzer(st, nil, Config{}).AnalyzeCluster(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ArticlesAnalyzed)
	assert.Equal(t, 4, res.EntitiesStored)
	assert.Equal(t, 2, res.RelationshipsDetected)

	rels, err := st.ListRelationships(ctx, model.GraphFilter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 2, rels[0].ArticleCount)
	assert.Equal(t, []string{c.ID}, rels[0].ClusterIDs)
}

func TestAnalyzeRecent_WindowAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := putinArticle()
	old.ID = "old"
	old.PublishedAt = baseTime.Add(-72 * time.Hour)
	seedArticles(t, st, putinArticle(), old)

	a := NewAnalyzer(st, nil, Config{})
	a.now = func() time.Time { return baseTime }
	res, err := a.AnalyzeRecent(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ArticlesAnalyzed)
	assert.Equal(t, 0, res.Failed)

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAnalyzeRecent_RepeatedRunsCountArticleOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedArticles(t, st, putinArticle())

	a := NewAnalyzer(st, nil, Config{})
	a.now = func() time.Time { return baseTime }

	analyzed := 0
	for range 4 {
		res, err := a.AnalyzeRecent(ctx, 24)
		require.NoError(t, err)
		analyzed += res.ArticlesAnalyzed
	}
	assert.Equal(t, 1, analyzed)

	rels, err := st.ListRelationships(ctx, model.GraphFilter{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 1, rels[0].ArticleCount)
	assert.InDelta(t, 0.5, rels[0].Strength, 1e-9)
}

func TestGraph_FiltersAndOrders(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Russia", "Ukraine", "NATO"} {
		require.NoError(t, st.CreateEntity(ctx, &model.Entity{ID: name, Name: name, Type: model.EntityCountry, CanonicalName: name}))
	}
	for _, obs := range []model.RelationshipObservation{
		{SourceEntityID: "Russia", TargetEntityID: "Ukraine", RelationshipType: model.RelConflict, Strength: 0.9},
		{SourceEntityID: "NATO", TargetEntityID: "Ukraine", RelationshipType: model.RelMilitary, Strength: 0.6},
		{SourceEntityID: "NATO", TargetEntityID: "Russia", RelationshipType: model.RelMentionedTogether, Strength: 0.2},
	} {
		_, err := st.UpsertRelationship(ctx, obs)
		require.NoError(t, err)
	}

	g, err := NewAnalyzer(st, nil, Config{}).Graph(ctx, model.GraphFilter{})
	require.NoError(t, err)
	require.Len(t, g.Edges, 2)
	assert.Equal(t, model.RelConflict, g.Edges[0].Type)
	assert.Equal(t, "Russia", g.Edges[0].Source)
	assert.Equal(t, model.RelMilitary, g.Edges[1].Type)
	assert.Len(t, g.Nodes, 3)
	assert.Equal(t, model.GraphStats{
		NodeCount:         3,
		EdgeCount:         2,
		RelationshipTypes: []model.RelationshipType{model.RelConflict, model.RelMilitary},
	}, g.Stats)

	g, err = NewAnalyzer(st, nil, Config{}).Graph(ctx, model.GraphFilter{
		RelationshipTypes: []model.RelationshipType{model.RelMilitary},
	})
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "military", g.Edges[0].Label)
	assert.Len(t, g.Nodes, 2)

	g, err = NewAnalyzer(st, nil, Config{}).Graph(ctx, model.GraphFilter{MinStrength: model.Strength(0)})
	require.NoError(t, err)
	assert.Len(t, g.Edges, 3)
}

func TestAnalyzeCluster_DeadLettersFailures(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := NewAnalyzer(st, nil, Config{})
	a.now = func() time.Time { return baseTime }

	out := a.analyzeAll(ctx, []model.Article{{ID: "ghost"}})
	assert.Equal(t, 1, out.Failed)

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{Kind: resilience.WorkAnalyzeArticle})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ghost", entries[0].SubjectID)
}
