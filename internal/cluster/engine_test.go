package cluster

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/coord"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/similarity"
	"github.com/sells-group/intel-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []coord.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev coord.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []coord.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]coord.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fakeEnqueuer struct {
	ids  []string
	full bool
}

func (q *fakeEnqueuer) Submit(id string) bool {
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, coord.ErrLockHeld
}

func newTestEngine(st store.Store, now time.Time, opts ...Option) *Engine {
	e := NewEngine(st, Config{}, opts...)
	e.now = func() time.Time { return now }
	return e
}

func scenarioArticles(now time.Time) []model.Article {
	return []model.Article{
		{
			ID: "a1", Title: "Russia strikes Ukraine energy grid", Countries: []string{"RU", "UA"},
			Domain: "reuters.com", PublishedAt: now.Add(-1 * time.Hour),
		},
		{
			ID: "a2", Title: "Ukraine energy grid hit by Russian strikes", Countries: []string{"RU", "UA"},
			Domain: "reuters.com", PublishedAt: now.Add(-4 * time.Hour),
		},
	}
}

func TestRunPass_ScenarioCreatesOneCluster(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.UpsertArticles(ctx, scenarioArticles(now))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	q := &fakeEnqueuer{}
	e := newTestEngine(st, now, WithPublisher(pub), WithEnqueuer(q))

	res, err := e.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.NewClusterIDs, 1)
	assert.Equal(t, res.NewClusterIDs, q.ids)
	assert.Equal(t, []coord.EventType{coord.EventClusterCreated}, pub.types())

	c, err := st.GetCluster(ctx, res.NewClusterIDs[0])
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.ArticleCount)
	assert.Equal(t, 1, c.SourceCount)
	assert.Equal(t, "Russia strikes Ukraine energy grid", c.CanonicalTitle)
	assert.Equal(t, "Event covered by 2 articles from 1 sources", c.Summary)
	assert.True(t, c.WindowStart.Equal(now.Add(-4*time.Hour)))
	assert.True(t, c.WindowEnd.Equal(now.Add(-1*time.Hour)))

	members, err := st.ListArticlesByCluster(ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRunPass_SecondPassWritesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.UpsertArticles(ctx, scenarioArticles(now))
	require.NoError(t, err)
	e := newTestEngine(st, now)

	first, err := e.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := e.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{}, second)

	clusters, err := st.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

func TestRunPass_SingletonsMakeNoCluster(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.UpsertArticles(ctx, []model.Article{
		{ID: "v1", Title: "Volcano eruption forces evacuations in Iceland", Countries: []string{"IS"}, PublishedAt: now.Add(-time.Hour)},
		{ID: "f1", Title: "Football club confirms record transfer", Countries: []string{"ES"}, PublishedAt: now.Add(-2 * time.Hour)},
	})
	require.NoError(t, err)

	res, err := newTestEngine(st, now).RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, res.Updated)

	left, err := st.ListUnclusteredArticles(ctx, now.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRunPass_MatchesExistingCluster(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	existing := &model.Cluster{
		CanonicalTitle: "Russia strikes Ukraine energy grid",
		TitleHash:      similarity.TitleHash("Russia strikes Ukraine energy grid"),
		WindowStart:    now.Add(-6 * time.Hour),
		WindowEnd:      now.Add(-5 * time.Hour),
		Countries:      []string{"RU", "UA"},
	}
	require.NoError(t, st.CreateCluster(ctx, existing))

	_, err := st.UpsertArticles(ctx, []model.Article{{
		ID: "a3", Title: "Russian strikes on Ukraine energy grid continue", Countries: []string{"UA"},
		Domain: "bbc.co.uk", PublishedAt: now.Add(-30 * time.Minute),
	}})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	q := &fakeEnqueuer{}
	res, err := newTestEngine(st, now, WithPublisher(pub), WithEnqueuer(q)).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, q.ids)
	assert.Equal(t, []coord.EventType{coord.EventClusterUpdated}, pub.types())

	c, err := st.GetCluster(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ArticleCount)
	assert.True(t, c.WindowEnd.Equal(now.Add(-30*time.Minute)))
}

func TestRunPass_LockHeld(t *testing.T) {
	st := newTestStore(t)
	_, err := newTestEngine(st, time.Now(), WithLocker(heldLocker{})).RunPass(context.Background())
	assert.ErrorIs(t, err, coord.ErrLockHeld)
}

// closedClustersStore hides open clusters so phase 1 never matches.
type closedClustersStore struct {
	*store.SQLiteStore
}

func (closedClustersStore) ListOpenClusters(context.Context, time.Time, int) ([]model.Cluster, error) {
	return nil, nil
}

func TestRunPass_DuplicateClusterLinksExisting(t *testing.T) {
	sqlite := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	articles := scenarioArticles(now)

	_, err := sqlite.UpsertArticles(ctx, articles)
	require.NoError(t, err)

	built := BuildCluster(articles, now)
	existing := &model.Cluster{
		CanonicalTitle: built.CanonicalTitle,
		TitleHash:      built.TitleHash,
		WindowStart:    built.WindowStart,
		WindowEnd:      built.WindowEnd,
	}
	require.NoError(t, sqlite.CreateCluster(ctx, existing))

	q := &fakeEnqueuer{}
	res, err := newTestEngine(closedClustersStore{sqlite}, now, WithEnqueuer(q)).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, q.ids)

	c, err := sqlite.GetCluster(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.ArticleCount)
}

func TestRunPass_QueueFullStillCreates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := st.UpsertArticles(ctx, scenarioArticles(now))
	require.NoError(t, err)

	res, err := newTestEngine(st, now, WithEnqueuer(&fakeEnqueuer{full: true})).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestBuildCluster(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	group := []model.Article{
		{Title: "Flooding hits coastal towns", SourceID: "ap", Countries: []string{"BD", "IN"}, Topics: []string{"climate"}, PublishedAt: now},
		{Title: "Coastal flooding worsens", SourceID: "ap", Countries: []string{"IN"}, Topics: []string{"disaster"}, PublishedAt: now.Add(-2 * time.Hour)},
		{Title: "Storm surge flooding", Domain: "bbc.co.uk", Countries: []string{"MM"}},
	}

	c := BuildCluster(group, now.Add(time.Hour))
	assert.Equal(t, "Flooding hits coastal towns", c.CanonicalTitle)
	assert.Equal(t, 3, c.ArticleCount)
	assert.Equal(t, 2, c.SourceCount)
	assert.Equal(t, 39, c.Severity)   // 12*2 + 5*3
	assert.Equal(t, 64, c.Confidence) // 30 + 8*3 + 5*2
	assert.Equal(t, []string{"BD", "IN", "MM"}, c.Countries)
	assert.Equal(t, []string{"climate", "disaster"}, c.Topics)
	assert.True(t, c.WindowStart.Equal(now.Add(-2*time.Hour)))
	assert.True(t, c.WindowEnd.Equal(now.Add(time.Hour)))
	assert.Equal(t, similarity.TitleHash(c.CanonicalTitle), c.TitleHash)
}

func TestBuildCluster_LongTitleUsesKeywords(t *testing.T) {
	long := "Flooding " + strings.Repeat("coastal ", 15) + "towns"
	c := BuildCluster([]model.Article{{Title: long}, {Title: "Coastal flooding worsens"}}, time.Now())
	assert.Equal(t, "flooding coastal towns worsens", c.CanonicalTitle)
}

func TestBuildCluster_CapsFacetsAndScores(t *testing.T) {
	var group []model.Article
	for i := 0; i < 12; i++ {
		group = append(group, model.Article{
			Title:     "Summit",
			SourceID:  string(rune('a' + i)),
			Countries: []string{string(rune('A'+i)) + "X"},
		})
	}
	c := BuildCluster(group, time.Now())
	assert.Len(t, c.Countries, 10)
	assert.Equal(t, 100, c.Severity)
	assert.Equal(t, 100, c.Confidence)
}

func TestGroup(t *testing.T) {
	now := time.Now()
	articles := append(scenarioArticles(now),
		model.Article{ID: "x", Title: "Football club confirms record transfer", Countries: []string{"ES"}, PublishedAt: now},
	)
	groups := Group(articles, 0.25)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, "a1", groups[0][0].ID)
}
