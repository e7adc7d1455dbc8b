package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/cost"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
	"github.com/sells-group/intel-cli/pkg/anthropic"
)

type mockStats struct {
	stats *store.Stats
	err   error
	since time.Time
}

func (m *mockStats) Stats(_ context.Context, since time.Time) (*store.Stats, error) {
	m.since = since
	return m.stats, m.err
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	st := &mockStats{stats: &store.Stats{
		UnclusteredArticles: 40,
		OpenClusters:        7,
		UnenrichedClusters:  3,
		Entities:            120,
		Relationships:       45,
		DLQDepth:            2,
		RunsTotal:           10,
		RunsFailed:          2,
	}}
	ledger := cost.NewLedger()
	ledger.Add("enrich", anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200}, 0.25)
	ledger.Add("detect_relationship", anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20}, 0.05)

	c := NewCollector(st, ledger)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-6*time.Hour), st.since)
	assert.Equal(t, 40, snap.UnclusteredArticles)
	assert.Equal(t, 3, snap.UnenrichedClusters)
	assert.Equal(t, 120, snap.Entities)
	assert.Equal(t, 45, snap.Relationships)
	assert.Equal(t, 2, snap.DLQDepth)
	assert.InDelta(t, 0.2, snap.RunFailRate, 1e-9)
	assert.InDelta(t, 0.30, snap.CostUSD, 1e-9)
	assert.Len(t, snap.PhaseCosts, 2)
	assert.Equal(t, 6, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_DefaultLookbackAndNoLedger(t *testing.T) {
	st := &mockStats{stats: &store.Stats{}}
	snap, err := NewCollector(st, nil).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.CostUSD)
	assert.Nil(t, snap.PhaseCosts)
}

func TestCollector_StatsError(t *testing.T) {
	st := &mockStats{err: errors.New("db down")}
	_, err := NewCollector(st, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: stats")
}

func TestCollector_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(t.TempDir() + "/intel.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	_, err = st.UpsertArticles(ctx, []model.Article{
		{ID: "a1", Title: "Floods in Valencia", PublishedAt: time.Now().UTC().Add(-time.Hour)},
	})
	require.NoError(t, err)

	snap, err := NewCollector(st, nil).Collect(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.UnclusteredArticles)
	assert.Equal(t, 0, snap.DLQDepth)
}
