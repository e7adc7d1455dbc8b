package enrich

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/ai"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedCluster stores n articles linked to a fresh cluster and returns it.
func seedCluster(t *testing.T, st *store.SQLiteStore, hash string, n int) *model.Cluster {
	t.Helper()
	ctx := context.Background()

	articles := make([]model.Article, n)
	ids := make([]string, n)
	for i := range articles {
		ids[i] = hash + "-a" + string(rune('0'+i))
		articles[i] = model.Article{
			ID:          ids[i],
			Title:       "Russia strikes Ukraine energy grid",
			Snippet:     "Missiles hit power plants overnight.",
			Domain:      "reuters.com",
			SourceID:    "reuters",
			Countries:   []string{"RU", "UA"},
			Topics:      []string{"conflict"},
			PublishedAt: baseTime.Add(-time.Duration(i) * time.Hour),
		}
	}
	_, err := st.UpsertArticles(ctx, articles)
	require.NoError(t, err)

	c := &model.Cluster{
		CanonicalTitle: "Russia strikes Ukraine energy grid",
		TitleHash:      hash,
		WindowStart:    baseTime.Add(-time.Duration(n) * time.Hour),
		WindowEnd:      baseTime,
		Countries:      []string{"RU", "UA"},
		Topics:         []string{"conflict"},
		Severity:       22,
		Confidence:     46,
	}
	require.NoError(t, st.CreateCluster(ctx, c))
	_, err = st.LinkArticles(ctx, c.ID, ids)
	require.NoError(t, err)
	_, err = st.RecountCluster(ctx, c.ID)
	require.NoError(t, err)
	return c
}
