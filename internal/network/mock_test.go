package network

import (
	"context"
	"path/filepath"
	"sync"
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

func phase(p string) any {
	return mock.MatchedBy(func(req ai.Request) bool { return req.Phase == p })
}

type recordingProjector struct {
	mu       sync.Mutex
	entities []model.Entity
	rels     []model.EntityRelationship
}

func (p *recordingProjector) Project(_ context.Context, entities []model.Entity, rels []model.EntityRelationship) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities = append(p.entities, entities...)
	p.rels = append(p.rels, rels...)
	return nil
}

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "network.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedArticles(t *testing.T, st *store.SQLiteStore, articles ...model.Article) {
	t.Helper()
	_, err := st.UpsertArticles(context.Background(), articles)
	require.NoError(t, err)
}

func putinArticle() model.Article {
	return model.Article{
		ID:          "a1",
		Title:       "Putin addresses Russia on energy exports",
		Snippet:     "The Kremlin leader spoke on state television.",
		Domain:      "reuters.com",
		PublishedAt: baseTime.Add(-2 * time.Hour),
		Countries:   []string{"Russia"},
		Entities:    &model.TaggedEntities{People: []string{"Vladimir Putin"}},
	}
}
