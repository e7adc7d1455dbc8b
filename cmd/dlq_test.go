package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/resilience"
	"github.com/sells-group/intel-cli/internal/store"
)

func newDLQStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "intel.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedriver_Retry(t *testing.T) {
	ctx := context.Background()
	st := newDLQStore(t)
	past := time.Now().Add(-time.Hour)

	for _, e := range []resilience.DLQEntry{
		resilience.NewDLQEntry(resilience.WorkEnrichCluster, "c-ok", errors.New("timeout"), past),
		resilience.NewDLQEntry(resilience.WorkEnrichCluster, "c-bad", errors.New("timeout"), past),
		resilience.NewDLQEntry(resilience.WorkAnalyzeArticle, "a-ok", errors.New("timeout"), past),
	} {
		e.NextRetryAt = past
		require.NoError(t, st.EnqueueDLQ(ctx, e))
	}
	exhausted := resilience.NewDLQEntry(resilience.WorkAnalyzeArticle, "a-done", errors.New("bad json"), past)
	exhausted.RetryCount = exhausted.MaxRetries
	require.NoError(t, st.EnqueueDLQ(ctx, exhausted))

	var enriched, analyzed []string
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &redriver{
		store: st,
		handlers: map[resilience.WorkKind]func(context.Context, string) error{
			resilience.WorkEnrichCluster: func(_ context.Context, id string) error {
				enriched = append(enriched, id)
				if id == "c-bad" {
					return errors.New("still failing")
				}
				return nil
			},
			resilience.WorkAnalyzeArticle: func(_ context.Context, id string) error {
				analyzed = append(analyzed, id)
				return nil
			},
		},
		now: func() time.Time { return now },
	}

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	res := r.Retry(ctx, entries)
	assert.Equal(t, redriveResult{Resolved: 2, Failed: 1, Skipped: 1}, res)
	assert.ElementsMatch(t, []string{"c-ok", "c-bad"}, enriched)
	assert.Equal(t, []string{"a-ok"}, analyzed)

	left, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	bySubject := map[string]resilience.DLQEntry{}
	for _, e := range left {
		bySubject[e.SubjectID] = e
	}

	bad := bySubject["c-bad"]
	assert.Equal(t, 1, bad.RetryCount)
	assert.Equal(t, "still failing", bad.Error)
	assert.WithinDuration(t, now.Add(resilience.RetryDelay(1)), bad.NextRetryAt, time.Second)

	assert.Equal(t, exhausted.MaxRetries, bySubject["a-done"].RetryCount)
}

func TestRedriver_UnknownKindSkipped(t *testing.T) {
	st := newDLQStore(t)
	r := &redriver{store: st, handlers: nil, now: time.Now}

	res := r.Retry(context.Background(), []resilience.DLQEntry{{Kind: "reindex", SubjectID: "x", MaxRetries: 5}})
	assert.Equal(t, redriveResult{Skipped: 1}, res)
}

func TestFormatDLQList(t *testing.T) {
	var buf bytes.Buffer
	formatDLQList(&buf, []resilience.DLQEntry{{
		Kind:        resilience.WorkEnrichCluster,
		SubjectID:   "0a1b2c3d-4e5f",
		ErrorType:   resilience.ErrorTransient,
		RetryCount:  2,
		MaxRetries:  5,
		NextRetryAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Error:       "anthropic: 529 overloaded",
	}})
	out := buf.String()
	assert.Contains(t, out, "enrich_cluster")
	assert.Contains(t, out, "0a1b2c3d")
	assert.Contains(t, out, "2/5")
	assert.Contains(t, out, "2026-03-01 12:00")
	assert.Contains(t, out, "529 overloaded")
}
