package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intel-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "0a1b2c3d-4e5f-6789-abcd-ef0123456789",
			Kind:      model.RunKindClusterPass,
			Status:    model.RunStatusComplete,
			Result:    &model.RunResult{Created: 2, Updated: 5},
			CreatedAt: created,
			UpdatedAt: created.Add(12 * time.Second),
		},
		{
			ID:        "short",
			Kind:      model.RunKindEnrich,
			Status:    model.RunStatusFailed,
			Error:     "anthropic: unavailable",
			CreatedAt: created,
			UpdatedAt: created,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "0a1b2c3d")
	assert.NotContains(t, out, "4e5f")
	assert.Contains(t, out, "cluster_pass")
	assert.Contains(t, out, "created=2 updated=5")
	assert.Contains(t, out, "12s")
	assert.Contains(t, out, "anthropic: unavailable")
}

func TestSummarizeRun(t *testing.T) {
	tests := []struct {
		name string
		run  model.Run
		want string
	}{
		{"no result", model.Run{Status: model.RunStatusRunning}, ""},
		{"network", model.Run{Status: model.RunStatusComplete, Result: &model.RunResult{ArticlesAnalyzed: 3, EntitiesStored: 7, RelationshipsDetected: 2}}, "articles=3 entities=7 relationships=2"},
		{"repair", model.Run{Status: model.RunStatusComplete, Result: &model.RunResult{Relinked: 4, Enriched: 1}}, "enriched=1 relinked=4"},
		{"failed long", model.Run{Status: model.RunStatusFailed, Error: "cluster: lock held by another pass on host alpha"}, "cluster: lock held by another pass on..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeRun(tt.run))
		})
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
}
