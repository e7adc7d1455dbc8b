package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/monitoring"
)

func TestGraphFilter(t *testing.T) {
	f, err := graphFilter([]string{"e1"}, []string{"trade", "diplomacy"}, model.Strength(0.5), 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, f.EntityIDs)
	assert.Equal(t, []model.RelationshipType{model.RelTrade, model.RelDiplomacy}, f.RelationshipTypes)
	require.NotNil(t, f.MinStrength)
	assert.InDelta(t, 0.5, *f.MinStrength, 1e-9)
	assert.Equal(t, 20, f.Limit)

	f, err = graphFilter(nil, nil, model.Strength(0), 10)
	require.NoError(t, err)
	require.NotNil(t, f.MinStrength)
	assert.Zero(t, *f.MinStrength)

	f, err = graphFilter(nil, nil, nil, 10)
	require.NoError(t, err)
	assert.Nil(t, f.MinStrength)

	_, err = graphFilter(nil, []string{"friendship"}, model.Strength(0.3), 10)
	assert.Error(t, err)
	_, err = graphFilter(nil, nil, model.Strength(1.5), 10)
	assert.Error(t, err)
	_, err = graphFilter(nil, nil, model.Strength(0.3), -1)
	assert.Error(t, err)
}

func TestFormatStatus(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		UnclusteredArticles: 12,
		OpenClusters:        4,
		Entities:            30,
		RunsTotal:           8,
		RunsFailed:          2,
		RunFailRate:         0.25,
		DLQDepth:            3,
		LookbackHours:       24,
	}

	var buf bytes.Buffer
	formatStatus(&buf, snap, nil)
	out := buf.String()
	assert.Contains(t, out, "Unclustered articles:")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "Runs (24h):")
	assert.Contains(t, out, "2 (25%)")
	assert.NotContains(t, out, "[")

	buf.Reset()
	formatStatus(&buf, snap, []monitoring.Alert{{Severity: "warning", Message: "dead letter queue depth 3"}})
	assert.Contains(t, buf.String(), "[warning] dead letter queue depth 3")
}
