package enrich

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_LenientFields(t *testing.T) {
	raw := `{
	  "canonical_title": 42,
	  "summary": "Strikes continue.",
	  "countries": ["Ukraine", 7, null, "Russia"],
	  "topics": "energy",
	  "entities": {"people": "Zelensky", "organizations": {"bad": true}, "locations": ["Kyiv"]},
	  "relationships": [{"source": "A", "target": "B", "type": "trade"}, "junk"],
	  "timeline": "yesterday",
	  "severity": "85%",
	  "confidence": "high",
	  "key_signals": null,
	  "market_impact": ["not", "an", "object"],
	  "map_data": {"primary_locations": [{"name": "Kyiv"}, {"name": 3}], "affected_regions": "Europe"}
	}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Empty(t, p.CanonicalTitle)
	assert.Equal(t, "Strikes continue.", p.Summary)
	assert.Equal(t, []string{"Ukraine", "Russia"}, p.Countries)
	assert.Equal(t, []string{"energy"}, p.Topics)
	assert.Equal(t, []string{"Zelensky"}, p.Entities.People)
	assert.Empty(t, p.Entities.Organizations)
	assert.Equal(t, []string{"Kyiv"}, p.Entities.Locations)
	require.Len(t, p.Relationships, 1)
	assert.Equal(t, "trade", p.Relationships[0].Type)
	assert.Empty(t, p.Timeline)
	require.NotNil(t, p.Severity)
	assert.InDelta(t, 85, *p.Severity, 1e-9)
	assert.Nil(t, p.Confidence)
	assert.Nil(t, p.KeySignals)
	assert.Nil(t, p.MarketImpact)
	require.NotNil(t, p.MapData)
	require.Len(t, p.MapData.PrimaryLocations, 1)
	assert.Equal(t, []string{"Europe"}, p.MapData.AffectedRegions)
}

func TestPayload_NonObjectIsError(t *testing.T) {
	var p Payload
	assert.Error(t, json.Unmarshal([]byte(`"just text"`), &p))
}
