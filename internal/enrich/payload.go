package enrich

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/intel-cli/internal/model"
)

type rawFields map[string]json.RawMessage

// UnmarshalJSON decodes field by field. A field of the wrong shape is dropped
// on its own so one bad value never costs the rest of the analysis. Only a
// non-object document is an error.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var f rawFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = Payload{
		CanonicalTitle: text(f["canonical_title"]),
		Summary:        text(f["summary"]),
		Countries:      strList(f["countries"]),
		Topics:         strList(f["topics"]),
		Relationships:  elems[model.AnalysisRelationship](f["relationships"]),
		Timeline:       elems[model.TimelineEntry](f["timeline"]),
		Severity:       number(f["severity"]),
		Confidence:     number(f["confidence"]),
		Implications:   strList(f["geopolitical_implications"]),
		KeySignals:     strList(f["key_signals"]),
	}

	if ent, ok := object(f["entities"]); ok {
		p.Entities.People = strList(ent["people"])
		p.Entities.Organizations = strList(ent["organizations"])
		p.Entities.Locations = strList(ent["locations"])
		p.Entities.Events = strList(ent["events"])
	}
	if mi, ok := object(f["market_impact"]); ok {
		p.MarketImpact = &model.MarketImpact{
			AffectedSectors:  strList(mi["affected_sectors"]),
			AffectedRegions:  strList(mi["affected_regions"]),
			PotentialSymbols: strList(mi["potential_symbols"]),
			RiskLevel:        text(mi["risk_level"]),
			Timeframe:        text(mi["timeframe"]),
		}
	}
	if md, ok := object(f["map_data"]); ok {
		p.MapData = &model.MapData{
			PrimaryLocations: elems[model.MapLocation](md["primary_locations"]),
			AffectedRegions:  strList(md["affected_regions"]),
			ConflictZones:    strList(md["conflict_zones"]),
		}
	}
	return nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

func object(raw json.RawMessage) (rawFields, bool) {
	var f rawFields
	if len(raw) == 0 || json.Unmarshal(raw, &f) != nil || f == nil {
		return nil, false
	}
	return f, true
}

func text(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// strList accepts an array or a bare string. Non-string elements are skipped.
func strList(raw json.RawMessage) []string {
	if absent(raw) {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var v string
		if !absent(it) && json.Unmarshal(it, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

// elems keeps the array elements that decode as T.
func elems[T any](raw json.RawMessage) []T {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if !absent(it) && json.Unmarshal(it, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

// number accepts a JSON number or a numeric string such as "80" or "80%".
func number(raw json.RawMessage) *float64 {
	if absent(raw) {
		return nil
	}
	var v float64
	if json.Unmarshal(raw, &v) == nil {
		return &v
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
