package enrich

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/store"
)

// Caps applied to model output.
const (
	maxFacets        = 15
	maxEntityNames   = 20
	maxEvents        = 10
	maxImplications  = 10
	maxListItems     = 20
	maxMarketEntries = 10
	defaultScore     = 50
)

// Payload is the JSON contract returned by the model. Every field is
// optional; Sanitize fills the gaps.
type Payload struct {
	CanonicalTitle string   `json:"canonical_title"`
	Summary        string   `json:"summary"`
	Countries      []string `json:"countries"`
	Topics         []string `json:"topics"`
	Entities       struct {
		People        []string `json:"people"`
		Organizations []string `json:"organizations"`
		Locations     []string `json:"locations"`
		Events        []string `json:"events"`
	} `json:"entities"`
	Relationships []model.AnalysisRelationship `json:"relationships"`
	Timeline      []model.TimelineEntry        `json:"timeline"`
	Severity      *float64                     `json:"severity"`
	Confidence    *float64                     `json:"confidence"`
	Implications  []string                     `json:"geopolitical_implications"`
	KeySignals    []string                     `json:"key_signals"`
	MarketImpact  *model.MarketImpact          `json:"market_impact"`
	MapData       *model.MapData               `json:"map_data"`
}

// empty reports whether the payload carries nothing usable.
func (p Payload) empty() bool {
	return strings.TrimSpace(p.CanonicalTitle) == "" &&
		strings.TrimSpace(p.Summary) == "" &&
		len(p.Countries)+len(p.Topics)+len(p.Implications)+len(p.KeySignals) == 0 &&
		len(p.Entities.People)+len(p.Entities.Organizations)+len(p.Entities.Locations)+len(p.Entities.Events) == 0 &&
		p.Severity == nil && p.Confidence == nil
}

// Sanitize clamps scores, caps every list and falls back to the cluster's
// current title.
func Sanitize(p Payload, c model.Cluster, now time.Time) store.ClusterEnrichment {
	title := strings.TrimSpace(p.CanonicalTitle)
	if title == "" {
		title = c.CanonicalTitle
	}
	return store.ClusterEnrichment{
		CanonicalTitle: title,
		Summary:        strings.TrimSpace(p.Summary),
		Countries:      capList(p.Countries, maxFacets),
		Topics:         capList(p.Topics, maxFacets),
		Severity:       score(p.Severity),
		Confidence:     score(p.Confidence),
		Analysis: model.ClusterAnalysis{
			People:        capList(p.Entities.People, maxEntityNames),
			Organizations: capList(p.Entities.Organizations, maxEntityNames),
			Locations:     capList(p.Entities.Locations, maxEntityNames),
			Events:        capList(p.Entities.Events, maxEvents),
			Relationships: relationships(p.Relationships),
			Implications:  capList(p.Implications, maxImplications),
			KeySignals:    capList(p.KeySignals, maxImplications),
			Timeline:      timeline(p.Timeline),
			MarketImpact:  marketImpact(p.MarketImpact),
			MapData:       mapData(p.MapData),
		},
		EnrichedAt: now,
	}
}

// score rounds and clamps to [0,100]; missing or zero becomes 50.
func score(v *float64) int {
	if v == nil || *v == 0 || math.IsNaN(*v) {
		return defaultScore
	}
	return int(math.Round(min(100, max(0, *v))))
}

// capList trims entries, drops blanks and keeps at most n.
func capList(in []string, n int) []string {
	out := make([]string, 0, min(len(in), n))
	for _, s := range in {
		if len(out) == n {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func relationships(in []model.AnalysisRelationship) []model.AnalysisRelationship {
	out := make([]model.AnalysisRelationship, 0, min(len(in), maxListItems))
	for _, r := range in {
		if len(out) == maxListItems {
			break
		}
		r.Source, r.Target = strings.TrimSpace(r.Source), strings.TrimSpace(r.Target)
		if r.Source == "" || r.Target == "" {
			continue
		}
		r.Type = strings.ToLower(strings.TrimSpace(r.Type))
		if !model.RelationshipType(r.Type).Valid() {
			r.Type = string(model.RelMentionedTogether)
		}
		out = append(out, r)
	}
	return out
}

func timeline(in []model.TimelineEntry) []model.TimelineEntry {
	out := make([]model.TimelineEntry, 0, min(len(in), maxListItems))
	for _, e := range in {
		if len(out) == maxListItems {
			break
		}
		if e.Event = strings.TrimSpace(e.Event); e.Event != "" {
			e.Date = strings.TrimSpace(e.Date)
			out = append(out, e)
		}
	}
	return out
}

var (
	riskLevels = map[string]bool{"low": true, "medium": true, "high": true}
	timeframes = map[string]bool{"immediate": true, "short_term": true, "medium_term": true, "long_term": true}
)

func marketImpact(in *model.MarketImpact) *model.MarketImpact {
	if in == nil {
		return nil
	}
	out := &model.MarketImpact{
		AffectedSectors:  capList(in.AffectedSectors, maxMarketEntries),
		AffectedRegions:  capList(in.AffectedRegions, maxMarketEntries),
		PotentialSymbols: capList(in.PotentialSymbols, maxMarketEntries),
	}
	if rl := strings.ToLower(strings.TrimSpace(in.RiskLevel)); riskLevels[rl] {
		out.RiskLevel = rl
	}
	if tf := strings.ToLower(strings.TrimSpace(in.Timeframe)); timeframes[tf] {
		out.Timeframe = tf
	}
	return out
}

func mapData(in *model.MapData) *model.MapData {
	if in == nil {
		return nil
	}
	out := &model.MapData{
		PrimaryLocations: make([]model.MapLocation, 0, min(len(in.PrimaryLocations), maxListItems)),
		AffectedRegions:  capList(in.AffectedRegions, maxListItems),
		ConflictZones:    capList(in.ConflictZones, maxListItems),
	}
	for _, loc := range in.PrimaryLocations {
		if len(out.PrimaryLocations) == maxListItems {
			break
		}
		if loc.Name = strings.TrimSpace(loc.Name); loc.Name == "" {
			continue
		}
		if loc.Coordinates != nil && !loc.Coordinates.Valid() {
			loc.Coordinates = nil
		}
		out.PrimaryLocations = append(out.PrimaryLocations, loc)
	}
	return out
}
