package model

import "time"

// Cluster groups articles believed to describe the same event.
type Cluster struct {
	ID             string          `json:"id"`
	CanonicalTitle string          `json:"canonical_title"`
	Summary        string          `json:"summary"`
	TitleHash      string          `json:"-"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Countries      []string        `json:"countries"`
	Topics         []string        `json:"topics"`
	Severity       int             `json:"severity"`
	Confidence     int             `json:"confidence"`
	ArticleCount   int             `json:"article_count"`
	SourceCount    int             `json:"source_count"`
	Entities       ClusterAnalysis `json:"entities"`
	EnrichedAt     *time.Time      `json:"enriched_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClusterAnalysis is the nested analysis payload written by enrichment.
type ClusterAnalysis struct {
	People        []string               `json:"people"`
	Organizations []string               `json:"organizations"`
	Locations     []string               `json:"locations"`
	Events        []string               `json:"events"`
	Relationships []AnalysisRelationship `json:"relationships"`
	Implications  []string               `json:"implications"`
	KeySignals    []string               `json:"key_signals"`
	Timeline      []TimelineEntry        `json:"timeline"`
	MarketImpact  *MarketImpact          `json:"market_impact,omitempty"`
	MapData       *MapData               `json:"map_data,omitempty"`
}

// AnalysisRelationship is a relationship stated by the enrichment model.
type AnalysisRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// TimelineEntry is a dated step in the event's development.
type TimelineEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// MarketImpact describes expected market exposure of an event.
type MarketImpact struct {
	AffectedSectors  []string `json:"affected_sectors"`
	AffectedRegions  []string `json:"affected_regions"`
	PotentialSymbols []string `json:"potential_symbols"`
	RiskLevel        string   `json:"risk_level"`
	Timeframe        string   `json:"timeframe"`
}

// MapData holds the geographic footprint of an event.
type MapData struct {
	PrimaryLocations []MapLocation `json:"primary_locations"`
	AffectedRegions  []string      `json:"affected_regions"`
	ConflictZones    []string      `json:"conflict_zones,omitempty"`
}

// MapLocation is a named place, optionally with coordinates.
type MapLocation struct {
	Name         string       `json:"name"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Significance string       `json:"significance"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// ClusterStats are the aggregates recomputed from member articles.
type ClusterStats struct {
	ArticleCount int
	SourceCount  int
	WindowStart  time.Time
	WindowEnd    time.Time
}
