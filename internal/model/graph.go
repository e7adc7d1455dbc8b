package model

// GraphFilter narrows a network graph query.
type GraphFilter struct {
	EntityIDs         []string           `json:"entity_ids,omitempty"`
	RelationshipTypes []RelationshipType `json:"relationship_types,omitempty"`
	// MinStrength is nil when the caller left it unset; an explicit 0 keeps
	// every edge.
	MinStrength *float64 `json:"min_strength,omitempty"`
	Limit       int      `json:"limit"`
}

// StrengthFloor is the minimum strength to query, 0 when unset.
func (f GraphFilter) StrengthFloor() float64 {
	if f.MinStrength == nil {
		return 0
	}
	return *f.MinStrength
}

// Strength returns a pointer to v for GraphFilter.MinStrength.
func Strength(v float64) *float64 { return &v }

// GraphNode is an entity rendered for graph consumers.
type GraphNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Type     EntityType     `json:"type"`
	Metadata map[string]any `json:"metadata"`
}

// GraphEdge is a relationship rendered for graph consumers.
type GraphEdge struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	Target       string           `json:"target"`
	Type         RelationshipType `json:"type"`
	Strength     float64          `json:"strength"`
	ArticleCount int              `json:"article_count"`
	Label        string           `json:"label"`
	Context      string           `json:"context,omitempty"`
}

// GraphStats summarizes a graph response.
type GraphStats struct {
	NodeCount         int                `json:"node_count"`
	EdgeCount         int                `json:"edge_count"`
	RelationshipTypes []RelationshipType `json:"relationship_types"`
}

// Graph is the node/edge view of the entity network.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Stats GraphStats  `json:"stats"`
}
