package model

import "time"

// EntityType classifies a knowledge-graph node.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityEvent        EntityType = "event"
	EntityCountry      EntityType = "country"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityLocation, EntityEvent, EntityCountry:
		return true
	}
	return false
}

// Entity is a canonical knowledge-graph node.
type Entity struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          EntityType     `json:"type"`
	CanonicalName string         `json:"canonical_name"`
	Aliases       []string       `json:"aliases"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	LastSeenAt    time.Time      `json:"last_seen_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Label returns the display name for the entity.
func (e Entity) Label() string {
	if e.CanonicalName != "" {
		return e.CanonicalName
	}
	return e.Name
}

// EntityMention records that an entity appears in an article.
type EntityMention struct {
	EntityID  string     `json:"entity_id"`
	ArticleID string     `json:"article_id"`
	ClusterID string     `json:"cluster_id,omitempty"`
	Context   string     `json:"context,omitempty"`
	Entity    *Entity    `json:"entity,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// RelationshipType is the closed taxonomy of entity relationships.
type RelationshipType string

const (
	RelMentionedTogether RelationshipType = "mentioned_together"
	RelCooperation       RelationshipType = "cooperation"
	RelConflict          RelationshipType = "conflict"
	RelTrade             RelationshipType = "trade"
	RelDiplomacy         RelationshipType = "diplomacy"
	RelMilitary          RelationshipType = "military"
	RelEconomic          RelationshipType = "economic"
	RelInfluence         RelationshipType = "influence"
	RelMembership        RelationshipType = "membership"
	RelLeadership        RelationshipType = "leadership"
	RelLocation          RelationshipType = "location"
	RelEventParticipant  RelationshipType = "event_participant"
)

// RelationshipTypes lists the taxonomy in prompt order.
var RelationshipTypes = []RelationshipType{
	RelCooperation, RelConflict, RelTrade, RelDiplomacy, RelMilitary, RelEconomic,
	RelInfluence, RelMembership, RelLeadership, RelLocation, RelEventParticipant,
	RelMentionedTogether,
}

// Valid reports whether t belongs to the taxonomy.
func (t RelationshipType) Valid() bool {
	for _, rt := range RelationshipTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// EntityRelationship is a typed, aggregated tie between two entities.
type EntityRelationship struct {
	ID               string           `json:"id"`
	SourceEntityID   string           `json:"source_entity_id"`
	TargetEntityID   string           `json:"target_entity_id"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Strength         float64          `json:"strength"`
	ArticleCount     int              `json:"article_count"`
	ClusterIDs       []string         `json:"cluster_ids"`
	Context          string           `json:"context,omitempty"`
	FirstSeenAt      time.Time        `json:"first_seen_at"`
	LastSeenAt       time.Time        `json:"last_seen_at"`
}

// RelationshipObservation is one detection to fold into an EntityRelationship.
type RelationshipObservation struct {
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType RelationshipType
	Strength         float64
	Context          string
	ArticleID        string
	ClusterID        string
}
