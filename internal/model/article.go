package model

import "time"

// Article is a single ingested news item. Records are created by the
// ingestion collaborator; this module only writes ClusterID.
type Article struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Snippet     string          `json:"snippet,omitempty" yaml:"snippet"`
	Content     string          `json:"content,omitempty" yaml:"content"`
	PublishedAt time.Time       `json:"published_at" yaml:"published_at"`
	Domain      string          `json:"domain" yaml:"domain"`
	SourceID    string          `json:"source_id" yaml:"source_id"`
	Countries   []string        `json:"countries,omitempty" yaml:"countries"`
	Topics      []string        `json:"topics,omitempty" yaml:"topics"`
	Entities    *TaggedEntities `json:"entities,omitempty" yaml:"entities"`
	ClusterID   *string         `json:"cluster_id,omitempty" yaml:"cluster_id"`
	CreatedAt   time.Time       `json:"created_at" yaml:"-"`
}

// TaggedEntities holds entity names already extracted upstream.
type TaggedEntities struct {
	People        []string `json:"people,omitempty" yaml:"people"`
	Organizations []string `json:"organizations,omitempty" yaml:"organizations"`
	Locations     []string `json:"locations,omitempty" yaml:"locations"`
	Events        []string `json:"events,omitempty" yaml:"events"`
}

// Empty reports whether no entity list carries a value.
func (t *TaggedEntities) Empty() bool {
	if t == nil {
		return true
	}
	return len(t.People)+len(t.Organizations)+len(t.Locations)+len(t.Events) == 0
}

// Clustered reports whether the article is linked to a cluster.
func (a Article) Clustered() bool {
	return a.ClusterID != nil && *a.ClusterID != ""
}

// ClusterIDValue returns the cluster ID or "" when unclustered.
func (a Article) ClusterIDValue() string {
	if a.ClusterID == nil {
		return ""
	}
	return *a.ClusterID
}
