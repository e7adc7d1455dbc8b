package model

import "time"

// RunKind identifies which background job a run recorded.
type RunKind string

const (
	RunKindClusterPass RunKind = "cluster_pass"
	RunKindEnrich      RunKind = "enrich"
	RunKindNetwork     RunKind = "network"
	RunKindRepair      RunKind = "repair"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is an audit record of a single pass.
type Run struct {
	ID        string     `json:"id"`
	Kind      RunKind    `json:"kind"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the counters reported by a pass.
type RunResult struct {
	Created               int `json:"created,omitempty"`
	Updated               int `json:"updated,omitempty"`
	Enriched              int `json:"enriched,omitempty"`
	Failed                int `json:"failed,omitempty"`
	Relinked              int `json:"relinked,omitempty"`
	ArticlesAnalyzed      int `json:"articles_analyzed,omitempty"`
	EntitiesStored        int `json:"entities_stored,omitempty"`
	RelationshipsDetected int `json:"relationships_detected,omitempty"`
}
