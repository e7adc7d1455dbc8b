package resilience

import (
	"math"
	"time"
)

// WorkKind names the unit of work a dead letter entry re-drives.
type WorkKind string

// Re-drivable work.
const (
	WorkEnrichCluster  WorkKind = "enrich_cluster"
	WorkAnalyzeArticle WorkKind = "analyze_article"
)

// Error classes stored on entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry is a failed enrichment or network analysis waiting for retry.
type DLQEntry struct {
	ID           string    `json:"id"`
	Kind         WorkKind  `json:"kind"`
	SubjectID    string    `json:"subject_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows ListDLQ.
type DLQFilter struct {
	Kind      WorkKind `json:"kind,omitempty"`
	ErrorType string   `json:"error_type,omitempty"`
	// DueOnly limits to entries whose NextRetryAt has passed.
	DueOnly bool `json:"due_only,omitempty"`
	Limit   int  `json:"limit,omitempty"`
}

// DefaultMaxRetries bounds re-drives of a single entry.
const DefaultMaxRetries = 5

// NewDLQEntry records the first failure of kind on subjectID.
func NewDLQEntry(kind WorkKind, subjectID string, err error, now time.Time) DLQEntry {
	return DLQEntry{
		Kind:         kind,
		SubjectID:    subjectID,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  now.Add(RetryDelay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
}

// CanRetry is false once MaxRetries is reached.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// RetryDelay doubles from one minute per prior retry, capped at a day.
func RetryDelay(retryCount int) time.Duration {
	if retryCount > 10 {
		return 24 * time.Hour
	}
	d := time.Minute * time.Duration(math.Pow(2, float64(max(retryCount, 0))))
	return min(d, 24*time.Hour)
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
