package domain

import "time"

// SourceType identifies where a failure was observed.
type SourceType string

const (
	SourceQueuedMutation        SourceType = "queuedMutation"
	SourceReactiveCacheQuery    SourceType = "reactiveCacheQuery"
	SourceReactiveCacheMutation SourceType = "reactiveCacheMutation"
	SourceDomainWorkflow        SourceType = "domainWorkflow"
)

// Default retry budgets of failure records.
const (
	DefaultMaxRetries     = 3
	LowPriorityMaxRetries = 2
)

// FailedOperationRecord is a normalized, derived view over a failure from any
// source. It is safe to discard and rebuild by rescanning the sources.
type FailedOperationRecord struct {
	ID              string         `json:"id"`
	SourceType      SourceType     `json:"sourceType"`
	SourceID        string         `json:"sourceId"`
	EntityType      string         `json:"entityType"`
	Action          string         `json:"action"`
	Error           string         `json:"error"`
	ErrorKind       ErrorKind      `json:"errorKind"`
	Priority        Priority       `json:"priority,omitempty"`
	OccurredAt      time.Time      `json:"occurredAt"`
	RetryCount      int            `json:"retryCount"`
	MaxRetries      int            `json:"maxRetries"`
	IsRetryable     bool           `json:"isRetryable"`
	OriginalPayload Payload        `json:"originalPayload,omitempty"`
	SourceMetadata  map[string]any `json:"sourceMetadata,omitempty"`
}

// RecordID derives the stable registry id of a source failure.
func RecordID(source SourceType, sourceID string) string {
	return string(source) + ":" + sourceID
}

// Assess recomputes IsRetryable from the error kind and retry budget.
func (r *FailedOperationRecord) Assess() {
	r.IsRetryable = r.ErrorKind.Retryable() && r.RetryCount < r.MaxRetries
}

// RetryStats aggregates the failure registry.
type RetryStats struct {
	TotalFailed    int                `json:"totalFailed"`
	TotalRetryable int                `json:"totalRetryable"`
	ByType         map[SourceType]int `json:"byType"`
	ByEntity       map[string]int     `json:"byEntity"`
	ByPriority     map[Priority]int   `json:"byPriority"`
}

// RetryResult is the outcome of retrying one record.
type RetryResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
