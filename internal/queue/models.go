package queue

import (
	"time"

	"enrollgate/internal/backend"
)

// State is the lifecycle of a queued verification.
type State string

const (
	StatePending   State = "pending"
	StateAbandoned State = "abandoned"
)

const DefaultMaxRetries = 3

// Request is what the coordinator hands over when it cannot verify now.
type Request struct {
	Code           string
	CodeType       backend.CodeType
	TargetEntityID string
	ApplicantName  string
	Grade          string
}

// Item is a verification waiting for the backend to come back.
type Item struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	CodeType       backend.CodeType `json:"code_type,omitempty"`
	TargetEntityID string           `json:"target_entity_id,omitempty"`
	ApplicantName  string           `json:"applicant_name,omitempty"`
	Grade          string           `json:"grade,omitempty"`
	QueuedAt       time.Time        `json:"queued_at"`
	RetryCount     int              `json:"retry_count"`
	MaxRetries     int              `json:"max_retries"`
	LastError      string           `json:"last_error,omitempty"`
	State          State            `json:"state"`
	AbandonedAt    *time.Time       `json:"abandoned_at,omitempty"`
	AbandonReason  string           `json:"abandon_reason,omitempty"`
}

// RetriesExhausted reports whether the item has used its retry budget.
func (i Item) RetriesExhausted() bool {
	return i.RetryCount >= i.MaxRetries
}

// RetryResult reports what IncrementRetry did to the item.
type RetryResult struct {
	Item      Item
	Abandoned bool
}
