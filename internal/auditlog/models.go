package auditlog

import (
	"time"

	"enrollgate/internal/backend"
)

// Result is the recorded outcome of one verification attempt.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailed  Result = "FAILED"
	ResultExpired Result = "EXPIRED"
	ResultInvalid Result = "INVALID"
	// ResultQueued is transitional: the attempt was deferred, not decided.
	ResultQueued Result = "QUEUED"
)

// Entry is one append-only audit record.
type Entry struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	CodeType       backend.CodeType `json:"code_type,omitempty"`
	TargetEntityID string           `json:"target_entity_id,omitempty"`
	Result         Result           `json:"result"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	VerifiedAt     time.Time        `json:"verified_at"`
}

// Record converts the entry to the backend's audit table shape.
func (e Entry) Record() backend.AuditRecord {
	return backend.AuditRecord{
		ID:             e.ID,
		Code:           e.Code,
		CodeType:       string(e.CodeType),
		TargetEntityID: e.TargetEntityID,
		Result:         string(e.Result),
		ErrorMessage:   e.ErrorMessage,
		VerifiedAt:     e.VerifiedAt,
	}
}
