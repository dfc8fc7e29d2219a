package verification

import (
	"strings"
	"time"
	"unicode"

	"enrollgate/internal/backend"
)

// CodeType distinguishes enquiry codes from admission codes.
type CodeType = backend.CodeType

const (
	CodeTypeEnquiry   = backend.CodeTypeEnquiry
	CodeTypeAdmission = backend.CodeTypeAdmission
)

// VerificationCode is a share code the backend resolved to a record.
type VerificationCode struct {
	Code          string     `json:"code"`
	CodeType      CodeType   `json:"code_type"`
	EntityID      string     `json:"entity_id"`
	ApplicantName string     `json:"applicant_name,omitempty"`
	Grade         string     `json:"grade,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Kind is the closed set of outcomes a caller can receive.
type Kind string

const (
	KindSuccess Kind = "success"
	KindQueued  Kind = "queued"
	KindInvalid Kind = "invalid"
	KindExpired Kind = "expired"
	KindFailed  Kind = "failed"
)

// Outcome is the result of one Submit. Err carries the classified cause for
// Failed, Invalid and Expired outcomes.
type Outcome struct {
	Kind           Kind     `json:"kind"`
	Code           string   `json:"code"`
	CodeType       CodeType `json:"code_type,omitempty"`
	TargetEntityID string   `json:"target_entity_id,omitempty"`
	ApplicantName  string   `json:"applicant_name,omitempty"`
	Grade          string   `json:"grade,omitempty"`
	Message        string   `json:"message,omitempty"`
	Retryable      bool     `json:"retryable,omitempty"`
	QueueID        string   `json:"queue_id,omitempty"`
	AuditID        string   `json:"audit_id,omitempty"`
	Err            error    `json:"-"`
}

// DrainReport summarizes one DrainQueue run.
type DrainReport struct {
	// Coalesced is set when another drain was already running; nothing was
	// processed by this call.
	Coalesced      bool      `json:"coalesced"`
	StartedAt      time.Time `json:"started_at"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Abandoned      int       `json:"abandoned"`
	Remaining      int       `json:"remaining"`
	StoppedOffline bool      `json:"stopped_offline"`
}

// NormalizeCode uppercases the code and strips all whitespace, so "ab12 cd"
// and "AB12CD" are the same code.
func NormalizeCode(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}
