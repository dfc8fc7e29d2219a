package backend

import "time"

// CodeType distinguishes what a share code unlocks.
type CodeType string

const (
	CodeTypeEnquiry   CodeType = "enquiry"
	CodeTypeAdmission CodeType = "admission"
)

// ParseCodeType accepts the backend's spellings ("Enquiry", "ENQUIRY", ...).
func ParseCodeType(raw string) (CodeType, bool) {
	switch normalizeToken(raw) {
	case "enquiry", "inquiry":
		return CodeTypeEnquiry, true
	case "admission":
		return CodeTypeAdmission, true
	default:
		return "", false
	}
}

// ValidationResult is the canonical answer of ValidateCode.
type ValidationResult struct {
	Found          bool
	Expired        bool
	CodeType       CodeType
	TargetEntityID string
	ApplicantName  string
	Grade          string
	ExpiresAt      *time.Time
}

// IsExpired reports whether the code is unusable because of its age.
func (v ValidationResult) IsExpired(now time.Time) bool {
	if v.Expired {
		return true
	}
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}

// OperationResult is the canonical answer of every mutating RPC. Success is
// only true when the backend said so explicitly.
type OperationResult struct {
	Success     bool
	Message     string
	AdmissionID string
}

// EnquiryRecord is the backend row for an enquiry.
type EnquiryRecord struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	VerificationStatus string `json:"verification_status"`
	ConversionState    string `json:"conversion_state"`
	AdmissionID        string `json:"admission_id"`
	IsArchived         bool   `json:"is_archived"`
	IsDeleted          bool   `json:"is_deleted"`
}

// AdmissionRecord is the backend row for an admission.
type AdmissionRecord struct {
	ID        string `json:"id"`
	EnquiryID string `json:"enquiry_id"`
	Status    string `json:"status"`
}

// RequirementRecord is one document requirement of an admission.
type RequirementRecord struct {
	ID              string `json:"id"`
	AdmissionID     string `json:"admission_id"`
	Name            string `json:"name"`
	Mandatory       bool   `json:"is_mandatory"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason"`
}

// AuditRecord is the mirrored shape of a local audit entry.
type AuditRecord struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	CodeType       string    `json:"code_type"`
	TargetEntityID string    `json:"target_entity_id"`
	Result         string    `json:"result"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}
