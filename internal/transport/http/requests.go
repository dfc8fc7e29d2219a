package httptransport

import (
	"strings"

	"enrollgate/internal/backend"
	"enrollgate/internal/conversion"
	"enrollgate/internal/verification"
	dErrors "enrollgate/pkg/domain-errors"
)

// SubmitRequest is the body of POST /v1/verifications.
type SubmitRequest struct {
	Code             string `json:"code"`
	ExpectedCodeType string `json:"expected_code_type,omitempty"`

	parsedType verification.CodeType
}

// Validate parses the expected type. An empty code is left to the
// coordinator, which reports it as an Invalid outcome.
func (r *SubmitRequest) Validate() error {
	if len(r.Code) > 64 {
		return dErrors.New(dErrors.CodeInvalidInput, "code must be at most 64 characters")
	}
	raw := strings.TrimSpace(r.ExpectedCodeType)
	if raw == "" {
		return nil
	}
	ct, ok := backend.ParseCodeType(raw)
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "expected_code_type must be enquiry or admission, got %q", raw)
	}
	r.parsedType = ct
	return nil
}

// TransitionRequest is the body of POST /v1/admissions/{id}/transition.
type TransitionRequest struct {
	Status string `json:"status"`

	parsedStatus conversion.AdmissionStatus
}

func (r *TransitionRequest) Validate() error {
	status, ok := conversion.ParseAdmissionStatus(r.Status)
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown admission status %q", r.Status)
	}
	r.parsedStatus = status
	return nil
}

// RejectRequest is the body of POST /v1/documents/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "rejection reason is required")
	}
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeInvalidInput, "rejection reason must be at most 500 characters")
	}
	return nil
}
