// Package backend is the boundary to the managed backend of record. Everything
// behind Backend is untrusted and fallible: adapters classify every failure as
// transient or permanent and normalize response shapes before they reach the
// coordinator.
package backend

import (
	"context"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Backend

// Backend is the set of remote operations the coordinator consumes.
type Backend interface {
	// ValidateCode resolves a share code without side effects.
	ValidateCode(ctx context.Context, code string) (ValidationResult, error)
	// ImportRecord materializes the record into the active branch. Idempotent.
	ImportRecord(ctx context.Context, entityID string, codeType CodeType, branchID string) error

	ProcessEnquiryVerification(ctx context.Context, enquiryID string) (OperationResult, error)
	ProcessAdmissionVerification(ctx context.Context, admissionID string) (OperationResult, error)
	ConvertEnquiryToAdmission(ctx context.Context, enquiryID string) (OperationResult, error)
	TransitionAdmission(ctx context.Context, admissionID string, next string) (OperationResult, error)

	GetEnquiry(ctx context.Context, enquiryID string) (EnquiryRecord, error)
	UpdateEnquiryStatus(ctx context.Context, enquiryID string, status string) (OperationResult, error)
	GetAdmission(ctx context.Context, admissionID string) (AdmissionRecord, error)
	ListRequirements(ctx context.Context, admissionID string) ([]RequirementRecord, error)
	SetRequirementStatus(ctx context.Context, requirementID string, status string, reason string) (OperationResult, error)

	// AppendAuditLog mirrors one local audit entry into the backend table.
	AppendAuditLog(ctx context.Context, entry AuditRecord) error

	// Probe is the lightweight liveness call.
	Probe(ctx context.Context) error
	// ProbeTable is the fallback minimal read against the domain-of-record table.
	ProbeTable(ctx context.Context) error
}
