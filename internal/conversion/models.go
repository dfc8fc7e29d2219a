package conversion

import (
	"strings"
	"time"
)

// EnquiryStatus is the pipeline stage of an enquiry.
type EnquiryStatus string

const (
	EnquiryNew        EnquiryStatus = "New"
	EnquiryActive     EnquiryStatus = "Active"
	EnquiryVerified   EnquiryStatus = "Verified"
	EnquiryInProgress EnquiryStatus = "In Progress"
	EnquiryConverted  EnquiryStatus = "Converted"
)

var enquiryTransitions = map[EnquiryStatus][]EnquiryStatus{
	EnquiryNew:        {EnquiryActive},
	EnquiryActive:     {EnquiryVerified},
	EnquiryVerified:   {EnquiryInProgress, EnquiryConverted},
	EnquiryInProgress: {EnquiryConverted},
}

// CanTransitionTo reports whether the pipeline allows moving to next.
// Converted is terminal.
func (s EnquiryStatus) CanTransitionTo(next EnquiryStatus) bool {
	for _, allowed := range enquiryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseEnquiryStatus accepts the backend's spellings ("in_progress", "IN PROGRESS").
func ParseEnquiryStatus(raw string) (EnquiryStatus, bool) {
	switch normalize(raw) {
	case "new":
		return EnquiryNew, true
	case "active":
		return EnquiryActive, true
	case "verified":
		return EnquiryVerified, true
	case "in progress":
		return EnquiryInProgress, true
	case "converted":
		return EnquiryConverted, true
	default:
		return "", false
	}
}

const (
	VerificationPending  = "Pending"
	VerificationVerified = "Verified"

	StateNotConverted = "NOT_CONVERTED"
	StateConverted    = "CONVERTED"
)

// Enquiry is a prospective applicant record.
type Enquiry struct {
	ID                 string        `json:"id"`
	Status             EnquiryStatus `json:"status"`
	VerificationStatus string        `json:"verification_status"`
	ConversionState    string        `json:"conversion_state"`
	AdmissionID        string        `json:"admission_id,omitempty"`
	IsArchived         bool          `json:"is_archived"`
	IsDeleted          bool          `json:"is_deleted"`
}

// IsConverted reports whether the enquiry has already been promoted.
func (e Enquiry) IsConverted() bool {
	return strings.EqualFold(e.ConversionState, StateConverted) || e.Status == EnquiryConverted
}

// CanConvert reports whether the enquiry may be promoted to an admission.
func (e Enquiry) CanConvert() bool {
	if e.IsConverted() {
		return false
	}
	return e.Status == EnquiryVerified || e.Status == EnquiryInProgress
}

// AdmissionStatus is the review stage of an admission.
type AdmissionStatus string

const (
	AdmissionRegistered    AdmissionStatus = "Registered"
	AdmissionPendingReview AdmissionStatus = "Pending Review"
	AdmissionVerified      AdmissionStatus = "Verified"
	AdmissionApproved      AdmissionStatus = "Approved"
	AdmissionRejected      AdmissionStatus = "Rejected"
	AdmissionCancelled     AdmissionStatus = "Cancelled"
)

var admissionTransitions = map[AdmissionStatus][]AdmissionStatus{
	AdmissionRegistered:    {AdmissionPendingReview, AdmissionRejected, AdmissionCancelled},
	AdmissionPendingReview: {AdmissionVerified, AdmissionApproved, AdmissionRejected, AdmissionCancelled},
	AdmissionVerified:      {AdmissionApproved, AdmissionRejected, AdmissionCancelled},
}

// CanTransitionTo reports whether the review flow allows moving to next.
// Approved, Rejected and Cancelled are terminal.
func (s AdmissionStatus) CanTransitionTo(next AdmissionStatus) bool {
	for _, allowed := range admissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists.
func (s AdmissionStatus) IsTerminal() bool {
	return len(admissionTransitions[s]) == 0
}

func ParseAdmissionStatus(raw string) (AdmissionStatus, bool) {
	switch normalize(raw) {
	case "registered":
		return AdmissionRegistered, true
	case "pending review":
		return AdmissionPendingReview, true
	case "verified":
		return AdmissionVerified, true
	case "approved":
		return AdmissionApproved, true
	case "rejected":
		return AdmissionRejected, true
	case "cancelled", "canceled":
		return AdmissionCancelled, true
	default:
		return "", false
	}
}

// RequirementStatus is the review state of one required document.
type RequirementStatus string

const (
	RequirementPending   RequirementStatus = "Pending"
	RequirementSubmitted RequirementStatus = "Submitted"
	RequirementAccepted  RequirementStatus = "Accepted"
	RequirementVerified  RequirementStatus = "Verified"
	RequirementRejected  RequirementStatus = "Rejected"
)

func ParseRequirementStatus(raw string) (RequirementStatus, bool) {
	switch normalize(raw) {
	case "pending":
		return RequirementPending, true
	case "submitted":
		return RequirementSubmitted, true
	case "accepted":
		return RequirementAccepted, true
	case "verified":
		return RequirementVerified, true
	case "rejected":
		return RequirementRejected, true
	default:
		return "", false
	}
}

// Requirement is one document an admission must satisfy.
type Requirement struct {
	ID              string            `json:"id"`
	AdmissionID     string            `json:"admission_id"`
	Name            string            `json:"name"`
	Mandatory       bool              `json:"mandatory"`
	Status          RequirementStatus `json:"status"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
}

// IsSatisfied reports whether the document counts towards enrollment.
func (r Requirement) IsSatisfied() bool {
	return r.Status == RequirementAccepted || r.Status == RequirementVerified
}

// Admission is a converted applicant moving through review.
type Admission struct {
	ID           string          `json:"id"`
	EnquiryID    string          `json:"enquiry_id,omitempty"`
	Status       AdmissionStatus `json:"status"`
	Requirements []Requirement   `json:"requirements,omitempty"`
}

// MandatoryPending counts mandatory requirements not yet accepted or verified.
func MandatoryPending(reqs []Requirement) int {
	n := 0
	for _, r := range reqs {
		if r.Mandatory && !r.IsSatisfied() {
			n++
		}
	}
	return n
}

// ConversionResult is returned by a successful Convert.
type ConversionResult struct {
	EnquiryID   string    `json:"enquiry_id"`
	AdmissionID string    `json:"admission_id"`
	ConvertedAt time.Time `json:"converted_at"`
}

// ConversionStatus summarizes whether an enquiry can be or was converted.
type ConversionStatus struct {
	EnquiryID   string        `json:"enquiry_id"`
	Status      EnquiryStatus `json:"status"`
	CanConvert  bool          `json:"can_convert"`
	Converted   bool          `json:"converted"`
	AdmissionID string        `json:"admission_id,omitempty"`
}

// EmptyRequirementsPolicy decides whether an admission with no configured
// document requirements may be finalized.
type EmptyRequirementsPolicy string

const (
	EmptyRequirementsBlock EmptyRequirementsPolicy = "block"
	EmptyRequirementsAllow EmptyRequirementsPolicy = "allow"
)

func ParseEmptyRequirementsPolicy(raw string) (EmptyRequirementsPolicy, bool) {
	switch normalize(raw) {
	case "", "block":
		return EmptyRequirementsBlock, true
	case "allow":
		return EmptyRequirementsAllow, true
	default:
		return "", false
	}
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
