// Package conversion drives the enquiry → admission → enrollment lifecycle
// against the backend of record, enforcing the transition rules locally before
// any irreversible call is made.
package conversion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"enrollgate/internal/backend"
	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/metrics"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
)

// Backend is the subset of backend.Backend the lifecycle needs.
type Backend interface {
	GetEnquiry(ctx context.Context, enquiryID string) (backend.EnquiryRecord, error)
	UpdateEnquiryStatus(ctx context.Context, enquiryID string, status string) (backend.OperationResult, error)
	ConvertEnquiryToAdmission(ctx context.Context, enquiryID string) (backend.OperationResult, error)
	GetAdmission(ctx context.Context, admissionID string) (backend.AdmissionRecord, error)
	ListRequirements(ctx context.Context, admissionID string) ([]backend.RequirementRecord, error)
	TransitionAdmission(ctx context.Context, admissionID string, next string) (backend.OperationResult, error)
	SetRequirementStatus(ctx context.Context, requirementID string, status string, reason string) (backend.OperationResult, error)
	ProcessEnquiryVerification(ctx context.Context, enquiryID string) (backend.OperationResult, error)
	ProcessAdmissionVerification(ctx context.Context, admissionID string) (backend.OperationResult, error)
}

type Service struct {
	backend Backend
	ledger  ledger
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	policy  EmptyRequirementsPolicy

	// conversions are serialized so two callers cannot both pass the
	// not-yet-converted check
	convertMu sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLedger records local conversions in store.
func WithLedger(store kvstore.Store) Option {
	return func(s *Service) {
		s.ledger = ledger{store: store}
	}
}

func WithEmptyRequirementsPolicy(p EmptyRequirementsPolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.policy = p
		}
	}
}

func New(b Backend, opts ...Option) (*Service, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	svc := &Service{
		backend: b,
		clock:   clock.Real(),
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("enrollgate/conversion"),
		policy:  EmptyRequirementsBlock,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// =============================================================================
// Enquiry lifecycle
// =============================================================================

// GetEnquiry loads and normalizes an enquiry.
func (s *Service) GetEnquiry(ctx context.Context, enquiryID string) (Enquiry, error) {
	if strings.TrimSpace(enquiryID) == "" {
		return Enquiry{}, dErrors.New(dErrors.CodeInvalidInput, "enquiry id is required")
	}
	rec, err := s.backend.GetEnquiry(ctx, enquiryID)
	if err != nil {
		return Enquiry{}, err
	}
	status, ok := ParseEnquiryStatus(rec.Status)
	if !ok {
		return Enquiry{}, dErrors.Newf(dErrors.CodePermanent, "unknown enquiry status %q", rec.Status)
	}
	return Enquiry{
		ID:                 rec.ID,
		Status:             status,
		VerificationStatus: rec.VerificationStatus,
		ConversionState:    rec.ConversionState,
		AdmissionID:        rec.AdmissionID,
		IsArchived:         rec.IsArchived,
		IsDeleted:          rec.IsDeleted,
	}, nil
}

// CanConvert reports whether the enquiry is verified and not yet converted.
func (s *Service) CanConvert(ctx context.Context, enquiryID string) (bool, error) {
	status, err := s.ConversionStatus(ctx, enquiryID)
	if err != nil {
		return false, err
	}
	return status.CanConvert, nil
}

// ConversionStatus combines the backend's view with the local ledger.
func (s *Service) ConversionStatus(ctx context.Context, enquiryID string) (ConversionStatus, error) {
	enq, err := s.GetEnquiry(ctx, enquiryID)
	if err != nil {
		return ConversionStatus{}, err
	}
	out := ConversionStatus{
		EnquiryID:   enq.ID,
		Status:      enq.Status,
		CanConvert:  enq.CanConvert(),
		Converted:   enq.IsConverted(),
		AdmissionID: enq.AdmissionID,
	}
	rec, found, err := s.ledger.lookup(ctx, enquiryID)
	if err != nil {
		s.logger.WarnContext(ctx, "conversion ledger unreadable", "enquiry_id", enquiryID, "error", err)
	}
	if found {
		out.CanConvert = false
		out.Converted = true
		if out.AdmissionID == "" {
			out.AdmissionID = rec.AdmissionID
		}
	}
	return out, nil
}

// Convert promotes a verified enquiry to an admission. It is irreversible:
// a second call reports AlreadyConverted.
func (s *Service) Convert(ctx context.Context, enquiryID string) (result ConversionResult, err error) {
	ctx, span := s.tracer.Start(ctx, "conversion.Convert",
		trace.WithAttributes(attribute.String("enquiry.id", enquiryID)))
	defer func() { s.finish(span, "convert", err) }()

	s.convertMu.Lock()
	defer s.convertMu.Unlock()

	if prior, found, lerr := s.ledger.lookup(ctx, enquiryID); lerr != nil {
		s.logger.WarnContext(ctx, "conversion ledger unreadable", "enquiry_id", enquiryID, "error", lerr)
	} else if found {
		return ConversionResult{}, dErrors.Newf(dErrors.CodeAlreadyConverted,
			"enquiry already converted to admission %s", prior.AdmissionID)
	}

	enq, err := s.GetEnquiry(ctx, enquiryID)
	if err != nil {
		return ConversionResult{}, err
	}
	if enq.IsConverted() {
		return ConversionResult{}, dErrors.New(dErrors.CodeAlreadyConverted, "enquiry already converted")
	}
	if !enq.CanConvert() {
		return ConversionResult{}, dErrors.Newf(dErrors.CodePreconditionNotMet,
			"enquiry must be Verified or In Progress to convert, is %s", enq.Status)
	}

	res, err := s.backend.ConvertEnquiryToAdmission(ctx, enquiryID)
	if err != nil {
		return ConversionResult{}, err
	}
	if !res.Success {
		return ConversionResult{}, dErrors.Newf(dErrors.CodePermanent, "conversion failed: %s", messageOr(res, "backend refused"))
	}
	if res.AdmissionID == "" {
		return ConversionResult{}, dErrors.New(dErrors.CodePermanent, "conversion failed: backend returned no admission id")
	}

	result = ConversionResult{
		EnquiryID:   enquiryID,
		AdmissionID: res.AdmissionID,
		ConvertedAt: s.clock.Now(),
	}
	if err := s.ledger.record(context.WithoutCancel(ctx), result); err != nil {
		s.logger.ErrorContext(ctx, "could not record conversion locally",
			"enquiry_id", enquiryID,
			"admission_id", result.AdmissionID,
			"error", err,
		)
	}
	s.logger.InfoContext(ctx, "enquiry converted",
		"log_type", "audit",
		"enquiry_id", enquiryID,
		"admission_id", result.AdmissionID,
	)
	return result, nil
}

// ActivateEnquiry moves a New enquiry to Active.
func (s *Service) ActivateEnquiry(ctx context.Context, enquiryID string) error {
	return s.advanceEnquiry(ctx, enquiryID, EnquiryActive)
}

// StartProgress moves a Verified enquiry to In Progress.
func (s *Service) StartProgress(ctx context.Context, enquiryID string) error {
	return s.advanceEnquiry(ctx, enquiryID, EnquiryInProgress)
}

func (s *Service) advanceEnquiry(ctx context.Context, enquiryID string, next EnquiryStatus) (err error) {
	defer func() { s.count("enquiry_"+strings.ReplaceAll(strings.ToLower(string(next)), " ", "_"), err) }()

	enq, err := s.GetEnquiry(ctx, enquiryID)
	if err != nil {
		return err
	}
	if enq.Status == next {
		return nil
	}
	if !enq.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodePreconditionNotMet, "enquiry cannot move from %s to %s", enq.Status, next)
	}
	res, err := s.backend.UpdateEnquiryStatus(ctx, enquiryID, string(next))
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodePermanent, "enquiry update failed: %s", messageOr(res, "backend refused"))
	}
	return nil
}

// =============================================================================
// Admission lifecycle
// =============================================================================

// GetAdmission loads an admission with its requirements.
func (s *Service) GetAdmission(ctx context.Context, admissionID string) (Admission, error) {
	if strings.TrimSpace(admissionID) == "" {
		return Admission{}, dErrors.New(dErrors.CodeInvalidInput, "admission id is required")
	}
	rec, err := s.backend.GetAdmission(ctx, admissionID)
	if err != nil {
		return Admission{}, err
	}
	status, ok := ParseAdmissionStatus(rec.Status)
	if !ok {
		return Admission{}, dErrors.Newf(dErrors.CodePermanent, "unknown admission status %q", rec.Status)
	}
	reqs, err := s.requirements(ctx, admissionID)
	if err != nil {
		return Admission{}, err
	}
	return Admission{ID: rec.ID, EnquiryID: rec.EnquiryID, Status: status, Requirements: reqs}, nil
}

func (s *Service) requirements(ctx context.Context, admissionID string) ([]Requirement, error) {
	recs, err := s.backend.ListRequirements(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	out := make([]Requirement, 0, len(recs))
	for _, r := range recs {
		status, ok := ParseRequirementStatus(r.Status)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodePermanent, "unknown requirement status %q", r.Status)
		}
		out = append(out, Requirement{
			ID:              r.ID,
			AdmissionID:     r.AdmissionID,
			Name:            r.Name,
			Mandatory:       r.Mandatory,
			Status:          status,
			RejectionReason: r.RejectionReason,
		})
	}
	return out, nil
}

// FinalizeEnrollment approves an admission once every mandatory document is
// accepted or verified. It is the only way to reach Approved.
func (s *Service) FinalizeEnrollment(ctx context.Context, admissionID string) (adm Admission, err error) {
	ctx, span := s.tracer.Start(ctx, "conversion.FinalizeEnrollment",
		trace.WithAttributes(attribute.String("admission.id", admissionID)))
	defer func() { s.finish(span, "finalize", err) }()

	adm, err = s.GetAdmission(ctx, admissionID)
	if err != nil {
		return Admission{}, err
	}

	if pending := MandatoryPending(adm.Requirements); pending > 0 {
		return Admission{}, dErrors.Newf(dErrors.CodeDocumentsIncomplete,
			"%d mandatory document(s) not yet accepted", pending)
	}
	if len(adm.Requirements) == 0 && s.policy != EmptyRequirementsAllow {
		return Admission{}, dErrors.New(dErrors.CodeDocumentsIncomplete, "no document requirements configured")
	}
	if !adm.Status.CanTransitionTo(AdmissionApproved) {
		return Admission{}, dErrors.Newf(dErrors.CodePreconditionNotMet,
			"admission must be Pending Review or Verified to finalize, is %s", adm.Status)
	}

	res, err := s.backend.TransitionAdmission(ctx, admissionID, string(AdmissionApproved))
	if err != nil {
		return Admission{}, err
	}
	if !res.Success {
		return Admission{}, dErrors.Newf(dErrors.CodePermanent, "finalization failed: %s", messageOr(res, "backend refused"))
	}

	adm.Status = AdmissionApproved
	s.logger.InfoContext(ctx, "enrollment finalized",
		"log_type", "audit",
		"admission_id", admissionID,
		"requirements", len(adm.Requirements),
	)
	return adm, nil
}

// TransitionAdmission moves an admission along the review flow. Approved is
// refused here; use FinalizeEnrollment.
func (s *Service) TransitionAdmission(ctx context.Context, admissionID string, next AdmissionStatus) (err error) {
	defer func() { s.count("admission_transition", err) }()

	if next == AdmissionApproved {
		return dErrors.New(dErrors.CodePreconditionNotMet, "approval requires enrollment finalization")
	}
	if _, ok := ParseAdmissionStatus(string(next)); !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown admission status %q", next)
	}
	if strings.TrimSpace(admissionID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "admission id is required")
	}

	rec, err := s.backend.GetAdmission(ctx, admissionID)
	if err != nil {
		return err
	}
	current, ok := ParseAdmissionStatus(rec.Status)
	if !ok {
		return dErrors.Newf(dErrors.CodePermanent, "unknown admission status %q", rec.Status)
	}
	if !current.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodePreconditionNotMet, "admission cannot move from %s to %s", current, next)
	}

	res, err := s.backend.TransitionAdmission(ctx, admissionID, string(next))
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodePermanent, "admission transition failed: %s", messageOr(res, "backend refused"))
	}
	return nil
}

// VerifyDocument marks a requirement Verified. Repeating it is harmless.
func (s *Service) VerifyDocument(ctx context.Context, requirementID string) (err error) {
	defer func() { s.count("verify_document", err) }()

	if strings.TrimSpace(requirementID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "requirement id is required")
	}
	return s.setRequirement(ctx, requirementID, RequirementVerified, "")
}

// RejectDocument marks a requirement Rejected with a reason.
func (s *Service) RejectDocument(ctx context.Context, requirementID, reason string) (err error) {
	defer func() { s.count("reject_document", err) }()

	if strings.TrimSpace(requirementID) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "requirement id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "rejection reason is required")
	}
	return s.setRequirement(ctx, requirementID, RequirementRejected, reason)
}

func (s *Service) setRequirement(ctx context.Context, requirementID string, status RequirementStatus, reason string) error {
	res, err := s.backend.SetRequirementStatus(ctx, requirementID, string(status), reason)
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodeNotFound, "requirement %s not updated: %s", requirementID, messageOr(res, "backend refused"))
	}
	return nil
}

// =============================================================================
// Verification processors
// =============================================================================

// ProcessEnquiryVerification hands a verified enquiry code to the backend.
func (s *Service) ProcessEnquiryVerification(ctx context.Context, enquiryID string) (err error) {
	defer func() { s.count("process_enquiry", err) }()

	res, err := s.backend.ProcessEnquiryVerification(ctx, enquiryID)
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodePermanent, "enquiry verification failed: %s", messageOr(res, "backend refused"))
	}
	return nil
}

// ProcessAdmissionVerification hands a verified admission code to the backend.
func (s *Service) ProcessAdmissionVerification(ctx context.Context, admissionID string) (err error) {
	defer func() { s.count("process_admission", err) }()

	res, err := s.backend.ProcessAdmissionVerification(ctx, admissionID)
	if err != nil {
		return err
	}
	if !res.Success {
		return dErrors.Newf(dErrors.CodePermanent, "admission verification failed: %s", messageOr(res, "backend refused"))
	}
	return nil
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.code", string(dErrors.CodeOf(err))))
	}
	span.End()
	s.count(operation, err)
}

func (s *Service) count(operation string, err error) {
	result := "success"
	if err != nil {
		result = string(dErrors.CodeOf(err))
	}
	s.metrics.IncrementConversion(operation, result)
}

func messageOr(res backend.OperationResult, fallback string) string {
	if res.Message != "" {
		return res.Message
	}
	return fallback
}
