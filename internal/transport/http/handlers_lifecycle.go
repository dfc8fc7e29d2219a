package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"enrollgate/internal/conversion"
	"enrollgate/pkg/platform/httputil"
	"enrollgate/pkg/requestcontext"
)

// Lifecycle drives enquiries, admissions and their documents.
type Lifecycle interface {
	ConversionStatus(ctx context.Context, enquiryID string) (conversion.ConversionStatus, error)
	Convert(ctx context.Context, enquiryID string) (conversion.ConversionResult, error)
	ActivateEnquiry(ctx context.Context, enquiryID string) error
	StartProgress(ctx context.Context, enquiryID string) error
	GetAdmission(ctx context.Context, admissionID string) (conversion.Admission, error)
	FinalizeEnrollment(ctx context.Context, admissionID string) (conversion.Admission, error)
	TransitionAdmission(ctx context.Context, admissionID string, next conversion.AdmissionStatus) error
	VerifyDocument(ctx context.Context, requirementID string) error
	RejectDocument(ctx context.Context, requirementID, reason string) error
}

// LifecycleHandler serves the enquiry → admission → enrollment endpoints.
type LifecycleHandler struct {
	lifecycle Lifecycle
	logger    *slog.Logger
}

func NewLifecycleHandler(lifecycle Lifecycle, logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LifecycleHandler{lifecycle: lifecycle, logger: logger}
}

// Register mounts read endpoints on r and mutations on mutate, which the
// router wraps with the operator token check.
func (h *LifecycleHandler) Register(r chi.Router, mutate chi.Router) {
	r.Get("/enquiries/{id}/conversion", h.HandleConversionStatus)
	r.Get("/admissions/{id}", h.HandleGetAdmission)

	mutate.Post("/enquiries/{id}/activate", h.HandleActivate)
	mutate.Post("/enquiries/{id}/progress", h.HandleStartProgress)
	mutate.Post("/enquiries/{id}/convert", h.HandleConvert)
	mutate.Post("/admissions/{id}/finalize", h.HandleFinalize)
	mutate.Post("/admissions/{id}/transition", h.HandleTransition)
	mutate.Post("/documents/{id}/verify", h.HandleVerifyDocument)
	mutate.Post("/documents/{id}/reject", h.HandleRejectDocument)
}

func (h *LifecycleHandler) HandleConversionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.lifecycle.ConversionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *LifecycleHandler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enquiryID := chi.URLParam(r, "id")

	result, err := h.lifecycle.Convert(ctx, enquiryID)
	if err != nil {
		h.fail(ctx, w, "conversion refused", "enquiry_id", enquiryID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *LifecycleHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "enquiry_id", h.lifecycle.ActivateEnquiry)
}

func (h *LifecycleHandler) HandleStartProgress(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "enquiry_id", h.lifecycle.StartProgress)
}

func (h *LifecycleHandler) HandleGetAdmission(w http.ResponseWriter, r *http.Request) {
	adm, err := h.lifecycle.GetAdmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adm)
}

func (h *LifecycleHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admissionID := chi.URLParam(r, "id")

	adm, err := h.lifecycle.FinalizeEnrollment(ctx, admissionID)
	if err != nil {
		h.fail(ctx, w, "finalization refused", "admission_id", admissionID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adm)
}

func (h *LifecycleHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admissionID := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.lifecycle.TransitionAdmission(ctx, admissionID, req.parsedStatus); err != nil {
		h.fail(ctx, w, "admission transition refused", "admission_id", admissionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) HandleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	h.noContent(w, r, "requirement_id", h.lifecycle.VerifyDocument)
}

func (h *LifecycleHandler) HandleRejectDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requirementID := chi.URLParam(r, "id")

	var req RejectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.lifecycle.RejectDocument(ctx, requirementID, req.Reason); err != nil {
		h.fail(ctx, w, "document rejection failed", "requirement_id", requirementID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) noContent(w http.ResponseWriter, r *http.Request, idKey string, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		h.fail(r.Context(), w, "lifecycle operation failed", idKey, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) fail(ctx context.Context, w http.ResponseWriter, msg, idKey, id string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		idKey, id,
		"error", err,
	)
	httputil.WriteError(w, err)
}
