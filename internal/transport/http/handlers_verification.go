package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"enrollgate/internal/auditlog"
	"enrollgate/internal/health"
	"enrollgate/internal/queue"
	"enrollgate/internal/verification"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/httputil"
	"enrollgate/pkg/requestcontext"
)

// Verifier submits codes and replays the offline queue.
type Verifier interface {
	Submit(ctx context.Context, code string, expected verification.CodeType) verification.Outcome
	DrainQueue(ctx context.Context) (verification.DrainReport, error)
}

type QueueReader interface {
	List(ctx context.Context) ([]queue.Item, error)
	ListAbandoned(ctx context.Context) ([]queue.Item, error)
}

type AuditReader interface {
	List(ctx context.Context, limit int) ([]auditlog.Entry, error)
}

type HealthChecker interface {
	Last() health.Status
	Check(ctx context.Context) health.Status
}

const defaultAuditLimit = 100

// VerificationHandler serves code submission, queue, audit and health endpoints.
type VerificationHandler struct {
	verifier Verifier
	queue    QueueReader
	audit    AuditReader
	health   HealthChecker
	logger   *slog.Logger
}

func NewVerificationHandler(
	verifier Verifier,
	q QueueReader,
	audit AuditReader,
	healthChecker HealthChecker,
	logger *slog.Logger,
) *VerificationHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VerificationHandler{
		verifier: verifier,
		queue:    q,
		audit:    audit,
		health:   healthChecker,
		logger:   logger,
	}
}

// Register mounts the endpoints on r. submitGuards wrap code submission only.
func (h *VerificationHandler) Register(r chi.Router, submitGuards ...func(http.Handler) http.Handler) {
	r.With(submitGuards...).Post("/verifications", h.HandleSubmit)
	r.Post("/verifications/drain", h.HandleDrain)
	r.Get("/queue", h.HandleListQueue)
	r.Get("/queue/abandoned", h.HandleListAbandoned)
	r.Get("/audit", h.HandleListAudit)
	r.Get("/health", h.HandleHealth)
	r.Post("/health/check", h.HandleHealthCheck)
}

// HandleSubmit handles POST /v1/verifications. The body is always an Outcome;
// the status code reflects its kind.
func (h *VerificationHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := h.verifier.Submit(ctx, req.Code, req.parsedType)
	h.logger.InfoContext(ctx, "verification submitted",
		"request_id", requestcontext.RequestID(ctx),
		"outcome", out.Kind,
		"queue_id", out.QueueID,
	)
	httputil.WriteJSON(w, outcomeStatus(out), out)
}

// HandleDrain handles POST /v1/verifications/drain.
func (h *VerificationHandler) HandleDrain(w http.ResponseWriter, r *http.Request) {
	report, err := h.verifier.DrainQueue(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual drain failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if report.Coalesced {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, report)
}

func (h *VerificationHandler) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": nonNil(items), "count": len(items)})
}

func (h *VerificationHandler) HandleListAbandoned(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.ListAbandoned(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": nonNil(items), "count": len(items)})
}

// HandleListAudit handles GET /v1/audit?limit=n, newest first.
func (h *VerificationHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}

func (h *VerificationHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.health.Last())
}

// HandleHealthCheck forces a fresh probe.
func (h *VerificationHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.health.Check(r.Context()))
}

func outcomeStatus(out verification.Outcome) int {
	switch out.Kind {
	case verification.KindSuccess:
		return http.StatusOK
	case verification.KindQueued:
		return http.StatusAccepted
	case verification.KindInvalid:
		return http.StatusUnprocessableEntity
	case verification.KindExpired:
		return http.StatusGone
	default:
		if out.Retryable || dErrors.HasCode(out.Err, dErrors.CodeStorageUnavailable) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
