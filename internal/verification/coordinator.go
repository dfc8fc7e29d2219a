// Package verification decides, per submitted share code, whether to verify
// against the backend now or queue the attempt until the backend is back, and
// replays queued attempts when it is.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"enrollgate/internal/auditlog"
	"enrollgate/internal/backend"
	"enrollgate/internal/health"
	"enrollgate/internal/platform/metrics"
	"enrollgate/internal/queue"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
)

const (
	defaultCallTimeout   = 15 * time.Second
	defaultDrainInterval = time.Minute
)

// Validator is the pure lookup plus the idempotent import step.
type Validator interface {
	ValidateCode(ctx context.Context, code string) (backend.ValidationResult, error)
	ImportRecord(ctx context.Context, entityID string, codeType backend.CodeType, branchID string) error
}

// Processor runs the domain step that follows a successful import.
type Processor interface {
	ProcessEnquiryVerification(ctx context.Context, enquiryID string) error
	ProcessAdmissionVerification(ctx context.Context, admissionID string) error
}

// HealthSource exposes the cached backend health. Last must not block on a probe.
type HealthSource interface {
	Last() health.Status
}

type Coordinator struct {
	backend   Validator
	processor Processor
	health    HealthSource
	queue     *queue.Queue
	audit     *auditlog.Log

	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	branchID    string
	callTimeout time.Duration

	draining atomic.Bool

	mu         sync.Mutex
	lastHealth health.State

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) {
		if cl != nil {
			c.clock = cl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithBranchID sets the branch imported records are materialized into.
func WithBranchID(id string) Option {
	return func(c *Coordinator) {
		c.branchID = id
	}
}

// WithCallTimeout bounds every backend call made on behalf of one attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func New(
	b Validator,
	processor Processor,
	healthSource HealthSource,
	q *queue.Queue,
	audit *auditlog.Log,
	opts ...Option,
) (*Coordinator, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if healthSource == nil {
		return nil, errors.New("health source is required")
	}
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if audit == nil {
		return nil, errors.New("audit log is required")
	}

	c := &Coordinator{
		backend:     b,
		processor:   processor,
		health:      healthSource,
		queue:       q,
		audit:       audit,
		clock:       clock.Real(),
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer("enrollgate/verification"),
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	return c, nil
}

// Close cancels background drains started by OnHealthChange and waits for
// them. An item already being processed is finished first.
func (c *Coordinator) Close() {
	c.bgCancel()
	c.bg.Wait()
}

// =============================================================================
// Submit
// =============================================================================

// Submit verifies one share code. It always returns one of the Kind outcomes.
// Once a backend call has been issued the caller's cancellation is ignored so
// the attempt finishes with exactly one audit entry.
func (c *Coordinator) Submit(ctx context.Context, raw string, expected CodeType) (out Outcome) {
	start := c.clock.Now()
	ctx, span := c.tracer.Start(ctx, "verification.Submit",
		trace.WithAttributes(attribute.String("code.expected_type", string(expected))))
	defer func() {
		span.SetAttributes(attribute.String("verification.outcome", string(out.Kind)))
		if out.Err != nil {
			span.RecordError(out.Err)
		}
		span.End()
		c.metrics.ObserveVerification(string(out.Kind), c.clock.Now().Sub(start))
	}()

	code := NormalizeCode(raw)
	if code == "" {
		err := dErrors.New(dErrors.CodeInvalidInput, "verification code is required")
		return Outcome{Kind: KindInvalid, Message: err.Message, Err: err}
	}
	if expected != "" {
		ct, ok := backend.ParseCodeType(string(expected))
		if !ok {
			err := dErrors.Newf(dErrors.CodeInvalidInput, "unknown code type %q", expected)
			return Outcome{Kind: KindInvalid, Code: code, Message: err.Message, Err: err}
		}
		expected = ct
	}

	ctx = context.WithoutCancel(ctx)

	if status := c.health.Last(); status.IsOffline() {
		return c.enqueue(ctx, code, expected, "backend offline")
	}

	res := c.verify(ctx, code, expected)
	if res.kind == KindFailed && res.beforeMutation && dErrors.IsRetryable(res.err) {
		c.logger.InfoContext(ctx, "validation unreachable, queuing verification", "error", res.err)
		return c.enqueue(ctx, code, expected, res.err.Error())
	}
	return c.conclude(ctx, code, expected, res)
}

func (c *Coordinator) enqueue(ctx context.Context, code string, expected CodeType, reason string) Outcome {
	item, err := c.queue.Enqueue(ctx, queue.Request{Code: code, CodeType: expected})
	if err != nil {
		entry := c.audit.Record(ctx, auditlog.Entry{
			Code:         code,
			CodeType:     expected,
			Result:       auditlog.ResultFailed,
			ErrorMessage: err.Error(),
		})
		c.logger.ErrorContext(ctx, "could not queue verification", "error", err)
		return Outcome{
			Kind:     KindFailed,
			Code:     code,
			CodeType: expected,
			Message:  "could not queue verification",
			AuditID:  entry.ID,
			Err:      err,
		}
	}

	entry := c.audit.Record(ctx, auditlog.Entry{
		Code:         code,
		CodeType:     expected,
		Result:       auditlog.ResultQueued,
		ErrorMessage: reason,
	})
	c.logger.InfoContext(ctx, "verification queued",
		"queue_id", item.ID,
		"code_type", expected,
		"reason", reason,
	)
	return Outcome{
		Kind:     KindQueued,
		Code:     code,
		CodeType: expected,
		Message:  "verification queued until the backend is reachable",
		QueueID:  item.ID,
		AuditID:  entry.ID,
	}
}

// conclude turns an attempt into an Outcome and its audit entry.
func (c *Coordinator) conclude(ctx context.Context, code string, expected CodeType, res attempt) Outcome {
	out := Outcome{
		Kind:           res.kind,
		Code:           code,
		CodeType:       res.verified.CodeType,
		TargetEntityID: res.verified.EntityID,
		ApplicantName:  res.verified.ApplicantName,
		Grade:          res.verified.Grade,
		Err:            res.err,
	}
	if out.CodeType == "" {
		out.CodeType = expected
	}
	if res.err != nil {
		out.Message = res.err.Error()
		out.Retryable = dErrors.IsRetryable(res.err)
	} else {
		out.Message = "verified"
	}

	entry := c.audit.Record(ctx, auditlog.Entry{
		Code:           code,
		CodeType:       out.CodeType,
		TargetEntityID: out.TargetEntityID,
		Result:         auditResult(res.kind),
		ErrorMessage:   errorMessage(res.err),
	})
	out.AuditID = entry.ID

	if res.kind == KindFailed {
		c.logger.WarnContext(ctx, "verification failed",
			"code_type", out.CodeType,
			"target_entity_id", out.TargetEntityID,
			"retryable", out.Retryable,
			"error", res.err,
		)
	} else {
		c.logger.InfoContext(ctx, "verification completed",
			"outcome", res.kind,
			"code_type", out.CodeType,
			"target_entity_id", out.TargetEntityID,
		)
	}
	return out
}

// =============================================================================
// Two-phase backend protocol
// =============================================================================

type attempt struct {
	kind     Kind
	verified VerificationCode
	err      error
	// beforeMutation is set when the failure happened during the pure lookup,
	// so nothing on the backend changed.
	beforeMutation bool
}

// verify runs validate, then import, then the domain processor.
func (c *Coordinator) verify(ctx context.Context, code string, expected CodeType) attempt {
	res, err := c.validate(ctx, code)
	if err != nil {
		return attempt{kind: KindFailed, err: backend.Classify(err, "validate code"), beforeMutation: true}
	}

	verified := VerificationCode{
		Code:          code,
		CodeType:      res.CodeType,
		EntityID:      res.TargetEntityID,
		ApplicantName: res.ApplicantName,
		Grade:         res.Grade,
		ExpiresAt:     res.ExpiresAt,
	}
	if !res.Found {
		return attempt{kind: KindInvalid, verified: verified,
			err: dErrors.New(dErrors.CodeNotFound, "verification code not found")}
	}
	if res.IsExpired(c.clock.Now()) {
		return attempt{kind: KindExpired, verified: verified,
			err: dErrors.New(dErrors.CodeExpired, "verification code has expired")}
	}
	if verified.CodeType == "" {
		verified.CodeType = expected
	}
	if expected != "" && verified.CodeType != expected {
		return attempt{kind: KindInvalid, verified: verified,
			err: dErrors.Newf(dErrors.CodeInvalidInput, "code is for an %s, not an %s", verified.CodeType, expected)}
	}
	if verified.CodeType == "" || verified.EntityID == "" {
		return attempt{kind: KindFailed, verified: verified, beforeMutation: true,
			err: dErrors.New(dErrors.CodePermanent, "backend did not resolve the code to a record")}
	}

	if err := c.importRecord(ctx, verified); err != nil {
		return attempt{kind: KindFailed, verified: verified, err: backend.Classify(err, "import record")}
	}
	if err := c.process(ctx, verified); err != nil {
		return attempt{kind: KindFailed, verified: verified, err: backend.Classify(err, "process verification")}
	}
	return attempt{kind: KindSuccess, verified: verified}
}

func (c *Coordinator) validate(ctx context.Context, code string) (backend.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.backend.ValidateCode(ctx, code)
}

func (c *Coordinator) importRecord(ctx context.Context, v VerificationCode) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.backend.ImportRecord(ctx, v.EntityID, v.CodeType, c.branchID)
}

func (c *Coordinator) process(ctx context.Context, v VerificationCode) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	switch v.CodeType {
	case CodeTypeEnquiry:
		return c.processor.ProcessEnquiryVerification(ctx, v.EntityID)
	case CodeTypeAdmission:
		return c.processor.ProcessAdmissionVerification(ctx, v.EntityID)
	default:
		return dErrors.Newf(dErrors.CodePermanent, "no processor for code type %q", v.CodeType)
	}
}

// =============================================================================
// Drain
// =============================================================================

// DrainQueue replays queued verifications oldest first. Only one drain runs at
// a time; a call made while one is active returns a Coalesced report at once.
// The drain stops early when the cached health flips to offline.
func (c *Coordinator) DrainQueue(ctx context.Context) (report DrainReport, err error) {
	if !c.draining.CompareAndSwap(false, true) {
		c.metrics.IncrementDrainRuns("coalesced")
		return DrainReport{Coalesced: true}, nil
	}
	defer c.draining.Store(false)

	ctx, span := c.tracer.Start(ctx, "verification.DrainQueue")
	defer func() {
		span.SetAttributes(
			attribute.Int("drain.attempted", report.Attempted),
			attribute.Int("drain.succeeded", report.Succeeded),
			attribute.Bool("drain.stopped_offline", report.StoppedOffline),
		)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	report.StartedAt = c.clock.Now()
	items, err := c.queue.List(ctx)
	if err != nil {
		c.metrics.IncrementDrainRuns("error")
		return report, err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if c.health.Last().IsOffline() {
			report.StoppedOffline = true
			break
		}
		c.drainItem(context.WithoutCancel(ctx), item, &report)
	}

	if n, cerr := c.queue.Count(context.WithoutCancel(ctx)); cerr == nil {
		report.Remaining = n
	}

	result := "completed"
	if report.StoppedOffline {
		result = "stopped_offline"
	}
	c.metrics.IncrementDrainRuns(result)
	c.logger.InfoContext(ctx, "queue drained",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"abandoned", report.Abandoned,
		"remaining", report.Remaining,
		"stopped_offline", report.StoppedOffline,
	)
	return report, nil
}

func (c *Coordinator) drainItem(ctx context.Context, item queue.Item, report *DrainReport) {
	report.Attempted++
	res := c.verify(ctx, item.Code, item.CodeType)

	codeType := res.verified.CodeType
	if codeType == "" {
		codeType = item.CodeType
	}
	entry := auditlog.Entry{
		Code:           item.Code,
		CodeType:       codeType,
		TargetEntityID: res.verified.EntityID,
		Result:         auditResult(res.kind),
		ErrorMessage:   errorMessage(res.err),
	}

	switch res.kind {
	case KindSuccess:
		if err := c.queue.Complete(ctx, item.ID); err != nil {
			c.logger.ErrorContext(ctx, "verified item could not be dequeued", "queue_id", item.ID, "error", err)
		}
		c.audit.Record(ctx, entry)
		report.Succeeded++
		c.metrics.IncrementDrainItems("success")

	case KindInvalid, KindExpired:
		if _, err := c.queue.Abandon(ctx, item.ID, res.err.Error()); err != nil {
			c.logger.ErrorContext(ctx, "could not abandon queued item", "queue_id", item.ID, "error", err)
		}
		c.audit.Record(ctx, entry)
		report.Abandoned++
		c.metrics.IncrementDrainItems(string(res.kind))

	default:
		c.audit.Record(ctx, entry)
		report.Failed++
		c.metrics.IncrementDrainItems("failed")

		retry, err := c.queue.IncrementRetry(ctx, item.ID, res.err.Error())
		if err != nil {
			c.logger.ErrorContext(ctx, "could not record retry", "queue_id", item.ID, "error", err)
			return
		}
		if retry.Abandoned {
			report.Abandoned++
			c.audit.Record(ctx, auditlog.Entry{
				Code:           item.Code,
				CodeType:       codeType,
				TargetEntityID: res.verified.EntityID,
				Result:         auditlog.ResultFailed,
				ErrorMessage:   retry.Item.AbandonReason,
			})
			c.logger.WarnContext(ctx, "queued verification abandoned",
				"queue_id", item.ID,
				"retries", retry.Item.RetryCount,
				"reason", retry.Item.AbandonReason,
			)
		}
	}
}

// =============================================================================
// Triggers
// =============================================================================

// OnHealthChange is the health monitor callback. It starts a background drain
// when the backend becomes reachable after being offline (or on the first
// reachable reading).
func (c *Coordinator) OnHealthChange(status health.Status) {
	c.mu.Lock()
	prev := c.lastHealth
	c.lastHealth = status.State
	c.mu.Unlock()

	recovered := status.CanAttempt() && (prev == "" || prev == health.StateOffline)
	if !recovered || c.bgCtx.Err() != nil {
		return
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.DrainQueue(c.bgCtx); err != nil {
			c.logger.ErrorContext(c.bgCtx, "recovery drain failed", "error", err)
		}
	}()
}

// RunDrainLoop drains on every interval tick while the backend is reachable,
// until ctx is cancelled.
func (c *Coordinator) RunDrainLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if c.health.Last().IsOffline() {
				continue
			}
			if _, err := c.DrainQueue(ctx); err != nil {
				c.logger.WarnContext(ctx, "scheduled drain failed", "error", err)
			}
		}
	}
}

func auditResult(kind Kind) auditlog.Result {
	switch kind {
	case KindSuccess:
		return auditlog.ResultSuccess
	case KindInvalid:
		return auditlog.ResultInvalid
	case KindExpired:
		return auditlog.ResultExpired
	case KindQueued:
		return auditlog.ResultQueued
	default:
		return auditlog.ResultFailed
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
