package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enrollgate/internal/auditlog"
	"enrollgate/internal/backend"
	"enrollgate/internal/backend/mocks"
	"enrollgate/internal/conversion"
	"enrollgate/internal/health"
	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/metrics"
	"enrollgate/internal/queue"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
)

// =============================================================================
// Verification Coordinator Test Suite
// =============================================================================

type CoordinatorSuite struct {
	suite.Suite
	ctx         context.Context
	ctrl        *gomock.Controller
	backend     *mocks.MockBackend
	clock       *clock.Fake
	health      *stubHealth
	queue       *queue.Queue
	audit       *auditlog.Log
	metrics     *metrics.Metrics
	coordinator *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

var epoch = time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)

// stubHealth is a HealthSource the test flips by hand.
type stubHealth struct {
	mu    sync.Mutex
	state health.State
}

func (h *stubHealth) Last() health.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return health.Status{State: h.state}
}

func (h *stubHealth) set(state health.State) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.backend = mocks.NewMockBackend(s.ctrl)
	s.clock = clock.NewFake(epoch)
	s.health = &stubHealth{state: health.StateOnline}
	s.metrics = metrics.New(prometheus.NewRegistry())

	store := kvstore.NewMemory()
	var err error
	s.queue, err = queue.New(store, queue.WithClock(s.clock))
	s.Require().NoError(err)
	s.audit, err = auditlog.New(store, auditlog.WithClock(s.clock))
	s.Require().NoError(err)

	processor, err := conversion.New(s.backend)
	s.Require().NoError(err)

	s.coordinator, err = New(s.backend, processor, s.health, s.queue, s.audit,
		WithClock(s.clock),
		WithMetrics(s.metrics),
		WithBranchID("branch-1"),
		WithCallTimeout(2*time.Second),
	)
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TearDownTest() {
	s.coordinator.Close()
}

func found(entityID string, codeType backend.CodeType) backend.ValidationResult {
	return backend.ValidationResult{Found: true, CodeType: codeType, TargetEntityID: entityID, ApplicantName: "Ada"}
}

func (s *CoordinatorSuite) expectEnquirySuccess(code, entityID string) {
	s.backend.EXPECT().ValidateCode(gomock.Any(), code).Return(found(entityID, backend.CodeTypeEnquiry), nil)
	s.backend.EXPECT().ImportRecord(gomock.Any(), entityID, backend.CodeTypeEnquiry, "branch-1").Return(nil)
	s.backend.EXPECT().ProcessEnquiryVerification(gomock.Any(), entityID).
		Return(backend.OperationResult{Success: true}, nil)
}

func (s *CoordinatorSuite) auditEntries() []auditlog.Entry {
	entries, err := s.audit.List(s.ctx, 0)
	s.Require().NoError(err)
	return entries
}

func (s *CoordinatorSuite) countResults(result auditlog.Result) int {
	n := 0
	for _, e := range s.auditEntries() {
		if e.Result == result {
			n++
		}
	}
	return n
}

func (s *CoordinatorSuite) queued() []queue.Item {
	items, err := s.queue.List(s.ctx)
	s.Require().NoError(err)
	return items
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *CoordinatorSuite) TestNew() {
	processor, err := conversion.New(s.backend)
	s.Require().NoError(err)

	cases := map[string]func() (*Coordinator, error){
		"backend is required":       func() (*Coordinator, error) { return New(nil, processor, s.health, s.queue, s.audit) },
		"processor is required":     func() (*Coordinator, error) { return New(s.backend, nil, s.health, s.queue, s.audit) },
		"health source is required": func() (*Coordinator, error) { return New(s.backend, processor, nil, s.queue, s.audit) },
		"queue is required":         func() (*Coordinator, error) { return New(s.backend, processor, s.health, nil, s.audit) },
		"audit log is required":     func() (*Coordinator, error) { return New(s.backend, processor, s.health, s.queue, nil) },
	}
	for msg, build := range cases {
		s.Run(msg, func() {
			_, err := build()
			s.Require().Error(err)
			s.Contains(err.Error(), msg)
		})
	}
}

func (s *CoordinatorSuite) TestNormalizeCode() {
	s.Equal("AB12CD", NormalizeCode("  ab12 cd\t"))
	s.Equal("AB12CD", NormalizeCode("A B 1 2 C D"))
	s.Equal("", NormalizeCode(" \n\t "))
}

// =============================================================================
// Submit: local short-circuits
// =============================================================================

func (s *CoordinatorSuite) TestSubmitEmptyCodeIsInvalidWithoutSideEffects() {
	for _, raw := range []string{"", "   ", "\t\n"} {
		for _, state := range []health.State{health.StateOnline, health.StateOffline} {
			s.health.set(state)

			out := s.coordinator.Submit(s.ctx, raw, "")
			s.Equal(KindInvalid, out.Kind)
			s.True(dErrors.HasCode(out.Err, dErrors.CodeInvalidInput))
		}
	}
	s.Empty(s.queued())
	s.Empty(s.auditEntries())
}

func (s *CoordinatorSuite) TestSubmitUnknownExpectedTypeIsInvalid() {
	out := s.coordinator.Submit(s.ctx, "AB12CD", CodeType("invoice"))
	s.Equal(KindInvalid, out.Kind)
	s.True(dErrors.HasCode(out.Err, dErrors.CodeInvalidInput))
}

func (s *CoordinatorSuite) TestSubmitOfflineQueuesWithoutNetwork() {
	s.health.set(health.StateOffline)

	out := s.coordinator.Submit(s.ctx, "AB12 CD", CodeTypeEnquiry)
	s.Equal(KindQueued, out.Kind)
	s.Equal("AB12CD", out.Code)
	s.NotEmpty(out.QueueID)

	items := s.queued()
	s.Require().Len(items, 1)
	s.Equal("AB12CD", items[0].Code)
	s.Equal(CodeTypeEnquiry, items[0].CodeType)
	s.Equal(0, items[0].RetryCount)
	s.Equal(queue.DefaultMaxRetries, items[0].MaxRetries)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(auditlog.ResultQueued, entries[0].Result)
	s.Equal(out.AuditID, entries[0].ID)
}

func (s *CoordinatorSuite) TestSubmitOfflineWithUnwritableQueueFails() {
	s.health.set(health.StateOffline)
	broken := &failingStore{Store: kvstore.NewMemory(), err: errors.New("read-only file system")}
	q, err := queue.New(broken)
	s.Require().NoError(err)
	processor, err := conversion.New(s.backend)
	s.Require().NoError(err)
	c, err := New(s.backend, processor, s.health, q, s.audit)
	s.Require().NoError(err)
	defer c.Close()

	out := c.Submit(s.ctx, "AB12CD", "")
	s.Equal(KindFailed, out.Kind)
	s.Equal("could not queue verification", out.Message)
	s.True(dErrors.HasCode(out.Err, dErrors.CodeStorageUnavailable))
	s.Zero(s.countResults(auditlog.ResultQueued))
}

type failingStore struct {
	kvstore.Store
	err error
}

func (f *failingStore) Put(context.Context, string, []byte) error { return f.err }

// =============================================================================
// Submit: two-phase protocol
// =============================================================================

func (s *CoordinatorSuite) TestSubmitOnlineSuccess() {
	s.Run("enquiry code", func() {
		s.expectEnquirySuccess("AB12CD", "enq-1")

		out := s.coordinator.Submit(s.ctx, "ab12cd", CodeTypeEnquiry)
		s.Equal(KindSuccess, out.Kind)
		s.Equal("enq-1", out.TargetEntityID)
		s.Equal("Ada", out.ApplicantName)
		s.NoError(out.Err)
	})

	s.Run("admission code without expected type", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "ZZ99").Return(found("adm-1", backend.CodeTypeAdmission), nil)
		s.backend.EXPECT().ImportRecord(gomock.Any(), "adm-1", backend.CodeTypeAdmission, "branch-1").Return(nil)
		s.backend.EXPECT().ProcessAdmissionVerification(gomock.Any(), "adm-1").
			Return(backend.OperationResult{Success: true}, nil)

		out := s.coordinator.Submit(s.ctx, "ZZ99", "")
		s.Equal(KindSuccess, out.Kind)
		s.Equal(CodeTypeAdmission, out.CodeType)
	})

	s.Equal(2, s.countResults(auditlog.ResultSuccess))
	s.Empty(s.queued())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.VerificationOutcomes.WithLabelValues("success")))
}

func (s *CoordinatorSuite) TestSubmitDegradedStillAttempts() {
	s.health.set(health.StateDegraded)
	s.expectEnquirySuccess("AB12CD", "enq-1")

	s.Equal(KindSuccess, s.coordinator.Submit(s.ctx, "AB12CD", "").Kind)
}

func (s *CoordinatorSuite) TestSubmitUnusableCodes() {
	s.Run("not found is invalid", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "NOPE").Return(backend.ValidationResult{Found: false}, nil)

		out := s.coordinator.Submit(s.ctx, "nope", "")
		s.Equal(KindInvalid, out.Kind)
		s.True(dErrors.HasCode(out.Err, dErrors.CodeNotFound))
	})

	s.Run("past expiry is expired", func() {
		past := epoch.Add(-time.Minute)
		res := found("enq-1", backend.CodeTypeEnquiry)
		res.ExpiresAt = &past
		s.backend.EXPECT().ValidateCode(gomock.Any(), "OLD1").Return(res, nil)

		out := s.coordinator.Submit(s.ctx, "OLD1", "")
		s.Equal(KindExpired, out.Kind)
	})

	s.Run("type mismatch is invalid", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "ADM1").Return(found("adm-1", backend.CodeTypeAdmission), nil)

		out := s.coordinator.Submit(s.ctx, "ADM1", CodeTypeEnquiry)
		s.Equal(KindInvalid, out.Kind)
		s.Contains(out.Message, "not an enquiry")
	})

	s.Equal(2, s.countResults(auditlog.ResultInvalid))
	s.Equal(1, s.countResults(auditlog.ResultExpired))
	s.Empty(s.queued())
}

func (s *CoordinatorSuite) TestSubmitTransientValidationFallsBackToQueue() {
	s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").
		Return(backend.ValidationResult{}, dErrors.New(dErrors.CodeTransient, "connection refused"))

	out := s.coordinator.Submit(s.ctx, "AB12CD", "")
	s.Equal(KindQueued, out.Kind)
	s.Len(s.queued(), 1)
	s.Equal(1, s.countResults(auditlog.ResultQueued))
	s.Zero(s.countResults(auditlog.ResultFailed))
}

func (s *CoordinatorSuite) TestSubmitFailures() {
	s.Run("permanent validation error", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").
			Return(backend.ValidationResult{}, &backend.StatusError{StatusCode: 401, Body: "bad key"})

		out := s.coordinator.Submit(s.ctx, "AB12CD", "")
		s.Equal(KindFailed, out.Kind)
		s.False(out.Retryable)
		s.True(dErrors.HasCode(out.Err, dErrors.CodePermanent))
	})

	s.Run("transient import error is not queued", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").Return(found("enq-1", backend.CodeTypeEnquiry), nil)
		s.backend.EXPECT().ImportRecord(gomock.Any(), "enq-1", backend.CodeTypeEnquiry, "branch-1").
			Return(context.DeadlineExceeded)

		out := s.coordinator.Submit(s.ctx, "AB12CD", "")
		s.Equal(KindFailed, out.Kind)
		s.True(out.Retryable)
	})

	s.Run("processor refusal carries the backend message", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").Return(found("enq-1", backend.CodeTypeEnquiry), nil)
		s.backend.EXPECT().ImportRecord(gomock.Any(), "enq-1", backend.CodeTypeEnquiry, "branch-1").Return(nil)
		s.backend.EXPECT().ProcessEnquiryVerification(gomock.Any(), "enq-1").
			Return(backend.OperationResult{Success: false, Message: "enquiry archived"}, nil)

		out := s.coordinator.Submit(s.ctx, "AB12CD", "")
		s.Equal(KindFailed, out.Kind)
		s.Contains(out.Message, "enquiry archived")
	})

	s.Run("found code without a target is a failure", func() {
		s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").
			Return(backend.ValidationResult{Found: true, CodeType: backend.CodeTypeEnquiry}, nil)

		out := s.coordinator.Submit(s.ctx, "AB12CD", "")
		s.Equal(KindFailed, out.Kind)
	})

	s.Equal(4, s.countResults(auditlog.ResultFailed))
	s.Empty(s.queued())
}

func (s *CoordinatorSuite) TestSubmitIgnoresCallerCancellation() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").DoAndReturn(
		func(ctx context.Context, _ string) (backend.ValidationResult, error) {
			s.NoError(ctx.Err())
			_, hasDeadline := ctx.Deadline()
			s.True(hasDeadline, "every backend call is time bounded")
			return found("enq-1", backend.CodeTypeEnquiry), nil
		})
	s.backend.EXPECT().ImportRecord(gomock.Any(), "enq-1", backend.CodeTypeEnquiry, "branch-1").Return(nil)
	s.backend.EXPECT().ProcessEnquiryVerification(gomock.Any(), "enq-1").
		Return(backend.OperationResult{Success: true}, nil)

	s.Equal(KindSuccess, s.coordinator.Submit(ctx, "AB12CD", "").Kind)
	s.Len(s.auditEntries(), 1)
}

// =============================================================================
// Drain
// =============================================================================

func (s *CoordinatorSuite) TestOfflineThenDrainRoundTrip() {
	s.health.set(health.StateOffline)
	s.Equal(KindQueued, s.coordinator.Submit(s.ctx, "AB12 CD", "").Kind)

	s.health.set(health.StateOnline)
	s.expectEnquirySuccess("AB12CD", "enq-1")

	report, err := s.coordinator.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Attempted)
	s.Equal(1, report.Succeeded)
	s.Zero(report.Remaining)

	s.Empty(s.queued())
	s.Equal(1, s.countResults(auditlog.ResultSuccess))

	again, err := s.coordinator.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.Zero(again.Attempted, "nothing left to replay")
	s.Equal(1, s.countResults(auditlog.ResultSuccess))
}

func (s *CoordinatorSuite) TestDrainSuccessIsNotReplayedWhenDequeueFails() {
	store := &stuckDeleteStore{Store: kvstore.NewMemory()}
	q, err := queue.New(store, queue.WithClock(s.clock))
	s.Require().NoError(err)
	processor, err := conversion.New(s.backend)
	s.Require().NoError(err)
	c, err := New(s.backend, processor, s.health, q, s.audit, WithClock(s.clock), WithBranchID("branch-1"))
	s.Require().NoError(err)
	defer c.Close()

	s.health.set(health.StateOffline)
	s.Equal(KindQueued, c.Submit(s.ctx, "AB12CD", "").Kind)
	s.health.set(health.StateOnline)

	store.stuck = true
	s.expectEnquirySuccess("AB12CD", "enq-1")
	report, err := c.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Succeeded)
	s.Zero(report.Remaining)

	again, err := c.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.Zero(again.Attempted, "verified item is not processed twice")
	s.Equal(1, s.countResults(auditlog.ResultSuccess))
}

// stuckDeleteStore refuses to delete pending queue records once stuck is set.
type stuckDeleteStore struct {
	kvstore.Store
	stuck bool
}

func (s *stuckDeleteStore) Delete(ctx context.Context, key string) error {
	if s.stuck && strings.HasPrefix(key, "queue:item:") {
		return errors.New("device busy")
	}
	return s.Store.Delete(ctx, key)
}

func (s *CoordinatorSuite) TestDrainAbandonsAfterMaxRetries() {
	s.health.set(health.StateOffline)
	out := s.coordinator.Submit(s.ctx, "AB12 CD", "")
	s.Require().Equal(KindQueued, out.Kind)

	item, err := s.queue.Get(s.ctx, out.QueueID)
	s.Require().NoError(err)
	s.Equal("AB12CD", item.Code)
	s.Equal(0, item.RetryCount)
	s.Equal(3, item.MaxRetries)

	s.health.set(health.StateOnline)
	s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").
		Return(backend.ValidationResult{}, dErrors.New(dErrors.CodeTransient, "gateway timeout")).
		Times(3)

	for drain := 1; drain <= 3; drain++ {
		s.clock.Advance(time.Minute)
		report, err := s.coordinator.DrainQueue(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, report.Failed)
		if drain < 3 {
			s.Zero(report.Abandoned)
			s.Equal(1, report.Remaining)
		} else {
			s.Equal(1, report.Abandoned)
			s.Zero(report.Remaining)
		}
	}

	s.Empty(s.queued())
	abandoned, err := s.queue.ListAbandoned(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(abandoned, 1)
	s.Equal(queue.StateAbandoned, abandoned[0].State)

	finals := 0
	for _, e := range s.auditEntries() {
		if e.Result == auditlog.ResultFailed && strings.Contains(e.ErrorMessage, "max retries exceeded") {
			finals++
		}
	}
	s.Equal(1, finals)
	s.Equal(4, s.countResults(auditlog.ResultFailed))
}

func (s *CoordinatorSuite) TestDrainAbandonsUnusableCodes() {
	s.health.set(health.StateOffline)
	s.coordinator.Submit(s.ctx, "GONE", "")

	s.health.set(health.StateOnline)
	s.backend.EXPECT().ValidateCode(gomock.Any(), "GONE").Return(backend.ValidationResult{Found: false}, nil)

	report, err := s.coordinator.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, report.Abandoned)
	s.Empty(s.queued())
	s.Equal(1, s.countResults(auditlog.ResultInvalid))
}

func (s *CoordinatorSuite) TestDrainStopsWhenBackendGoesOffline() {
	s.health.set(health.StateOffline)
	s.coordinator.Submit(s.ctx, "FIRST", "")
	s.clock.Advance(time.Second)
	s.coordinator.Submit(s.ctx, "SECOND", "")

	s.health.set(health.StateOnline)
	s.backend.EXPECT().ValidateCode(gomock.Any(), "FIRST").DoAndReturn(
		func(context.Context, string) (backend.ValidationResult, error) {
			s.health.set(health.StateOffline)
			return backend.ValidationResult{}, dErrors.New(dErrors.CodeTransient, "connection reset")
		})

	report, err := s.coordinator.DrainQueue(s.ctx)
	s.Require().NoError(err)
	s.True(report.StoppedOffline)
	s.Equal(1, report.Attempted)
	s.Equal(2, report.Remaining)
}

func (s *CoordinatorSuite) TestDrainIsSingleFlight() {
	s.health.set(health.StateOffline)
	s.coordinator.Submit(s.ctx, "AB12CD", "")
	s.health.set(health.StateOnline)

	started := make(chan struct{})
	release := make(chan struct{})
	s.backend.EXPECT().ValidateCode(gomock.Any(), "AB12CD").DoAndReturn(
		func(context.Context, string) (backend.ValidationResult, error) {
			close(started)
			<-release
			return found("enq-1", backend.CodeTypeEnquiry), nil
		}).Times(1)
	s.backend.EXPECT().ImportRecord(gomock.Any(), "enq-1", backend.CodeTypeEnquiry, "branch-1").Return(nil)
	s.backend.EXPECT().ProcessEnquiryVerification(gomock.Any(), "enq-1").
		Return(backend.OperationResult{Success: true}, nil)

	first := make(chan DrainReport, 1)
	go func() {
		report, _ := s.coordinator.DrainQueue(s.ctx)
		first <- report
	}()
	<-started

	for range 5 {
		report, err := s.coordinator.DrainQueue(s.ctx)
		s.Require().NoError(err)
		s.True(report.Coalesced)
		s.Zero(report.Attempted)
	}

	close(release)
	report := <-first
	s.False(report.Coalesced)
	s.Equal(1, report.Succeeded)
	s.Equal(1, s.countResults(auditlog.ResultSuccess))
	s.Equal(5.0, testutil.ToFloat64(s.metrics.DrainRuns.WithLabelValues("coalesced")))
}

// =============================================================================
// Triggers
// =============================================================================

func (s *CoordinatorSuite) TestOnHealthChangeDrainsOnRecovery() {
	s.health.set(health.StateOffline)
	s.coordinator.OnHealthChange(health.Status{State: health.StateOffline})
	s.coordinator.Submit(s.ctx, "AB12CD", "")

	s.health.set(health.StateOnline)
	s.expectEnquirySuccess("AB12CD", "enq-1")

	s.coordinator.OnHealthChange(health.Status{State: health.StateOnline})
	s.Eventually(func() bool {
		n, err := s.queue.Count(s.ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	// staying online does not start another drain
	s.coordinator.OnHealthChange(health.Status{State: health.StateOnline})
	s.coordinator.Close()
	s.Equal(1, s.countResults(auditlog.ResultSuccess))
}

func (s *CoordinatorSuite) TestRunDrainLoop() {
	s.health.set(health.StateOffline)
	s.coordinator.Submit(s.ctx, "AB12CD", "")
	s.health.set(health.StateOnline)
	s.expectEnquirySuccess("AB12CD", "enq-1")

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.coordinator.RunDrainLoop(ctx, time.Minute) }()

	s.Eventually(func() bool { return s.clock.Tickers() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.clock.Advance(time.Minute)
	s.Eventually(func() bool {
		n, err := s.queue.Count(s.ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	s.NoError(<-done)
	s.Equal(0, s.clock.Tickers())
}
