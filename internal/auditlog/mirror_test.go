package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"enrollgate/internal/backend"
	"enrollgate/internal/backend/mocks"
	"enrollgate/internal/platform/metrics"
	"enrollgate/pkg/platform/circuit"
	"enrollgate/pkg/platform/clock"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	failing bool
	calls   int
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failing {
		return errors.New("sink down")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) setFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = v
}

func (r *recordingSink) published() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

func (r *recordingSink) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func entry(n int) Entry {
	return Entry{ID: fmt.Sprintf("e-%d", n), Result: ResultSuccess}
}

// =============================================================================
// Mirror Test Suite
// =============================================================================

type MirrorSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *clock.Fake
	sink    *recordingSink
	metrics *metrics.Metrics
	mirror  *Mirror
}

func TestMirrorSuite(t *testing.T) {
	suite.Run(t, new(MirrorSuite))
}

func (s *MirrorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	s.sink = &recordingSink{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	var err error
	s.mirror, err = NewMirror(s.sink,
		WithMirrorClock(s.clock),
		WithMirrorMetrics(s.metrics),
		WithBufferSize(4),
		WithBreaker(circuit.New("test",
			circuit.WithFailureThreshold(2),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(s.clock),
		)),
	)
	s.Require().NoError(err)
}

func (s *MirrorSuite) TestNewRequiresSink() {
	_, err := NewMirror(nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "mirror sink is required")
}

func (s *MirrorSuite) TestFlushPublishesInOrder() {
	for i := 1; i <= 3; i++ {
		s.mirror.Enqueue(entry(i))
	}

	s.Equal(3, s.mirror.Flush(s.ctx))
	got := s.sink.published()
	s.Require().Len(got, 3)
	s.Equal([]string{"e-1", "e-2", "e-3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	s.Zero(s.mirror.Pending())
}

func (s *MirrorSuite) TestFullBufferDropsOldest() {
	for i := 1; i <= 6; i++ {
		s.mirror.Enqueue(entry(i))
	}
	s.Equal(4, s.mirror.Pending())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.MirrorDropped))

	s.mirror.Flush(s.ctx)
	s.Equal("e-3", s.sink.published()[0].ID)
}

func (s *MirrorSuite) TestFailureKeepsEntriesAndOpensCircuit() {
	s.sink.setFailing(true)
	s.mirror.Enqueue(entry(1))
	s.mirror.Enqueue(entry(2))

	s.Zero(s.mirror.Flush(s.ctx))
	s.Equal(2, s.mirror.Pending(), "failed entries stay buffered")

	s.Zero(s.mirror.Flush(s.ctx))
	s.Equal(2, s.sink.callCount())

	// circuit is open: no calls until the cooldown passes
	s.Zero(s.mirror.Flush(s.ctx))
	s.Equal(2, s.sink.callCount())

	s.sink.setFailing(false)
	s.clock.Advance(time.Minute)
	s.Equal(2, s.mirror.Flush(s.ctx))
	s.Zero(s.mirror.Pending())
	s.Equal([]string{"e-1", "e-2"}, []string{s.sink.published()[0].ID, s.sink.published()[1].ID})
}

func (s *MirrorSuite) TestRunFlushesOnEnqueue() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.mirror.Run(ctx) }()

	s.mirror.Enqueue(entry(1))
	s.Eventually(func() bool { return len(s.sink.published()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	s.NoError(<-done)
}

// =============================================================================
// Backend Sink
// =============================================================================

func TestBackendSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mocks.NewMockBackend(ctrl)

	sink, err := NewBackendSink(b)
	if err != nil {
		t.Fatalf("new backend sink: %v", err)
	}

	verifiedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	b.EXPECT().AppendAuditLog(gomock.Any(), backend.AuditRecord{
		ID:             "a-1",
		Code:           "AB12CD",
		CodeType:       "enquiry",
		TargetEntityID: "enq-1",
		Result:         "SUCCESS",
		VerifiedAt:     verifiedAt,
	}).Return(nil)

	err = sink.Publish(context.Background(), Entry{
		ID: "a-1", Code: "AB12CD", CodeType: backend.CodeTypeEnquiry, TargetEntityID: "enq-1",
		Result: ResultSuccess, VerifiedAt: verifiedAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}
