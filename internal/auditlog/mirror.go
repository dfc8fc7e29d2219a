package auditlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"enrollgate/internal/platform/metrics"
	"enrollgate/pkg/platform/circuit"
	"enrollgate/pkg/platform/clock"
)

// Sink receives mirrored entries.
type Sink interface {
	Name() string
	Publish(ctx context.Context, entry Entry) error
}

const (
	defaultMirrorBatch   = 50
	defaultRetryInterval = 10 * time.Second
	defaultPublishWait   = 5 * time.Second
)

// Mirror pushes entries to a Sink in the background. Enqueue never blocks and
// never fails; a slow or broken sink costs buffered entries, not verifications.
type Mirror struct {
	sink          Sink
	buffer        *RingBuffer
	breaker       *circuit.Breaker
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics
	batchSize     int
	retryInterval time.Duration
	publishWait   time.Duration
	wake          chan struct{}
}

type MirrorOption func(*Mirror)

func WithMirrorLogger(logger *slog.Logger) MirrorOption {
	return func(m *Mirror) {
		m.logger = logger
	}
}

func WithMirrorMetrics(mt *metrics.Metrics) MirrorOption {
	return func(m *Mirror) {
		m.metrics = mt
	}
}

func WithMirrorClock(c clock.Clock) MirrorOption {
	return func(m *Mirror) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithBufferSize(n int) MirrorOption {
	return func(m *Mirror) {
		if n > 0 {
			m.buffer = NewRingBuffer(n)
		}
	}
}

func WithBreaker(b *circuit.Breaker) MirrorOption {
	return func(m *Mirror) {
		if b != nil {
			m.breaker = b
		}
	}
}

func WithRetryInterval(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

func WithPublishTimeout(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.publishWait = d
		}
	}
}

func NewMirror(sink Sink, opts ...MirrorOption) (*Mirror, error) {
	if sink == nil {
		return nil, errors.New("mirror sink is required")
	}
	m := &Mirror{
		sink:          sink,
		buffer:        NewRingBuffer(0),
		clock:         clock.Real(),
		logger:        slog.New(slog.DiscardHandler),
		batchSize:     defaultMirrorBatch,
		retryInterval: defaultRetryInterval,
		publishWait:   defaultPublishWait,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breaker == nil {
		m.breaker = circuit.New("audit-mirror:"+sink.Name(), circuit.WithClock(m.clock))
	}
	return m, nil
}

// Enqueue buffers entry for publishing and nudges the worker.
func (m *Mirror) Enqueue(entry Entry) {
	if m.buffer.Enqueue(entry) {
		m.metrics.IncrementMirrorDropped()
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of buffered entries.
func (m *Mirror) Pending() int {
	return m.buffer.Len()
}

// Run publishes buffered entries until ctx is done. Failed entries stay
// buffered and are retried every retry interval.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.retryInterval)
	defer ticker.Stop()

	m.logger.InfoContext(ctx, "audit mirror started", "sink", m.sink.Name())
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "audit mirror stopped",
				"sink", m.sink.Name(),
				"pending", m.buffer.Len(),
			)
			return nil
		case <-m.wake:
			m.Flush(ctx)
		case <-ticker.C():
			m.Flush(ctx)
		}
	}
}

// Flush publishes until the buffer is empty, the breaker refuses, or a
// publish fails. It returns the number of entries published.
func (m *Mirror) Flush(ctx context.Context) int {
	published := 0
	for ctx.Err() == nil && m.buffer.Len() > 0 {
		if !m.breaker.Allow() {
			m.metrics.IncrementMirror("skipped_open_circuit")
			return published
		}
		batch := m.buffer.DequeueBatch(m.batchSize)
		if len(batch) == 0 {
			return published
		}
		for i, entry := range batch {
			if err := m.publish(ctx, entry); err != nil {
				m.buffer.Requeue(batch[i:])
				m.recordFailure(ctx, entry, err)
				return published
			}
			published++
			m.metrics.IncrementMirror("published")
			if _, change := m.breaker.RecordSuccess(); change.Closed {
				m.logger.InfoContext(ctx, "audit mirror circuit closed", "sink", m.sink.Name())
			}
		}
	}
	return published
}

func (m *Mirror) publish(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.publishWait)
	defer cancel()
	return m.sink.Publish(ctx, entry)
}

func (m *Mirror) recordFailure(ctx context.Context, entry Entry, err error) {
	m.metrics.IncrementMirror("failed")
	_, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "audit mirror circuit opened",
			"sink", m.sink.Name(),
			"error", err,
		)
		return
	}
	m.logger.DebugContext(ctx, "audit mirror publish failed",
		"sink", m.sink.Name(),
		"audit_id", entry.ID,
		"error", err,
	)
}
