// Package health tracks whether the backend of record is reachable. Readers
// get the last cached status without blocking; probes run on a schedule owned
// by the monitor.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"enrollgate/internal/backend"
	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/metrics"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
	"enrollgate/pkg/platform/sentinel"
)

const (
	defaultInterval     = 30 * time.Second
	defaultCheckTimeout = 5 * time.Second

	lastStatusKey = "health:last"
)

// Prober is the subset of backend.Backend the monitor needs.
type Prober interface {
	Probe(ctx context.Context) error
	ProbeTable(ctx context.Context) error
}

// Monitor probes the backend and caches the latest Status.
type Monitor struct {
	prober       Prober
	store        kvstore.Store
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *metrics.Metrics
	interval     time.Duration
	checkTimeout time.Duration

	mu   sync.RWMutex
	last Status

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// WithStore persists every reading so a restart begins from the last known
// status instead of a blind offline.
func WithStore(store kvstore.Store) Option {
	return func(m *Monitor) {
		m.store = store
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithCheckTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkTimeout = d
		}
	}
}

func New(prober Prober, opts ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	m := &Monitor{
		prober:       prober,
		clock:        clock.Real(),
		logger:       slog.New(slog.DiscardHandler),
		interval:     defaultInterval,
		checkTimeout: defaultCheckTimeout,
		last:         initialStatus(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m, nil
}

func (m *Monitor) restore() {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.checkTimeout)
	defer cancel()

	var cached Status
	if err := kvstore.GetJSON(ctx, m.store, lastStatusKey, &cached); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			m.logger.Warn("could not restore cached health status", "error", err)
		}
		return
	}
	if cached.State == "" {
		return
	}
	m.last = cached
}

// Last returns the cached status. It never blocks on a probe.
func (m *Monitor) Last() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Interval is the probe period used for NextRetryAt.
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// Check probes the backend once and caches the result. It never returns an
// error: failures are folded into the Status. A check abandoned because ctx
// was cancelled leaves the cached status untouched.
func (m *Monitor) Check(ctx context.Context) (status Status) {
	now := m.clock.Now()
	interval := m.Interval()
	cancelled := false
	defer func() {
		if r := recover(); r != nil {
			status = failedStatus(now, interval, StateDegraded, fmt.Sprintf("health check panicked: %v", r))
			cancelled = false
		}
		if cancelled {
			status = m.Last()
			return
		}
		m.record(ctx, status)
	}()

	probeCtx, cancel := context.WithTimeout(ctx, min(m.checkTimeout, interval))
	defer cancel()

	probeErr := m.prober.Probe(probeCtx)
	if probeErr == nil {
		return Status{State: StateOnline, LastChecked: now}
	}

	tableErr := m.prober.ProbeTable(probeCtx)
	if tableErr == nil {
		m.logger.DebugContext(ctx, "liveness probe failed, table read succeeded", "error", probeErr)
		return Status{State: StateOnline, LastChecked: now}
	}

	if ctx.Err() != nil {
		cancelled = true
		return Status{}
	}
	// the table read is the last word on reachability
	if isTransient(tableErr) {
		return failedStatus(now, interval, StateOffline, tableErr.Error())
	}
	return failedStatus(now, interval, StateDegraded, tableErr.Error())
}

func failedStatus(now time.Time, interval time.Duration, state State, msg string) Status {
	next := now.Add(interval)
	return Status{State: state, LastChecked: now, NextRetryAt: &next, Message: msg}
}

func (m *Monitor) record(ctx context.Context, status Status) {
	m.mu.Lock()
	prev := m.last
	m.last = status
	m.mu.Unlock()

	m.metrics.SetHealthState(string(status.State))

	if prev.State != status.State {
		m.logger.InfoContext(ctx, "backend health changed",
			"from", prev.State,
			"to", status.State,
			"message", status.Message,
		)
	}

	if m.store != nil {
		// the probe context may already be spent
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.checkTimeout)
		defer cancel()
		if err := kvstore.PutJSON(persistCtx, m.store, lastStatusKey, status); err != nil {
			m.logger.WarnContext(ctx, "could not persist health status", "error", err)
		}
	}
}

func isTransient(err error) bool {
	return dErrors.IsRetryable(backend.Classify(err, "health probe"))
}

// Start runs a check immediately and then every interval until Stop. Each
// fresh status is passed to callback, which must not call Start or Stop.
// Calling Start while running restarts the schedule.
func (m *Monitor) Start(interval time.Duration, callback func(Status)) {
	m.Stop()

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if interval > 0 {
		m.mu.Lock()
		m.interval = interval
		m.mu.Unlock()
	}
	ticker := m.clock.NewTicker(m.Interval())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		defer ticker.Stop()

		m.tick(ctx, callback)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.tick(ctx, callback)
			}
		}
	}()
}

func (m *Monitor) tick(ctx context.Context, callback func(Status)) {
	status := m.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	if callback != nil {
		callback(status)
	}
}

// Stop halts the schedule and waits for an in-flight check to finish.
// Safe to call repeatedly or without Start.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}
