// Package queue is the durable offline queue of verifications that could not
// be attempted while the backend was unreachable. Items leave the queue only
// by succeeding or by moving to the abandoned set; nothing is dropped.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/metrics"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
	"enrollgate/pkg/platform/sentinel"
)

const (
	pendingPrefix   = "queue:item:"
	abandonedPrefix = "queue:abandoned:"
	completedPrefix = "queue:completed:"
)

// Queue serializes every mutation behind one mutex so submit and drain never
// interleave on the same item.
type Queue struct {
	store      kvstore.Store
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxRetries int
	newID      func() string

	mu sync.Mutex
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithIDGenerator overrides uuid generation, for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

func New(store kvstore.Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	q := &Queue{
		store:      store,
		clock:      clock.Real(),
		logger:     slog.New(slog.DiscardHandler),
		maxRetries: DefaultMaxRetries,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue persists req. The item is durable when Enqueue returns; a store
// failure is reported as CodeStorageUnavailable.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Item, error) {
	if strings.TrimSpace(req.Code) == "" {
		return Item{}, dErrors.New(dErrors.CodeInvalidInput, "code is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := Item{
		ID:             q.newID(),
		Code:           req.Code,
		CodeType:       req.CodeType,
		TargetEntityID: req.TargetEntityID,
		ApplicantName:  req.ApplicantName,
		Grade:          req.Grade,
		QueuedAt:       q.clock.Now(),
		MaxRetries:     q.maxRetries,
		State:          StatePending,
	}
	if err := kvstore.PutJSON(ctx, q.store, pendingPrefix+item.ID, item); err != nil {
		return Item{}, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not queue verification")
	}
	q.logger.InfoContext(ctx, "verification queued",
		"queue_id", item.ID,
		"code_type", item.CodeType,
	)
	q.refreshDepth(ctx)
	return item, nil
}

// List returns pending items oldest first.
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked(ctx)
}

// Count returns the number of pending items.
func (q *Queue) Count(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Get returns one pending item.
func (q *Queue) Get(ctx context.Context, id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked(ctx, id)
}

// Remove deletes a pending item. Removing an unknown id is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, pendingPrefix+id); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not remove queued verification")
	}
	q.refreshDepth(ctx)
	return nil
}

// Complete settles an item whose verification went through. The completion
// marker is written before the pending record is deleted, so an item whose
// delete fails is never replayed; listLocked finishes the cleanup later. It
// fails only when neither write reaches the store.
func (q *Queue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	marker := completedPrefix + id
	markErr := q.store.Put(ctx, marker, []byte(q.clock.Now().UTC().Format(time.RFC3339Nano)))
	if err := q.store.Delete(ctx, pendingPrefix+id); err != nil {
		if markErr != nil {
			return dErrors.Wrap(errors.Join(markErr, err), dErrors.CodeStorageUnavailable, "could not complete queued verification")
		}
		q.logger.WarnContext(ctx, "completed item left in pending keyspace",
			"queue_id", id,
			"error", err,
		)
		q.refreshDepth(ctx)
		return nil
	}
	if markErr == nil {
		_ = q.store.Delete(ctx, marker)
	}
	q.refreshDepth(ctx)
	return nil
}

// IncrementRetry records a failed attempt. When the retry budget is used up
// the item moves to the abandoned set and the result says so.
func (q *Queue) IncrementRetry(ctx context.Context, id string, lastErr string) (RetryResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.getLocked(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}

	item.RetryCount++
	item.LastError = lastErr
	q.metrics.IncrementQueueRetries()

	if item.RetriesExhausted() {
		abandoned, err := q.abandonLocked(ctx, item, "max retries exceeded: "+lastErr)
		if err != nil {
			return RetryResult{}, err
		}
		return RetryResult{Item: abandoned, Abandoned: true}, nil
	}

	if err := kvstore.PutJSON(ctx, q.store, pendingPrefix+item.ID, item); err != nil {
		return RetryResult{}, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not update queued verification")
	}
	return RetryResult{Item: item}, nil
}

// Abandon moves a pending item to the abandoned set, for attempts that can
// never succeed (unknown or expired code).
func (q *Queue) Abandon(ctx context.Context, id string, reason string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.getLocked(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return q.abandonLocked(ctx, item, reason)
}

// ListAbandoned returns abandoned items, most recently abandoned last.
func (q *Queue) ListAbandoned(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.List(ctx, abandonedPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not list abandoned verifications")
	}
	items := q.decode(ctx, entries)
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].AbandonedAt, items[j].AbandonedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// abandonLocked writes the abandoned record before deleting the pending one,
// so a crash in between leaves a duplicate that listLocked resolves in favour
// of abandoned, never a lost item.
func (q *Queue) abandonLocked(ctx context.Context, item Item, reason string) (Item, error) {
	now := q.clock.Now()
	item.State = StateAbandoned
	item.AbandonedAt = &now
	item.AbandonReason = reason

	if err := kvstore.PutJSON(ctx, q.store, abandonedPrefix+item.ID, item); err != nil {
		return Item{}, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not abandon queued verification")
	}
	if err := q.store.Delete(ctx, pendingPrefix+item.ID); err != nil {
		q.logger.WarnContext(ctx, "abandoned item left in pending keyspace",
			"queue_id", item.ID,
			"error", err,
		)
	}

	q.metrics.IncrementQueueAbandoned()
	q.logger.WarnContext(ctx, "queued verification abandoned",
		"queue_id", item.ID,
		"retry_count", item.RetryCount,
		"reason", reason,
	)
	q.refreshDepth(ctx)
	return item, nil
}

func (q *Queue) getLocked(ctx context.Context, id string) (Item, error) {
	if _, err := q.store.Get(ctx, abandonedPrefix+id); err == nil {
		return Item{}, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeNotFound, "queued verification was abandoned")
	}
	if _, err := q.store.Get(ctx, completedPrefix+id); err == nil {
		return Item{}, dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeNotFound, "queued verification already completed")
	}

	var item Item
	err := kvstore.GetJSON(ctx, q.store, pendingPrefix+id, &item)
	switch {
	case err == nil:
		return item, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return Item{}, dErrors.Wrap(err, dErrors.CodeNotFound, "queued verification not found")
	case errors.Is(err, sentinel.ErrCorrupt):
		return Item{}, dErrors.Wrap(err, dErrors.CodeInternal, "queued verification is corrupt")
	default:
		return Item{}, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not read queued verification")
	}
}

func (q *Queue) listLocked(ctx context.Context) ([]Item, error) {
	entries, err := q.store.List(ctx, pendingPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not list queued verifications")
	}
	abandoned, err := q.store.List(ctx, abandonedPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not list abandoned verifications")
	}
	completed, err := q.store.List(ctx, completedPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not list completed verifications")
	}
	settled := make(map[string]struct{}, len(abandoned)+len(completed))
	for _, e := range abandoned {
		settled[strings.TrimPrefix(e.Key, abandonedPrefix)] = struct{}{}
	}
	for _, e := range completed {
		id := strings.TrimPrefix(e.Key, completedPrefix)
		settled[id] = struct{}{}
		// the marker can go once the pending record is gone
		if err := q.store.Delete(ctx, pendingPrefix+id); err == nil {
			_ = q.store.Delete(ctx, e.Key)
		}
	}

	items := make([]Item, 0, len(entries))
	for _, item := range q.decode(ctx, entries) {
		if _, ok := settled[item.ID]; ok {
			// left behind by a failed delete in abandonLocked or Complete
			_ = q.store.Delete(ctx, pendingPrefix+item.ID)
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].QueuedAt.Equal(items[j].QueuedAt) {
			return items[i].QueuedAt.Before(items[j].QueuedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (q *Queue) decode(ctx context.Context, entries []kvstore.Entry) []Item {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		var item Item
		if err := kvstore.DecodeEntry(e, &item); err != nil {
			q.logger.ErrorContext(ctx, "skipping corrupt queue record", "key", e.Key, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (q *Queue) refreshDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	items, err := q.listLocked(ctx)
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth(len(items))
}
