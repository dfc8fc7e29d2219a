// Package auditlog is the local, append-only record of verification outcomes,
// optionally mirrored to a remote sink on a best-effort basis.
package auditlog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"enrollgate/internal/kvstore"
	"enrollgate/internal/platform/metrics"
	dErrors "enrollgate/pkg/domain-errors"
	"enrollgate/pkg/platform/clock"
)

const (
	keyPrefix         = "audit:"
	DefaultMaxEntries = 1000
)

// Log persists entries in a kvstore and bounds their number, evicting the
// oldest by VerifiedAt. Eviction works from an in-memory index of the stored
// entries, built from the store on first use, so an Append costs one Put plus
// one Delete per evicted entry.
type Log struct {
	store      kvstore.Store
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	mirror     *Mirror
	maxEntries int
	newID      func() string

	mu     sync.Mutex
	index  []indexKey // oldest first
	loaded bool
}

type indexKey struct {
	at time.Time
	id string
}

func keyOf(e Entry) indexKey {
	return indexKey{at: e.VerifiedAt, id: e.ID}
}

func (k indexKey) before(o indexKey) bool {
	if !k.at.Equal(o.at) {
		return k.at.Before(o.at)
	}
	return k.id < o.id
}

type Option func(*Log)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Log) {
		if c != nil {
			l.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

// WithMirror forwards every persisted entry to m.
func WithMirror(m *Mirror) Option {
	return func(l *Log) {
		l.mirror = m
	}
}

func WithMaxEntries(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Log) {
		if fn != nil {
			l.newID = fn
		}
	}
}

func New(store kvstore.Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Log{
		store:      store,
		clock:      clock.Real(),
		logger:     slog.New(slog.DiscardHandler),
		maxEntries: DefaultMaxEntries,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append persists entry, assigning ID and VerifiedAt when unset, then hands
// it to the mirror.
func (l *Log) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Result == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "audit result is required")
	}

	l.mu.Lock()
	if err := l.ensureIndexLocked(ctx); err != nil {
		l.mu.Unlock()
		return Entry{}, err
	}
	if entry.ID == "" {
		entry.ID = l.newID()
	}
	if entry.VerifiedAt.IsZero() {
		entry.VerifiedAt = l.clock.Now()
	}
	if err := kvstore.PutJSON(ctx, l.store, keyPrefix+entry.ID, entry); err != nil {
		l.mu.Unlock()
		return Entry{}, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not append audit entry")
	}
	l.insertLocked(entry)
	if err := l.evictLocked(ctx); err != nil {
		l.logger.WarnContext(ctx, "audit eviction failed", "error", err)
	}
	l.mu.Unlock()

	l.metrics.IncrementAuditAppends(string(entry.Result))
	l.logger.InfoContext(ctx, "verification audited",
		"log_type", "audit",
		"audit_id", entry.ID,
		"result", entry.Result,
		"code_type", entry.CodeType,
		"target_entity_id", entry.TargetEntityID,
	)

	if l.mirror != nil {
		l.mirror.Enqueue(entry)
	}
	return entry, nil
}

// Record is Append for callers whose business outcome must not depend on the
// audit write. Failures are logged and counted.
func (l *Log) Record(ctx context.Context, entry Entry) Entry {
	saved, err := l.Append(ctx, entry)
	if err != nil {
		l.metrics.IncrementAuditAppendFailures()
		l.logger.ErrorContext(ctx, "failed to append audit entry",
			"result", entry.Result,
			"error", err,
		)
		return entry
	}
	return saved
}

// List returns entries newest first. limit <= 0 returns everything.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	entries, err := l.loadLocked(ctx)
	if err == nil {
		l.rebuildLocked(entries)
	}
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return newer(entries[i], entries[j])
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *Log) loadLocked(ctx context.Context) ([]Entry, error) {
	raw, err := l.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "could not list audit entries")
	}
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		var entry Entry
		if err := kvstore.DecodeEntry(e, &entry); err != nil {
			l.logger.ErrorContext(ctx, "skipping corrupt audit record", "key", e.Key, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *Log) ensureIndexLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	entries, err := l.loadLocked(ctx)
	if err != nil {
		return err
	}
	l.rebuildLocked(entries)
	return nil
}

func (l *Log) rebuildLocked(entries []Entry) {
	l.index = make([]indexKey, 0, len(entries))
	for _, e := range entries {
		l.index = append(l.index, keyOf(e))
	}
	sort.Slice(l.index, func(i, j int) bool {
		return l.index[i].before(l.index[j])
	})
	l.loaded = true
}

// insertLocked adds e to the index, replacing any earlier key with the same ID.
func (l *Log) insertLocked(e Entry) {
	for i, k := range l.index {
		if k.id == e.ID {
			l.index = append(l.index[:i], l.index[i+1:]...)
			break
		}
	}
	k := keyOf(e)
	pos := sort.Search(len(l.index), func(i int) bool {
		return k.before(l.index[i])
	})
	l.index = append(l.index, indexKey{})
	copy(l.index[pos+1:], l.index[pos:])
	l.index[pos] = k
}

func (l *Log) evictLocked(ctx context.Context) error {
	for len(l.index) > l.maxEntries {
		oldest := l.index[0]
		if err := l.store.Delete(ctx, keyPrefix+oldest.id); err != nil {
			return err
		}
		l.index = l.index[1:]
	}
	return nil
}

func newer(a, b Entry) bool {
	if !a.VerifiedAt.Equal(b.VerifiedAt) {
		return a.VerifiedAt.After(b.VerifiedAt)
	}
	return a.ID > b.ID
}
