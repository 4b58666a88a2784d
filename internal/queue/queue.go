package queue

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/graphwriter/internal/digest"
	"github.com/roach88/graphwriter/internal/model"
)

// Pagination bounds for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// SubmitMetadata carries per-submission settings alongside the changes.
type SubmitMetadata struct {
	IdempotencyKey    string
	DuplicateStrategy string

	// Bind, if set, is called with the new operation id before the
	// operation can be dequeued. An error aborts the submission.
	Bind func(id string) error
}

// ListOptions selects a page of operations.
type ListOptions struct {
	// Limit defaults to DefaultListLimit and is capped at MaxListLimit.
	Limit int
	// Cursor is the offset of the first operation to return.
	Cursor int
	// Status filters by lifecycle state when non-empty.
	Status model.Status
	// SummaryOnly drops changes, results, timeline, digest and temp-id maps.
	SummaryOnly bool
}

// ListPage is one page of operations, newest first.
type ListPage struct {
	Operations []model.Operation `json:"operations"`
	Total      int               `json:"total"`
	HasMore    bool              `json:"hasMore"`
	NextCursor *int              `json:"nextCursor"`
}

// Stats is a point-in-time count of operations by status.
type Stats struct {
	QueueSize  int `json:"queueSize"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	Total      int `json:"total"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithNow overrides the wall clock.
//
// The wait for a running batch is measured with real timers, so tests that
// use a fake clock should pair it with an Applier that returns promptly.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithIDGenerator sets the operation id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) {
		q.ids = g
	}
}

// WithSnapshotRefresher sets the read cache refreshed after each batch.
func WithSnapshotRefresher(r SnapshotRefresher) Option {
	return func(q *Queue) {
		q.refresher = r
	}
}

// WithChangeNotifier subscribes the processor to external graph mutations
// while it is running.
func WithChangeNotifier(n ChangeNotifier) Option {
	return func(q *Queue) {
		q.notifier = n
	}
}

// WithTerminalRecorder sets the idempotency registry kept in step with
// terminal operations.
func WithTerminalRecorder(r TerminalRecorder) Option {
	return func(q *Queue) {
		q.recorder = r
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		q.observer = o
	}
}

// Queue owns every Operation and the FIFO of operations waiting to run.
//
// Thread-safety model:
//   - Submit, Status, List, Stats: safe from any goroutine
//   - RunCycle: serialized internally; Start runs it on a ticker
//   - Applier: only ever called from the writer goroutine
type Queue struct {
	cfg       Config
	applier   Applier
	refresher SnapshotRefresher
	notifier  ChangeNotifier
	recorder  TerminalRecorder
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	ids       IDGenerator
	seq       seqClock

	mu      sync.RWMutex
	ops     map[string]*model.Operation
	pending *fifo

	// Processor lifecycle, guarded by procMu.
	procMu      sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()

	// Cycle state, owned by whoever holds cycleMu.
	cycleMu  sync.Mutex
	cycles   int
	inflight *applyJob

	// applying is set while a batch, or its settle period, is in flight.
	// Change notifications observed meanwhile come from our own batch.
	applying atomic.Bool

	writerOnce sync.Once
	jobs       chan *applyJob
	writerQuit chan struct{}
	closeOnce  sync.Once
}

// New creates a Queue that applies batches through applier.
func New(applier Applier, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		cfg:        cfg.withDefaults(),
		applier:    applier,
		observer:   nopObserver{},
		logger:     slog.Default(),
		now:        time.Now,
		ids:        UUIDv7Generator{},
		ops:        make(map[string]*model.Operation),
		pending:    newFIFO(),
		jobs:       make(chan *applyJob, 1),
		writerQuit: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Submit registers a queued Operation for changes and returns its id. It
// never waits for execution.
func (q *Queue) Submit(changes []model.Change, meta SubmitMetadata) (string, error) {
	if len(changes) == 0 {
		return "", ErrEmptyBatch
	}
	if q.pending.Closed() {
		return "", ErrQueueClosed
	}

	id := q.ids.Generate()
	if meta.Bind != nil {
		if err := meta.Bind(id); err != nil {
			return "", err
		}
	}

	now := q.now()
	op := &model.Operation{
		ID:                id,
		Changes:           slices.Clone(changes),
		ChangeCount:       len(changes),
		IdempotencyKey:    meta.IdempotencyKey,
		DuplicateStrategy: meta.DuplicateStrategy,
		Status:            model.StatusQueued,
		CreatedAt:         now,
		Timeline:          []model.TimelineEvent{{Event: model.EventQueued, At: now}},
		Seq:               q.seq.Next(),
	}
	d := digest.Build(digest.Input{Changes: op.Changes, Status: op.Status})
	op.Digest = &d

	q.mu.Lock()
	q.ops[op.ID] = op
	q.mu.Unlock()

	if !q.pending.Enqueue(op.ID) {
		q.mu.Lock()
		delete(q.ops, op.ID)
		q.mu.Unlock()
		return "", ErrQueueClosed
	}

	q.observer.OperationSubmitted()
	q.logger.Debug("operation queued", "operation", op.ID, "changes", len(changes), "idempotency_key", meta.IdempotencyKey)
	return op.ID, nil
}

// Status returns a copy of the operation, or false if it is unknown or has
// been cleaned up.
func (q *Queue) Status(id string) (model.Operation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	op, ok := q.ops[id]
	if !ok {
		return model.Operation{}, false
	}
	return op.Clone(), true
}

// List returns a page of operations ordered newest createdAt first. Ties
// fall back to submission order, newest first.
func (q *Queue) List(opts ListOptions) ListPage {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	cursor := max(opts.Cursor, 0)

	q.mu.RLock()
	matched := make([]*model.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if opts.Status != "" && op.Status != opts.Status {
			continue
		}
		matched = append(matched, op)
	}
	slices.SortFunc(matched, func(a, b *model.Operation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})

	page := ListPage{Operations: []model.Operation{}, Total: len(matched)}
	end := min(cursor+limit, len(matched))
	for i := cursor; i < end; i++ {
		if opts.SummaryOnly {
			page.Operations = append(page.Operations, matched[i].Summary())
		} else {
			page.Operations = append(page.Operations, matched[i].Clone())
		}
	}
	q.mu.RUnlock()

	if end < len(matched) {
		next := end
		page.HasMore = true
		page.NextCursor = &next
	}
	return page
}

// Stats scans every operation. The result is consistent with the states
// observed at the time of the call.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	s := Stats{QueueSize: q.pending.Len(), Total: len(q.ops)}
	for _, op := range q.ops {
		switch op.Status {
		case model.StatusQueued:
			s.Queued++
		case model.StatusProcessing:
			s.Processing++
		case model.StatusComplete:
			s.Completed++
		case model.StatusError:
			s.Error++
		}
	}
	return s
}

// Close stops the processor and rejects further submissions. Operations
// still queued remain readable. A batch stuck in the Applier is not
// interrupted; the writer goroutine exits once it returns.
func (q *Queue) Close() {
	q.Stop()
	q.closeOnce.Do(func() {
		q.pending.Close()
		close(q.writerQuit)
	})
}
