package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/store"
)

// SourceBatch is the Notification source for commits made by ExecuteBatch.
const SourceBatch = "batch"

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithIDGenerator sets the source of new entity ids. Default: random UUIDs.
func WithIDGenerator(gen func() string) ApplierOption {
	return func(a *Applier) {
		a.newID = gen
	}
}

// WithApplierLogger sets the logger. Default: slog.Default().
func WithApplierLogger(l *slog.Logger) ApplierOption {
	return func(a *Applier) {
		a.logger = l
	}
}

// WithApplierNow overrides the clock used for notification timestamps.
func WithApplierNow(now func() time.Time) ApplierOption {
	return func(a *Applier) {
		a.now = now
	}
}

// Applier executes change batches against the store, one transaction per
// batch.
//
// Thread-safety: ExecuteBatch is safe for concurrent use, but the store
// serializes transactions, so batches never interleave.
type Applier struct {
	store    *store.Store
	notifier *Notifier
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// NewApplier creates an Applier. notifier may be nil.
func NewApplier(st *store.Store, notifier *Notifier, opts ...ApplierOption) *Applier {
	a := &Applier{
		store:    st,
		notifier: notifier,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// phases selects the changes run by each pass, in execution order.
var phases = []func(model.Change) bool{
	func(c model.Change) bool { return c.IsElementCreator() },
	func(c model.Change) bool { return !c.IsElementCreator() && !c.IsDelete() },
	func(c model.Change) bool { return c.IsDelete() },
}

// ExecuteBatch applies every change or none of them. Results are returned
// in submission order regardless of the phase each change ran in.
func (a *Applier) ExecuteBatch(ctx context.Context, ref model.ModelRef, label string, changes []model.Change, opts model.ApplyOptions) ([]model.Result, error) {
	if !model.ValidDuplicateStrategy(opts.DuplicateStrategy) {
		return nil, fmt.Errorf("unknown duplicate strategy %q", opts.DuplicateStrategy)
	}

	tx, err := a.store.Begin(ctx, string(ref))
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b := newBatch(ctx, tx, changes, opts.DuplicateStrategy, a.newID)
	for _, inPhase := range phases {
		for i, c := range changes {
			if !inPhase(c) {
				continue
			}
			if err := b.apply(i, c); err != nil {
				a.logger.Debug("batch rolled back", "label", label, "operation", opts.OperationID, "error", err)
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	a.logger.Debug("batch committed", "label", label, "operation", opts.OperationID, "changes", len(changes))

	if a.notifier != nil {
		a.notifier.Publish(model.Notification{ModelRef: ref, Source: SourceBatch, At: a.now()})
	}
	return b.results, nil
}

// WaitSettled returns at once: a failed batch is rolled back before
// ExecuteBatch returns.
func (a *Applier) WaitSettled(ctx context.Context) error {
	return ctx.Err()
}

// batch is the state of one ExecuteBatch call.
type batch struct {
	ctx      context.Context
	tx       *store.Tx
	strategy string
	newID    func() string

	// declared holds every temp id some change in the batch declares;
	// temp holds those already bound to a real id.
	declared map[string]bool
	temp     map[string]string
	results  []model.Result
}

func newBatch(ctx context.Context, tx *store.Tx, changes []model.Change, strategy string, newID func() string) *batch {
	b := &batch{
		ctx:      ctx,
		tx:       tx,
		strategy: strategy,
		newID:    newID,
		declared: make(map[string]bool),
		temp:     make(map[string]string),
		results:  make([]model.Result, len(changes)),
	}
	for _, c := range changes {
		if id := c.TempID(); id != "" {
			b.declared[id] = true
		}
	}
	return b
}

func (b *batch) apply(i int, c model.Change) error {
	op := c.Op()
	if op == "" {
		return &ChangeError{Index: i, Op: "change", Err: fmt.Errorf("missing %q field", model.FieldOp)}
	}
	h, ok := handlers[op]
	if !ok {
		return &ChangeError{Index: i, Op: op, Err: ErrUnsupportedOp}
	}
	res, err := h(b, c)
	if err != nil {
		return &ChangeError{Index: i, Op: op, Err: err}
	}
	res.Op = op
	res.TempID = c.TempID()
	b.results[i] = res
	return nil
}

// bind makes a creator's temp id resolve to id for later changes.
func (b *batch) bind(c model.Change, id string) {
	if t := c.TempID(); t != "" {
		b.temp[t] = id
	}
}

// ref resolves a reference field to an existing entity id. Empty optional
// fields resolve to "".
func (b *batch) ref(c model.Change, field string, kind store.Kind, entity string, required bool) (string, error) {
	raw := c.String(field)
	if raw == "" {
		if required {
			return "", fmt.Errorf("missing %q field", field)
		}
		return "", nil
	}

	id := raw
	if real, ok := b.temp[raw]; ok {
		id = real
	} else if b.declared[raw] {
		return "", fmt.Errorf("reference %q in %s is not resolved yet", raw, field)
	}

	ok, err := b.tx.Exists(b.ctx, kind, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &NotFoundError{Entity: entity, ID: raw}
	}
	return id, nil
}

// duplicate applies the duplicate strategy to a creator whose target
// already exists as existing. set stores the id in the result field the
// creator reports.
func (b *batch) duplicate(c model.Change, existing, what string, set func(*model.Result, string)) (model.Result, error) {
	var res model.Result
	switch b.strategy {
	case model.DuplicateSkip:
		res.Skipped = true
		res.Reason = what + " already exists"
		res.ReasonCode = ReasonDuplicate
	case model.DuplicateReuse:
	default:
		return model.Result{}, fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	set(&res, existing)
	b.bind(c, existing)
	return res, nil
}
