package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/graphwriter/internal/model"
)

// ApplyCall records one ExecuteBatch invocation.
type ApplyCall struct {
	ModelRef model.ModelRef
	Label    string
	Changes  []model.Change
	Options  model.ApplyOptions
}

// ApplyFunc decides the outcome of a stubbed batch.
type ApplyFunc func(ctx context.Context, changes []model.Change, opts model.ApplyOptions) ([]model.Result, error)

// StubApplier is a scriptable apply layer. With no Fn it succeeds and
// returns EchoResults.
//
// Thread-safety: safe for concurrent use via internal mutex.
type StubApplier struct {
	mu    sync.Mutex
	fn    ApplyFunc
	calls []ApplyCall
}

// NewStubApplier creates a stub that delegates to fn (nil for the default).
func NewStubApplier(fn ApplyFunc) *StubApplier {
	return &StubApplier{fn: fn}
}

// ExecuteBatch records the call and runs the stub function.
func (a *StubApplier) ExecuteBatch(ctx context.Context, ref model.ModelRef, label string, changes []model.Change, opts model.ApplyOptions) ([]model.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, ApplyCall{ModelRef: ref, Label: label, Changes: changes, Options: opts})
	fn := a.fn
	a.mu.Unlock()

	if fn == nil {
		return EchoResults(changes), nil
	}
	return fn(ctx, changes, opts)
}

// Calls returns a copy of the recorded calls in order.
func (a *StubApplier) Calls() []ApplyCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ApplyCall(nil), a.calls...)
}

// OperationIDs returns the operation id of each call in order.
func (a *StubApplier) OperationIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, len(a.calls))
	for i, c := range a.calls {
		ids[i] = c.Options.OperationID
	}
	return ids
}

// EchoResults returns one executed result per change. Changes declaring a
// temp id resolve to "real-<tempId>"; others get "id-<index>".
func EchoResults(changes []model.Change) []model.Result {
	results := make([]model.Result, len(changes))
	for i, c := range changes {
		r := model.Result{Op: c.Op(), TempID: c.TempID()}
		if r.TempID != "" {
			r.RealID = "real-" + r.TempID
		} else {
			r.RealID = fmt.Sprintf("id-%d", i)
		}
		results[i] = r
	}
	return results
}

// BlockingApplier holds every batch until Release is called, simulating an
// apply layer that hangs.
type BlockingApplier struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

// NewBlockingApplier creates a blocked applier.
func NewBlockingApplier() *BlockingApplier {
	return &BlockingApplier{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

// ExecuteBatch blocks until Release, ignoring ctx.
func (a *BlockingApplier) ExecuteBatch(_ context.Context, _ model.ModelRef, _ string, changes []model.Change, opts model.ApplyOptions) ([]model.Result, error) {
	a.started <- opts.OperationID
	<-a.release
	return EchoResults(changes), nil
}

// Started receives the operation id of each batch as it begins.
func (a *BlockingApplier) Started() <-chan string {
	return a.started
}

// Release unblocks current and future batches.
func (a *BlockingApplier) Release() {
	a.once.Do(func() { close(a.release) })
}

// Changes builds a batch from op names, giving every change a unique name.
func Changes(ops ...string) []model.Change {
	changes := make([]model.Change, len(ops))
	for i, op := range ops {
		changes[i] = model.Change{model.FieldOp: op, "name": fmt.Sprintf("%s-%d", op, i)}
	}
	return changes
}
