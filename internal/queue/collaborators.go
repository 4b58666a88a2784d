package queue

import (
	"context"
	"time"

	"github.com/roach88/graphwriter/internal/model"
)

// Applier executes a batch against the graph atomically: either every
// change is applied and one Result per change is returned, or nothing is
// applied and an error is returned.
type Applier interface {
	ExecuteBatch(ctx context.Context, ref model.ModelRef, label string, changes []model.Change, opts model.ApplyOptions) ([]model.Result, error)
}

// SettleWaiter is optionally implemented by an Applier that can signal when
// any asynchronous rollback from the last batch has finished. When absent
// the processor sleeps Config.SettleDelay instead.
type SettleWaiter interface {
	WaitSettled(ctx context.Context) error
}

// SnapshotRefresher rebuilds the read-side snapshot of a graph. It must be
// idempotent and safe for concurrent use.
type SnapshotRefresher interface {
	RefreshSnapshot(ctx context.Context, ref model.ModelRef) error
}

// ChangeNotifier delivers a Notification per committed graph mutation.
// The returned unsubscribe func must be safe to call more than once.
type ChangeNotifier interface {
	Subscribe(fn func(model.Notification)) (unsubscribe func())
}

// TerminalRecorder is told when an operation submitted under an idempotency
// key reaches a terminal status, and is expired during periodic cleanup.
// Implemented by idempotency.Registry.
type TerminalRecorder interface {
	MarkTerminal(key, operationID string, status model.Status) error
	CleanupExpired() int
}

// Observer receives processor events for metrics. Methods must not block.
type Observer interface {
	OperationSubmitted()
	OperationStarted(wait time.Duration)
	OperationFinished(status model.Status, code string, elapsed time.Duration)
	QueueDepth(queued, processing int)
	OperationsCleaned(n int)
}

// ProcessorHooks are supplied by the owner of the graph when starting the
// processor.
type ProcessorHooks struct {
	ModelRef model.ModelRef

	// OnUpdateCount is called at the end of every cycle.
	OnUpdateCount func(queued, completed int)
}

type nopObserver struct{}

func (nopObserver) OperationSubmitted() {}
func (nopObserver) OperationStarted(time.Duration) {}
func (nopObserver) OperationFinished(model.Status, string, time.Duration) {}
func (nopObserver) QueueDepth(int, int) {}
func (nopObserver) OperationsCleaned(int) {}
