package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/graphwriter/internal/diagnosis"
	"github.com/roach88/graphwriter/internal/digest"
	"github.com/roach88/graphwriter/internal/model"
)

// applyJob is one batch handed to the writer goroutine.
type applyJob struct {
	ctx       context.Context
	opID      string
	ref       model.ModelRef
	changes   []model.Change
	opts      model.ApplyOptions
	startedAt time.Time
	done      chan applyOutcome // buffered, size 1
}

type applyOutcome struct {
	results []model.Result
	err     error
}

// terminalNote carries what is reported after the lock is released.
type terminalNote struct {
	id      string
	key     string
	status  model.Status
	code    string
	message string
	elapsed time.Duration
}

// Start launches the processor loop. Calling Start while it is running is
// a no-op.
func (q *Queue) Start(ctx context.Context, hooks ProcessorHooks) {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	if q.running {
		return
	}
	q.running = true

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	if q.notifier != nil {
		q.unsubscribe = q.notifier.Subscribe(q.notificationHandler(hooks.ModelRef))
	}
	q.startWriter()

	go q.loop(ctx, hooks, q.done)
}

// Stop halts the processor loop and detaches the change subscription. It
// is safe to call more than once and before Start.
func (q *Queue) Stop() {
	q.procMu.Lock()
	if !q.running {
		q.procMu.Unlock()
		return
	}
	q.running = false
	cancel, done, unsubscribe := q.cancel, q.done, q.unsubscribe
	q.cancel, q.unsubscribe = nil, nil
	q.procMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	<-done
}

// Running reports whether the processor loop is active.
func (q *Queue) Running() bool {
	q.procMu.Lock()
	defer q.procMu.Unlock()
	return q.running
}

func (q *Queue) loop(ctx context.Context, hooks ProcessorHooks, done chan struct{}) {
	defer close(done)

	q.logger.Info("processor starting",
		"interval", q.cfg.ProcessorInterval,
		"max_per_cycle", q.cfg.MaxOperationsPerCycle,
		"timeout", q.cfg.ProcessingTimeout)

	ticker := time.NewTicker(q.cfg.ProcessorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("processor stopped")
			return
		case <-ticker.C:
			if err := q.RunCycle(ctx, hooks); err != nil {
				q.logger.Warn("processor cycle aborted", "error", err)
			}
		}
	}
}

// RunCycle performs one processor cycle synchronously: timeout sweep,
// bounded drain, count callback and, every CleanupEveryCycles cycles,
// retention cleanup. Start calls it on every tick; callers that drive the
// queue themselves (tests, one-shot CLI runs) may call it directly.
func (q *Queue) RunCycle(ctx context.Context, hooks ProcessorHooks) error {
	q.cycleMu.Lock()
	defer q.cycleMu.Unlock()

	if q.pending.Closed() {
		return ErrQueueClosed
	}
	q.startWriter()
	q.cycles++

	q.collectLate(ctx)
	q.sweepTimeouts()
	q.drain(ctx, hooks.ModelRef)

	st := q.Stats()
	q.observer.QueueDepth(st.Queued, st.Processing)
	if hooks.OnUpdateCount != nil {
		hooks.OnUpdateCount(st.Queued, st.Completed)
	}

	if q.cycles%q.cfg.CleanupEveryCycles == 0 {
		q.cleanup()
	}
	return nil
}

func (q *Queue) startWriter() {
	q.writerOnce.Do(func() {
		go q.writeLoop()
	})
}

// writeLoop is the single mutation path into the graph.
func (q *Queue) writeLoop() {
	for {
		select {
		case job := <-q.jobs:
			job.done <- q.execute(job)
		case <-q.writerQuit:
			return
		}
	}
}

func (q *Queue) execute(job *applyJob) (out applyOutcome) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("apply layer panicked", "operation", job.opID, "panic", r)
			out = applyOutcome{err: &ApplyPanicError{Value: r}}
		}
	}()

	label := "graphwriter batch " + job.opID
	results, err := q.applier.ExecuteBatch(job.ctx, job.ref, label, job.changes, job.opts)
	return applyOutcome{results: results, err: err}
}

// drain runs up to MaxOperationsPerCycle queued operations in FIFO order.
// It stops early when the queue is empty, the context ends or the writer
// is still busy with a timed-out batch.
func (q *Queue) drain(ctx context.Context, ref model.ModelRef) {
	for range q.cfg.MaxOperationsPerCycle {
		if q.inflight != nil || ctx.Err() != nil {
			return
		}
		id, ok := q.pending.TryDequeue()
		if !ok {
			return
		}
		job, ok := q.begin(ctx, id, ref)
		if !ok {
			continue
		}

		q.applying.Store(true)
		q.inflight = job
		q.jobs <- job

		if !q.await(ctx, job) {
			return
		}
	}
}

// begin moves a queued operation to processing and builds its job.
func (q *Queue) begin(ctx context.Context, id string, ref model.ModelRef) (*applyJob, bool) {
	q.mu.Lock()
	op, ok := q.ops[id]
	if !ok || op.Status != model.StatusQueued {
		q.mu.Unlock()
		return nil, false
	}
	now := q.now()
	op.Status = model.StatusProcessing
	op.StartedAt = &now
	op.Timeline = append(op.Timeline, model.TimelineEvent{Event: model.EventProcessing, At: now})
	wait := now.Sub(op.CreatedAt)
	job := &applyJob{
		ctx:     ctx,
		opID:    id,
		ref:     ref,
		changes: op.Changes,
		opts: model.ApplyOptions{
			OperationID:       id,
			DuplicateStrategy: op.DuplicateStrategy,
		},
		startedAt: now,
		done:      make(chan applyOutcome, 1),
	}
	q.mu.Unlock()

	q.observer.OperationStarted(wait)
	q.logger.Debug("operation processing", "operation", id, "changes", len(job.changes))
	return job, true
}

// await waits for the writer within the job's remaining timeout budget.
// Returns false when the drain must stop.
func (q *Queue) await(ctx context.Context, job *applyJob) bool {
	budget := q.cfg.ProcessingTimeout - q.now().Sub(job.startedAt)
	timer := time.NewTimer(max(budget, 0))
	defer timer.Stop()

	select {
	case out := <-job.done:
		q.inflight = nil
		q.finish(ctx, job, out)
		return true
	case <-timer.C:
		q.logger.Warn("apply layer exceeded processing timeout; holding further batches until it returns",
			"operation", job.opID, "timeout", q.cfg.ProcessingTimeout)
		q.sweepTimeouts()
		return false
	case <-ctx.Done():
		return false
	}
}

// collectLate picks up the result of a batch the processor stopped waiting
// for, freeing the writer for the next drain.
func (q *Queue) collectLate(ctx context.Context) {
	job := q.inflight
	if job == nil {
		return
	}
	select {
	case out := <-job.done:
		q.inflight = nil
		q.finish(ctx, job, out)
	default:
	}
}

// finish records the writer's outcome. Outcomes for operations that already
// left processing (timed out, or cleaned up) are discarded.
func (q *Queue) finish(ctx context.Context, job *applyJob, out applyOutcome) {
	defer q.refresh(ctx, job.ref)
	defer q.applying.Store(false)
	defer q.settle(ctx)

	q.mu.Lock()
	op, ok := q.ops[job.opID]
	if !ok || op.Status != model.StatusProcessing {
		q.mu.Unlock()
		q.logger.Debug("discarding late apply result", "operation", job.opID, "error", out.err)
		return
	}

	now := q.now()
	op.CompletedAt = &now
	if out.err == nil {
		op.Status = model.StatusComplete
		op.Result = out.results
		op.Timeline = append(op.Timeline, model.TimelineEvent{Event: model.EventComplete, At: now})
	} else {
		details := diagnosis.Diagnose(op.Changes, out.err)
		if IsApplyPanic(out.err) {
			details.Code = model.CodeApplyPanic
			details.Hint = "the apply layer panicked; see the server log"
		}
		op.Status = model.StatusError
		op.Error = details.Message
		op.ErrorDetails = &details
		op.Timeline = append(op.Timeline, model.TimelineEvent{
			Event:   model.EventFailed,
			At:      now,
			Message: details.Message,
			OpIndex: details.OpIndex,
			Op:      details.Op,
		})
	}
	q.finalizeLocked(op, false)
	note := noteFor(op)
	q.mu.Unlock()

	q.report(note)
}

// sweepTimeouts fails every processing operation whose budget has elapsed.
func (q *Queue) sweepTimeouts() {
	now := q.now()
	var notes []terminalNote

	q.mu.Lock()
	for _, op := range q.ops {
		if op.Status != model.StatusProcessing || op.StartedAt == nil {
			continue
		}
		if now.Sub(*op.StartedAt) < q.cfg.ProcessingTimeout {
			continue
		}
		msg := fmt.Sprintf("operation timed out after %s", q.cfg.ProcessingTimeout)
		op.Status = model.StatusError
		op.Error = msg
		op.ErrorDetails = &model.ErrorDetails{Message: msg, Code: model.CodeTimeout}
		op.CompletedAt = &now
		op.Timeline = append(op.Timeline, model.TimelineEvent{Event: model.EventFailed, At: now, Message: msg})
		q.finalizeLocked(op, true)
		notes = append(notes, noteFor(op))
	}
	q.mu.Unlock()

	for _, n := range notes {
		q.report(n)
	}
}

// finalizeLocked derives temp-id maps, digest and retry hints from a
// terminal operation. Caller holds q.mu.
func (q *Queue) finalizeLocked(op *model.Operation, hadTimeout bool) {
	op.TempIDMap, op.TempIDMappings = digest.TempIDMappings(op.Result)
	d := digest.Build(digest.Input{
		Changes:    op.Changes,
		Results:    op.Result,
		Status:     op.Status,
		HadTimeout: hadTimeout,
	})
	op.Digest = &d
	op.RetryHints = digest.RetryHints(op)
}

func noteFor(op *model.Operation) terminalNote {
	n := terminalNote{
		id:      op.ID,
		key:     op.IdempotencyKey,
		status:  op.Status,
		message: op.Error,
	}
	if op.ErrorDetails != nil {
		n.code = op.ErrorDetails.Code
	}
	if op.StartedAt != nil && op.CompletedAt != nil {
		n.elapsed = op.CompletedAt.Sub(*op.StartedAt)
	}
	return n
}

// report pushes a terminal transition to the idempotency registry, the
// observer and the log. Registry failures are logged only.
func (q *Queue) report(n terminalNote) {
	if n.key != "" && q.recorder != nil {
		if err := q.recorder.MarkTerminal(n.key, n.id, n.status); err != nil {
			q.logger.Warn("idempotency terminal update failed",
				"operation", n.id, "idempotency_key", n.key, "error", err)
		}
	}
	q.observer.OperationFinished(n.status, n.code, n.elapsed)

	if n.status == model.StatusError {
		q.logger.Warn("operation failed", "operation", n.id, "code", n.code, "error", n.message)
		return
	}
	q.logger.Info("operation complete", "operation", n.id, "elapsed", n.elapsed)
}

// settle lets an asynchronous rollback inside the apply layer finish
// before the snapshot is read.
func (q *Queue) settle(ctx context.Context) {
	if w, ok := q.applier.(SettleWaiter); ok {
		if err := w.WaitSettled(ctx); err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("waiting for apply layer to settle failed", "error", err)
		}
		return
	}
	if q.cfg.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(q.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (q *Queue) refresh(ctx context.Context, ref model.ModelRef) {
	if q.refresher == nil {
		return
	}
	if err := q.refresher.RefreshSnapshot(context.WithoutCancel(ctx), ref); err != nil {
		q.logger.Warn("snapshot refresh failed", "model", ref, "error", err)
	}
}

// notificationHandler refreshes the snapshot after external mutations of
// ref. Notifications raised by our own in-flight batch are ignored.
func (q *Queue) notificationHandler(ref model.ModelRef) func(model.Notification) {
	return func(n model.Notification) {
		if n.ModelRef != "" && n.ModelRef != ref {
			return
		}
		if q.applying.Load() {
			q.logger.Debug("ignoring change notification during batch", "source", n.Source)
			return
		}
		q.refresh(context.Background(), ref)
	}
}

// cleanup drops terminal operations older than MaxOperationAge and expires
// idempotency records.
func (q *Queue) cleanup() {
	cutoff := q.now().Add(-q.cfg.MaxOperationAge)

	q.mu.Lock()
	removed := 0
	for id, op := range q.ops {
		if !op.Status.Terminal() || op.CompletedAt == nil {
			continue
		}
		if op.CompletedAt.Before(cutoff) {
			delete(q.ops, id)
			removed++
		}
	}
	q.mu.Unlock()

	expired := 0
	if q.recorder != nil {
		expired = q.recorder.CleanupExpired()
	}
	q.observer.OperationsCleaned(removed)
	if removed > 0 || expired > 0 {
		q.logger.Debug("retention cleanup", "operations_removed", removed, "idempotency_expired", expired)
	}
}
