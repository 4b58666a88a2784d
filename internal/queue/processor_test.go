package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphwriter/internal/digest"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/testutil"
)

type fakeRefresher struct {
	calls atomic.Int32
}

func (r *fakeRefresher) RefreshSnapshot(context.Context, model.ModelRef) error {
	r.calls.Add(1)
	return nil
}

type fakeNotifier struct {
	mu           sync.Mutex
	subs         map[int]func(model.Notification)
	next         int
	unsubscribed int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{subs: make(map[int]func(model.Notification))}
}

func (n *fakeNotifier) Subscribe(fn func(model.Notification)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs, id)
			n.unsubscribed++
		})
	}
}

func (n *fakeNotifier) Publish(note model.Notification) {
	n.mu.Lock()
	subs := make([]func(model.Notification), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(note)
	}
}

func (n *fakeNotifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

type terminalCall struct {
	key    string
	opID   string
	status model.Status
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    []terminalCall
	cleanups int
	err      error
}

func (r *fakeRecorder) MarkTerminal(key, operationID string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, terminalCall{key, operationID, status})
	return r.err
}

func (r *fakeRecorder) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups++
	return 0
}

func (r *fakeRecorder) Calls() []terminalCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]terminalCall(nil), r.calls...)
}

type settlingApplier struct {
	*testutil.StubApplier
	settled atomic.Int32
}

func (a *settlingApplier) WaitSettled(context.Context) error {
	a.settled.Add(1)
	return nil
}

func timelineEvents(op model.Operation) []string {
	events := make([]string, len(op.Timeline))
	for i, e := range op.Timeline {
		events[i] = e.Event
	}
	return events
}

func TestProcessor_SuccessPath(t *testing.T) {
	refresher := &fakeRefresher{}
	recorder := &fakeRecorder{}
	applier := testutil.NewStubApplier(nil)
	q, clock := setupTestQueue(t, applier, nil,
		WithSnapshotRefresher(refresher),
		WithTerminalRecorder(recorder))

	changes := []model.Change{
		{"op": model.OpCreateElement, "tempId": "t-a", "type": "business-actor", "name": "A"},
		{"op": model.OpCreateElement, "tempId": "t-b", "type": "business-role", "name": "B"},
		{"op": model.OpCreateRelationship, "sourceId": "t-a", "targetId": "t-b", "type": "assignment"},
	}
	id := mustSubmit(t, q, changes, SubmitMetadata{IdempotencyKey: "key-1", DuplicateStrategy: model.DuplicateReuse})
	runCycle(t, q)

	op, ok := q.Status(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusComplete, op.Status)
	require.NotNil(t, op.StartedAt)
	require.NotNil(t, op.CompletedAt)
	assert.Equal(t, clock.Now(), *op.CompletedAt)
	assert.Len(t, op.Result, 3)
	assert.Empty(t, op.Error)
	assert.Nil(t, op.ErrorDetails)
	assert.Nil(t, op.RetryHints)
	assert.Equal(t, []string{model.EventQueued, model.EventProcessing, model.EventComplete}, timelineEvents(op))

	assert.Equal(t, map[string]string{"t-a": "real-t-a", "t-b": "real-t-b"}, op.TempIDMap)
	require.Len(t, op.TempIDMappings, 2)
	assert.Equal(t, 1, op.TempIDMappings[1].ResultIndex)

	require.NotNil(t, op.Digest)
	assert.False(t, op.Digest.IntegrityFlags.Pending)
	assert.Equal(t, 3, op.Digest.Totals.Executed)
	assert.True(t, op.Digest.IntegrityFlags.ResultCountMatchesRequested)

	calls := applier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testModel, calls[0].ModelRef)
	assert.Equal(t, model.DuplicateReuse, calls[0].Options.DuplicateStrategy)
	assert.Contains(t, calls[0].Label, id)

	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, []terminalCall{{"key-1", id, model.StatusComplete}}, recorder.Calls())
}

func TestProcessor_FailurePathDiagnoses(t *testing.T) {
	refresher := &fakeRefresher{}
	recorder := &fakeRecorder{}
	applier := testutil.NewStubApplier(func(context.Context, []model.Change, model.ApplyOptions) ([]model.Result, error) {
		return nil, errors.New("deleteView: cannot find view: id-missing")
	})
	q, _ := setupTestQueue(t, applier, nil,
		WithSnapshotRefresher(refresher),
		WithTerminalRecorder(recorder))

	changes := []model.Change{
		{"op": model.OpCreateElement, "tempId": "t-1", "type": "node", "name": "N"},
		{"op": model.OpUpdateElement, "id": "id-existing", "name": "renamed"},
		{"op": model.OpDeleteView, "viewId": "id-missing"},
	}
	id := mustSubmit(t, q, changes, SubmitMetadata{IdempotencyKey: "key-2"})
	runCycle(t, q)

	op, _ := q.Status(id)
	assert.Equal(t, model.StatusError, op.Status)
	assert.Equal(t, "deleteView: cannot find view: id-missing", op.Error)
	assert.Nil(t, op.Result)
	require.NotNil(t, op.CompletedAt)

	require.NotNil(t, op.ErrorDetails)
	assert.Equal(t, model.CodeReferenceNotFound, op.ErrorDetails.Code)
	require.NotNil(t, op.ErrorDetails.OpIndex)
	assert.Equal(t, 2, *op.ErrorDetails.OpIndex)
	assert.Equal(t, "viewId", op.ErrorDetails.Field)

	last := op.Timeline[len(op.Timeline)-1]
	assert.Equal(t, model.EventFailed, last.Event)
	require.NotNil(t, last.OpIndex)
	assert.Equal(t, 2, *last.OpIndex)
	assert.Equal(t, model.OpDeleteView, last.Op)

	require.NotEmpty(t, op.RetryHints)
	assert.Equal(t, digest.ActionFixReference, op.RetryHints[0].Action)
	assert.True(t, op.Digest.IntegrityFlags.HasErrors)
	assert.False(t, op.Digest.IntegrityFlags.HadTimeout)

	assert.Equal(t, int32(1), refresher.calls.Load(), "snapshot is refreshed after failures too")
	assert.Equal(t, []terminalCall{{"key-2", id, model.StatusError}}, recorder.Calls())
}

func TestProcessor_FailureDoesNotStopLoop(t *testing.T) {
	applier := testutil.NewStubApplier(func(_ context.Context, changes []model.Change, _ model.ApplyOptions) ([]model.Result, error) {
		if changes[0].Op() == model.OpDeleteElement {
			return nil, errors.New("boom")
		}
		return testutil.EchoResults(changes), nil
	})
	q, _ := setupTestQueue(t, applier, nil)

	bad := mustSubmit(t, q, testutil.Changes(model.OpDeleteElement), SubmitMetadata{})
	good := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q)

	op, _ := q.Status(bad)
	assert.Equal(t, model.StatusError, op.Status)
	assert.Equal(t, "boom", op.ErrorDetails.Message)
	op, _ = q.Status(good)
	assert.Equal(t, model.StatusComplete, op.Status)
}

func TestProcessor_PanicBecomesOperationError(t *testing.T) {
	applier := testutil.NewStubApplier(func(context.Context, []model.Change, model.ApplyOptions) ([]model.Result, error) {
		panic("nil graph")
	})
	q, _ := setupTestQueue(t, applier, nil)

	id := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q)

	op, _ := q.Status(id)
	assert.Equal(t, model.StatusError, op.Status)
	assert.Contains(t, op.Error, "apply layer panicked: nil graph")
	require.NotNil(t, op.ErrorDetails)
	assert.Equal(t, model.CodeApplyPanic, op.ErrorDetails.Code)
	assert.NotEmpty(t, op.ErrorDetails.Hint)
}

func TestProcessor_FIFOOrderAndBoundedDrain(t *testing.T) {
	applier := testutil.NewStubApplier(nil)
	q, _ := setupTestQueue(t, applier, func(c *Config) { c.MaxOperationsPerCycle = 2 })

	a := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	b := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	c := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})

	runCycle(t, q)
	assert.Equal(t, []string{a, b}, applier.OperationIDs())
	op, _ := q.Status(c)
	assert.Equal(t, model.StatusQueued, op.Status, "per-cycle bound leaves the rest queued")

	runCycle(t, q)
	assert.Equal(t, []string{a, b, c}, applier.OperationIDs())
}

func TestProcessor_OnUpdateCount(t *testing.T) {
	q, _ := setupTestQueue(t, testutil.NewStubApplier(nil), func(c *Config) { c.MaxOperationsPerCycle = 1 })
	mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})

	var queued, completed int
	hooks := ProcessorHooks{
		ModelRef: testModel,
		OnUpdateCount: func(q, c int) {
			queued, completed = q, c
		},
	}
	require.NoError(t, q.RunCycle(context.Background(), hooks))
	assert.Equal(t, 1, queued)
	assert.Equal(t, 1, completed)
}

func TestProcessor_TimeoutWhenApplierNeverReturns(t *testing.T) {
	applier := testutil.NewBlockingApplier()
	t.Cleanup(applier.Release)
	recorder := &fakeRecorder{}
	q, _ := setupTestQueue(t, applier, func(c *Config) {
		c.ProcessingTimeout = 30 * time.Millisecond
	}, WithNow(time.Now), WithTerminalRecorder(recorder))

	stuck := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{IdempotencyKey: "slow"})
	next := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})

	start := time.Now()
	runCycle(t, q)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	op, _ := q.Status(stuck)
	assert.Equal(t, model.StatusError, op.Status)
	assert.Contains(t, op.Error, "timed out after 30ms")
	require.NotNil(t, op.ErrorDetails)
	assert.Equal(t, model.CodeTimeout, op.ErrorDetails.Code)
	assert.True(t, op.Digest.IntegrityFlags.HadTimeout)
	require.NotEmpty(t, op.RetryHints)
	assert.Equal(t, digest.ActionCheckModelState, op.RetryHints[0].Action)
	assert.Equal(t, model.EventFailed, op.Timeline[len(op.Timeline)-1].Event)
	assert.Equal(t, []terminalCall{{"slow", stuck, model.StatusError}}, recorder.Calls())

	// The writer is still busy, so nothing else is dispatched.
	runCycle(t, q)
	op, _ = q.Status(next)
	assert.Equal(t, model.StatusQueued, op.Status)
	assert.Len(t, applier.Started(), 1)

	applier.Release()
	require.Eventually(t, func() bool {
		_ = q.RunCycle(context.Background(), testHooks)
		op, _ := q.Status(next)
		return op.Status == model.StatusComplete
	}, time.Second, 5*time.Millisecond)

	op, _ = q.Status(stuck)
	assert.Equal(t, model.StatusError, op.Status, "late result does not revive a timed-out operation")
	assert.Nil(t, op.Result)
	assert.Len(t, recorder.Calls(), 1, "the late result is not reported again")
}

func TestProcessor_SweepFailsOperationLeftProcessing(t *testing.T) {
	applier := testutil.NewBlockingApplier()
	t.Cleanup(applier.Release)
	q, _ := setupTestQueue(t, applier, func(c *Config) {
		c.ProcessingTimeout = 20 * time.Millisecond
	}, WithNow(time.Now))

	id := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})

	// Abandon the wait before the budget is spent; the op stays processing.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-applier.Started()
		cancel()
	}()
	require.NoError(t, q.RunCycle(ctx, testHooks))
	op, _ := q.Status(id)
	require.Equal(t, model.StatusProcessing, op.Status)

	time.Sleep(25 * time.Millisecond)
	runCycle(t, q)

	op, _ = q.Status(id)
	assert.Equal(t, model.StatusError, op.Status)
	assert.Equal(t, model.CodeTimeout, op.ErrorDetails.Code)
}

func TestProcessor_CleanupRetentionWindow(t *testing.T) {
	recorder := &fakeRecorder{}
	q, clock := setupTestQueue(t, testutil.NewStubApplier(nil), func(c *Config) {
		c.CleanupEveryCycles = 2
		c.MaxOperationAge = time.Hour
	}, WithTerminalRecorder(recorder))

	old := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q) // cycle 1: old completes at T

	clock.Advance(30 * time.Minute)
	recent := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q) // cycle 2: recent completes at T+30m, nothing old enough yet

	_, ok := q.Status(old)
	assert.True(t, ok)
	assert.Equal(t, 1, recorder.cleanups)

	clock.Advance(45 * time.Minute)
	runCycle(t, q) // cycle 3: no cleanup
	_, ok = q.Status(old)
	assert.True(t, ok)

	runCycle(t, q) // cycle 4: old is 75m old, recent is 45m old
	_, ok = q.Status(old)
	assert.False(t, ok, "terminal operation past max age is removed")
	_, ok = q.Status(recent)
	assert.True(t, ok, "operation within the window is retained")
	assert.Equal(t, 2, recorder.cleanups)
}

func TestProcessor_CleanupKeepsNonTerminal(t *testing.T) {
	q, clock := setupTestQueue(t, testutil.NewStubApplier(nil), func(c *Config) {
		c.CleanupEveryCycles = 1
		c.MaxOperationsPerCycle = 1
	})
	mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	queued := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q)

	clock.Advance(48 * time.Hour)
	q.cleanup()

	_, ok := q.Status(queued)
	assert.True(t, ok)
	assert.Equal(t, 1, q.Stats().Total)
}

func TestProcessor_TerminalRecorderFailureIsSwallowed(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("registry unavailable")}
	q, _ := setupTestQueue(t, testutil.NewStubApplier(nil), nil, WithTerminalRecorder(recorder))

	id := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{IdempotencyKey: "k"})
	runCycle(t, q)

	op, _ := q.Status(id)
	assert.Equal(t, model.StatusComplete, op.Status)
	assert.Len(t, recorder.Calls(), 1)
}

func TestProcessor_NoRecorderCallWithoutKey(t *testing.T) {
	recorder := &fakeRecorder{}
	q, _ := setupTestQueue(t, testutil.NewStubApplier(nil), nil, WithTerminalRecorder(recorder))

	mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	runCycle(t, q)

	assert.Empty(t, recorder.Calls())
}

func TestProcessor_PrefersSettleWaiter(t *testing.T) {
	applier := &settlingApplier{StubApplier: testutil.NewStubApplier(nil)}
	q, _ := setupTestQueue(t, applier, func(c *Config) { c.SettleDelay = time.Hour })

	mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.RunCycle(context.Background(), testHooks)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("settle delay used despite SettleWaiter")
	}
	assert.Equal(t, int32(1), applier.settled.Load())
}

func TestProcessor_StartStop(t *testing.T) {
	notifier := newFakeNotifier()
	q, _ := setupTestQueue(t, testutil.NewStubApplier(nil), func(c *Config) {
		c.ProcessorInterval = 5 * time.Millisecond
	}, WithNow(time.Now), WithChangeNotifier(notifier))

	q.Stop() // before Start
	q.Start(context.Background(), testHooks)
	q.Start(context.Background(), testHooks)
	assert.True(t, q.Running())
	assert.Equal(t, 1, notifier.Subscribers(), "second Start is a no-op")

	id := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	require.Eventually(t, func() bool {
		op, _ := q.Status(id)
		return op.Status == model.StatusComplete
	}, time.Second, 5*time.Millisecond)

	q.Stop()
	q.Stop()
	assert.False(t, q.Running())
	assert.Equal(t, 0, notifier.Subscribers())
	assert.Equal(t, 1, notifier.unsubscribed)
}

func TestProcessor_IgnoresOwnNotifications(t *testing.T) {
	notifier := newFakeNotifier()
	refresher := &fakeRefresher{}
	applier := testutil.NewStubApplier(func(_ context.Context, changes []model.Change, _ model.ApplyOptions) ([]model.Result, error) {
		notifier.Publish(model.Notification{ModelRef: testModel, Source: "batch"})
		return testutil.EchoResults(changes), nil
	})
	q, _ := setupTestQueue(t, applier, func(c *Config) {
		c.ProcessorInterval = 5 * time.Millisecond
	}, WithNow(time.Now), WithChangeNotifier(notifier), WithSnapshotRefresher(refresher))

	q.Start(context.Background(), testHooks)
	defer q.Stop()

	id := mustSubmit(t, q, testutil.Changes(model.OpCreateElement), SubmitMetadata{})
	require.Eventually(t, func() bool {
		op, _ := q.Status(id)
		return op.Status == model.StatusComplete && refresher.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), refresher.calls.Load(), "only the post-batch refresh runs")

	notifier.Publish(model.Notification{ModelRef: testModel, Source: "manual-undo"})
	assert.Equal(t, int32(2), refresher.calls.Load(), "external mutation refreshes the snapshot")

	notifier.Publish(model.Notification{ModelRef: "other-model", Source: "manual-undo"})
	assert.Equal(t, int32(2), refresher.calls.Load())
}

func TestIsApplyPanic(t *testing.T) {
	err := &ApplyPanicError{Value: "x"}
	assert.True(t, IsApplyPanic(err))
	assert.False(t, IsApplyPanic(errors.New("plain")))
}
