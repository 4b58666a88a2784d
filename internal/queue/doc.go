// Package queue accepts batches of graph changes and executes them one at a
// time against the apply layer.
//
// ARCHITECTURE:
//
// Submission is cheap and safe from any goroutine: Submit registers a queued
// Operation, appends its id to a FIFO and returns. Nothing touches the graph.
//
// A single processor goroutine drives a ticker. Each cycle it
//  1. fails operations stuck in processing past the timeout,
//  2. drains up to MaxOperationsPerCycle ids from the FIFO,
//  3. reports queued/completed counts,
//  4. every CleanupEveryCycles cycles, drops terminal operations older than
//     MaxOperationAge and expires idempotency records.
//
// Batches are handed to a dedicated writer goroutine, the only caller of the
// Applier. The processor waits for the writer bounded by the remaining
// timeout budget. When the budget runs out the operation is failed by the
// timeout sweep and the writer is treated as busy: no further batch is
// dispatched until it returns, and its late result is discarded because the
// operation is already terminal.
//
// Operation state is guarded by one RWMutex. Readers (Status, List, Stats)
// receive deep copies.
package queue
