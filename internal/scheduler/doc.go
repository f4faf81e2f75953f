// Package scheduler runs the polling control loop that turns stored job
// definitions into executions.
//
// # Overview
//
// Every check interval the loop reads active jobs from the store, asks the
// trigger evaluator which are due, filters out jobs with a run already in
// flight, and dispatches each remaining one on its own goroutine through the
// executor. All scheduling state lives in the store, so the loop survives
// restarts: on start it marks executions abandoned by a previous process as
// failed and recomputes due-ness live instead of trusting cached fields.
//
// # Mutual exclusion
//
// A process-local live set of job IDs prevents two executions of the same job
// from overlapping. Different jobs run concurrently with no ordering
// guarantee relative to each other. The live set is owned by the Service
// instance (not package state) so independent schedulers can coexist in
// tests; running two scheduler processes against one store needs external
// locking and is out of scope.
//
// # Lifecycle
//
// Start is idempotent. Stop halts polling, then waits a bounded drain period
// for in-flight runs before cancelling their contexts.
package scheduler
