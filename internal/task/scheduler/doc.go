// Package scheduler is the job dispatcher: the host cron runner that fires due jobs
// from the job store.
//
// A robfig/cron entry ticks on the configured tick (see ParseTick, default "@every 1m") and never
// overlaps itself. Each tick:
//   - lists the store and picks every job whose next run is due
//   - moves recurring jobs to their next in-phase run, removes single events
//   - invokes the handler registered for the hook with a timeout
//
// Jobs without a registered handler are advanced like any other job; firing them is a no-op.
package scheduler
