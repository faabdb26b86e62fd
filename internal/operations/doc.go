// Package operations runs upload batches in the background and fans their
// progress out to live observers.
//
// JobQueue is a worker pool over durable job records: an upload history row in
// status pending is the job, and a worker claims it with a conditional update
// before running it, so a job never runs twice. On start the queue fails
// uploads a previous process left in processing and re-enqueues pending ones.
//
// ProgressBroadcaster delivers progress events to subscribed observers. Delivery
// is best effort and at most once: a failing observer is logged and skipped, and
// observers that subscribe late never see earlier events.
package operations
