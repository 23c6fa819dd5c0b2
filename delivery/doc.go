// Package delivery moves rendered messages to mail and SMS collaborators.
//
// [Outbox] is the asynchronous outbound channel: Enqueue calls only validate
// and queue, failing fast when the queue is closed, full or the collaborator
// is not configured. Workers send at a throttled rate and log failures
// without message bodies, since those carry one-time codes.
package delivery
