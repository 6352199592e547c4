// Package notifier is the intake pipeline in front of the scheduler.
//
// Callers hand notifications to Submit (wait for the scheduled entry) or
// Enqueue (fire and forget). Intake is validated, rate limited and queued;
// a single supervised worker drains the queue and runs the resolve-then-append
// step of schedule.Dispatcher, so scheduling decisions are serialized without
// callers having to coordinate.
//
// # Side effects
//
// Every scheduled entry is published on the event bus
// ("notifier.scheduled"), recorded in Prometheus metrics, kept in a small
// in-memory history and, when a storage backend is configured, appended to
// the schedule journal by a background persist loop.
package notifier
