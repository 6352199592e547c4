// Package schedule assigns delivery times to notifications so that they do
// not collide.
//
// A Dispatcher owns a Store (append-only, insertion ordered) and a Resolver.
// For every submitted notification the Resolver looks at what is already in
// the Store and picks a delivery time:
//
//   - the first notification ever is scheduled at its creation time
//   - notifications on the same account are spaced by at least one minute
//   - Low priority notifications on one account go out at most once per day
//   - notifications on different accounts are kept ten seconds apart
//
// A scheduled time is never revised once the entry is appended.
//
// # Concurrency
//
// Nothing in this package is safe for concurrent use. Resolving a time and
// appending the entry must happen as one unit, so callers that accept
// notifications from several goroutines need to serialize Dispatcher.Submit
// (the notifier service does this with a single worker).
package schedule
