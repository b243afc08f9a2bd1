// Package goSession is the session and credential layer of the feature-flag
// management dashboard.
//
// A Controller holds the signed-in user, the access/refresh token pair and
// the current organization/project selection. It renews expired access
// tokens transparently, with at most one renewal in flight no matter how many
// requests hit the expiry at once, and persists everything through a
// pluggable storage.Storage so a restart restores the same session.
//
// # Architecture boundaries
//
// goSession is the public surface: [Controller], [Builder], [Config],
// [Snapshot] and the event and metrics types. Token renewal lives in
// refresh, bearer handling and 401 recovery in gateway, the typed API in
// api, and durable state in session and storage.
//
// # Concurrency
//
// Controller methods are safe to call from multiple goroutines. Every state
// transition is written to storage first, then committed in memory, then
// published to subscribers exactly once and in commit order. List fetches
// that resolve after a logout, an organization switch or a newer fetch are
// discarded.
//
// # What this package must NOT do
//
//   - Hold its state lock across a network call.
//   - Evaluate flags or query audit logs; those belong to the management API.
package goSession
