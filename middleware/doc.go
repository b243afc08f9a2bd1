// Package middleware gates HTTP handlers on the state of a session.
//
// [Guard] reads the Controller's current Snapshot, rejects the request when
// the required state is not reached, and otherwise injects the Snapshot into
// the request context for [SnapshotFromContext].
//
//   - 401 when no user is signed in.
//   - 409 when the user is signed in but the required organization or
//     project is not selected.
//
// The guard never calls the management API and never changes the session.
package middleware
