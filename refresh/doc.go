// Package refresh renews the access token with the stored refresh token.
//
// # Single flight
//
// Coordinator.Refresh may be called by any number of goroutines at once. While
// a renewal is in flight every caller joins it and receives the same boolean
// outcome; at most one POST to the refresh endpoint is outstanding at any
// time. The flight is released when it completes, so the next expiry episode
// starts a fresh renewal.
//
// # Outcome
//
// Refresh never returns an error. Transport failures, non-2xx answers,
// malformed bodies and storage write failures all resolve to false and leave
// the credential store untouched. A successful renewal is written through the
// store before any waiter is released.
//
// # What this package must NOT do
//
//   - Clear credentials on failure. The gateway owns teardown.
//   - Retry the renewal.
package refresh
