// Package session provides write-through persistence for dashboard session
// state: the credential pair and the user/organization/project selection.
//
// # Persisted keys
//
// Values live in a [storage.Storage] under five keys: access_token and
// refresh_token (raw strings) and user, organization, project (JSON). A
// missing key means unset.
//
// # Architecture boundaries
//
// This package owns the [CredentialStore], the [SelectionStore], and the
// [User], [Organization] and [Project] models. It does NOT perform network
// calls, renew tokens, or decide when a selection changes; those belong to the
// refresh package and the Controller.
//
// # What this package must NOT do
//
//   - Import goSession, gateway, or refresh (no upward imports).
//   - Commit an in-memory value before its durable write succeeded.
//   - Log token values.
package session
