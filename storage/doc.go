// Package storage provides the durable key/value layer that session state is
// persisted through.
//
// # Backends
//
//   - [MemoryStorage]: process-local map, for tests and ephemeral sessions.
//   - [FileStorage]: one JSON object on disk, rewritten atomically on every mutation.
//   - [RedisStorage]: keys under a prefix in Redis.
//   - [SQLStorage]: rows in a PostgreSQL table.
//
// # Architecture boundaries
//
// This package stores opaque strings under string keys. It does NOT know what a
// token, user, or organization is; encoding belongs to the session package.
//
// # What this package must NOT do
//
//   - Import goSession, session, or gateway (no upward imports).
//   - Log or inspect stored values.
//   - Cache writes: a nil error from Set or Remove means the value is durable.
package storage
