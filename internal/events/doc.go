// Package events delivers session events to a sink off the caller's goroutine.
//
// The Controller decides what to emit; this package only buffers and relays.
// With DropIfFull set, Emit never blocks and counts what it discards. Without
// it, Emit waits for buffer space or for the caller's context to end.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling internal package.
//   - Filter events.
package events
