// Package message defines the records synchronized by the console and the
// ordered, deduplicated collection that holds them for one thread.
//
// # Records
//
//   - Message: one chat, data or handoff record in a thread
//   - Thread: a conversation between a participant and a workflow instance
//   - TopicSummary: per-scope counters for a thread
//
// A Message id lives in one of two subspaces. Server ids are opaque strings
// assigned by the platform. Optimistic ids ("temp-<epoch-ms>") are created
// locally for messages that have been sent but not yet echoed back on the
// push stream; they are never persisted server-side.
//
// # Store
//
// InsertOrReplace is the only way records enter a thread's list. It is a
// pure function: it never mutates its input, ignores records whose id is
// already present, and always returns the list sorted by CreatedAt
// descending (newest first). Equal timestamps keep insertion order.
package message
