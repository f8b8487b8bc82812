// Package conversation keeps the message list of one selected thread
// consistent across three independent sources: paginated history, the live
// push stream and optimistic local sends.
//
// # Controller
//
// The Controller owns the state of the active selection:
//
//	c := conversation.New(client, conversation.Options{
//		OnHandoverDetected: func(threadID string) { refresher.Trigger(threadID) },
//		OnStreamError:      func(err error) { ... },
//	})
//	defer c.Close()
//
//	err := c.SelectThread(ctx, thread)
//
// Key operations:
//
//   - SelectThread(ctx, thread): stop the stream, clear the store, load page 1, restart the stream
//   - SelectScope(ctx, sel): same, for a new topic filter on the active thread
//   - LoadMore(ctx): merge the next page of older history
//   - Refresh(ctx): reload page 1 and restart the stream after an error
//   - Send(ctx, input): optimistic insert, then post the message
//   - Messages / Snapshot / Subscribe: read the filtered view
//
// # Ordering
//
// Every merge, including the re-sort and the handover scan, happens under
// one mutex, so merges never interleave. Thread and scope switches are
// serialized separately and always stop the previous stream, waiting for
// its reader to exit, before clearing the store. Each switch starts a new
// generation; stream events and page responses captured under an older
// generation are discarded.
//
// # Optimistic sends
//
// Send inserts a temp- record before the network call. The platform only
// returns a thread id, so the record is retired when the stream delivers a
// message with the same text and direction within the optimistic window.
// A failed send leaves the record in place for the view to handle.
//
// # Errors
//
// A first-page failure clears the store (the view would otherwise show
// content from the wrong selection). A LoadMore failure keeps what is
// loaded. Both are recorded in the Snapshot. Stream failures are reported
// through OnStreamError and never retried automatically; Refresh is the
// recovery path.
//
// # Snapshots
//
// Subscribe delivers Snapshots through a SnapshotBroadcaster. Each
// subscriber holds at most one pending snapshot and always ends up with the
// newest.
package conversation
