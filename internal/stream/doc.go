// Package stream owns the live push subscription for the selected thread.
//
// # Lifecycle
//
// A Session moves through Idle → Connecting → Open → Closed. Start always
// stops the previous subscription before opening a new one, so at most one
// subscription feeds a controller at any time. Stop cancels the
// subscription and waits for its reader, so no handler runs after Stop
// returns.
//
// # Events
//
// The server pushes Server-Sent Events:
//
//	event: connected      liveness only
//	event: heartbeat      liveness only
//	event: Chat           data is one message
//	event: Data           data is one message
//	event: Handoff        data is one message
//
// # Errors
//
// Errors caused by Stop are swallowed. Errors while the session is Open
// are reported to Handler.OnError and the session closes; there is no
// automatic reconnect. Recovery is a manual refresh that starts a new
// session. A server that ends the stream normally closes the session
// without an error.
package stream
