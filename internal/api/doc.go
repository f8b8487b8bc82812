// Package api is the HTTP client for the agent-messaging platform.
//
// # Endpoints
//
//	GET  /api/threads                       thread list
//	GET  /api/threads/{id}/topics           topic summaries
//	GET  /api/threads/{id}/messages         message history page
//	POST /api/messages/send                 send a message
//	GET  /api/threads/{id}/stream           push stream (text/event-stream)
//
// # Topic filters
//
// The messages endpoint distinguishes four filters. An unfiltered request
// sends neither scope parameter. A no-topic request sends noScope=true. The
// empty topic is sent as a present but empty scope parameter, and a named
// topic as scope=<name>.
//
// # Authentication
//
// Every request carries "Authorization: Bearer <token>". When the token is
// a JWT its exp claim is checked locally and expired tokens fail with
// ErrTokenExpired before any request is made; obtaining a fresh token is
// the caller's job.
//
// # Errors
//
// Non-2xx responses are returned as *APIError with the status code and the
// server's error message when one is present.
package api
