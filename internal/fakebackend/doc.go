// Package fakebackend is an in-memory stand-in for the agent-messaging
// platform. It serves the same REST and push stream endpoints the api
// package consumes and is used by tests and by cmd/fake-backend for local
// development.
//
// Sent messages are stored, echoed on the thread's stream, and optionally
// answered by a canned agent reply. The server can also emit a handover
// signal after each reply so the console's handover path can be exercised
// without a real agent runtime.
//
// Requests are authenticated with the auth package: WithToken accepts one
// shared bearer token, WithJWTSecret accepts HS256 JWTs and rejects sends
// made on behalf of another participant.
package fakebackend
