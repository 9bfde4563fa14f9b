// Package api implements the HTTP REST API and WebSocket server of the
// Autelis bridge.
//
// This package provides:
//   - Read endpoints for the current snapshot, field history and the
//     command audit log
//   - A command endpoint that runs the bridge's command processor
//   - WebSocket hub pushing every new snapshot to subscribed clients
//   - JWT bearer authentication on the endpoints that change state
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Security
//
// Tokens are HS256 JWTs signed with security.jwt.secret. The bridge does
// not manage users; tokens are minted out of band (see IssueToken and the
// -issue-token flag of cmd/autelis-bridge).
//
// # Graceful Degradation
//
// History endpoints answer 503 when the database is disabled. State
// endpoints answer 503 until the first successful poll.
package api
