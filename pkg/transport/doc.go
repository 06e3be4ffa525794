// Package transport defines the streaming contract and middleware chain
// shared by plauder's HTTP, SSE, and WebSocket surfaces.
//
// # Event Writers
//
// Completion drafts, engine load progress, and final turns are emitted
// through an EventWriter. The HTTP adapter provides an SSE implementation
// and a WebSocket implementation, so handlers that stream a completion do
// not need to know which protocol the client connected with.
//
// # Middleware
//
// Middleware wraps http.Handler. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID), and structured access
// logging via log/slog. Authentication and metrics middleware live in
// pkg/auth and pkg/observability and compose with Chain.
//
// # In-flight Generations
//
// InFlightRegistry maps session IDs to the cancel function of the
// generation currently streaming for that session, so a separate request
// can stop it.
package transport
