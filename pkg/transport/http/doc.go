// Package http serves the plauder API over HTTP. Streaming endpoints emit
// server-sent events by default and a single JSON document when the client
// sends Accept: application/json. Sessions can also be driven over a
// WebSocket.
package http
