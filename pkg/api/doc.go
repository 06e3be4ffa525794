// Package api defines the core data types shared by the plauder packages.
//
// It contains the chat message model, streamed completion chunks, embedding
// vectors, the error taxonomy and identifier generation. The package performs
// no I/O.
//
// Core types:
//   - [ChatMessage]: a single chat turn with a role and nullable content
//   - [StreamChunk]: an incremental piece of a streamed completion
//   - [EmbeddingVector]: a pooled, fixed-length embedding
//   - [APIError]: structured error with type, code, param, and message
//
// Errors used across packages are declared here so that callers can match
// them with errors.Is and errors.As without importing the producing package.
package api
