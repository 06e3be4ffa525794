// Package provider defines the backend-facing contracts for model runtimes.
//
// A [Loader] turns a model identifier into a loaded [Runtime], reporting
// progress while it downloads, probes, or maps the model. A Runtime streams
// chat completions as a channel of [Event] values. Adapters live in
// sub-packages: openaicompat talks to any OpenAI-compatible HTTP server,
// llamacpp runs GGUF models in process.
package provider
