// Package openaicompat provides a model runtime backed by any server that
// speaks the OpenAI Chat Completions protocol (llama.cpp server, Ollama,
// vLLM, LM Studio).
//
// Loading probes GET /v1/models to confirm the backend is reachable and
// serves the requested model. Streaming POSTs to /v1/chat/completions with
// stream=true and parses the SSE response, translating each
// choices[0].delta.content into a provider.Event.
package openaicompat
