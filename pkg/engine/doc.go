// Package engine owns the lifecycle of the local model.
//
// A [Manager] loads exactly one model runtime, however many goroutines ask
// for it. Concurrent Initialize calls join the same in-flight load and all
// receive its progress reports. A failed load leaves the manager absent so
// that the next Initialize retries.
//
// The loaded runtime is owned by an [Engine], a single worker goroutine
// that accepts generation jobs over a bounded queue and serves them one at
// a time. Callers see a plain blocking ChatStream call that returns the
// event channel once the worker has started their job.
package engine
