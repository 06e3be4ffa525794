package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/rhuss/plauder/pkg/api"
	"github.com/rhuss/plauder/pkg/debug"
	"github.com/rhuss/plauder/pkg/provider"
)

// errTruncatedStream is reported when the body ends before [DONE] or a
// finish_reason was seen.
var errTruncatedStream = errors.New("stream ended before completion")

// streamState carries what the parser has seen so far.
type streamState struct {
	finishReason string
	finished     bool
	usage        *api.Usage
}

// ParseSSEStream reads Chat Completions SSE chunks from body, translates each
// chunk to provider events, and sends them on ch. The channel is NOT closed
// by this function; the caller is responsible for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// Malformed chunks are logged and skipped. Context cancellation stops
// reading immediately and emits nothing further.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var st streamState

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		// Empty lines and comments (":") are ignored.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if payload == "[DONE]" {
			send(ctx, ch, doneEvent(&st))
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}

		if !translateChunk(ctx, &chunk, &st, ch) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	// Scanner error (e.g., connection dropped).
	if err := scanner.Err(); err != nil {
		send(ctx, ch, provider.Event{
			Type: provider.EventError,
			Err:  api.NewServerError("SSE stream read error: " + err.Error()),
		})
		return
	}

	// Some servers close the body right after the finish chunk.
	if st.finished {
		send(ctx, ch, doneEvent(&st))
		return
	}
	send(ctx, ch, provider.Event{Type: provider.EventError, Err: errTruncatedStream})
}

// translateChunk converts a single chunk into provider events. Only
// choices[0] is considered. It returns false when ctx was cancelled while
// sending.
func translateChunk(ctx context.Context, chunk *ChatCompletionChunk, st *streamState, ch chan<- provider.Event) bool {
	if chunk.Usage != nil {
		st.usage = translateUsage(chunk.Usage)
	}

	// Usage-only chunks (stream_options.include_usage) carry no choices.
	if len(chunk.Choices) == 0 {
		return true
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		debug.Trace("providers", "stream delta", "content", *choice.Delta.Content)
		if !send(ctx, ch, provider.Event{
			Type:  provider.EventTextDelta,
			Delta: *choice.Delta.Content,
		}) {
			return false
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		st.finished = true
		st.finishReason = *choice.FinishReason
	}
	return true
}

func doneEvent(st *streamState) provider.Event {
	reason := st.finishReason
	if reason == "" {
		reason = "stop"
	}
	return provider.Event{
		Type:         provider.EventDone,
		FinishReason: reason,
		Usage:        st.usage,
	}
}

// send delivers ev unless ctx is cancelled first.
func send(ctx context.Context, ch chan<- provider.Event, ev provider.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
